package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"careportal/internal/session/domain"
)

// minTTL keeps Redis from rejecting a zero or negative expiry for a session that is about to lapse.
const minTTL = time.Second

// deleteSessionScript removes the session blob, its refresh-hash pointer, and its identity index entry.
// KEYS[1] session key, KEYS[2] identity set key. ARGV[1] session id, ARGV[2] refresh key prefix.
const deleteSessionScript = `
local data = redis.call("GET", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if not data then
  return 0
end
local ok, s = pcall(cjson.decode, data)
if ok and s["refresh_token_hash"] then
  redis.call("DEL", ARGV[2] .. s["refresh_token_hash"])
end
redis.call("DEL", KEYS[1])
return 1
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// extendTTLScript sets KEYS[1] to expire after ARGV[1] milliseconds unless it already outlives that.
// The identity index then lives exactly as long as its longest session.
const extendTTLScript = `
local cur = redis.call("PTTL", KEYS[1])
if cur < 0 or cur < tonumber(ARGV[1]) then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return 1
`

var extendTTLLua = redis.NewScript(extendTTLScript)

// RedisRepository stores sessions in Redis with a native TTL equal to the remaining lifetime.
// Layout under prefix p: p:s:{id} session JSON, p:r:{hash} session id, p:i:{identity} set of ids.
type RedisRepository struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisRepository returns a Redis-backed session repository. prefix defaults to "careportal:session".
func NewRedisRepository(rdb redis.UniversalClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "careportal:session"
	}
	return &RedisRepository{rdb: rdb, prefix: prefix}
}

type redisSession struct {
	ID               string    `json:"id"`
	IdentityID       string    `json:"identity_id"`
	RefreshTokenHash string    `json:"refresh_token_hash"`
	DeviceLabel      string    `json:"device_label"`
	IPAddress        string    `json:"ip_address,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

func (r *RedisRepository) sessionKey(id string) string   { return r.prefix + ":s:" + id }
func (r *RedisRepository) refreshPrefix() string         { return r.prefix + ":r:" }
func (r *RedisRepository) identityKey(id string) string  { return r.prefix + ":i:" + id }
func (r *RedisRepository) refreshKey(hash string) string { return r.refreshPrefix() + hash }

// Create writes the session, its refresh pointer, and the identity index in one transaction.
func (r *RedisRepository) Create(ctx context.Context, s *domain.Session) error {
	blob, err := json.Marshal(redisSession{
		ID: s.ID, IdentityID: s.IdentityID, RefreshTokenHash: s.RefreshTokenHash, DeviceLabel: s.DeviceLabel,
		IPAddress: s.IPAddress, CreatedAt: s.CreatedAt.UTC(), ExpiresAt: s.ExpiresAt.UTC(),
	})
	if err != nil {
		return err
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl < minTTL {
		ttl = minTTL
	}
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.sessionKey(s.ID), blob, ttl)
		p.Set(ctx, r.refreshKey(s.RefreshTokenHash), s.ID, ttl)
		p.SAdd(ctx, r.identityKey(s.IdentityID), s.ID)
		extendTTLLua.Eval(ctx, p, []string{r.identityKey(s.IdentityID)}, ttl.Milliseconds())
		return nil
	})
	return err
}

// GetByID returns the session for id, or nil if absent or expired out of Redis.
func (r *RedisRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	data, err := r.rdb.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSession(data)
}

// GetByRefreshHash follows the refresh pointer to the session.
func (r *RedisRepository) GetByRefreshHash(ctx context.Context, hash string) (*domain.Session, error) {
	id, err := r.rdb.Get(ctx, r.refreshKey(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// ListActiveByIdentity returns unexpired sessions, newest first. Index entries whose session has
// already expired out of Redis are pruned.
func (r *RedisRepository) ListActiveByIdentity(ctx context.Context, identityID string, now time.Time) ([]*domain.Session, error) {
	idxKey := r.identityKey(identityID)
	ids, err := r.rdb.SMembers(ctx, idxKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.sessionKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	var (
		out   []*domain.Session
		stale []interface{}
	)
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		s, err := decodeSession([]byte(str))
		if err != nil {
			return nil, err
		}
		if s.Expired(now) {
			continue
		}
		out = append(out, s)
	}
	if len(stale) > 0 {
		_ = r.rdb.SRem(ctx, idxKey, stale...).Err()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Delete removes the session atomically.
func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	s, err := r.GetByID(ctx, id)
	if err != nil || s == nil {
		return err
	}
	return deleteSessionLua.Run(ctx, r.rdb,
		[]string{r.sessionKey(id), r.identityKey(s.IdentityID)}, id, r.refreshPrefix()).Err()
}

// DeleteAllByIdentity removes every session in the identity's index.
func (r *RedisRepository) DeleteAllByIdentity(ctx context.Context, identityID string) (int64, error) {
	idxKey := r.identityKey(identityID)
	ids, err := r.rdb.SMembers(ctx, idxKey).Result()
	if err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		res, err := deleteSessionLua.Run(ctx, r.rdb, []string{r.sessionKey(id), idxKey}, id, r.refreshPrefix()).Int64()
		if err != nil {
			return n, fmt.Errorf("session: delete %s: %w", id, err)
		}
		n += res
	}
	return n, nil
}

func decodeSession(data []byte) (*domain.Session, error) {
	var rs redisSession
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("session: corrupt record: %w", err)
	}
	return &domain.Session{
		ID: rs.ID, IdentityID: rs.IdentityID, RefreshTokenHash: rs.RefreshTokenHash, DeviceLabel: rs.DeviceLabel,
		IPAddress: rs.IPAddress, CreatedAt: rs.CreatedAt, ExpiresAt: rs.ExpiresAt,
	}, nil
}
