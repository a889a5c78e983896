package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"careportal/internal/session/domain"
)

const sessionColumns = `id, identity_id, refresh_token_hash, device_label, ip_address, created_at, expires_at`

// PostgresRepository stores sessions in the sessions table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the session. The session must have ID and RefreshTokenHash set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.IdentityID, s.RefreshTokenHash, s.DeviceLabel, nullString(s.IPAddress), s.CreatedAt, s.ExpiresAt)
	return err
}

// GetByID returns the session for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
}

// GetByRefreshHash returns the session whose refresh secret hashes to hash, or nil if not found.
func (r *PostgresRepository) GetByRefreshHash(ctx context.Context, hash string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_hash = $1`, hash)
}

// ListActiveByIdentity returns unexpired sessions for the identity, newest first.
func (r *PostgresRepository) ListActiveByIdentity(ctx context.Context, identityID string, now time.Time) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE identity_id = $1 AND expires_at > $2 ORDER BY created_at DESC`, identityID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes the session with id.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// DeleteAllByIdentity removes all sessions for the identity.
func (r *PostgresRepository) DeleteAllByIdentity(ctx context.Context, identityID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE identity_id = $1`, identityID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*domain.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s  domain.Session
		ip sql.NullString
	)
	if err := row.Scan(&s.ID, &s.IdentityID, &s.RefreshTokenHash, &s.DeviceLabel, &ip, &s.CreatedAt, &s.ExpiresAt); err != nil {
		return nil, err
	}
	s.IPAddress = ip.String
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
