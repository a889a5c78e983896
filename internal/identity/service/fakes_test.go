package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"careportal/internal/audit"
	"careportal/internal/identity/domain"
	"careportal/internal/identity/repository"
	sessiondomain "careportal/internal/session/domain"
)

type memIdentityRepo struct {
	mu sync.Mutex
	m  map[string]*domain.Identity
}

func newMemIdentityRepo() *memIdentityRepo {
	return &memIdentityRepo{m: make(map[string]*domain.Identity)}
}

func (r *memIdentityRepo) copyOf(i *domain.Identity) *domain.Identity {
	if i == nil {
		return nil
	}
	cp := *i
	cp.ResetAttempts = append([]time.Time(nil), i.ResetAttempts...)
	return &cp
}

func (r *memIdentityRepo) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyOf(r.m[id]), nil
}

func (r *memIdentityRepo) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.m {
		if i.Email == email {
			return r.copyOf(i), nil
		}
	}
	return nil, nil
}

func (r *memIdentityRepo) GetByResetTokenHash(ctx context.Context, hash string) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.m {
		if hash != "" && i.ResetTokenHash == hash {
			return r.copyOf(i), nil
		}
	}
	return nil, nil
}

func (r *memIdentityRepo) Save(ctx context.Context, i *domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, other := range r.m {
		if id != i.ID && other.Email == i.Email {
			return repository.ErrEmailTaken
		}
	}
	cp := r.copyOf(i)
	if prev, ok := r.m[i.ID]; ok {
		// Same column set as the Postgres upsert: role, status and the ledger are insert-only.
		cp.ResetAttempts = prev.ResetAttempts
		cp.Role = prev.Role
		cp.Status = prev.Status
	} else {
		cp.ResetAttempts = nil
	}
	r.m[i.ID] = cp
	return nil
}

func (r *memIdentityRepo) SetStatus(ctx context.Context, id string, status domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.m[id]
	if !ok {
		return repository.ErrNotFound
	}
	i.Status = status
	return nil
}

func (r *memIdentityRepo) UpdateResetAttempts(ctx context.Context, id string, fn repository.LedgerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.m[id]
	if !ok {
		return repository.ErrNotFound
	}
	next, err := fn(append([]time.Time(nil), i.ResetAttempts...))
	if err != nil {
		return err
	}
	i.ResetAttempts = next
	return nil
}

func (r *memIdentityRepo) raw(id string) domain.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.m[id]
}

type memSessionRepo struct {
	mu sync.Mutex
	m  map[string]*sessiondomain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{m: make(map[string]*sessiondomain.Session)}
}

func (r *memSessionRepo) Create(ctx context.Context, s *sessiondomain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.m[s.ID] = &cp
	return nil
}

func (r *memSessionRepo) GetByID(ctx context.Context, id string) (*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (r *memSessionRepo) GetByRefreshHash(ctx context.Context, hash string) (*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.m {
		if s.RefreshTokenHash == hash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memSessionRepo) ListActiveByIdentity(ctx context.Context, identityID string, now time.Time) ([]*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*sessiondomain.Session
	for _, s := range r.m {
		if s.IdentityID == identityID && !s.Expired(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memSessionRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, id)
	return nil
}

func (r *memSessionRepo) DeleteAllByIdentity(ctx context.Context, identityID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.m {
		if s.IdentityID == identityID {
			delete(r.m, id)
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

func (r *memSessionRepo) get(id string) (sessiondomain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok {
		return sessiondomain.Session{}, false
	}
	return *s, true
}

type memRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *memRecorder) Record(ctx context.Context, ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *memRecorder) all() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}

type assignments map[string]bool

func (a assignments) IsAssigned(ctx context.Context, doctorID, patientID string) (bool, error) {
	return a[doctorID+":"+patientID], nil
}
