package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"careportal/internal/identity/domain"
)

const pgErrUniqueViolation = "23505"

const identityColumns = `id, role, status, name, email, national_id, phone, address, password_hash,
	reset_attempts, reset_token_hash, reset_token_expires_at, created_at, updated_at`

// PostgresRepository stores identities in the identities table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an identity repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the identity for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	return r.getOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
}

// GetByEmail returns the identity with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	return r.getOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE email = $1`, email)
}

// GetByResetTokenHash returns the identity holding the reset token with this hash, or nil.
func (r *PostgresRepository) GetByResetTokenHash(ctx context.Context, hash string) (*domain.Identity, error) {
	if hash == "" {
		return nil, nil
	}
	return r.getOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE reset_token_hash = $1`, hash)
}

// Save upserts the identity by id. PII columns are written exactly as given; callers go through
// the PII codec so only ciphertext reaches this point. Role and status are only written on insert;
// SetStatus is the sole writer of status afterwards, so a stale snapshot cannot undo a ban.
func (r *PostgresRepository) Save(ctx context.Context, i *domain.Identity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identities (id, role, status, name, email, national_id, phone, address, password_hash,
			reset_attempts, reset_token_hash, reset_token_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '[]', $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			national_id = EXCLUDED.national_id,
			phone = EXCLUDED.phone,
			address = EXCLUDED.address,
			password_hash = EXCLUDED.password_hash,
			reset_token_hash = EXCLUDED.reset_token_hash,
			reset_token_expires_at = EXCLUDED.reset_token_expires_at,
			updated_at = EXCLUDED.updated_at`,
		i.ID, string(i.Role), string(i.Status), i.Name, i.Email,
		nullString(i.NationalID), nullString(i.Phone), nullString(i.Address), i.PasswordHash,
		nullString(i.ResetTokenHash), nullTime(i.ResetTokenExpiresAt), i.CreatedAt, i.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return ErrEmailTaken
	}
	return err
}

// SetStatus changes the account status. Returns ErrNotFound if no row matched.
func (r *PostgresRepository) SetStatus(ctx context.Context, id string, status domain.Status) error {
	res, err := r.db.ExecContext(ctx, `UPDATE identities SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateResetAttempts locks the identity row, passes its ledger to fn and stores the result.
// Two concurrent callers for the same identity are serialized by the row lock.
func (r *PostgresRepository) UpdateResetAttempts(ctx context.Context, id string, fn LedgerFunc) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	err = tx.QueryRowContext(ctx, `SELECT reset_attempts FROM identities WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	attempts, err := decodeAttempts(raw)
	if err != nil {
		return err
	}
	next, err := fn(attempts)
	if err != nil {
		return err
	}
	encoded, err := encodeAttempts(next)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE identities SET reset_attempts = $2 WHERE id = $1`, id, encoded); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresRepository) getOne(ctx context.Context, query, arg string) (*domain.Identity, error) {
	i, err := scanIdentity(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return i, err
}

func scanIdentity(row *sql.Row) (*domain.Identity, error) {
	var (
		i                          domain.Identity
		role, status               string
		nationalID, phone, address sql.NullString
		rawAttempts                []byte
		resetHash                  sql.NullString
		resetExpires               sql.NullTime
	)
	if err := row.Scan(&i.ID, &role, &status, &i.Name, &i.Email, &nationalID, &phone, &address, &i.PasswordHash,
		&rawAttempts, &resetHash, &resetExpires, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, err
	}
	attempts, err := decodeAttempts(rawAttempts)
	if err != nil {
		return nil, err
	}
	i.Role = domain.Role(role)
	i.Status = domain.Status(status)
	i.NationalID = nationalID.String
	i.Phone = phone.String
	i.Address = address.String
	i.ResetAttempts = attempts
	i.ResetTokenHash = resetHash.String
	if resetExpires.Valid {
		t := resetExpires.Time
		i.ResetTokenExpiresAt = &t
	}
	return &i, nil
}

func decodeAttempts(raw []byte) ([]time.Time, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []time.Time
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode reset attempts: %w", err)
	}
	return out, nil
}

func encodeAttempts(attempts []time.Time) (string, error) {
	if attempts == nil {
		attempts = []time.Time{}
	}
	b, err := json.Marshal(attempts)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
