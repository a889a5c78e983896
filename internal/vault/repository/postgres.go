package repository

import (
	"context"
	"database/sql"
	"errors"

	"careportal/internal/vault/domain"
)

const fileColumns = `id, owner_id, uploaded_by, blob_key, original_name, mime_type, size_bytes, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a file metadata repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the file record by id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.FileRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *PostgresRepository) Create(ctx context.Context, f *domain.FileRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO files (`+fileColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.ID, f.OwnerID, f.UploadedBy, f.BlobKey, f.OriginalName, f.MimeType, f.Size, f.CreatedAt)
	return err
}

// Delete removes the record. Deleting a missing record is a no-op.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	return err
}

// ListByOwner returns the owner's files, newest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.FileRecord, error) {
	return r.list(ctx, `SELECT `+fileColumns+` FROM files WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
}

// ListAll returns every file record; used by orphan reconciliation.
func (r *PostgresRepository) ListAll(ctx context.Context) ([]*domain.FileRecord, error) {
	return r.list(ctx, `SELECT `+fileColumns+` FROM files ORDER BY created_at`)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.FileRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(s scanner) (*domain.FileRecord, error) {
	var f domain.FileRecord
	if err := s.Scan(&f.ID, &f.OwnerID, &f.UploadedBy, &f.BlobKey, &f.OriginalName, &f.MimeType, &f.Size, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}
