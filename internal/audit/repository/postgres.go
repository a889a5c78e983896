package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"careportal/internal/audit/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// PostgresRepository stores audit records in the audit_records table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts r. The record must have ID and CreatedAt set.
func (r *PostgresRepository) Create(ctx context.Context, rec *domain.Record) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO audit_records
		(id, action, actor_id, target_id, resource_type, resource_id, ip, user_agent, outcome, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, string(rec.Action), nullString(rec.ActorID), nullString(rec.TargetID),
		rec.ResourceType, rec.ResourceID, rec.IP, rec.UserAgent, string(rec.Outcome), rec.Detail, rec.CreatedAt,
	)
	return err
}

// List returns records matching f ordered by created_at descending.
// Limit defaults to 50 and is capped at 500.
func (r *PostgresRepository) List(ctx context.Context, f domain.Filter) ([]*domain.Record, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.TargetID != "" {
		add("target_id = $%d", f.TargetID)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	q := `SELECT id, action, actor_id, target_id, resource_type, resource_id, ip, user_agent, outcome, detail, created_at
		FROM audit_records`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	q += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Record
	for rows.Next() {
		var (
			rec               domain.Record
			action, outcome   string
			actorID, targetID sql.NullString
		)
		if err := rows.Scan(&rec.ID, &action, &actorID, &targetID, &rec.ResourceType, &rec.ResourceID,
			&rec.IP, &rec.UserAgent, &outcome, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Action = domain.Action(action)
		rec.Outcome = domain.Outcome(outcome)
		rec.ActorID = actorID.String
		rec.TargetID = targetID.String
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
