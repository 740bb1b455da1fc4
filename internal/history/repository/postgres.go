package repository

import (
	"context"
	"database/sql"
	"errors"

	"salesops-relay/internal/history/domain"
)

const (
	insertAttempt = `INSERT INTO verification_attempts (id, session_id, task_id, phone, outcome, detail, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	selectAttempts = `SELECT id, session_id, task_id, phone, outcome, detail, created_at FROM verification_attempts`

	listAttemptsByTask = selectAttempts + ` WHERE task_id = $1 ORDER BY created_at DESC LIMIT $2`
	listRecentAttempts = selectAttempts + ` ORDER BY created_at DESC LIMIT $1`
)

// DefaultLimit is used when a list call passes a non-positive limit.
const DefaultLimit = 50

// ErrInvalidAttempt is returned by Create for attempts without an id, task id or known outcome.
var ErrInvalidAttempt = errors.New("history: invalid attempt")

// PostgresRepository stores attempts in the verification_attempts table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an attempt repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists a. The attempt must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Attempt) error {
	if a == nil || a.ID == "" || a.TaskID == "" || !a.Outcome.Valid() {
		return ErrInvalidAttempt
	}
	_, err := r.db.ExecContext(ctx, insertAttempt,
		a.ID, a.SessionID, a.TaskID, a.Phone, string(a.Outcome), a.Detail, a.CreatedAt)
	return err
}

// ListByTask returns attempts for taskID, newest first.
func (r *PostgresRepository) ListByTask(ctx context.Context, taskID string, limit int32) ([]*domain.Attempt, error) {
	return r.list(ctx, listAttemptsByTask, taskID, normalizeLimit(limit))
}

// ListRecent returns the newest attempts.
func (r *PostgresRepository) ListRecent(ctx context.Context, limit int32) ([]*domain.Attempt, error) {
	return r.list(ctx, listRecentAttempts, normalizeLimit(limit))
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Attempt, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		var outcome string
		if err := rows.Scan(&a.ID, &a.SessionID, &a.TaskID, &a.Phone, &outcome, &a.Detail, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Outcome = domain.Outcome(outcome)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func normalizeLimit(limit int32) int32 {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
