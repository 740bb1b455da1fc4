package repository

import (
	"context"

	"salesops-relay/internal/history/domain"
)

// Repository defines persistence for verification attempts.
type Repository interface {
	Create(ctx context.Context, a *domain.Attempt) error
	// ListByTask returns attempts for taskID, newest first.
	ListByTask(ctx context.Context, taskID string, limit int32) ([]*domain.Attempt, error)
	// ListRecent returns the newest attempts across all tasks.
	ListRecent(ctx context.Context, limit int32) ([]*domain.Attempt, error)
}
