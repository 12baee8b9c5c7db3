// Package repo defines the persistence interfaces the orchestration core
// depends on. Implementations live in subpackages; every component receives
// its repository by injection, never through package-level state.
package repo

import (
	"context"
	"errors"

	"github.com/seqflow-labs/seqflow-go/internal/domain"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// JobFilter narrows List results. Zero values mean no constraint.
type JobFilter struct {
	UserID     string
	PipelineID string
	Status     domain.Status
	Limit      int
	Offset     int
}

// JobRepository is the durable record store for jobs. Records are never
// physically deleted by the core; retention is an external concern.
type JobRepository interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, error)
	// Update persists the full job record for the given id.
	Update(ctx context.Context, job domain.Job) error
	List(ctx context.Context, filter JobFilter) ([]domain.Job, error)
	// ListActive returns every job not in a terminal state, for startup
	// recovery of polling tasks.
	ListActive(ctx context.Context) ([]domain.Job, error)
}

// SubscriptionRepository stores webhook subscriptions.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub domain.Subscription) error
	List(ctx context.Context) ([]domain.Subscription, error)
}
