package storage

import "context"

// Repository persists reconciliation runs. It allows swapping the SQLite
// implementation in tests.
type Repository interface {
	// SaveRun stores a run and its per-bill matches atomically
	SaveRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run with its matches
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs newest first, without their matches
	ListRuns(ctx context.Context, filters RunFilters) ([]*Run, error)

	// GetMatches returns the per-bill matches of a run ordered by bill ID
	GetMatches(ctx context.Context, runID string) ([]*BillMatchRecord, error)

	// DeleteRun removes a run and its matches
	DeleteRun(ctx context.Context, id string) error

	Close() error
}

// RunFilters defines filters for listing runs
type RunFilters struct {
	Limit  int // Max results (0 = default 20)
	Offset int
}
