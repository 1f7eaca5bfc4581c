package db

import (
	"context"
	"errors"
)

// ErrRunNotFound is returned when no run has the requested ID
var ErrRunNotFound = errors.New("run not found")

// RunStore persists completed allocation runs.
// Both the in-memory MemoryStore and postgres.DB implement this interface.
type RunStore interface {
	// InsertRun stores a run and its allocations atomically
	InsertRun(ctx context.Context, run *Run, allocations []Allocation) error
	GetRun(ctx context.Context, id string) (*Run, []Allocation, error)
	ListRuns(ctx context.Context) ([]Run, error)
}
