package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jakechorley/retrofunding/pkg/db"
)

// ViewRunStore defines the database operations needed to inspect past runs
type ViewRunStore interface {
	GetRun(ctx context.Context, id string) (*db.Run, []db.Allocation, error)
	ListRuns(ctx context.Context) ([]db.Run, error)
}

// ViewRunResult is a persisted run with its ranked allocations
type ViewRunResult struct {
	Run         *db.Run
	Allocations []db.Allocation
}

// ViewRun loads a persisted run. An empty runID selects the most recent run.
func ViewRun(ctx context.Context, store ViewRunStore, runID string, logger *zap.Logger) (*ViewRunResult, error) {
	if runID == "" {
		runs, err := store.ListRuns(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}
		if len(runs) == 0 {
			return nil, db.ErrRunNotFound
		}
		runID = runs[0].ID
		logger.Debug("Selected most recent run", zap.String("run_id", runID))
	}

	run, allocations, err := store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}

	return &ViewRunResult{Run: run, Allocations: allocations}, nil
}

// ListRuns returns every persisted run, newest first
func ListRuns(ctx context.Context, store ViewRunStore) ([]db.Run, error) {
	runs, err := store.ListRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
