package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/retrofunding/pkg/db"
)

const runColumns = `id, started_at, finished_at, ballot_count, project_count, funded_count,
	passes, converged, total_funding, max_cap, min_cap, total_distributed`

// InsertRun stores a run and its allocations in a single transaction
func (d *DB) InsertRun(ctx context.Context, run *db.Run, allocations []db.Allocation) error {
	if _, err := uuid.Parse(run.ID); err != nil {
		return fmt.Errorf("invalid run id %q: %w", run.ID, err)
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO allocation_run (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.BallotCount, run.ProjectCount, run.FundedCount,
		run.Passes, run.Converged, run.TotalFunding, run.MaxCap, run.MinCap, run.TotalDistributed)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(allocations) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"final_allocation"},
			[]string{"run_id", "rank", "project_id", "amount"},
			pgx.CopyFromSlice(len(allocations), func(i int) ([]any, error) {
				a := allocations[i]
				return []any{run.ID, a.Rank, a.ProjectID, a.Amount}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to insert allocations: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun retrieves a run and its allocations ordered by rank
func (d *DB) GetRun(ctx context.Context, id string) (*db.Run, []db.Allocation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", db.ErrRunNotFound, id)
	}

	row := d.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM allocation_run WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", db.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := d.pool.Query(ctx, `
		SELECT run_id, rank, project_id, amount
		FROM final_allocation
		WHERE run_id = $1
		ORDER BY rank
	`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var allocations []db.Allocation
	for rows.Next() {
		var a db.Allocation
		if err := rows.Scan(&a.RunID, &a.Rank, &a.ProjectID, &a.Amount); err != nil {
			return nil, nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		allocations = append(allocations, a)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating allocations: %w", err)
	}

	return run, allocations, nil
}

// ListRuns returns every stored run, newest first
func (d *DB) ListRuns(ctx context.Context) ([]db.Run, error) {
	rows, err := d.pool.Query(ctx, `SELECT `+runColumns+` FROM allocation_run ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []db.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func scanRun(row pgx.Row) (*db.Run, error) {
	var r db.Run
	err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.BallotCount, &r.ProjectCount, &r.FundedCount,
		&r.Passes, &r.Converged, &r.TotalFunding, &r.MaxCap, &r.MinCap, &r.TotalDistributed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	return &r, nil
}
