package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jakechorley/retrofunding/internal/config"
	"github.com/jakechorley/retrofunding/pkg/core/allocator"
	"github.com/jakechorley/retrofunding/pkg/core/ballot"
	"github.com/jakechorley/retrofunding/pkg/core/impact"
	"github.com/jakechorley/retrofunding/pkg/core/model"
	"github.com/jakechorley/retrofunding/pkg/db"
	"github.com/jakechorley/retrofunding/pkg/tabular"
	"github.com/jakechorley/retrofunding/pkg/telemetry"
)

// MetricSource supplies the raw impact metrics table
type MetricSource interface {
	LoadMetrics(ctx context.Context) (*model.MetricSheet, error)
}

// BallotSource supplies the signed ballots
type BallotSource interface {
	LoadBallotRecords(ctx context.Context) ([]model.BallotRecord, error)
}

// CalculateResultsStore defines the database operations needed to persist a run
type CalculateResultsStore interface {
	InsertRun(ctx context.Context, run *db.Run, allocations []db.Allocation) error
}

// Sources groups the inputs of a run
type Sources struct {
	Metrics MetricSource
	Ballots BallotSource
}

// OutputPaths names the files a run writes. Empty paths are skipped.
type OutputPaths struct {
	ResultsCSV string
	ReportYAML string
}

// CalculateResultsResult holds every intermediate of a successful run
type CalculateResultsResult struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Table             model.MetricTable
	Ballots           []model.Ballot
	BallotAllocations []model.ProjectAllocationSet
	Aggregated        []model.AggregatedAllocation
	Outcome           *allocator.FinalOutcome
	Report            *tabular.Report
}

// CalculateResults runs the whole pipeline: normalize metrics, verify and decode ballots, allocate each
// ballot, take per-project medians, then cap, prune and renormalize to the funding pool.
//
// The run either succeeds as a whole or returns an error with nothing persisted. Output files are written
// before the run is stored and removed again if storing fails. store and metrics may be nil.
func CalculateResults(
	ctx context.Context,
	sources Sources,
	verifier ballot.Verifier,
	store CalculateResultsStore,
	outputs OutputPaths,
	metrics *telemetry.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) (result *CalculateResultsResult, err error) {
	started := time.Now().UTC()
	defer func() {
		if err != nil {
			metrics.RecordRun(telemetry.OutcomeFailure)
		} else {
			metrics.RecordRun(telemetry.OutcomeSuccess)
		}
	}()

	logger.Debug("Starting calculateResults",
		zap.Float64("total_funding", cfg.Funding.Total),
		zap.Float64("max_cap", cfg.Funding.MaxCap),
		zap.Float64("min_cap", cfg.Funding.MinCap))

	// Step 1: Normalize the impact metrics
	stageStart := time.Now()
	sheet, err := sources.Metrics.LoadMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics: %w", err)
	}
	table, err := impact.Normalize(sheet.Rows, sheet.MetricIDs...)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize metrics: %w", err)
	}
	metrics.ObserveStage("normalize", stageStart)
	logger.Debug("Metrics normalized", zap.Int("projects", len(sheet.Rows)), zap.Int("metrics", len(table)))

	// Step 2: Decode and verify ballots
	stageStart = time.Now()
	ballots, err := loadVerifiedBallots(ctx, sources.Ballots, verifier, metrics, cfg, logger)
	if err != nil {
		return nil, err
	}
	metrics.ObserveStage("verify", stageStart)

	// Step 3: Allocate each ballot
	stageStart = time.Now()
	sets, err := allocator.AllocateBallots(ctx, ballots, table, allocator.BallotConfig{
		CapFraction:  cfg.Funding.BallotCapFraction,
		TotalFunding: cfg.Funding.Total,
	}, cfg.Allocation.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate ballots: %w", err)
	}
	metrics.ObserveStage("allocate", stageStart)
	logger.Debug("Ballots allocated", zap.Int("ballots", len(sets)))

	// Step 4: Median per project
	aggregated := allocator.AggregateMedians(sets)
	logger.Debug("Medians aggregated", zap.Int("projects", len(aggregated)))

	// Step 5: Cap, prune and renormalize
	stageStart = time.Now()
	outcome, err := allocator.Finalize(aggregated, allocator.FinalConfig{
		TotalFunding:        cfg.Funding.Total,
		MaxCap:              cfg.Funding.MaxCap,
		MinCap:              cfg.Funding.MinCap,
		IterateToFixedPoint: cfg.Normalization.IterateToFixedPoint,
		MaxIterations:       cfg.Normalization.MaxIterations,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to finalize allocations: %w", err)
	}
	metrics.ObserveStage("finalize", stageStart)

	if !outcome.Converged {
		logger.Warn("Normalization stopped before every project cleared the minimum cap",
			zap.Int("passes", outcome.Passes))
	}

	result = &CalculateResultsResult{
		RunID:             uuid.NewString(),
		StartedAt:         started,
		FinishedAt:        time.Now().UTC(),
		Table:             table,
		Ballots:           ballots,
		BallotAllocations: sets,
		Aggregated:        aggregated,
		Outcome:           outcome,
	}
	result.Report = buildReport(result, cfg)

	// Step 6: Write outputs, then persist
	written, err := writeOutputs(outputs, result)
	if err != nil {
		return nil, err
	}

	if store != nil {
		run, allocations := toRunRecords(result, cfg)
		if err := store.InsertRun(ctx, run, allocations); err != nil {
			for _, path := range written {
				if rmErr := os.Remove(path); rmErr != nil {
					logger.Warn("Failed to remove output of unpersisted run", zap.String("path", path), zap.Error(rmErr))
				}
			}
			return nil, fmt.Errorf("failed to persist run: %w", err)
		}
		logger.Debug("Run persisted", zap.String("run_id", result.RunID))
	}

	metrics.RecordSummary(telemetry.RunSummary{
		Ballots:          len(ballots),
		Projects:         len(aggregated),
		Funded:           len(outcome.Allocations),
		Pruned:           len(outcome.Pruned),
		Passes:           outcome.Passes,
		TotalDistributed: result.Report.TotalDistributed,
	})

	logger.Info("Allocation run complete",
		zap.String("run_id", result.RunID),
		zap.Int("ballots", len(ballots)),
		zap.Int("funded_projects", len(outcome.Allocations)),
		zap.Int("pruned_projects", len(outcome.Pruned)),
		zap.Int("passes", outcome.Passes),
		zap.Float64("total_distributed", result.Report.TotalDistributed))

	return result, nil
}

// loadVerifiedBallots loads, decodes and verifies every ballot. Any failure fails the batch.
func loadVerifiedBallots(
	ctx context.Context,
	source BallotSource,
	verifier ballot.Verifier,
	metrics *telemetry.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) ([]model.Ballot, error) {
	records, err := source.LoadBallotRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ballots: %w", err)
	}

	ballots, err := ballot.DecodeAll(records, ballot.PercentPolicy(cfg.Ballots.PercentPolicy))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ballots: %w", err)
	}
	logger.Debug("Ballots decoded", zap.Int("ballots", len(ballots)))

	err = ballot.VerifyAll(ctx, records, metrics.InstrumentVerifier(verifier), ballot.VerifyOptions{
		Concurrency: cfg.Verification.Concurrency,
		Timeout:     cfg.Verification.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("ballot verification failed: %w", err)
	}
	logger.Debug("Ballot signatures verified", zap.Int("ballots", len(records)), zap.String("mode", cfg.Verification.Mode))

	return ballots, nil
}

// writeOutputs writes the configured files. On error nothing it wrote is left behind.
func writeOutputs(outputs OutputPaths, result *CalculateResultsResult) ([]string, error) {
	var written []string
	if outputs.ResultsCSV != "" {
		if err := tabular.WriteResultsCSV(outputs.ResultsCSV, result.Outcome.Allocations); err != nil {
			return written, fmt.Errorf("failed to write results: %w", err)
		}
		written = append(written, outputs.ResultsCSV)
	}
	if outputs.ReportYAML != "" {
		if err := tabular.WriteReportYAML(outputs.ReportYAML, result.Report); err != nil {
			for _, path := range written {
				_ = os.Remove(path)
			}
			return nil, fmt.Errorf("failed to write report: %w", err)
		}
		written = append(written, outputs.ReportYAML)
	}
	return written, nil
}

func buildReport(result *CalculateResultsResult, cfg *config.Config) *tabular.Report {
	allocations := result.Outcome.Allocations

	report := &tabular.Report{
		RunID:          result.RunID,
		StartedAt:      result.StartedAt,
		FinishedAt:     result.FinishedAt,
		Ballots:        len(result.Ballots),
		Projects:       len(result.Aggregated),
		FundedProjects: len(allocations),
		PrunedProjects: result.Outcome.Pruned,
		Passes:         result.Outcome.Passes,
		Converged:      result.Outcome.Converged,
		Settings: tabular.ReportSettings{
			TotalFunding:        cfg.Funding.Total,
			MaxCap:              cfg.Funding.MaxCap,
			MinCap:              cfg.Funding.MinCap,
			BallotCapFraction:   cfg.Funding.BallotCapFraction,
			PercentPolicy:       cfg.Ballots.PercentPolicy,
			VerificationMode:    cfg.Verification.Mode,
			IterateToFixedPoint: cfg.Normalization.IterateToFixedPoint,
		},
	}

	for _, a := range allocations {
		report.TotalDistributed += a.Amount
	}
	if len(allocations) > 0 {
		first, last := allocations[0], allocations[len(allocations)-1]
		report.LargestGrantee = &tabular.Grantee{ProjectID: first.ProjectID, Amount: first.Amount}
		report.SmallestGrantee = &tabular.Grantee{ProjectID: last.ProjectID, Amount: last.Amount}
	}

	return report
}

func toRunRecords(result *CalculateResultsResult, cfg *config.Config) (*db.Run, []db.Allocation) {
	run := &db.Run{
		ID:               result.RunID,
		StartedAt:        result.StartedAt,
		FinishedAt:       result.FinishedAt,
		BallotCount:      len(result.Ballots),
		ProjectCount:     len(result.Aggregated),
		FundedCount:      len(result.Outcome.Allocations),
		Passes:           result.Outcome.Passes,
		Converged:        result.Outcome.Converged,
		TotalFunding:     cfg.Funding.Total,
		MaxCap:           cfg.Funding.MaxCap,
		MinCap:           cfg.Funding.MinCap,
		TotalDistributed: result.Report.TotalDistributed,
	}

	allocations := make([]db.Allocation, len(result.Outcome.Allocations))
	for i, a := range result.Outcome.Allocations {
		allocations[i] = db.Allocation{
			RunID:     result.RunID,
			Rank:      i + 1,
			ProjectID: a.ProjectID,
			Amount:    a.Amount,
		}
	}
	return run, allocations
}
