package allocator

import (
	"errors"
	"sort"

	"github.com/jakechorley/retrofunding/pkg/core/model"
)

// ErrNothingFunded is returned when no project stays above the minimum payout
var ErrNothingFunded = errors.New("no project allocation exceeds the minimum cap")

// FinalConfig controls the conversion of aggregated medians into payouts
type FinalConfig struct {
	TotalFunding float64
	MaxCap       float64
	MinCap       float64

	// IterateToFixedPoint keeps pruning and renormalizing until no retained project is at
	// or below MinCap. When false exactly two normalization passes run.
	IterateToFixedPoint bool

	// MaxIterations bounds the passes when IterateToFixedPoint is set
	MaxIterations int
}

// FinalOutcome is the result of Finalize
type FinalOutcome struct {
	// Allocations are sorted by amount descending
	Allocations []model.FinalAllocation

	// Pruned lists projects dropped for falling at or below MinCap, in the order they were dropped
	Pruned []string

	// Passes is the number of normalize-with-cap passes performed
	Passes int

	// Converged is false when MaxIterations was hit with projects still at or below MinCap
	Converged bool
}

// Finalize rescales aggregated allocations to the funding pool, enforces the per-project
// cap and prunes projects whose payout would not exceed the minimum cap.
func Finalize(aggregated []model.AggregatedAllocation, cfg FinalConfig) (*FinalOutcome, error) {
	items := make([]model.AggregatedAllocation, len(aggregated))
	copy(items, aggregated)
	sortAggregated(items)

	outcome := &FinalOutcome{Pruned: []string{}}

	adjusted := normalizeWithCap(allocationValues(items), cfg.MaxCap, cfg.TotalFunding)
	outcome.Passes = 1

	maxPasses := cfg.MaxIterations
	if maxPasses < 2 {
		maxPasses = 2
	}

	for {
		keep := countAboveMin(adjusted, cfg.MinCap)
		if keep == 0 {
			return nil, ErrNothingFunded
		}
		for _, item := range items[keep:] {
			outcome.Pruned = append(outcome.Pruned, item.ProjectID)
		}
		items = items[:keep]

		// Removing entries changes the total, so always renormalize at least once
		adjusted = normalizeWithCap(allocationValues(items), cfg.MaxCap, cfg.TotalFunding)
		outcome.Passes++

		stable := countAboveMin(adjusted, cfg.MinCap) == len(items)
		if !cfg.IterateToFixedPoint {
			outcome.Converged = stable
			break
		}
		if stable {
			outcome.Converged = true
			break
		}
		if outcome.Passes >= maxPasses {
			break
		}
	}

	outcome.Allocations = make([]model.FinalAllocation, len(items))
	for i, item := range items {
		outcome.Allocations[i] = model.FinalAllocation{
			ProjectID: item.ProjectID,
			Amount:    adjusted[i],
		}
	}

	// Capping can create ties that break the ID order within equal amounts
	sort.SliceStable(outcome.Allocations, func(i, j int) bool {
		a, b := outcome.Allocations[i], outcome.Allocations[j]
		if a.Amount != b.Amount {
			return a.Amount > b.Amount
		}
		return a.ProjectID < b.ProjectID
	})

	return outcome, nil
}

// countAboveMin scans from the smallest value back and returns how many leading values to keep
func countAboveMin(adjusted []float64, minCap float64) int {
	for i := len(adjusted) - 1; i >= 0; i-- {
		if adjusted[i] > minCap {
			return i + 1
		}
	}
	return 0
}

func allocationValues(items []model.AggregatedAllocation) []float64 {
	values := make([]float64, len(items))
	for i, item := range items {
		values[i] = item.Allocation
	}
	return values
}
