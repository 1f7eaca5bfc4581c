package allocator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/jakechorley/retrofunding/pkg/core/model"
)

// ErrUnknownMetric is returned when a ballot allocates to a metric missing from the metric table
var ErrUnknownMetric = errors.New("unknown metric")

// BallotConfig controls how a single ballot is turned into project allocations
type BallotConfig struct {
	// CapFraction is the largest fraction of the pool one ballot may give a single project
	CapFraction float64

	// TotalFunding converts budget fractions into currency units
	TotalFunding float64
}

// projectAccumulator is a project's running total within one ballot
type projectAccumulator struct {
	isOpenSource bool
	total        float64
	perMetric    []model.MetricContribution
}

// projectTotals holds per-project accumulators plus first-seen order
type projectTotals struct {
	order     []string
	byProject map[string]*projectAccumulator
}

// AllocateBallot converts one verified ballot into a capped allocation per project
func AllocateBallot(ballot model.Ballot, table model.MetricTable, cfg BallotConfig) (model.ProjectAllocationSet, error) {
	totals, err := accumulate(ballot.Payload, table)
	if err != nil {
		return model.ProjectAllocationSet{}, fmt.Errorf("ballot %s: %w", ballot.Address, err)
	}

	ranked := totals.ranked()

	raw := make([]float64, len(ranked))
	for i, r := range ranked {
		raw[i] = r.total
	}

	capped, err := CapFractions(raw, cfg.CapFraction)
	if err != nil {
		return model.ProjectAllocationSet{}, fmt.Errorf("ballot %s: %w", ballot.Address, err)
	}

	allocations := make([]model.ProjectAllocation, len(ranked))
	for i, r := range ranked {
		allocations[i] = model.ProjectAllocation{
			ProjectID:    r.projectID,
			IsOpenSource: r.isOpenSource,
			Allocation:   capped[i] * cfg.TotalFunding,
			PerMetric:    r.perMetric,
		}
	}

	return model.ProjectAllocationSet{
		Address:     ballot.Address,
		Allocations: allocations,
	}, nil
}

// AllocateBallots allocates every ballot using at most workers goroutines.
// Results keep the order of the input ballots. The first error cancels the rest.
func AllocateBallots(ctx context.Context, ballots []model.Ballot, table model.MetricTable, cfg BallotConfig, workers int) ([]model.ProjectAllocationSet, error) {
	results := make([]model.ProjectAllocationSet, len(ballots))

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for i, b := range ballots {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			set, err := AllocateBallot(b, table, cfg)
			if err != nil {
				return err
			}
			// Each goroutine owns its own slot
			results[i] = set
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// accumulate folds the ballot's metric allocations into per-project totals
func accumulate(payload model.BallotPayload, table model.MetricTable) (projectTotals, error) {
	totals := projectTotals{byProject: make(map[string]*projectAccumulator)}

	for _, alloc := range payload.Allocations {
		shares, ok := table[alloc.MetricID]
		if !ok {
			return projectTotals{}, fmt.Errorf("%w: %s", ErrUnknownMetric, alloc.MetricID)
		}

		values := make([]float64, len(shares))
		metricTotal := 0.0
		for i, s := range shares {
			v := s.Share
			if s.IsOpenSource {
				v *= payload.OSMultiplier
			}
			values[i] = v
			metricTotal += v
		}

		for i, s := range shares {
			// A metric nobody scored on still counts its projects, at zero
			contribution := 0.0
			if metricTotal != 0 {
				contribution = (values[i] / metricTotal) * (alloc.Percent / 100)
			}
			totals.add(s.ProjectID, s.IsOpenSource, alloc.MetricID, contribution)
		}
	}

	return totals, nil
}

func (t *projectTotals) add(projectID string, isOpenSource bool, metricID string, contribution float64) {
	acc, ok := t.byProject[projectID]
	if !ok {
		acc = &projectAccumulator{isOpenSource: isOpenSource}
		t.byProject[projectID] = acc
		t.order = append(t.order, projectID)
	}
	acc.total += contribution
	acc.perMetric = append(acc.perMetric, model.MetricContribution{
		MetricID:   metricID,
		Allocation: contribution,
	})
}

type rankedProject struct {
	projectID    string
	isOpenSource bool
	total        float64
	perMetric    []model.MetricContribution
}

// ranked returns the projects sorted by total descending, ties broken by project ID
func (t projectTotals) ranked() []rankedProject {
	out := make([]rankedProject, 0, len(t.order))
	for _, id := range t.order {
		acc := t.byProject[id]
		out = append(out, rankedProject{
			projectID:    id,
			isOpenSource: acc.isOpenSource,
			total:        acc.total,
			perMetric:    acc.perMetric,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].total != out[j].total {
			return out[i].total > out[j].total
		}
		return out[i].projectID < out[j].projectID
	})
	return out
}
