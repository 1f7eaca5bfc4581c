package allocator

import (
	"sort"

	"github.com/jakechorley/retrofunding/pkg/core/model"
)

// Median returns the median of values without modifying the slice.
// Even-length input averages the two middle values. Empty input returns 0.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	half := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[half]
	}
	return (sorted[half-1] + sorted[half]) / 2.0
}

// AggregateMedians combines ballot allocation sets into one median allocation per project.
//
// Only ballots that include a project contribute to its median; absence is not a zero.
// The result is sorted by allocation descending, ties broken by project ID.
func AggregateMedians(sets []model.ProjectAllocationSet) []model.AggregatedAllocation {
	byProject := make(map[string][]float64)
	for _, set := range sets {
		for _, a := range set.Allocations {
			byProject[a.ProjectID] = append(byProject[a.ProjectID], a.Allocation)
		}
	}

	aggregated := make([]model.AggregatedAllocation, 0, len(byProject))
	for projectID, values := range byProject {
		aggregated = append(aggregated, model.AggregatedAllocation{
			ProjectID:   projectID,
			Allocation:  Median(values),
			BallotCount: len(values),
		})
	}

	sortAggregated(aggregated)
	return aggregated
}

func sortAggregated(aggregated []model.AggregatedAllocation) {
	sort.Slice(aggregated, func(i, j int) bool {
		if aggregated[i].Allocation != aggregated[j].Allocation {
			return aggregated[i].Allocation > aggregated[j].Allocation
		}
		return aggregated[i].ProjectID < aggregated[j].ProjectID
	})
}
