package allocator

import (
	"errors"
)

// ErrNotSortedDescending is returned when a capping pass is given values out of order
var ErrNotSortedDescending = errors.New("values must be sorted in descending order")

// CapFractions caps each value (a fraction of a ballot's budget) at capFraction and
// redistributes the excess proportionally over the remaining values.
//
// The single pass below is equivalent to repeatedly capping the largest remaining value
// and rescaling the rest to fill the freed budget. Walking in descending order, each value
// is scaled by remainingBudget/remainingRaw. Once a value is not capped that ratio cannot
// fall for any later, smaller, value, so no later value is under-allocated. Any other
// order breaks this, hence the guard.
func CapFractions(values []float64, capFraction float64) ([]float64, error) {
	if !isSortedDescending(values) {
		return nil, ErrNotSortedDescending
	}
	return waterfall(values, 1.0, 1.0, capFraction), nil
}

// NormalizeWithCap rescales values so they sum to totalFunding, capping each at maxCap and
// redistributing any excess over the smaller values. Values must be sorted descending.
func NormalizeWithCap(values []float64, maxCap, totalFunding float64) ([]float64, error) {
	if !isSortedDescending(values) {
		return nil, ErrNotSortedDescending
	}
	return normalizeWithCap(values, maxCap, totalFunding), nil
}

func normalizeWithCap(values []float64, maxCap, totalFunding float64) []float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return waterfall(values, total, totalFunding, maxCap)
}

// waterfall runs the running-ratio capping pass. It does not check ordering.
func waterfall(values []float64, remainingRaw, remainingBudget, limit float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		adjusted := 0.0
		// Nothing left to share once the raw mass is exhausted; avoids 0/0
		if remainingRaw > 0 {
			adjusted = min(v*remainingBudget/remainingRaw, limit)
		}
		adjusted = max(adjusted, 0)

		out[i] = adjusted
		remainingRaw -= v
		remainingBudget -= adjusted
	}
	return out
}

func isSortedDescending(values []float64) bool {
	for i := 1; i < len(values); i++ {
		if values[i] > values[i-1] {
			return false
		}
	}
	return true
}
