package impact

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/jakechorley/retrofunding/pkg/core/model"
)

var (
	// ErrMalformedValue is returned for a metric value that is not a finite number
	ErrMalformedValue = errors.New("malformed metric value")

	// ErrMissingColumn is returned when a required identity column is absent or empty
	ErrMissingColumn = errors.New("missing required column")

	// ErrDuplicateProject is returned when the same project appears in more than one row
	ErrDuplicateProject = errors.New("duplicate project")
)

// RowError ties a metric table error to the row it came from (1-based, excluding the header)
type RowError struct {
	Row    int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row %d, column %q: %v", e.Row, e.Column, e.Err)
	}
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Normalize turns raw metric rows into a MetricTable of per-project shares.
//
// For each metric the share of a project is its raw value divided by the sum over every
// project that reported the metric. A metric whose total is zero yields zero shares.
// Entries for a metric keep the order of the input rows. Every metric in metricIDs gets an
// entry even when no project reported it, so ballots may still name it.
func Normalize(rows []model.MetricRow, metricIDs ...string) (model.MetricTable, error) {
	if err := validateRows(rows); err != nil {
		return nil, err
	}

	totals := make(map[string]float64)
	for _, row := range rows {
		for metricID, value := range row.Metrics {
			totals[metricID] += value
		}
	}

	table := make(model.MetricTable, len(totals)+len(metricIDs))
	for _, metricID := range metricIDs {
		table[metricID] = []model.MetricShare{}
	}
	for _, row := range rows {
		// Visit metrics in a stable order so equal input produces equal output
		for _, metricID := range sortedMetricIDs(row.Metrics) {
			share := 0.0
			if total := totals[metricID]; total != 0 {
				share = row.Metrics[metricID] / total
			}

			table[metricID] = append(table[metricID], model.MetricShare{
				ProjectID:    row.ProjectID,
				IsOpenSource: row.IsOpenSource,
				Share:        share,
			})
		}
	}

	return table, nil
}

// MetricIDs returns the metric IDs in a table in sorted order
func MetricIDs(table model.MetricTable) []string {
	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func validateRows(rows []model.MetricRow) error {
	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		rowNum := i + 1
		if row.ProjectID == "" {
			return &RowError{Row: rowNum, Column: "application_id", Err: ErrMissingColumn}
		}
		if first, ok := seen[row.ProjectID]; ok {
			return &RowError{Row: rowNum, Err: fmt.Errorf("%w: %s already defined in row %d", ErrDuplicateProject, row.ProjectID, first)}
		}
		seen[row.ProjectID] = rowNum

		for metricID, value := range row.Metrics {
			if math.IsNaN(value) || math.IsInf(value, 0) {
				return &RowError{Row: rowNum, Column: metricID, Err: ErrMalformedValue}
			}
		}
	}
	return nil
}

func sortedMetricIDs(metrics map[string]float64) []string {
	ids := make([]string, 0, len(metrics))
	for id := range metrics {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
