package sheetsclient

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jakechorley/retrofunding/pkg/core/model"
	"github.com/jakechorley/retrofunding/pkg/tabular"
)

// Table locates a sheet range
type Table struct {
	SheetID string
	Range   string
}

// MetricSource loads the impact metrics table from a sheet
type MetricSource struct {
	Client *Client
	Table  Table
}

// LoadMetrics implements services.MetricSource
func (s *MetricSource) LoadMetrics(ctx context.Context) (*model.MetricSheet, error) {
	rows, err := s.Client.GetRows(ctx, s.Table.SheetID, s.Table.Range)
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics sheet: %w", err)
	}
	return tabular.ParseMetricSheet(rows)
}

// BallotSource loads the ballot table from a sheet
type BallotSource struct {
	Client *Client
	Table  Table
}

// LoadBallotRecords implements services.BallotSource
func (s *BallotSource) LoadBallotRecords(ctx context.Context) ([]model.BallotRecord, error) {
	rows, err := s.Client.GetRows(ctx, s.Table.SheetID, s.Table.Range)
	if err != nil {
		return nil, fmt.Errorf("failed to load ballots sheet: %w", err)
	}
	return tabular.ParseBallotRecords(rows)
}

// toStrings renders unformatted sheet values. Numbers keep full precision.
func toStrings(values [][]interface{}) [][]string {
	rows := make([][]string, len(values))
	for i, row := range values {
		rows[i] = make([]string, len(row))
		for j, cell := range row {
			rows[i][j] = cellString(cell)
		}
	}
	return rows
}

func cellString(cell interface{}) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
