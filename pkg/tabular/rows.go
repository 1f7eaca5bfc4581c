package tabular

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jakechorley/retrofunding/pkg/core/impact"
	"github.com/jakechorley/retrofunding/pkg/core/model"
)

// Metric table identity columns. Every other column is a metric.
const (
	ColumnProjectID   = "application_id"
	ColumnProjectName = "project_name"
	ColumnIsOSS       = "is_oss"
)

// Ballot table columns, matched case-insensitively
const (
	ColumnAddress   = "address"
	ColumnPayload   = "payload"
	ColumnSignature = "signature"
)

// ErrEmptyTable is returned when a table has no header row
var ErrEmptyTable = errors.New("table has no header row")

// RowError ties a parse error to a data row (1-based, excluding the header)
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

// header maps column names to their index
type header struct {
	names   []string
	indices map[string]int
}

func parseHeader(row []string, fold bool) header {
	h := header{
		names:   make([]string, len(row)),
		indices: make(map[string]int, len(row)),
	}
	for i, name := range row {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if fold {
			name = strings.ToLower(name)
		}
		h.names[i] = name
		if _, exists := h.indices[name]; !exists {
			h.indices[name] = i
		}
	}
	return h
}

func (h header) require(columns ...string) error {
	for _, col := range columns {
		if _, ok := h.indices[col]; !ok {
			return fmt.Errorf("%w: %s", impact.ErrMissingColumn, col)
		}
	}
	return nil
}

// cell returns the trimmed value of column in row, or "" for a short row
func (h header) cell(row []string, column string) string {
	i, ok := h.indices[column]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ParseMetricSheet converts a metric table (header first) into metric rows plus the list of
// metric columns.
//
// An empty metric cell means the project did not report that metric. Cells that are not
// finite numbers fail the whole table.
func ParseMetricSheet(rows [][]string) (*model.MetricSheet, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyTable
	}

	h := parseHeader(rows[0], false)
	if err := h.require(ColumnProjectID); err != nil {
		return nil, err
	}

	metricRows := make([]model.MetricRow, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rowNum := i + 1
		if isBlank(row) {
			continue
		}

		metricRow := model.MetricRow{
			ProjectID:   h.cell(row, ColumnProjectID),
			ProjectName: h.cell(row, ColumnProjectName),
			Metrics:     make(map[string]float64),
		}
		if metricRow.ProjectID == "" {
			return nil, &RowError{Row: rowNum, Column: ColumnProjectID, Err: impact.ErrMissingColumn}
		}

		if raw := h.cell(row, ColumnIsOSS); raw != "" {
			isOSS, err := strconv.ParseBool(strings.ToLower(raw))
			if err != nil {
				return nil, &RowError{Row: rowNum, Column: ColumnIsOSS, Err: fmt.Errorf("invalid boolean %q", raw)}
			}
			metricRow.IsOpenSource = isOSS
		}

		for col, name := range h.names {
			if !isMetricColumn(name) {
				continue
			}
			if col >= len(row) {
				continue
			}
			raw := strings.TrimSpace(row[col])
			if raw == "" {
				continue
			}

			value, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
				return nil, &RowError{Row: rowNum, Column: name, Err: fmt.Errorf("%w: %q", impact.ErrMalformedValue, raw)}
			}
			metricRow.Metrics[name] = value
		}

		metricRows = append(metricRows, metricRow)
	}

	return &model.MetricSheet{MetricIDs: h.metricColumns(), Rows: metricRows}, nil
}

func isMetricColumn(name string) bool {
	return name != "" && name != ColumnProjectID && name != ColumnProjectName && name != ColumnIsOSS
}

// metricColumns lists the metric columns in header order, first occurrence only
func (h header) metricColumns() []string {
	columns := make([]string, 0, len(h.names))
	for col, name := range h.names {
		if isMetricColumn(name) && h.indices[name] == col {
			columns = append(columns, name)
		}
	}
	return columns
}

// ParseBallotRecords converts a ballot table (header first) into ballot records.
// The payload cell is kept byte-for-byte since it is what the voter signed.
func ParseBallotRecords(rows [][]string) ([]model.BallotRecord, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyTable
	}

	h := parseHeader(rows[0], true)
	if err := h.require(ColumnAddress, ColumnPayload, ColumnSignature); err != nil {
		return nil, err
	}

	payloadCol := h.indices[ColumnPayload]
	records := make([]model.BallotRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rowNum := i + 1
		if isBlank(row) {
			continue
		}

		record := model.BallotRecord{
			Address:   h.cell(row, ColumnAddress),
			Signature: h.cell(row, ColumnSignature),
		}
		if payloadCol < len(row) {
			record.PayloadJSON = row[payloadCol]
		}

		switch {
		case record.Address == "":
			return nil, &RowError{Row: rowNum, Column: ColumnAddress, Err: impact.ErrMissingColumn}
		case record.PayloadJSON == "":
			return nil, &RowError{Row: rowNum, Column: ColumnPayload, Err: impact.ErrMissingColumn}
		case record.Signature == "":
			return nil, &RowError{Row: rowNum, Column: ColumnSignature, Err: impact.ErrMissingColumn}
		}

		records = append(records, record)
	}

	return records, nil
}
