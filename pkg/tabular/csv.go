package tabular

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jakechorley/retrofunding/pkg/core/model"
)

// CSVSource reads metric and ballot tables from local CSV files
type CSVSource struct {
	MetricsPath string
	BallotsPath string
}

// ReadCSV reads every record of a CSV file. Rows may have differing field counts.
func ReadCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return rows, nil
}

// LoadMetrics implements services.MetricSource
func (s *CSVSource) LoadMetrics(_ context.Context) (*model.MetricSheet, error) {
	rows, err := ReadCSV(s.MetricsPath)
	if err != nil {
		return nil, err
	}
	return ParseMetricSheet(rows)
}

// LoadBallotRecords implements services.BallotSource
func (s *CSVSource) LoadBallotRecords(_ context.Context) ([]model.BallotRecord, error) {
	rows, err := ReadCSV(s.BallotsPath)
	if err != nil {
		return nil, err
	}
	return ParseBallotRecords(rows)
}

// WriteResultsCSV writes the final allocation table as project_id,amount rows.
// The file is written in full to a temporary file and then renamed over path.
func WriteResultsCSV(path string, allocations []model.FinalAllocation) error {
	return writeAtomic(path, func(w io.Writer) error {
		writer := csv.NewWriter(w)
		if err := writer.Write([]string{"project_id", "amount"}); err != nil {
			return fmt.Errorf("failed to write results header: %w", err)
		}
		for _, a := range allocations {
			if err := writer.Write([]string{a.ProjectID, strconv.FormatFloat(a.Amount, 'f', -1, 64)}); err != nil {
				return fmt.Errorf("failed to write result for %s: %w", a.ProjectID, err)
			}
		}

		writer.Flush()
		if err := writer.Error(); err != nil {
			return fmt.Errorf("failed to flush results: %w", err)
		}
		return nil
	})
}

// writeAtomic writes to a temporary file next to path and renames it into place.
// On any error path is left untouched.
func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename into %s: %w", path, err)
	}
	return nil
}
