package tabular

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Grantee is a single row of the run report
type Grantee struct {
	ProjectID string  `yaml:"projectID"`
	Amount    float64 `yaml:"amount"`
}

// ReportSettings records the parameters a run was computed with
type ReportSettings struct {
	TotalFunding        float64 `yaml:"totalFunding"`
	MaxCap              float64 `yaml:"maxCap"`
	MinCap              float64 `yaml:"minCap"`
	BallotCapFraction   float64 `yaml:"ballotCapFraction"`
	PercentPolicy       string  `yaml:"percentPolicy"`
	VerificationMode    string  `yaml:"verificationMode"`
	IterateToFixedPoint bool    `yaml:"iterateToFixedPoint"`
}

// Report is the human-readable summary of an allocation run
type Report struct {
	RunID            string         `yaml:"runID"`
	StartedAt        time.Time      `yaml:"startedAt"`
	FinishedAt       time.Time      `yaml:"finishedAt"`
	Ballots          int            `yaml:"ballots"`
	Projects         int            `yaml:"projects"`
	FundedProjects   int            `yaml:"fundedProjects"`
	PrunedProjects   []string       `yaml:"prunedProjects,omitempty"`
	Passes           int            `yaml:"normalizationPasses"`
	Converged        bool           `yaml:"converged"`
	TotalDistributed float64        `yaml:"totalDistributed"`
	SmallestGrantee  *Grantee       `yaml:"smallestGrantee,omitempty"`
	LargestGrantee   *Grantee       `yaml:"largestGrantee,omitempty"`
	Settings         ReportSettings `yaml:"settings"`
}

// WriteReportYAML writes report to path, creating parent directories as needed
func WriteReportYAML(path string, report *Report) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	return writeAtomic(path, func(w io.Writer) error {
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		return nil
	})
}

// ReadReportYAML loads a report written by WriteReportYAML
func ReadReportYAML(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	var report Report
	if err := yaml.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &report, nil
}
