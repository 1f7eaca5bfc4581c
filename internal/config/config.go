package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const configBaseName = "retrofunding_config"

// FundingConfig holds the pool size and per-project limits, in currency units
type FundingConfig struct {
	Total  float64 `yaml:"total" validate:"gt=0"`
	MaxCap float64 `yaml:"maxCap" validate:"gt=0,ltefield=Total"`
	MinCap float64 `yaml:"minCap" validate:"gte=0,ltfield=MaxCap"`
	// BallotCapFraction is the per-ballot cap as a fraction of the pool. Defaults to MaxCap/Total.
	BallotCapFraction float64 `yaml:"ballotCapFraction,omitempty" validate:"gte=0,lte=1"`
}

// NormalizationConfig controls the prune-and-renormalize step
type NormalizationConfig struct {
	IterateToFixedPoint bool `yaml:"iterateToFixedPoint"`
	MaxIterations       int  `yaml:"maxIterations,omitempty" validate:"gte=0"`
}

// BallotsConfig controls ballot decoding
type BallotsConfig struct {
	PercentPolicy string `yaml:"percentPolicy" validate:"oneof=reject clamp accept"`
}

// VerificationConfig controls signature verification
type VerificationConfig struct {
	Mode              string        `yaml:"mode" validate:"oneof=local rpc"`
	RPCURL            string        `yaml:"rpcURL,omitempty" validate:"omitempty,url"`
	Concurrency       int           `yaml:"concurrency" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	CallTimeout       time.Duration `yaml:"callTimeout,omitempty" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond,omitempty" validate:"gte=0"`
	FailureThreshold  uint32        `yaml:"failureThreshold,omitempty"`
}

// AllocationConfig bounds the per-ballot allocation fan-out
type AllocationConfig struct {
	Workers int `yaml:"workers" validate:"gte=0"`
}

// SourceConfig points at a table held either in a local CSV file or a Google Sheet
type SourceConfig struct {
	CSV     string `yaml:"csv,omitempty"`
	SheetID string `yaml:"sheetID,omitempty"`
	Range   string `yaml:"range,omitempty" validate:"required_with=SheetID"`
}

// IsSheet reports whether the table is read from Google Sheets
func (s SourceConfig) IsSheet() bool {
	return s.SheetID != ""
}

// SourcesConfig locates the metric and ballot tables
type SourcesConfig struct {
	Metrics SourceConfig `yaml:"metrics"`
	Ballots SourceConfig `yaml:"ballots"`
}

// OutputConfig names the files a run writes
type OutputConfig struct {
	ResultsCSV string `yaml:"resultsCSV" validate:"required"`
	ReportYAML string `yaml:"reportYAML,omitempty"`
}

// DatabaseConfig enables persistence of runs when URL is set
type DatabaseConfig struct {
	URL string `yaml:"url,omitempty"`
}

// TelemetryConfig enables pushing run metrics to a Prometheus Pushgateway
type TelemetryConfig struct {
	PushgatewayURL string `yaml:"pushgatewayURL,omitempty" validate:"omitempty,url"`
	Job            string `yaml:"job,omitempty"`
}

// Config represents the application configuration
type Config struct {
	Funding       FundingConfig       `yaml:"funding"`
	Normalization NormalizationConfig `yaml:"normalization"`
	Ballots       BallotsConfig       `yaml:"ballots"`
	Verification  VerificationConfig  `yaml:"verification"`
	Allocation    AllocationConfig    `yaml:"allocation"`
	Sources       SourcesConfig       `yaml:"sources"`
	Output        OutputConfig        `yaml:"output"`
	Database      DatabaseConfig      `yaml:"database,omitempty"`
	Telemetry     TelemetryConfig     `yaml:"telemetry,omitempty"`
}

// UsesSheets reports whether any source needs Google credentials
func (c *Config) UsesSheets() bool {
	return c.Sources.Metrics.IsSheet() || c.Sources.Ballots.IsSheet()
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Default returns the configuration of a standard round: a 10M pool, 500k cap and 1k floor
func Default() Config {
	return Config{
		Funding: FundingConfig{
			Total:  10_000_000,
			MaxCap: 500_000,
			MinCap: 1_000,
		},
		Normalization: NormalizationConfig{MaxIterations: 50},
		Ballots:       BallotsConfig{PercentPolicy: "reject"},
		Verification: VerificationConfig{
			Mode:        "local",
			Concurrency: 16,
			Timeout:     5 * time.Minute,
			CallTimeout: 10 * time.Second,
		},
		Output:    OutputConfig{ResultsCSV: "results.csv"},
		Telemetry: TelemetryConfig{Job: "retrofunding"},
	}
}

// Load loads and validates the configuration from retrofunding_config.yaml
func Load() (*Config, error) {
	return LoadWithEnv("")
}

// LoadWithEnv loads the configuration for env, looking for retrofunding_config.<env>.yaml first
// and falling back to retrofunding_config.yaml. The current directory is searched before home.
func LoadWithEnv(env string) (*Config, error) {
	configPath, err := findConfigFile(env)
	if err != nil {
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	return LoadFromPath(configPath)
}

// LoadFromPath loads and validates the configuration from a specific path.
// Keys absent from the file keep their Default values.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express, then fills derived defaults
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Verification.Mode == "rpc" && cfg.Verification.RPCURL == "" {
		return fmt.Errorf("config validation failed: verification.rpcURL is required in rpc mode")
	}

	if err := validateSource("metrics", cfg.Sources.Metrics); err != nil {
		return err
	}
	if err := validateSource("ballots", cfg.Sources.Ballots); err != nil {
		return err
	}

	if cfg.Funding.BallotCapFraction == 0 {
		cfg.Funding.BallotCapFraction = cfg.Funding.MaxCap / cfg.Funding.Total
	}

	return nil
}

func validateSource(name string, src SourceConfig) error {
	switch {
	case src.CSV == "" && src.SheetID == "":
		return fmt.Errorf("config validation failed: sources.%s needs csv or sheetID", name)
	case src.CSV != "" && src.SheetID != "":
		return fmt.Errorf("config validation failed: sources.%s sets both csv and sheetID", name)
	}
	return nil
}

// findConfigFile searches the current and home directories for the env-specific file, then the plain one
func findConfigFile(env string) (string, error) {
	var names []string
	if env != "" {
		names = append(names, fmt.Sprintf("%s.%s.yaml", configBaseName, env))
	}
	names = append(names, configBaseName+".yaml")

	for _, name := range names {
		path, err := findFile(name)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}

	return "", fmt.Errorf("config file not found in current directory or home directory")
}

// findFile returns name from the current directory, else from the home directory
func findFile(name string) (string, error) {
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	homePath := filepath.Join(homeDir, name)
	if _, err := os.Stat(homePath); err != nil {
		return "", err
	}
	return homePath, nil
}
