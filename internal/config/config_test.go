package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Sources = SourcesConfig{
		Metrics: SourceConfig{CSV: "metrics.csv"},
		Ballots: SourceConfig{SheetID: "sheet123", Range: "Ballots!A:C"},
	}
	return &cfg
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "retrofunding_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()

	err := Validate(cfg)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, cfg.Funding.BallotCapFraction, 1e-12)
	assert.True(t, cfg.UsesSheets())
}

func TestValidate_KeepsExplicitBallotCap(t *testing.T) {
	cfg := validConfig()
	cfg.Funding.BallotCapFraction = 0.1

	require.NoError(t, Validate(cfg))
	assert.Equal(t, 0.1, cfg.Funding.BallotCapFraction)
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "max cap above pool",
			mutate:  func(c *Config) { c.Funding.MaxCap = c.Funding.Total * 2 },
			wantErr: "validation failed",
		},
		{
			name:    "min cap above max cap",
			mutate:  func(c *Config) { c.Funding.MinCap = c.Funding.MaxCap + 1 },
			wantErr: "validation failed",
		},
		{
			name:    "zero pool",
			mutate:  func(c *Config) { c.Funding.Total = 0 },
			wantErr: "validation failed",
		},
		{
			name:    "unknown percent policy",
			mutate:  func(c *Config) { c.Ballots.PercentPolicy = "ignore" },
			wantErr: "validation failed",
		},
		{
			name:    "unknown verification mode",
			mutate:  func(c *Config) { c.Verification.Mode = "trust" },
			wantErr: "validation failed",
		},
		{
			name:    "rpc without url",
			mutate:  func(c *Config) { c.Verification.Mode = "rpc" },
			wantErr: "rpcURL is required",
		},
		{
			name:    "sheet without range",
			mutate:  func(c *Config) { c.Sources.Ballots.Range = "" },
			wantErr: "validation failed",
		},
		{
			name:    "source without location",
			mutate:  func(c *Config) { c.Sources.Metrics = SourceConfig{} },
			wantErr: "sources.metrics needs csv or sheetID",
		},
		{
			name: "source with two locations",
			mutate: func(c *Config) {
				c.Sources.Metrics = SourceConfig{CSV: "a.csv", SheetID: "s", Range: "A:Z"}
			},
			wantErr: "sets both csv and sheetID",
		},
		{
			name:    "bad pushgateway url",
			mutate:  func(c *Config) { c.Telemetry.PushgatewayURL = "not a url" },
			wantErr: "validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromPath_FullConfig(t *testing.T) {
	path := writeConfig(t, `
funding:
  total: 1000000
  maxCap: 100000
  minCap: 500
normalization:
  iterateToFixedPoint: true
  maxIterations: 10
ballots:
  percentPolicy: clamp
verification:
  mode: rpc
  rpcURL: "https://mainnet.optimism.io"
  concurrency: 4
  timeout: 2m
  requestsPerSecond: 20
allocation:
  workers: 8
sources:
  metrics:
    csv: "data/metrics.csv"
  ballots:
    sheetID: "sheet123"
    range: "Ballots!A:C"
output:
  resultsCSV: "out/results.csv"
  reportYAML: "out/report.yaml"
database:
  url: "postgres://localhost:5432/retrofunding"
telemetry:
  pushgatewayURL: "http://localhost:9091"
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, 1_000_000.0, cfg.Funding.Total)
	assert.Equal(t, 100_000.0, cfg.Funding.MaxCap)
	assert.Equal(t, 500.0, cfg.Funding.MinCap)
	assert.InDelta(t, 0.1, cfg.Funding.BallotCapFraction, 1e-12)
	assert.True(t, cfg.Normalization.IterateToFixedPoint)
	assert.Equal(t, 10, cfg.Normalization.MaxIterations)
	assert.Equal(t, "clamp", cfg.Ballots.PercentPolicy)
	assert.Equal(t, "rpc", cfg.Verification.Mode)
	assert.Equal(t, 2*time.Minute, cfg.Verification.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Verification.CallTimeout)
	assert.Equal(t, 20.0, cfg.Verification.RequestsPerSecond)
	assert.Equal(t, 8, cfg.Allocation.Workers)
	assert.Equal(t, "data/metrics.csv", cfg.Sources.Metrics.CSV)
	assert.Equal(t, "Ballots!A:C", cfg.Sources.Ballots.Range)
	assert.Equal(t, "out/report.yaml", cfg.Output.ReportYAML)
	assert.Equal(t, "postgres://localhost:5432/retrofunding", cfg.Database.URL)
	assert.Equal(t, "retrofunding", cfg.Telemetry.Job)
}

func TestLoadFromPath_MinimalConfigUsesDefaults(t *testing.T) {
	path := writeConfig(t, `
sources:
  metrics:
    csv: metrics.csv
  ballots:
    csv: ballots.csv
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, 10_000_000.0, cfg.Funding.Total)
	assert.Equal(t, 500_000.0, cfg.Funding.MaxCap)
	assert.Equal(t, 1_000.0, cfg.Funding.MinCap)
	assert.InDelta(t, 0.05, cfg.Funding.BallotCapFraction, 1e-12)
	assert.False(t, cfg.Normalization.IterateToFixedPoint)
	assert.Equal(t, "reject", cfg.Ballots.PercentPolicy)
	assert.Equal(t, "local", cfg.Verification.Mode)
	assert.Equal(t, "results.csv", cfg.Output.ResultsCSV)
	assert.Empty(t, cfg.Database.URL)
	assert.False(t, cfg.UsesSheets())
}

func TestLoadFromPath_MissingSource(t *testing.T) {
	path := writeConfig(t, `
sources:
  metrics:
    csv: metrics.csv
`)

	_, err := LoadFromPath(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sources.ballots")
}

func TestLoadFromPath_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `
funding:
  total: 100
    invalid indentation
`)

	_, err := LoadFromPath(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadFromPath_FileNotFound(t *testing.T) {
	_, err := LoadFromPath("/nonexistent/path/config.yaml")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadWithEnv_PrefersEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	base := "sources:\n  metrics:\n    csv: m.csv\n  ballots:\n    csv: b.csv\n"
	require.NoError(t, os.WriteFile("retrofunding_config.yaml", []byte(base), 0644))
	require.NoError(t, os.WriteFile("retrofunding_config.test.yaml", []byte(base+"funding:\n  total: 2000000\n"), 0644))

	cfg, err := LoadWithEnv("test")
	require.NoError(t, err)
	assert.Equal(t, 2_000_000.0, cfg.Funding.Total)

	cfg, err = LoadWithEnv("prod")
	require.NoError(t, err)
	assert.Equal(t, 10_000_000.0, cfg.Funding.Total)
}

func TestLoadOAuthClientFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "retrofunding_oauth.json")

	valid := `{"installed":{"client_id":"id","project_id":"proj","auth_uri":"https://accounts.google.com/o/oauth2/auth",
"token_uri":"https://oauth2.googleapis.com/token","client_secret":"secret","redirect_uris":["http://localhost"]}}`
	require.NoError(t, os.WriteFile(path, []byte(valid), 0600))

	oauthCfg, err := LoadOAuthClientFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "id", oauthCfg.Installed.ClientID)

	require.NoError(t, os.WriteFile(path, []byte(`{"installed":{"client_id":"id"}}`), 0600))
	_, err = LoadOAuthClientFromPath(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "oauth client validation failed")
}
