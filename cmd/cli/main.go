package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/retrofunding/cmd/cli/commands"
	"github.com/jakechorley/retrofunding/internal/config"
	"github.com/jakechorley/retrofunding/pkg/clients/sheetsclient"
	"github.com/jakechorley/retrofunding/pkg/core/ballot"
	"github.com/jakechorley/retrofunding/pkg/postgres"
	"github.com/jakechorley/retrofunding/pkg/telemetry"
	"github.com/jakechorley/retrofunding/pkg/utils/logging"
)

var (
	env     string
	logDir  string
	verbose bool
	app     = &commands.AppContext{}
	closers []func()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cli",
		Short: "Retro funding CLI - allocate a funding pool from signed impact ballots",
		Long: `A CLI tool that verifies signed voter ballots, weighs projects by normalized impact metrics,
and produces capped, pruned funding allocations.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			shutdown()
		},
	}

	// Add persistent flags
	rootCmd.PersistentFlags().StringVarP(&env, "env", "e", "", "Environment (required: test, prod, etc.)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", logging.DefaultDir, "Directory for JSON run logs")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to the console")
	rootCmd.MarkPersistentFlagRequired("env")

	// Add all commands
	rootCmd.AddCommand(commands.CalculateCmd(app))
	rootCmd.AddCommand(commands.VerifyBallotsCmd(app))
	rootCmd.AddCommand(commands.MigrateCmd(app))
	rootCmd.AddCommand(commands.ViewRunCmd(app))
	rootCmd.AddCommand(commands.InteractiveCmd())

	err := rootCmd.Execute()
	if err != nil {
		if app.Logger != nil {
			app.Logger.Error("Command failed", zap.Error(err))
		}
		shutdown()
		os.Exit(1)
	}
}

// initApp sets up logger, config, clients, verifier and database
func initApp() error {
	var err error
	app.Env = env
	app.Ctx = context.Background()

	// Initialize logger
	app.Logger, err = logging.InitLogger(logging.Options{Env: env, Dir: logDir, Verbose: verbose})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.Logger.Info("Starting application", zap.String("environment", env))

	// Load configuration
	app.Logger.Debug("Loading configuration")
	app.Cfg, err = config.LoadWithEnv(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app.Logger.Debug("Configuration loaded successfully",
		zap.Float64("total_funding", app.Cfg.Funding.Total),
		zap.String("verification_mode", app.Cfg.Verification.Mode))

	app.Metrics = telemetry.New()

	// Initialize sheets client only when a table lives in Google Sheets
	if app.Cfg.UsesSheets() {
		app.Logger.Debug("Loading OAuth client configuration")
		oauthCfg, err := config.LoadOAuthClientWithEnv(env)
		if err != nil {
			return fmt.Errorf("failed to load OAuth client config: %w", err)
		}

		app.Logger.Info("Initializing sheets client")
		app.SheetsClient, err = sheetsclient.NewClient(app.Ctx, oauthCfg, env, app.Logger)
		if err != nil {
			return fmt.Errorf("failed to create sheets client: %w", err)
		}
		app.Logger.Debug("Sheets client initialized successfully")
	}

	// Initialize signature verifier
	app.Verifier, err = newVerifier()
	if err != nil {
		return err
	}

	// Connect to the database when runs are persisted
	if app.Cfg.Database.URL != "" {
		app.Logger.Info("Connecting to database")
		app.Database, err = postgres.NewDB(app.Ctx, app.Cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		closers = append(closers, app.Database.Close)
		app.Logger.Debug("Database connected successfully")
	}

	return nil
}

func newVerifier() (ballot.Verifier, error) {
	v := app.Cfg.Verification
	if v.Mode != "rpc" {
		return ballot.ECDSAVerifier{}, nil
	}

	app.Logger.Info("Connecting to signature RPC endpoint")
	verifier, closeRPC, err := ballot.DialRPCVerifier(app.Ctx, v.RPCURL, ballot.RPCOptions{
		CallTimeout:       v.CallTimeout,
		RequestsPerSecond: v.RequestsPerSecond,
		FailureThreshold:  v.FailureThreshold,
	}, app.Logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, closeRPC)
	return verifier, nil
}

func shutdown() {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	closers = nil
	if app.Logger != nil {
		_ = app.Logger.Sync()
	}
}
