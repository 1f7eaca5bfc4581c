package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/retrofunding/pkg/core/services"
)

// CalculateCmd creates the calculate command
func CalculateCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Verify ballots and calculate the final funding allocations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resultsPath, _ := cmd.Flags().GetString("out")
			reportPath, _ := cmd.Flags().GetString("report")
			if resultsPath == "" {
				resultsPath = app.Cfg.Output.ResultsCSV
			}
			if reportPath == "" {
				reportPath = app.Cfg.Output.ReportYAML
			}

			result, err := services.CalculateResults(
				app.Ctx,
				app.Sources(),
				app.Verifier,
				app.RunStore(),
				services.OutputPaths{ResultsCSV: resultsPath, ReportYAML: reportPath},
				app.Metrics,
				app.Cfg,
				app.Logger,
			)
			if err != nil {
				return err
			}

			app.Logger.Info("Results written", zap.String("path", resultsPath))
			if reportPath != "" {
				app.Logger.Info("Report written", zap.String("path", reportPath))
			}

			pushMetrics(app)

			// Display results
			report := result.Report
			fmt.Printf("\n✓ Allocation complete!\n\n")
			fmt.Printf("Run ID:            %s\n", report.RunID)
			fmt.Printf("Ballots:           %d\n", report.Ballots)
			fmt.Printf("Projects voted:    %d\n", report.Projects)
			fmt.Printf("Projects funded:   %d\n", report.FundedProjects)
			fmt.Printf("Projects pruned:   %d\n", len(report.PrunedProjects))
			fmt.Printf("Total distributed: %s\n", formatAmount(report.TotalDistributed))
			if report.LargestGrantee != nil {
				fmt.Printf("Largest grant:     %s (%s)\n", formatAmount(report.LargestGrantee.Amount), report.LargestGrantee.ProjectID)
				fmt.Printf("Smallest grant:    %s (%s)\n", formatAmount(report.SmallestGrantee.Amount), report.SmallestGrantee.ProjectID)
			}
			if !report.Converged {
				fmt.Printf("\n⚠️  Some funded projects are at or below the minimum cap after %d passes\n", report.Passes)
			}
			fmt.Printf("\nResults: %s\n\n", resultsPath)

			return nil
		},
	}

	cmd.Flags().String("out", "", "Path for the results CSV (overrides output.resultsCSV)")
	cmd.Flags().String("report", "", "Path for the YAML run report (overrides output.reportYAML)")

	return cmd
}

// pushMetrics sends run metrics to the Pushgateway when one is configured. Failures are logged only.
func pushMetrics(app *AppContext) {
	url := app.Cfg.Telemetry.PushgatewayURL
	if url == "" {
		return
	}
	if err := app.Metrics.Push(app.Ctx, url, app.Cfg.Telemetry.Job); err != nil {
		app.Logger.Warn("Failed to push metrics", zap.Error(err))
		return
	}
	app.Logger.Debug("Metrics pushed", zap.String("pushgateway", url))
}
