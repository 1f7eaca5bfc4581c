package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/retrofunding/pkg/core/services"
	"github.com/jakechorley/retrofunding/pkg/db"
)

// ViewRunCmd creates the viewRun command
func ViewRunCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "viewRun [run_id]",
		Short: "View a recorded run's allocations (defaults to the latest run)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if list, _ := cmd.Flags().GetBool("list"); list {
				runs, err := services.ListRuns(app.Ctx, app.ViewStore())
				if err != nil {
					return err
				}
				printRuns(os.Stdout, runs)
				return nil
			}

			var runID string
			if len(args) > 0 {
				runID = args[0]
			}
			app.Logger.Debug("viewRun command", zap.String("run_id", runID))

			result, err := services.ViewRun(app.Ctx, app.ViewStore(), runID, app.Logger)
			if err != nil {
				return err
			}

			printRun(os.Stdout, result.Run, result.Allocations)
			return nil
		},
	}

	cmd.Flags().Bool("list", false, "List all runs instead of showing one")

	return cmd
}

func printRuns(w io.Writer, runs []db.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "\nNo runs recorded.")
		return
	}

	fmt.Fprintf(w, "\n%-38s %-20s %8s %8s %18s\n", "Run ID", "Started", "Ballots", "Funded", "Distributed")
	fmt.Fprintln(w, strings.Repeat("-", 96))
	for _, run := range runs {
		fmt.Fprintf(w, "%-38s %-20s %8d %8d %18s\n",
			run.ID,
			run.StartedAt.Format("2006-01-02 15:04:05"),
			run.BallotCount,
			run.FundedCount,
			formatAmount(run.TotalDistributed))
	}
	fmt.Fprintln(w)
}

func printRun(w io.Writer, run *db.Run, allocations []db.Allocation) {
	fmt.Fprintf(w, "\nRun %s\n", run.ID)
	fmt.Fprintf(w, "Started:  %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Ballots:  %d\n", run.BallotCount)
	fmt.Fprintf(w, "Funded:   %d of %d projects\n", run.FundedCount, run.ProjectCount)
	fmt.Fprintf(w, "Pool:     %s (cap %s, floor %s)\n\n",
		formatAmount(run.TotalFunding), formatAmount(run.MaxCap), formatAmount(run.MinCap))

	idWidth := len("Project")
	for _, a := range allocations {
		if len(a.ProjectID) > idWidth {
			idWidth = len(a.ProjectID)
		}
	}

	fmt.Fprintf(w, "%5s  %-*s  %18s  %7s\n", "Rank", idWidth, "Project", "Amount", "Share")
	fmt.Fprintln(w, strings.Repeat("-", idWidth+37))
	for _, a := range allocations {
		fmt.Fprintf(w, "%5d  %-*s  %18s  %6.2f%%\n",
			a.Rank, idWidth, a.ProjectID, formatAmount(a.Amount), shareOfPool(a.Amount, run.TotalFunding))
	}
	fmt.Fprintln(w)
}

// formatAmount renders an amount with two decimals and thousands separators
func formatAmount(amount float64) string {
	s := strconv.FormatFloat(amount, 'f', 2, 64)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + "." + frac
}

// shareOfPool returns amount as a percentage of total
func shareOfPool(amount, total float64) float64 {
	if total == 0 {
		return 0
	}
	return amount / total * 100
}
