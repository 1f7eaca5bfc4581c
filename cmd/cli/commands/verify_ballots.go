package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jakechorley/retrofunding/pkg/core/services"
)

// VerifyBallotsCmd creates the verifyBallots command
func VerifyBallotsCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verifyBallots",
		Short: "Check every ballot decodes and carries a valid signature, without allocating",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := services.VerifyBallots(
				app.Ctx,
				app.Sources().Ballots,
				app.Verifier,
				app.Metrics,
				app.Cfg,
				app.Logger,
			)
			if err != nil {
				return err
			}

			fmt.Printf("\n✓ %d ballots verified (%s mode)\n\n", len(result.Voters), app.Cfg.Verification.Mode)
			return nil
		},
	}
}
