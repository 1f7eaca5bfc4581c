package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/retrofunding/internal/config"
	"github.com/jakechorley/retrofunding/pkg/core/ballot"
	"github.com/jakechorley/retrofunding/pkg/telemetry"
)

// VerifyBallotsResult lists the voters whose ballots decoded and verified
type VerifyBallotsResult struct {
	Voters []string
}

// VerifyBallots decodes and verifies every ballot without allocating. A single bad ballot fails the batch.
func VerifyBallots(
	ctx context.Context,
	source BallotSource,
	verifier ballot.Verifier,
	metrics *telemetry.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) (*VerifyBallotsResult, error) {
	start := time.Now()

	ballots, err := loadVerifiedBallots(ctx, source, verifier, metrics, cfg, logger)
	if err != nil {
		return nil, err
	}
	metrics.ObserveStage("verify", start)

	voters := make([]string, len(ballots))
	for i, b := range ballots {
		voters[i] = b.Address
	}

	logger.Info("All ballots verified", zap.Int("ballots", len(voters)))
	return &VerifyBallotsResult{Voters: voters}, nil
}
