package db

import "time"

// Run is a persisted allocation run
type Run struct {
	ID               string
	StartedAt        time.Time
	FinishedAt       time.Time
	BallotCount      int
	ProjectCount     int
	FundedCount      int
	Passes           int
	Converged        bool
	TotalFunding     float64
	MaxCap           float64
	MinCap           float64
	TotalDistributed float64
}

// Allocation is one project's payout in a run. Rank is 1 for the largest grant.
type Allocation struct {
	RunID     string
	Rank      int
	ProjectID string
	Amount    float64
}
