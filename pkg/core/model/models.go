package model

// MetricRow is one project's row from the impact metrics table
type MetricRow struct {
	ProjectID    string
	ProjectName  string
	IsOpenSource bool
	// Metrics holds only the metrics the project reported. A missing key means no data.
	Metrics map[string]float64
}

// MetricSheet is a parsed impact metrics table
type MetricSheet struct {
	// MetricIDs lists every metric column in header order, including columns no project reported
	MetricIDs []string
	Rows      []MetricRow
}

// MetricShare is one project's normalized fraction of a single metric's total
type MetricShare struct {
	ProjectID    string
	IsOpenSource bool
	Share        float64
}

// MetricTable maps metric ID to the shares of every project that reported it.
// Built once per run and read-only afterwards.
type MetricTable map[string][]MetricShare

// BallotRecord is a ballot as supplied by a loader, before decoding
type BallotRecord struct {
	Address string
	// PayloadJSON is the exact byte sequence the voter signed
	PayloadJSON string
	Signature   string
}

// MetricAllocation is the percent of a voter's budget given to a metric
type MetricAllocation struct {
	MetricID string
	Percent  float64
}

// BallotPayload is the decoded content of a signed ballot
type BallotPayload struct {
	Allocations  []MetricAllocation
	OSMultiplier float64
}

// TotalPercent sums the percents across all metric allocations
func (p BallotPayload) TotalPercent() float64 {
	total := 0.0
	for _, a := range p.Allocations {
		total += a.Percent
	}
	return total
}

// Ballot is a decoded and verified ballot
type Ballot struct {
	Address string
	Payload BallotPayload
}

// MetricContribution is the part of a project's ballot allocation that came from one metric
type MetricContribution struct {
	MetricID   string
	Allocation float64
}

// ProjectAllocation is one project's capped allocation within a single ballot
type ProjectAllocation struct {
	ProjectID    string
	IsOpenSource bool
	// Allocation is in funding-pool currency units
	Allocation float64
	// PerMetric holds the uncapped budget fraction each metric contributed
	PerMetric []MetricContribution
}

// ProjectAllocationSet is the output of allocating one ballot, sorted by allocation descending
type ProjectAllocationSet struct {
	Address     string
	Allocations []ProjectAllocation
}

// Total sums the allocations in the set
func (s ProjectAllocationSet) Total() float64 {
	total := 0.0
	for _, a := range s.Allocations {
		total += a.Allocation
	}
	return total
}

// AggregatedAllocation is the median allocation for a project across the ballots that included it
type AggregatedAllocation struct {
	ProjectID   string
	Allocation  float64
	BallotCount int
}

// FinalAllocation is a project's payout in funding-pool currency units
type FinalAllocation struct {
	ProjectID string
	Amount    float64
}
