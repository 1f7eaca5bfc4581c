package ballot

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jakechorley/retrofunding/pkg/core/model"
)

var (
	// ErrMalformedBallot is returned when a ballot payload cannot be decoded
	ErrMalformedBallot = errors.New("malformed ballot")

	// ErrPercentOverflow is returned when a ballot allocates more than 100 percent
	ErrPercentOverflow = errors.New("ballot percentages exceed 100")

	// ErrDuplicateVoter is returned when two ballots share an address
	ErrDuplicateVoter = errors.New("duplicate ballot address")
)

// PercentPolicy decides what happens to ballots whose percentages sum to more than 100
type PercentPolicy string

const (
	// PercentReject fails the run
	PercentReject PercentPolicy = "reject"
	// PercentClamp scales the ballot's percentages down so they sum to 100
	PercentClamp PercentPolicy = "clamp"
	// PercentAccept uses the ballot as-is
	PercentAccept PercentPolicy = "accept"
)

// percentTolerance absorbs rounding in UI-produced percentages such as 33.33+33.33+33.34
const percentTolerance = 1e-6

type rawPayload struct {
	Allocations  []json.RawMessage `json:"allocations"`
	OSMultiplier *float64          `json:"os_multiplier"`
}

type explicitAllocation struct {
	MetricID *string  `json:"metric_id"`
	Percent  *float64 `json:"percent"`
}

// DecodePayload parses a signed ballot payload.
//
// Each allocation is either a single-key object {"<metric_id>": percent} or an explicit
// {"metric_id": "...", "percent": n} object. os_multiplier defaults to 1.
func DecodePayload(payloadJSON string) (model.BallotPayload, error) {
	var raw rawPayload
	if err := json.Unmarshal([]byte(payloadJSON), &raw); err != nil {
		return model.BallotPayload{}, fmt.Errorf("%w: %v", ErrMalformedBallot, err)
	}

	payload := model.BallotPayload{OSMultiplier: 1}
	if raw.OSMultiplier != nil {
		payload.OSMultiplier = *raw.OSMultiplier
	}
	if payload.OSMultiplier < 0 || math.IsNaN(payload.OSMultiplier) || math.IsInf(payload.OSMultiplier, 0) {
		return model.BallotPayload{}, fmt.Errorf("%w: invalid os_multiplier %v", ErrMalformedBallot, payload.OSMultiplier)
	}

	seen := make(map[string]bool, len(raw.Allocations))
	for i, entry := range raw.Allocations {
		alloc, err := decodeAllocation(entry)
		if err != nil {
			return model.BallotPayload{}, fmt.Errorf("%w: allocations[%d]: %v", ErrMalformedBallot, i, err)
		}
		if seen[alloc.MetricID] {
			return model.BallotPayload{}, fmt.Errorf("%w: metric %s allocated twice", ErrMalformedBallot, alloc.MetricID)
		}
		seen[alloc.MetricID] = true
		payload.Allocations = append(payload.Allocations, alloc)
	}

	return payload, nil
}

func decodeAllocation(entry json.RawMessage) (model.MetricAllocation, error) {
	var explicit explicitAllocation
	if err := json.Unmarshal(entry, &explicit); err == nil && explicit.MetricID != nil {
		if explicit.Percent == nil {
			return model.MetricAllocation{}, fmt.Errorf("missing percent for metric %s", *explicit.MetricID)
		}
		return checkAllocation(*explicit.MetricID, *explicit.Percent)
	}

	var single map[string]float64
	if err := json.Unmarshal(entry, &single); err != nil {
		return model.MetricAllocation{}, err
	}
	if len(single) != 1 {
		return model.MetricAllocation{}, fmt.Errorf("expected exactly one metric, got %d", len(single))
	}
	for metricID, percent := range single {
		return checkAllocation(metricID, percent)
	}
	return model.MetricAllocation{}, nil
}

func checkAllocation(metricID string, percent float64) (model.MetricAllocation, error) {
	if metricID == "" {
		return model.MetricAllocation{}, errors.New("empty metric id")
	}
	if percent < 0 || math.IsNaN(percent) || math.IsInf(percent, 0) {
		return model.MetricAllocation{}, fmt.Errorf("invalid percent %v for metric %s", percent, metricID)
	}
	return model.MetricAllocation{MetricID: metricID, Percent: percent}, nil
}

// ApplyPercentPolicy enforces policy on a payload whose percentages sum to more than 100
func ApplyPercentPolicy(payload model.BallotPayload, policy PercentPolicy) (model.BallotPayload, error) {
	total := payload.TotalPercent()
	if total <= 100+percentTolerance {
		return payload, nil
	}

	switch policy {
	case PercentAccept:
		return payload, nil
	case PercentClamp:
		clamped := model.BallotPayload{
			OSMultiplier: payload.OSMultiplier,
			Allocations:  make([]model.MetricAllocation, len(payload.Allocations)),
		}
		for i, a := range payload.Allocations {
			clamped.Allocations[i] = model.MetricAllocation{MetricID: a.MetricID, Percent: a.Percent * 100 / total}
		}
		return clamped, nil
	case PercentReject, "":
		return model.BallotPayload{}, fmt.Errorf("%w: total %.4f", ErrPercentOverflow, total)
	default:
		return model.BallotPayload{}, fmt.Errorf("unknown percent policy %q", policy)
	}
}

// Decode turns a ballot record into a ballot, checking the address format and percent policy.
// It does not verify the signature.
func Decode(record model.BallotRecord, policy PercentPolicy) (model.Ballot, error) {
	if !common.IsHexAddress(record.Address) {
		return model.Ballot{}, fmt.Errorf("%w: invalid address %q", ErrMalformedBallot, record.Address)
	}

	payload, err := DecodePayload(record.PayloadJSON)
	if err != nil {
		return model.Ballot{}, fmt.Errorf("ballot %s: %w", record.Address, err)
	}

	payload, err = ApplyPercentPolicy(payload, policy)
	if err != nil {
		return model.Ballot{}, fmt.Errorf("ballot %s: %w", record.Address, err)
	}

	return model.Ballot{Address: record.Address, Payload: payload}, nil
}

// DecodeAll decodes every record and rejects repeated voters. Address comparison is case-insensitive.
func DecodeAll(records []model.BallotRecord, policy PercentPolicy) ([]model.Ballot, error) {
	ballots := make([]model.Ballot, 0, len(records))
	seen := make(map[common.Address]bool, len(records))

	for _, record := range records {
		b, err := Decode(record, policy)
		if err != nil {
			return nil, err
		}

		addr := common.HexToAddress(b.Address)
		if seen[addr] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateVoter, b.Address)
		}
		seen[addr] = true

		ballots = append(ballots, b)
	}

	return ballots, nil
}
