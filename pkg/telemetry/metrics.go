package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/jakechorley/retrofunding/pkg/core/ballot"
)

const namespace = "retrofunding"

// Verification results
const (
	ResultValid   = "valid"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// Run outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the run metrics on a private registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs                *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
	verifications       *prometheus.CounterVec
	verifyLatency       prometheus.Histogram
	ballots             prometheus.Gauge
	projects            prometheus.Gauge
	fundedProjects      prometheus.Gauge
	prunedProjects      prometheus.Gauge
	normalizationPasses prometheus.Gauge
	totalDistributed    prometheus.Gauge
}

// New creates the metrics on a fresh registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	auto := promauto.With(registry)

	return &Metrics{
		registry: registry,
		runs: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Allocation runs by outcome",
		}, []string{"outcome"}),
		stageDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		verifications: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ballot",
			Name:      "verifications_total",
			Help:      "Ballot signature checks by result",
		}, []string{"result"}),
		verifyLatency: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ballot",
			Name:      "verification_duration_seconds",
			Help:      "Latency of a single ballot signature check",
			Buckets:   prometheus.DefBuckets,
		}),
		ballots: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ballots",
			Help:      "Ballots counted in the last run",
		}),
		projects: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "projects",
			Help:      "Projects receiving at least one vote in the last run",
		}),
		fundedProjects: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "funded_projects",
			Help:      "Projects above the minimum cap in the last run",
		}),
		prunedProjects: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pruned_projects",
			Help:      "Projects dropped below the minimum cap in the last run",
		}),
		normalizationPasses: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "normalization_passes",
			Help:      "Cap-and-normalize passes performed in the last run",
		}),
		totalDistributed: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "distributed_total",
			Help:      "Sum of final allocations in the last run",
		}),
	}
}

// Registry exposes the underlying registry for gathering
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records the time since start against stage
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordRun counts a finished run
func (m *Metrics) RecordRun(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

// RunSummary is what a successful run reports
type RunSummary struct {
	Ballots          int
	Projects         int
	Funded           int
	Pruned           int
	Passes           int
	TotalDistributed float64
}

// RecordSummary sets the last-run gauges
func (m *Metrics) RecordSummary(s RunSummary) {
	if m == nil {
		return
	}
	m.ballots.Set(float64(s.Ballots))
	m.projects.Set(float64(s.Projects))
	m.fundedProjects.Set(float64(s.Funded))
	m.prunedProjects.Set(float64(s.Pruned))
	m.normalizationPasses.Set(float64(s.Passes))
	m.totalDistributed.Set(s.TotalDistributed)
}

type instrumentedVerifier struct {
	next    ballot.Verifier
	metrics *Metrics
}

// InstrumentVerifier counts and times every check made by v
func (m *Metrics) InstrumentVerifier(v ballot.Verifier) ballot.Verifier {
	if m == nil {
		return v
	}
	return &instrumentedVerifier{next: v, metrics: m}
}

func (iv *instrumentedVerifier) Verify(ctx context.Context, address string, message []byte, signature string) (bool, error) {
	start := time.Now()
	ok, err := iv.next.Verify(ctx, address, message, signature)
	iv.metrics.verifyLatency.Observe(time.Since(start).Seconds())

	result := ResultValid
	switch {
	case err != nil:
		result = ResultError
	case !ok:
		result = ResultInvalid
	}
	iv.metrics.verifications.WithLabelValues(result).Inc()

	return ok, err
}

// Push sends the current metrics to a Prometheus Pushgateway under job
func (m *Metrics) Push(ctx context.Context, gatewayURL, job string) error {
	if m == nil {
		return nil
	}
	if err := push.New(gatewayURL, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
