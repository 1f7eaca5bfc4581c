package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedVerifier struct {
	ok  bool
	err error
}

func (f fixedVerifier) Verify(context.Context, string, []byte, string) (bool, error) {
	return f.ok, f.err
}

func TestInstrumentVerifier(t *testing.T) {
	m := New()
	ctx := context.Background()

	_, _ = m.InstrumentVerifier(fixedVerifier{ok: true}).Verify(ctx, "a", nil, "")
	_, _ = m.InstrumentVerifier(fixedVerifier{ok: true}).Verify(ctx, "b", nil, "")
	_, _ = m.InstrumentVerifier(fixedVerifier{ok: false}).Verify(ctx, "c", nil, "")
	_, err := m.InstrumentVerifier(fixedVerifier{err: errors.New("boom")}).Verify(ctx, "d", nil, "")
	assert.EqualError(t, err, "boom")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.verifications.WithLabelValues(ResultValid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues(ResultInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues(ResultError)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.verifyLatency))
}

func TestRecordSummaryAndRuns(t *testing.T) {
	m := New()

	m.RecordSummary(RunSummary{Ballots: 3, Projects: 10, Funded: 8, Pruned: 2, Passes: 2, TotalDistributed: 10_000_000})
	m.RecordRun(OutcomeSuccess)
	m.ObserveStage("verify", time.Now().Add(-time.Second))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.ballots))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.fundedProjects))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.prunedProjects))
	assert.Equal(t, 10_000_000.0, testutil.ToFloat64(m.totalDistributed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(OutcomeSuccess)))

	expected := `
# HELP retrofunding_normalization_passes Cap-and-normalize passes performed in the last run
# TYPE retrofunding_normalization_passes gauge
retrofunding_normalization_passes 2
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "retrofunding_normalization_passes"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.RecordRun(OutcomeFailure)
	m.RecordSummary(RunSummary{Ballots: 1})
	m.ObserveStage("load", time.Now())
	assert.NoError(t, m.Push(context.Background(), "http://unused", "job"))

	v := fixedVerifier{ok: true}
	assert.Equal(t, v, m.InstrumentVerifier(v))
}

func TestPush(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, body = r.URL.Path, string(data)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := New()
	m.RecordRun(OutcomeSuccess)

	require.NoError(t, m.Push(context.Background(), server.URL, "retrofunding"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/metrics/job/retrofunding", path)
	assert.NotEmpty(t, body)
}
