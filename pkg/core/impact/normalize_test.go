package impact

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakechorley/retrofunding/pkg/core/model"
)

func TestNormalize_SharesSumToOne(t *testing.T) {
	rows := []model.MetricRow{
		{ProjectID: "p1", IsOpenSource: true, Metrics: map[string]float64{"gas_fees": 10, "users": 3}},
		{ProjectID: "p2", Metrics: map[string]float64{"gas_fees": 30, "users": 1}},
		{ProjectID: "p3", Metrics: map[string]float64{"gas_fees": 60}},
	}

	table, err := Normalize(rows)
	require.NoError(t, err)
	require.Len(t, table, 2)

	for metricID, shares := range table {
		sum := 0.0
		for _, s := range shares {
			sum += s.Share
		}
		assert.InDelta(t, 1.0, sum, 1e-12, "metric %s", metricID)
	}

	gas := table["gas_fees"]
	require.Len(t, gas, 3)
	assert.Equal(t, "p1", gas[0].ProjectID)
	assert.True(t, gas[0].IsOpenSource)
	assert.InDelta(t, 0.1, gas[0].Share, 1e-12)
	assert.InDelta(t, 0.3, gas[1].Share, 1e-12)
	assert.InDelta(t, 0.6, gas[2].Share, 1e-12)

	// p3 did not report users, so it has no entry for that metric
	users := table["users"]
	require.Len(t, users, 2)
	assert.Equal(t, "p1", users[0].ProjectID)
	assert.Equal(t, "p2", users[1].ProjectID)
	assert.InDelta(t, 0.75, users[0].Share, 1e-12)
}

func TestNormalize_ZeroTotalMetric(t *testing.T) {
	rows := []model.MetricRow{
		{ProjectID: "p1", Metrics: map[string]float64{"empty": 0}},
		{ProjectID: "p2", Metrics: map[string]float64{"empty": 0}},
	}

	table, err := Normalize(rows)
	require.NoError(t, err)

	for _, s := range table["empty"] {
		assert.Equal(t, 0.0, s.Share)
		assert.False(t, math.IsNaN(s.Share))
	}
}

func TestNormalize_DeclaredMetricWithoutReports(t *testing.T) {
	rows := []model.MetricRow{
		{ProjectID: "p1", Metrics: map[string]float64{"gas_fees": 1}},
		{ProjectID: "p2", Metrics: map[string]float64{}},
	}

	table, err := Normalize(rows, "gas_fees", "unreported")
	require.NoError(t, err)

	require.Contains(t, table, "unreported")
	assert.Empty(t, table["unreported"])
	assert.Equal(t, []string{"gas_fees", "unreported"}, MetricIDs(table))
	require.Len(t, table["gas_fees"], 1)
	assert.Equal(t, 1.0, table["gas_fees"][0].Share)
}

func TestNormalize_RejectsNonFiniteValues(t *testing.T) {
	for _, value := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		rows := []model.MetricRow{
			{ProjectID: "p1", Metrics: map[string]float64{"m": 1}},
			{ProjectID: "p2", Metrics: map[string]float64{"m": value}},
		}

		_, err := Normalize(rows)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMalformedValue)

		var rowErr *RowError
		require.True(t, errors.As(err, &rowErr))
		assert.Equal(t, 2, rowErr.Row)
		assert.Equal(t, "m", rowErr.Column)
	}
}

func TestNormalize_MissingProjectID(t *testing.T) {
	_, err := Normalize([]model.MetricRow{{Metrics: map[string]float64{"m": 1}}})
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestNormalize_DuplicateProject(t *testing.T) {
	rows := []model.MetricRow{
		{ProjectID: "p1", Metrics: map[string]float64{"m": 1}},
		{ProjectID: "p1", Metrics: map[string]float64{"m": 2}},
	}

	_, err := Normalize(rows)
	assert.ErrorIs(t, err, ErrDuplicateProject)
	assert.Contains(t, err.Error(), "row 2")
}

func TestMetricIDs_Sorted(t *testing.T) {
	table := model.MetricTable{"b": nil, "a": nil, "c": nil}
	assert.Equal(t, []string{"a", "b", "c"}, MetricIDs(table))
}
