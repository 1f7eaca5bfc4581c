package tabular

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakechorley/retrofunding/pkg/core/impact"
)

func TestParseMetricSheet(t *testing.T) {
	rows := [][]string{
		{"application_id", "project_name", "is_oss", "gas_fees", "trusted_users"},
		{"p1", "Project One", "true", "100", "5"},
		{"p2", "Project Two", "FALSE", "300", ""},
		{"", "", "", "", ""},
		{"p3", "Project Three", "", " 0.5 "},
	}

	sheet, err := ParseMetricSheet(rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"gas_fees", "trusted_users"}, sheet.MetricIDs)

	got := sheet.Rows
	require.Len(t, got, 3)

	assert.Equal(t, "p1", got[0].ProjectID)
	assert.Equal(t, "Project One", got[0].ProjectName)
	assert.True(t, got[0].IsOpenSource)
	assert.Equal(t, map[string]float64{"gas_fees": 100, "trusted_users": 5}, got[0].Metrics)

	// Empty cell is absent, not zero
	assert.False(t, got[1].IsOpenSource)
	assert.Equal(t, map[string]float64{"gas_fees": 300}, got[1].Metrics)

	// Short row
	assert.Equal(t, map[string]float64{"gas_fees": 0.5}, got[2].Metrics)
}

func TestParseMetricSheet_Errors(t *testing.T) {
	tests := []struct {
		name    string
		rows    [][]string
		wantErr error
		wantRow int
	}{
		{
			name:    "no header",
			rows:    nil,
			wantErr: ErrEmptyTable,
		},
		{
			name:    "missing id column",
			rows:    [][]string{{"project_name", "gas_fees"}, {"a", "1"}},
			wantErr: impact.ErrMissingColumn,
		},
		{
			name:    "empty id",
			rows:    [][]string{{"application_id", "gas_fees"}, {"p1", "1"}, {"", "2"}},
			wantErr: impact.ErrMissingColumn,
			wantRow: 2,
		},
		{
			name:    "non numeric",
			rows:    [][]string{{"application_id", "gas_fees"}, {"p1", "lots"}},
			wantErr: impact.ErrMalformedValue,
			wantRow: 1,
		},
		{
			name:    "nan",
			rows:    [][]string{{"application_id", "gas_fees"}, {"p1", "NaN"}},
			wantErr: impact.ErrMalformedValue,
			wantRow: 1,
		},
		{
			name:    "infinite",
			rows:    [][]string{{"application_id", "gas_fees"}, {"p1", "+Inf"}},
			wantErr: impact.ErrMalformedValue,
			wantRow: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMetricSheet(tt.rows)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			if tt.wantRow > 0 {
				var rowErr *RowError
				require.True(t, errors.As(err, &rowErr))
				assert.Equal(t, tt.wantRow, rowErr.Row)
			}
		})
	}
}

func TestParseMetricSheet_InvalidBoolean(t *testing.T) {
	_, err := ParseMetricSheet([][]string{{"application_id", "is_oss"}, {"p1", "maybe"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is_oss")
}

func TestParseBallotRecords(t *testing.T) {
	payload := `{"allocations":[{"gas_fees":100}], "os_multiplier":1}`
	rows := [][]string{
		{"Address", "Payload", "Signature"},
		{" 0x1111111111111111111111111111111111111111 ", payload, "0xabc"},
		{},
	}

	got, err := ParseBallotRecords(rows)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "0x1111111111111111111111111111111111111111", got[0].Address)
	assert.Equal(t, payload, got[0].PayloadJSON)
	assert.Equal(t, "0xabc", got[0].Signature)
}

func TestParseBallotRecords_PayloadKeptVerbatim(t *testing.T) {
	payload := ` {"allocations":[]} `
	got, err := ParseBallotRecords([][]string{
		{"address", "payload", "signature"},
		{"0x1111111111111111111111111111111111111111", payload, "0x00"},
	})
	require.NoError(t, err)
	assert.Equal(t, payload, got[0].PayloadJSON)
}

func TestParseBallotRecords_Errors(t *testing.T) {
	_, err := ParseBallotRecords([][]string{{"Address", "Payload"}})
	assert.ErrorIs(t, err, impact.ErrMissingColumn)

	_, err = ParseBallotRecords([][]string{
		{"Address", "Payload", "Signature"},
		{"0x1111111111111111111111111111111111111111", "{}", ""},
	})
	var rowErr *RowError
	require.True(t, errors.As(err, &rowErr))
	assert.Equal(t, ColumnSignature, rowErr.Column)
}

func TestParseMetricSheet_KeepsUnreportedColumns(t *testing.T) {
	sheet, err := ParseMetricSheet([][]string{
		{"application_id", "is_oss", "gas", "unreported", "gas"},
		{"p1", "true", "10", "", ""},
		{"p2", "false", "30", ""},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"gas", "unreported"}, sheet.MetricIDs)
	for _, row := range sheet.Rows {
		assert.NotContains(t, row.Metrics, "unreported")
	}
}
