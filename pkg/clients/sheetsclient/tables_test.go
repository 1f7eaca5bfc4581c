package sheetsclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestToStrings(t *testing.T) {
	got := toStrings([][]interface{}{
		{"application_id", "gas_fees", "is_oss"},
		{"p1", 1234567.25, true},
		{"p2", nil},
	})

	assert.Equal(t, [][]string{
		{"application_id", "gas_fees", "is_oss"},
		{"p1", "1234567.25", "true"},
		{"p2", ""},
	}, got)
}

// fakeSheets serves a fixed values response per range
func fakeSheets(t *testing.T, values map[string][][]interface{}) *Client {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "UNFORMATTED_VALUE", r.URL.Query().Get("valueRenderOption"))

		for rng, rows := range values {
			if strings.HasSuffix(r.URL.Path, "/values/"+rng) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"range": rng, "values": rows})
				return
			}
		}
		http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	client, err := NewClientWithOptions(context.Background(),
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)
	return client
}

func TestMetricSource(t *testing.T) {
	client := fakeSheets(t, map[string][][]interface{}{
		"Metrics": {
			{"application_id", "project_name", "is_oss", "gas_fees"},
			{"p1", "One", true, 10.5},
			{"p2", "Two", false},
		},
	})

	source := &MetricSource{Client: client, Table: Table{SheetID: "sheet", Range: "Metrics"}}
	sheet, err := source.LoadMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gas_fees"}, sheet.MetricIDs)
	rows := sheet.Rows
	require.Len(t, rows, 2)
	assert.True(t, rows[0].IsOpenSource)
	assert.Equal(t, 10.5, rows[0].Metrics["gas_fees"])
	assert.Empty(t, rows[1].Metrics)
}

func TestBallotSource(t *testing.T) {
	payload := `{"allocations":[{"gas_fees":100}]}`
	client := fakeSheets(t, map[string][][]interface{}{
		"Ballots": {
			{"Address", "Payload", "Signature"},
			{"0x1111111111111111111111111111111111111111", payload, "0xabcd"},
		},
	})

	source := &BallotSource{Client: client, Table: Table{SheetID: "sheet", Range: "Ballots"}}
	records, err := source.LoadBallotRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, payload, records[0].PayloadJSON)
}

func TestBallotSource_APIError(t *testing.T) {
	client := fakeSheets(t, nil)

	source := &BallotSource{Client: client, Table: Table{SheetID: "sheet", Range: "Missing"}}
	_, err := source.LoadBallotRecords(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load ballots sheet")
}
