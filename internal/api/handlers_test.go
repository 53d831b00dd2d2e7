package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dp-cuteam/yclients-heatmap/internal/etl"
	"github.com/dp-cuteam/yclients-heatmap/internal/report"
	"github.com/dp-cuteam/yclients-heatmap/internal/store"
)

func newTestServer(t *testing.T, st store.Store) *httptest.Server {
	t.Helper()
	h := NewHandler(st, report.NewService(st, nil), NewRunner(nil))
	srv := httptest.NewServer(NewRouter(h, nil))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any, out any) int {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := srv.Client().Post(srv.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, store.NewMemory())

	var body map[string]string
	status := getJSON(t, srv, "/api/health", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["version"])
}

func TestListBranches(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.UpsertBranch(context.Background(), store.Branch{
		Code: "msk", Name: "Moscow", YClientsID: 100,
	}))
	srv := newTestServer(t, st)

	var branches []store.Branch
	status := getJSON(t, srv, "/api/branches", &branches)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, branches, 1)
	assert.Equal(t, "msk", branches[0].Code)
}

func TestListBranchesEmptyIsArray(t *testing.T) {
	srv := newTestServer(t, store.NewMemory())

	resp, err := srv.Client().Get(srv.URL + "/api/branches")
	require.NoError(t, err)
	defer resp.Body.Close()
	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, "[]", string(bytes.TrimSpace(raw)))
}

func TestGetHeatmap(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.ReplaceGroupLoads(context.Background(), 100, "2026-08-28", "2026-08-28", []store.GroupHourLoad{
		{BranchID: 100, GroupID: "chairs", Date: "2026-08-28", DOW: 5, Hour: 11, BusyCount: 3, StaffTotal: 4, LoadPct: 75, InBenchmark: true},
	}))
	srv := newTestServer(t, st)

	var grid report.Heatmap
	status := getJSON(t, srv, "/api/heatmap?branch_id=100&group_id=chairs&from=2026-08-28&to=2026-08-28", &grid)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, grid.Days, 1)
	assert.Equal(t, 75.0, grid.Days[0].Hours[11].LoadPct)
}

func TestGetHeatmapValidation(t *testing.T) {
	srv := newTestServer(t, store.NewMemory())

	cases := []string{
		"/api/heatmap?group_id=g&from=2026-08-01&to=2026-08-02",                // missing branch_id
		"/api/heatmap?branch_id=100&from=2026-08-01&to=2026-08-02",             // missing group_id
		"/api/heatmap?branch_id=100&group_id=g&from=01.08.2026&to=2026-08-02",  // bad date
		"/api/heatmap?branch_id=100&group_id=g&from=2026-08-02&to=2026-08-01",  // inverted range
		"/api/heatmap?branch_id=abc&group_id=g&from=2026-08-01&to=2026-08-02",  // non-numeric branch
	}
	for _, path := range cases {
		var body errorResponse
		status := getJSON(t, srv, path, &body)
		assert.Equal(t, http.StatusBadRequest, status, path)
		assert.NotEmpty(t, body.Error, path)
	}
}

func TestReportEndpointsRequireParams(t *testing.T) {
	srv := newTestServer(t, store.NewMemory())

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv, "/api/reports/month?month=2026-08", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv, "/api/reports/month?branch=msk", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv, "/api/reports/overview?branch=msk&month=August", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/api/reports/overview?branch=msk&month=2026-08", nil))
}

func TestUpsertMetricsAndReadBack(t *testing.T) {
	st := store.NewMemory()
	srv := newTestServer(t, st)

	var resp map[string]int
	status := postJSON(t, srv, "/api/metrics", metricsRequest{
		BranchCode: "msk",
		Source:     "sheet",
		Metrics: []metricUpsert{
			{MetricCode: "revenue_total", Date: "2026-08-01", Value: decimal.NewFromInt(1000)},
			{MetricCode: "revenue_total", Date: "2026-08-02", Value: decimal.NewFromInt(2000)},
		},
	}, &resp)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, resp["written"])

	facts, err := st.DailyMetrics(context.Background(), "msk", "2026-08-01", "2026-08-31", nil)
	require.NoError(t, err)
	assert.Len(t, facts, 2)
}

func TestUpsertMetricsValidation(t *testing.T) {
	srv := newTestServer(t, store.NewMemory())

	status := postJSON(t, srv, "/api/metrics", metricsRequest{
		Metrics: []metricUpsert{{MetricCode: "revenue_total", Date: "2026-08-01"}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = postJSON(t, srv, "/api/metrics", metricsRequest{
		BranchCode: "msk",
		Metrics:    []metricUpsert{{MetricCode: "revenue_total", Date: "yesterday"}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUpsertPlan(t *testing.T) {
	st := store.NewMemory()
	srv := newTestServer(t, st)

	status := postJSON(t, srv, "/api/plans", planRequest{
		BranchCode: "msk",
		MetricCode: "revenue_total",
		Month:      "2026-08",
		Value:      decimal.NewFromInt(50000),
	}, nil)
	assert.Equal(t, http.StatusOK, status)

	plans, err := st.Plans(context.Background(), "msk", "2026-08-01")
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.True(t, plans[0].Value.Equal(decimal.NewFromInt(50000)))

	status = postJSON(t, srv, "/api/plans", planRequest{
		BranchCode: "msk", MetricCode: "revenue_total", Month: "August 2026",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRebuildWithoutPipeline(t *testing.T) {
	srv := newTestServer(t, store.NewMemory())

	var body errorResponse
	status := postJSON(t, srv, "/api/etl/rebuild", rebuildRequest{
		From: "2026-08-01", To: "2026-08-02",
	}, &body)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body.Error, "not configured")
}

func TestRebuildValidation(t *testing.T) {
	srv := newTestServer(t, store.NewMemory())

	status := postJSON(t, srv, "/api/etl/rebuild", rebuildRequest{From: "2026-08-02", To: "2026-08-01"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = postJSON(t, srv, "/api/etl/rebuild", rebuildRequest{From: "bad", To: "2026-08-01"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestJobNotFound(t *testing.T) {
	srv := newTestServer(t, store.NewMemory())

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv, "/api/etl/jobs/unknown", nil))

	resp, err := srv.Client().Post(srv.URL+"/api/etl/jobs/unknown/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetRun(t *testing.T) {
	st := store.NewMemory()
	runID, err := etl.NewTracker(st).Start(context.Background(), etl.RunTypeFull)
	require.NoError(t, err)
	srv := newTestServer(t, st)

	var body runResponse
	status := getJSON(t, srv, fmt.Sprintf("/api/etl/runs/%s", runID), &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, runID, body.RunID)
	assert.Equal(t, "running", body.Status)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv, "/api/etl/runs/missing", nil))
}
