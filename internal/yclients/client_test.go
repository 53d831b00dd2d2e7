package yclients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler, retries int) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(Config{
		BaseURL:      srv.URL,
		PartnerToken: "partner",
		UserToken:    "user",
		Retries:      retries,
		HTTPClient:   srv.Client(),
	})
	require.NoError(t, err)
	return client, srv
}

func TestNewRequiresPartnerToken(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestGetRecords(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/records/100", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("count"))
		assert.Equal(t, "2026-08-01", r.URL.Query().Get("start_date"))
		assert.Equal(t, "Bearer partner, User user", r.Header.Get("Authorization"))
		w.Write([]byte(`{"success":true,"data":[{"id":1,"staff_id":7,"datetime":"2026-08-01 10:00:00","seance_length":3600}],"meta":{"total_count":120}}`))
	}), 1)

	page, err := client.GetRecords(context.Background(), 100, "2026-08-01", "2026-08-31", 2, 50)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, int64(1), page.Records[0].ID)
	assert.Equal(t, int64(7), page.Records[0].StaffID)
	assert.Equal(t, 120, page.TotalCount)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"success":true,"data":[]}`))
	}), 3)

	_, err := client.GetRecords(context.Background(), 1, "2026-08-01", "2026-08-01", 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetryBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}), 1)

	_, err := client.GetRecords(context.Background(), 1, "2026-08-01", "2026-08-01", 1, 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 1 attempts")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSuccessFalseIsAnError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"meta":{"message":"token invalid"}}`))
	}), 1)

	_, err := client.GetRecords(context.Background(), 1, "2026-08-01", "2026-08-01", 1, 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "success=false")
}

func TestGetStaffFallback(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/company/100/staff/0":
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"success":false,"meta":{"message":"masterId required"}}`))
		case "/api/v1/staff/100":
			w.Write([]byte(`{"success":true,"data":[{"id":5,"name":"Anna"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}), 1)

	staff, err := client.GetStaff(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, staff, 1)
	assert.Equal(t, "Anna", staff[0].Name)
}

func TestGetCompanies(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/companies", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("my"))
		w.Write([]byte(`{"success":true,"data":[{"id":100,"title":"Main Street"}]}`))
	}), 1)

	companies, err := client.GetCompanies(context.Background())
	require.NoError(t, err)
	require.Len(t, companies, 1)
	assert.Equal(t, "Main Street", companies[0].Title)
}
