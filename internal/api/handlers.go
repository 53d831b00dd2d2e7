package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/dp-cuteam/yclients-heatmap/internal/etl"
	"github.com/dp-cuteam/yclients-heatmap/internal/logging"
	"github.com/dp-cuteam/yclients-heatmap/internal/report"
	"github.com/dp-cuteam/yclients-heatmap/internal/store"
	"github.com/dp-cuteam/yclients-heatmap/pkg/version"
)

// Handler holds the dependencies of the HTTP layer.
type Handler struct {
	Store   store.Store
	Reports *report.Service
	Runner  *Runner
}

// NewHandler wires the handler.
func NewHandler(st store.Store, reports *report.Service, runner *Runner) *Handler {
	return &Handler{Store: st, Reports: reports, Runner: runner}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// Health reports liveness and the build version.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// ListBranches returns the configured branches.
func (h *Handler) ListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := h.Store.Branches(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if branches == nil {
		branches = []store.Branch{}
	}
	writeJSON(w, http.StatusOK, branches)
}

// GetHeatmap returns the dense occupancy grid.
// Query: branch_id, group_id, from, to (dates inclusive).
func (h *Handler) GetHeatmap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	branchID, err := strconv.ParseInt(q.Get("branch_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("branch_id must be an integer"))
		return
	}
	groupID := q.Get("group_id")
	if groupID == "" {
		writeError(w, http.StatusBadRequest, errors.New("group_id is required"))
		return
	}
	from, err := parseDate(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseDate(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, errors.New("to must not precede from"))
		return
	}

	grid, err := h.Reports.Heatmap(r.Context(), branchID, groupID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

// GetMonthReport returns the month report. Query: branch, month (YYYY-MM).
func (h *Handler) GetMonthReport(w http.ResponseWriter, r *http.Request) {
	branch, month, ok := branchMonth(w, r)
	if !ok {
		return
	}
	rep, err := h.Reports.Month(r.Context(), branch, month)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// GetOverview returns the month-to-date overview. Query: branch, month.
func (h *Handler) GetOverview(w http.ResponseWriter, r *http.Request) {
	branch, month, ok := branchMonth(w, r)
	if !ok {
		return
	}
	ov, err := h.Reports.Overview(r.Context(), branch, month)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func branchMonth(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	q := r.URL.Query()
	branch := q.Get("branch")
	if branch == "" {
		writeError(w, http.StatusBadRequest, errors.New("branch is required"))
		return "", "", false
	}
	month := q.Get("month")
	if month == "" {
		writeError(w, http.StatusBadRequest, errors.New("month is required"))
		return "", "", false
	}
	return branch, month, true
}

type rebuildRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Day  string `json:"day"`
}

type jobResponse struct {
	JobID  string        `json:"job_id"`
	RunID  string        `json:"run_id,omitempty"`
	Status etl.JobStatus `json:"status"`
	Error  string        `json:"error,omitempty"`
}

// TriggerRebuild starts a full rebuild over the posted date range.
func (h *Handler) TriggerRebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	from, err := parseDate(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseDate(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, errors.New("to must not precede from"))
		return
	}

	jobID, err := h.Runner.StartFull(from, to)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: jobID, Status: etl.JobQueued})
}

// TriggerDaily starts a single-day rebuild; an empty day means yesterday.
func (h *Handler) TriggerDaily(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var day time.Time
	if req.Day != "" {
		var err error
		if day, err = parseDate(req.Day); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	jobID, err := h.Runner.StartDaily(day)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: jobID, Status: etl.JobQueued})
}

// GetJob returns the in-process state of a rebuild job.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Runner.Job(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	resp := jobResponse{JobID: chi.URLParam(r, "id"), RunID: job.RunID(), Status: job.Status()}
	if jobErr := job.Err(); jobErr != nil {
		resp.Error = jobErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelJob requests cooperative cancellation of a rebuild job.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.Runner.Cancel(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
}

type runResponse struct {
	RunID      string `json:"run_id"`
	RunType    string `json:"run_type"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Progress   string `json:"progress"`
	ErrorLog   string `json:"error_log,omitempty"`
}

// GetRun returns a persisted ETL run.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := runResponse{
		RunID:     run.RunID,
		RunType:   run.RunType,
		Status:    string(run.Status),
		StartedAt: run.StartedAt.Format(time.RFC3339),
		Progress:  run.Progress,
		ErrorLog:  run.ErrorLog,
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

type metricUpsert struct {
	MetricCode string          `json:"metric_code"`
	Date       string          `json:"date"`
	Value      decimal.Decimal `json:"value"`
}

type metricsRequest struct {
	BranchCode string         `json:"branch_code"`
	Source     string         `json:"source"`
	Metrics    []metricUpsert `json:"metrics"`
}

// UpsertMetrics writes manually reported daily figures.
func (h *Handler) UpsertMetrics(w http.ResponseWriter, r *http.Request) {
	var req metricsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.BranchCode == "" {
		writeError(w, http.StatusBadRequest, errors.New("branch_code is required"))
		return
	}
	facts := make([]store.DailyMetricFact, 0, len(req.Metrics))
	for _, m := range req.Metrics {
		if m.MetricCode == "" {
			writeError(w, http.StatusBadRequest, errors.New("metric_code is required"))
			return
		}
		if _, err := parseDate(m.Date); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		facts = append(facts, store.DailyMetricFact{
			BranchCode: req.BranchCode,
			MetricCode: m.MetricCode,
			Date:       m.Date,
			Value:      m.Value,
			Source:     req.Source,
		})
	}
	if err := h.Store.UpsertDailyMetrics(r.Context(), facts); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"written": len(facts)})
}

type planRequest struct {
	BranchCode string          `json:"branch_code"`
	MetricCode string          `json:"metric_code"`
	Month      string          `json:"month"` // YYYY-MM
	Value      decimal.Decimal `json:"value"`
}

// UpsertPlan writes one monthly plan figure.
func (h *Handler) UpsertPlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.BranchCode == "" || req.MetricCode == "" {
		writeError(w, http.StatusBadRequest, errors.New("branch_code and metric_code are required"))
		return
	}
	monthStart, err := time.Parse("2006-01", req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("month must be in YYYY-MM format"))
		return
	}
	plan := store.MonthlyPlan{
		BranchCode: req.BranchCode,
		MetricCode: req.MetricCode,
		MonthStart: monthStart.Format(store.DateLayout),
		Value:      req.Value,
	}
	if err := h.Store.UpsertPlan(r.Context(), plan); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("date is required")
	}
	t, err := time.Parse(store.DateLayout, value)
	if err != nil {
		return time.Time{}, errors.New("dates must be in YYYY-MM-DD format")
	}
	return t, nil
}
