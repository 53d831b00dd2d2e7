// Package etl orchestrates the normalization → occupancy → group-load
// pipeline and tracks each batch as a persisted run.
package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dp-cuteam/yclients-heatmap/internal/logging"
	"github.com/dp-cuteam/yclients-heatmap/internal/store"
)

// Tracker records run lifecycle rows. A run moves running → success|failed
// and is immutable once terminal; progress is overwritten freely while
// errors only accumulate.
type Tracker struct {
	runs store.RunStore
	now  func() time.Time
}

// NewTracker builds a Tracker over the given run store.
func NewTracker(runs store.RunStore) *Tracker {
	return &Tracker{runs: runs, now: time.Now}
}

// Start creates a running run with a fresh id and zero progress.
func (t *Tracker) Start(ctx context.Context, runType string) (string, error) {
	run := store.EtlRun{
		RunID:     uuid.NewString(),
		RunType:   runType,
		StartedAt: t.now().UTC(),
		Status:    store.RunRunning,
		Progress:  "0%",
	}
	if err := t.runs.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return run.RunID, nil
}

// Progress overwrites the run's progress text. Progress persistence is
// best effort; a failure is logged and never aborts the batch.
func (t *Tracker) Progress(ctx context.Context, runID, format string, args ...any) {
	if err := t.runs.SetRunProgress(ctx, runID, fmt.Sprintf(format, args...)); err != nil {
		logging.Warn().Str("run_id", runID).Err(err).Msg("failed to persist run progress")
	}
}

// RecordError appends an error to the run's log without finishing it,
// letting several partial failures accumulate before the terminal
// transition.
func (t *Tracker) RecordError(ctx context.Context, runID string, cause error) {
	if err := t.runs.AppendRunError(ctx, runID, cause.Error()); err != nil {
		logging.Warn().Str("run_id", runID).Err(err).Msg("failed to append run error")
	}
}

// Succeed marks the run successful with full progress.
func (t *Tracker) Succeed(ctx context.Context, runID string) error {
	t.Progress(ctx, runID, "100%%")
	if err := t.runs.FinishRun(ctx, runID, store.RunSuccess, t.now().UTC()); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Fail appends the cause and transitions the run to failed.
func (t *Tracker) Fail(ctx context.Context, runID string, cause error) error {
	t.RecordError(ctx, runID, cause)
	if err := t.runs.FinishRun(ctx, runID, store.RunFailed, t.now().UTC()); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}
