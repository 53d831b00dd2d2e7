package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dp-cuteam/yclients-heatmap/internal/etl"
	"github.com/dp-cuteam/yclients-heatmap/internal/logging"
)

// ErrJobActive is returned when a rebuild is requested while another one is
// still running.
var ErrJobActive = errors.New("a rebuild job is already running")

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Runner launches pipeline runs in the background and tracks their job
// handles. At most one job runs at a time; the per-branch locks inside the
// pipeline guard correctness, the single-flight rule just keeps the API
// load predictable.
type Runner struct {
	pipeline *etl.Pipeline

	mu     sync.Mutex
	jobs   map[string]*etl.Job
	active string
}

// NewRunner wraps a pipeline.
func NewRunner(pipeline *etl.Pipeline) *Runner {
	return &Runner{pipeline: pipeline, jobs: make(map[string]*etl.Job)}
}

// StartFull launches a full rebuild over [from, to] and returns the job id.
func (r *Runner) StartFull(from, to time.Time) (string, error) {
	return r.start(func(ctx context.Context, job *etl.Job) (string, error) {
		return r.pipeline.RunFull(ctx, job, from, to)
	})
}

// StartDaily launches a single-day rebuild. A zero day means yesterday.
func (r *Runner) StartDaily(day time.Time) (string, error) {
	return r.start(func(ctx context.Context, job *etl.Job) (string, error) {
		return r.pipeline.RunDaily(ctx, job, day)
	})
}

func (r *Runner) start(run func(context.Context, *etl.Job) (string, error)) (string, error) {
	if r.pipeline == nil {
		return "", errors.New("rebuild is not configured: missing upstream credentials")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != "" {
		if job := r.jobs[r.active]; job != nil {
			status := job.Status()
			if status == etl.JobQueued || status == etl.JobRunning {
				return "", ErrJobActive
			}
		}
		r.active = ""
	}

	jobID := uuid.NewString()
	job := etl.NewJob()
	r.jobs[jobID] = job
	r.active = jobID

	go func() {
		runID, err := run(context.Background(), job)
		if err != nil {
			logging.Error().Str("job_id", jobID).Str("run_id", runID).Err(err).Msg("rebuild job failed")
			return
		}
		logging.Info().Str("job_id", jobID).Str("run_id", runID).Msg("rebuild job finished")
	}()
	return jobID, nil
}

// Job returns the handle for a job id.
func (r *Runner) Job(jobID string) (*etl.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Cancel requests cancellation of a job.
func (r *Runner) Cancel(jobID string) error {
	job, err := r.Job(jobID)
	if err != nil {
		return err
	}
	job.Cancel()
	return nil
}
