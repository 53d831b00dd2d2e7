package etl

import (
	"sync"
	"sync/atomic"
)

// JobStatus is the in-process state of a rebuild job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// Job is the handle for one background rebuild. Cancellation is
// cooperative: the pipeline checks the flag between branch iterations, so a
// cancelled job still finishes the branch it is on.
type Job struct {
	mu        sync.Mutex
	runID     string
	status    JobStatus
	err       error
	cancelled atomic.Bool
}

// NewJob returns a queued job.
func NewJob() *Job {
	return &Job{status: JobQueued}
}

// Cancel requests the job stop before the next branch.
func (j *Job) Cancel() {
	j.cancelled.Store(true)
}

// Cancelled reports whether cancellation was requested.
func (j *Job) Cancelled() bool {
	return j.cancelled.Load()
}

// RunID returns the persisted run id, empty until the job starts.
func (j *Job) RunID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runID
}

// Status returns the job state.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Err returns the failure cause for failed jobs.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) begin(runID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runID = runID
	j.status = JobRunning
}

func (j *Job) succeed() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = JobSuccess
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = JobFailed
	j.err = err
}
