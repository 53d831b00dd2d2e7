package etl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dp-cuteam/yclients-heatmap/internal/logging"
	"github.com/dp-cuteam/yclients-heatmap/internal/schedule"
	"github.com/dp-cuteam/yclients-heatmap/internal/store"
	"github.com/dp-cuteam/yclients-heatmap/internal/yclients"
)

// Run types recorded on etl_runs rows.
const (
	RunTypeFull  = "full"
	RunTypeDaily = "daily"
)

// ErrCancelled marks a run stopped by job cancellation.
var ErrCancelled = errors.New("run cancelled")

// RecordSource supplies paginated booking pages; implemented by the API
// client, replaced by fakes in tests.
type RecordSource interface {
	GetRecords(ctx context.Context, companyID int64, startDate, endDate string, page, count int) (yclients.RecordsPage, error)
}

// Options configures a Pipeline.
type Options struct {
	Store        store.Store
	Source       RecordSource
	Directory    schedule.StaffDirectory
	Location     *time.Location
	PageSize     int
	BranchIDs    []int64 // empty = every configured branch
	StartDate    string  // floor for full rebuilds, DateLayout, empty = none
	ConfigPath   string
	ResolvedPath string
}

// Pipeline runs normalization, occupancy rebuild and group-load rebuild
// per branch, serialized per branch: the delete+reinsert phase of two
// concurrent runs for the same branch must never interleave.
type Pipeline struct {
	store     store.Store
	source    RecordSource
	directory schedule.StaffDirectory
	tracker   *Tracker
	normalize *schedule.Normalizer
	loc       *time.Location

	pageSize  int
	branchIDs map[int64]bool
	startDate string

	configPath   string
	resolvedPath string

	mu    sync.Mutex
	locks map[int64]*sync.Mutex

	now func() time.Time
}

// NewPipeline assembles a Pipeline from options.
func NewPipeline(opts Options) *Pipeline {
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	branchIDs := make(map[int64]bool, len(opts.BranchIDs))
	for _, id := range opts.BranchIDs {
		branchIDs[id] = true
	}
	return &Pipeline{
		store:        opts.Store,
		source:       opts.Source,
		directory:    opts.Directory,
		tracker:      NewTracker(opts.Store),
		normalize:    schedule.NewNormalizer(opts.Location),
		loc:          opts.Location,
		pageSize:     pageSize,
		branchIDs:    branchIDs,
		startDate:    opts.StartDate,
		configPath:   opts.ConfigPath,
		resolvedPath: opts.ResolvedPath,
		locks:        make(map[int64]*sync.Mutex),
		now:          time.Now,
	}
}

// Tracker exposes the run tracker, mainly for status queries.
func (p *Pipeline) Tracker() *Tracker { return p.tracker }

// RunFull rebuilds occupancy for every configured branch over [from, to].
// The returned run id is valid even when the run fails; the error mirrors
// the failure recorded on the run.
func (p *Pipeline) RunFull(ctx context.Context, job *Job, from, to time.Time) (string, error) {
	return p.run(ctx, job, RunTypeFull, from, to)
}

// RunDaily rebuilds a single day for every configured branch. A zero day
// means yesterday in the configured timezone.
func (p *Pipeline) RunDaily(ctx context.Context, job *Job, day time.Time) (string, error) {
	if day.IsZero() {
		day = p.now().In(p.loc).AddDate(0, 0, -1)
	}
	return p.run(ctx, job, RunTypeDaily, day, day)
}

func (p *Pipeline) run(ctx context.Context, job *Job, runType string, from, to time.Time) (string, error) {
	runID, err := p.tracker.Start(ctx, runType)
	if err != nil {
		return "", err
	}
	job.begin(runID)

	if err := p.runBranches(ctx, job, runID, from, to); err != nil {
		if failErr := p.tracker.Fail(ctx, runID, err); failErr != nil {
			logging.Error().Str("run_id", runID).Err(failErr).Msg("failed to record run failure")
		}
		job.fail(err)
		return runID, err
	}

	if err := p.tracker.Succeed(ctx, runID); err != nil {
		job.fail(err)
		return runID, err
	}
	job.succeed()
	return runID, nil
}

func (p *Pipeline) runBranches(ctx context.Context, job *Job, runID string, from, to time.Time) error {
	cfg, err := schedule.LoadGroupConfigPreferResolved(p.resolvedPath, p.configPath)
	if err != nil {
		return err
	}
	resolved, err := schedule.ResolveStaffIDs(ctx, cfg, p.directory)
	if err != nil {
		return err
	}
	if err := schedule.SaveGroupConfig(p.resolvedPath, resolved); err != nil {
		logging.Warn().Err(err).Msg("failed to persist resolved group config")
	}

	for _, branch := range resolved.Branches {
		if job.Cancelled() {
			return ErrCancelled
		}
		if len(p.branchIDs) > 0 && !p.branchIDs[branch.BranchID] {
			continue
		}
		branchFrom, branchTo, ok := p.clampRange(from, to)
		if !ok {
			continue
		}
		if err := p.rebuildBranch(ctx, runID, branch, branchFrom, branchTo); err != nil {
			return fmt.Errorf("branch %d: %w", branch.BranchID, err)
		}
	}
	return nil
}

// clampRange applies the configured start-date floor: ranges entirely
// before the floor are skipped, overlapping ranges are trimmed.
func (p *Pipeline) clampRange(from, to time.Time) (time.Time, time.Time, bool) {
	if p.startDate == "" {
		return from, to, true
	}
	floor, err := time.ParseInLocation(store.DateLayout, p.startDate, p.loc)
	if err != nil {
		return from, to, true
	}
	if to.Before(floor) {
		return from, to, false
	}
	if from.Before(floor) {
		from = floor
	}
	return from, to, true
}

func (p *Pipeline) rebuildBranch(ctx context.Context, runID string, branch schedule.BranchGroups, from, to time.Time) error {
	lock := p.branchLock(branch.BranchID)
	lock.Lock()
	defer lock.Unlock()

	fromStr := from.Format(store.DateLayout)
	toStr := to.Format(store.DateLayout)

	log := logging.Logger.With().
		Int64("branch_id", branch.BranchID).
		Str("run_id", runID).
		Str("from", fromStr).
		Str("to", toStr).
		Logger()
	log.Info().Msg("rebuilding branch occupancy")

	raw, err := p.fetchRecords(ctx, runID, branch.BranchID, fromStr, toStr)
	if err != nil {
		return err
	}

	intervals := p.normalize.Normalize(branch.BranchID, raw)
	log.Debug().Int("raw", len(raw)).Int("normalized", len(intervals)).Msg("records normalized")

	if err := p.store.UpsertRawRecords(ctx, intervals); err != nil {
		return fmt.Errorf("upsert raw records: %w", err)
	}

	facts := schedule.BuildStaffHours(intervals)
	if err := p.store.ReplaceStaffHours(ctx, branch.BranchID, fromStr, toStr, facts); err != nil {
		return fmt.Errorf("replace staff hours: %w", err)
	}

	busy, err := p.store.BusyStaffHours(ctx, branch.BranchID, fromStr, toStr)
	if err != nil {
		return fmt.Errorf("load busy hours: %w", err)
	}
	loads := schedule.BuildGroupLoads(branch.BranchID, branch.Groups, busy, from, to)
	if err := p.store.ReplaceGroupLoads(ctx, branch.BranchID, fromStr, toStr, loads); err != nil {
		return fmt.Errorf("replace group loads: %w", err)
	}

	log.Info().
		Int("staff_hours", len(facts)).
		Int("group_rows", len(loads)).
		Msg("branch rebuilt")
	return nil
}

func (p *Pipeline) fetchRecords(ctx context.Context, runID string, branchID int64, from, to string) ([]yclients.Record, error) {
	var out []yclients.Record
	for page := 1; ; page++ {
		resp, err := p.source.GetRecords(ctx, branchID, from, to, page, p.pageSize)
		if err != nil {
			return nil, err
		}
		if resp.TotalCount > 0 {
			p.tracker.Progress(ctx, runID, "%d: page %d / ~%d", branchID, page, resp.TotalCount)
		} else {
			p.tracker.Progress(ctx, runID, "%d: page %d", branchID, page)
		}
		if len(resp.Records) == 0 {
			break
		}
		out = append(out, resp.Records...)
		if resp.TotalCount > 0 && page*p.pageSize >= resp.TotalCount {
			break
		}
	}
	return out, nil
}

func (p *Pipeline) branchLock(branchID int64) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[branchID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[branchID] = lock
	}
	return lock
}
