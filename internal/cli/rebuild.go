package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dp-cuteam/yclients-heatmap/internal/etl"
	"github.com/dp-cuteam/yclients-heatmap/internal/logging"
	"github.com/dp-cuteam/yclients-heatmap/internal/store"
)

var (
	rebuildFrom      string
	rebuildTo        string
	rebuildDay       string
	rebuildDaily     bool
	rebuildBranches  []int64
	rebuildPageSize  int
	rebuildStartDate string
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Pull bookings and rebuild occupancy aggregates",
	Long: `Rebuild pulls bookings from the upstream scheduling API for the given
date range, normalizes them into hourly staff occupancy and replaces the
per-group load aggregates branch by branch.

Rebuilds are idempotent: the same range can be rebuilt any number of times.
Ctrl+C requests cooperative cancellation; the branch being rebuilt finishes
before the run stops.

Example:
  heatmap rebuild --from 2026-08-01 --to 2026-08-31
  heatmap rebuild --daily
  heatmap rebuild --daily --day 2026-08-29`,
	RunE: runRebuild,
}

func init() {
	rebuildCmd.Flags().StringVar(&rebuildFrom, "from", "",
		"range start (YYYY-MM-DD)")
	rebuildCmd.Flags().StringVar(&rebuildTo, "to", "",
		"range end, inclusive (YYYY-MM-DD)")
	rebuildCmd.Flags().BoolVar(&rebuildDaily, "daily", false,
		"rebuild a single day instead of a range")
	rebuildCmd.Flags().StringVar(&rebuildDay, "day", "",
		"day for --daily (YYYY-MM-DD, default: yesterday)")
	rebuildCmd.Flags().Int64SliceVar(&rebuildBranches, "branch", nil,
		"restrict to branch ids (repeatable)")
	rebuildCmd.Flags().IntVar(&rebuildPageSize, "page-size", 0,
		"upstream records page size")
	rebuildCmd.Flags().StringVar(&rebuildStartDate, "start-date", "",
		"floor for full rebuilds (YYYY-MM-DD)")
}

func runRebuild(cmd *cobra.Command, args []string) error {
	// Override config with CLI flags
	if len(rebuildBranches) > 0 {
		cfg.Rebuild.BranchIDs = rebuildBranches
	}
	if rebuildPageSize > 0 {
		cfg.Rebuild.PageSize = rebuildPageSize
	}
	if rebuildStartDate != "" {
		cfg.Rebuild.StartDate = rebuildStartDate
	}

	if err := cfg.ValidateRebuild(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	pipeline, err := newPipeline(st)
	if err != nil {
		return err
	}
	job := etl.NewJob()

	// Ctrl+C requests cooperative cancellation first; a second signal
	// cancels the context outright.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logging.Info().Str("signal", sig.String()).Msg("Cancellation requested, finishing current branch")
		job.Cancel()
		<-sigChan
		cancel()
	}()

	var runID string
	if rebuildDaily {
		var day time.Time
		if rebuildDay != "" {
			if day, err = time.Parse(store.DateLayout, rebuildDay); err != nil {
				return fmt.Errorf("day must be YYYY-MM-DD: %w", err)
			}
		}
		runID, err = pipeline.RunDaily(ctx, job, day)
	} else {
		if rebuildFrom == "" || rebuildTo == "" {
			return fmt.Errorf("--from and --to are required without --daily")
		}
		var from, to time.Time
		if from, err = time.Parse(store.DateLayout, rebuildFrom); err != nil {
			return fmt.Errorf("from must be YYYY-MM-DD: %w", err)
		}
		if to, err = time.Parse(store.DateLayout, rebuildTo); err != nil {
			return fmt.Errorf("to must be YYYY-MM-DD: %w", err)
		}
		if to.Before(from) {
			return fmt.Errorf("--to must not precede --from")
		}
		runID, err = pipeline.RunFull(ctx, job, from, to)
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	logging.Info().Str("run_id", runID).Msg("Rebuild finished")
	return nil
}
