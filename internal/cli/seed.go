package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dp-cuteam/yclients-heatmap/internal/logging"
	"github.com/dp-cuteam/yclients-heatmap/internal/schedule"
	"github.com/dp-cuteam/yclients-heatmap/internal/seed"
	"github.com/dp-cuteam/yclients-heatmap/internal/store"
)

var (
	seedFrom      string
	seedTo        string
	seedSeed      uint64
	seedWithFacts bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed synthetic bookings and daily facts for development",
	Long: `Seed writes fabricated attended bookings for every staff member in the
group config, rebuilds the occupancy aggregates from them, and optionally
fills the daily financial sheet, so the heatmap and reports render without
live API credentials.

The group config must carry staff_ids (a resolved config, or hand-filled).

Example:
  heatmap seed --from 2026-07-01 --to 2026-08-30 --with-facts
  heatmap seed --from 2026-08-01 --to 2026-08-30 --seed 42`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedFrom, "from", "",
		"range start (YYYY-MM-DD)")
	seedCmd.Flags().StringVar(&seedTo, "to", "",
		"range end, inclusive (YYYY-MM-DD)")
	seedCmd.Flags().Uint64Var(&seedSeed, "seed", 0,
		"random seed for reproducible data (0 = random)")
	seedCmd.Flags().BoolVar(&seedWithFacts, "with-facts", false,
		"also seed the daily financial facts")
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if seedFrom == "" || seedTo == "" {
		return fmt.Errorf("--from and --to are required")
	}
	from, err := time.Parse(store.DateLayout, seedFrom)
	if err != nil {
		return fmt.Errorf("from must be YYYY-MM-DD: %w", err)
	}
	to, err := time.Parse(store.DateLayout, seedTo)
	if err != nil {
		return fmt.Errorf("to must be YYYY-MM-DD: %w", err)
	}
	if to.Before(from) {
		return fmt.Errorf("--to must not precede --from")
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	groups, err := schedule.LoadGroupConfigPreferResolved(cfg.Groups.ResolvedPath, cfg.Groups.ConfigPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	branches := make([]store.Branch, 0, len(groups.Branches))
	for _, b := range groups.Branches {
		name := b.DisplayName
		if name == "" {
			name = "Branch " + strconv.FormatInt(b.BranchID, 10)
		}
		branches = append(branches, store.Branch{
			Code:       "branch-" + strconv.FormatInt(b.BranchID, 10),
			Name:       name,
			YClientsID: b.BranchID,
		})
	}

	seeder := seed.New(st, seedSeed, loc)
	if err := seeder.Run(ctx, seed.Options{
		Branches:  branches,
		Groups:    groups,
		From:      from,
		To:        to,
		WithFacts: seedWithFacts,
	}); err != nil {
		return err
	}

	logging.Info().
		Str("from", seedFrom).
		Str("to", seedTo).
		Bool("with_facts", seedWithFacts).
		Msg("Seeding finished")
	return nil
}
