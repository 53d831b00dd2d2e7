// Package seed generates synthetic bookings, staff groups and daily
// financial facts for local development, so the heatmap and reports render
// without live API credentials.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"

	"github.com/dp-cuteam/yclients-heatmap/internal/fin"
	"github.com/dp-cuteam/yclients-heatmap/internal/logging"
	"github.com/dp-cuteam/yclients-heatmap/internal/schedule"
	"github.com/dp-cuteam/yclients-heatmap/internal/store"
)

// Options controls what the seeder writes.
type Options struct {
	Branches  []store.Branch
	Groups    schedule.GroupConfig
	From      time.Time
	To        time.Time
	WithFacts bool // also seed the financial daily facts
}

// Seeder writes synthetic data through the repository.
type Seeder struct {
	store store.Store
	faker *gofakeit.Faker
	loc   *time.Location
}

// New builds a seeder. seed 0 draws from the clock.
func New(st store.Store, seed uint64, loc *time.Location) *Seeder {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Seeder{store: st, faker: gofakeit.New(seed), loc: loc}
}

// Run seeds branches, raw bookings, the aggregated occupancy tables and
// optionally the daily financial facts for every branch and day in range.
func (s *Seeder) Run(ctx context.Context, opts Options) error {
	for _, b := range opts.Branches {
		if err := s.store.UpsertBranch(ctx, b); err != nil {
			return fmt.Errorf("seed branch %s: %w", b.Code, err)
		}
	}

	for _, branch := range opts.Groups.Branches {
		if err := s.seedBranch(ctx, branch, opts.From, opts.To); err != nil {
			return fmt.Errorf("seed branch %d: %w", branch.BranchID, err)
		}
	}

	if opts.WithFacts {
		for _, b := range opts.Branches {
			if err := s.seedFacts(ctx, b.Code, opts.From, opts.To); err != nil {
				return fmt.Errorf("seed facts %s: %w", b.Code, err)
			}
		}
	}
	return nil
}

// seedBranch fabricates attended bookings for every staff member of the
// branch's groups and runs them through the same build path the pipeline
// uses, so the seeded tables are indistinguishable from a real rebuild.
func (s *Seeder) seedBranch(ctx context.Context, branch schedule.BranchGroups, from, to time.Time) error {
	staffIDs := collectStaffIDs(branch)
	if len(staffIDs) == 0 {
		logging.Warn().Int64("branch_id", branch.BranchID).Msg("no staff ids in group config, skipping branch")
		return nil
	}

	var intervals []store.VisitInterval
	recordID := int64(1)
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		for _, staffID := range staffIDs {
			visits := s.faker.Number(0, 4)
			for v := 0; v < visits; v++ {
				startHour := s.faker.Number(schedule.BenchmarkStartHour, schedule.BenchmarkEndHour)
				start := time.Date(day.Year(), day.Month(), day.Day(), startHour, 0, 0, 0, s.loc)
				durations := []time.Duration{30 * time.Minute, time.Hour, 90 * time.Minute, 2 * time.Hour}
				end := start.Add(durations[s.faker.Number(0, len(durations)-1)])
				intervals = append(intervals, store.VisitInterval{
					BranchID:   branch.BranchID,
					StaffID:    staffID,
					RecordID:   recordID,
					Start:      start,
					End:        end,
					Attendance: schedule.AttendanceConfirmed,
				})
				recordID++
			}
		}
	}

	fromStr := from.Format(store.DateLayout)
	toStr := to.Format(store.DateLayout)
	if err := s.store.UpsertRawRecords(ctx, intervals); err != nil {
		return err
	}
	facts := schedule.BuildStaffHours(intervals)
	if err := s.store.ReplaceStaffHours(ctx, branch.BranchID, fromStr, toStr, facts); err != nil {
		return err
	}
	busy, err := s.store.BusyStaffHours(ctx, branch.BranchID, fromStr, toStr)
	if err != nil {
		return err
	}
	loads := schedule.BuildGroupLoads(branch.BranchID, branch.Groups, busy, from, to)
	if err := s.store.ReplaceGroupLoads(ctx, branch.BranchID, fromStr, toStr, loads); err != nil {
		return err
	}

	logging.Info().
		Int64("branch_id", branch.BranchID).
		Int("bookings", len(intervals)).
		Int("group_rows", len(loads)).
		Msg("seeded branch occupancy")
	return nil
}

// seedFacts writes a plausible daily financial sheet. Balances follow the
// cash flows so reconciliation comes out clean on seeded data.
func (s *Seeder) seedFacts(ctx context.Context, branchCode string, from, to time.Time) error {
	var facts []store.DailyMetricFact
	balance := decimal.NewFromInt(int64(s.faker.Number(20000, 60000)))

	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		date := day.Format(store.DateLayout)
		add := func(code string, v decimal.Decimal) {
			facts = append(facts, store.DailyMetricFact{
				BranchCode: branchCode,
				MetricCode: code,
				Date:       date,
				Value:      v,
				Source:     "seed",
			})
		}

		openSpace := s.money(15000, 45000)
		cabinets := s.money(3000, 12000)
		lab := s.money(1000, 8000)
		coffee := s.money(8000, 25000)
		checks := decimal.NewFromInt(int64(s.faker.Number(40, 160)))
		soldFood := s.money(5000, 15000)
		writtenOff := soldFood.Mul(decimal.NewFromFloat(s.faker.Float64Range(0.01, 0.08))).Round(2)

		cashless := openSpace.Add(cabinets).Add(coffee).Mul(decimal.NewFromFloat(0.7)).Round(2)
		total := openSpace.Add(cabinets).Add(lab).Add(coffee).Add(soldFood)
		cash := total.Sub(cashless)
		if cash.IsNegative() {
			cash = decimal.Zero
		}
		deposits := s.money(0, 2000)
		withdrawals := s.money(0, 3000)
		balance = balance.Add(cash).Add(deposits).Sub(withdrawals)

		add(fin.CodeRevenueTotal, total)
		add(fin.CodeRevenueCashless, cashless)
		add(fin.CodeRevenueCash, cash)
		add(fin.CodeCashBalanceEndDay, balance)
		add(fin.CodeRevenueOpenSpace, openSpace)
		add(fin.CodeRevenueCabinets, cabinets)
		add(fin.CodeRevenueLab, lab)
		add(fin.CodeCoffeeRevenue, coffee)
		add(fin.CodeCoffeeChecks, checks)
		add(fin.CodeSoldFood, soldFood)
		add(fin.CodeWrittenOffFood, writtenOff)
		add(fin.CodeDeposits, deposits)
		add(fin.CodeWithdrawals, withdrawals)
		for _, code := range fin.ExpenseCodes {
			add(code, s.money(500, 5000))
		}
	}
	return s.store.UpsertDailyMetrics(ctx, facts)
}

func (s *Seeder) money(min, max float64) decimal.Decimal {
	return decimal.NewFromFloat(s.faker.Price(min, max))
}

func collectStaffIDs(branch schedule.BranchGroups) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, g := range branch.Groups {
		for _, id := range g.StaffIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}
