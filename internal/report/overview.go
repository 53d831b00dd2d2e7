package report

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dp-cuteam/yclients-heatmap/internal/fin"
	"github.com/dp-cuteam/yclients-heatmap/internal/store"
)

// Check statuses on the overview.
const (
	CheckOK     = "ok"
	CheckAlert  = "alert"
	CheckNoData = "no_data"
)

// trailingWeeks is how many calendar weeks feed the utilization baseline,
// the current week included.
const trailingWeeks = 8

// yoyDeltaCodes are the headline metrics compared against the same span a
// year earlier.
var yoyDeltaCodes = []string{
	fin.CodeRevenueTotal,
	fin.CodeCoworkingTotal,
	fin.CodeCoffeeRevenue,
	fin.CodeLoadPercent,
	fin.CodeWrittenOffFood,
}

// driverCandidates are the revenue streams ranked as growth drivers.
var driverCandidates = []string{
	fin.CodeRevenueOpenSpace,
	fin.CodeRevenueCabinets,
	fin.CodeRevenueLecture,
	fin.CodeRevenueLab,
	fin.CodeRevenueRetail,
	fin.CodeRevenueSalon,
	fin.CodeCoffeeRevenue,
	fin.CodeSoldFood,
}

// Check is one named health check with its outcome.
type Check struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// WeeklyPoint is one calendar week of the trailing utilization series.
type WeeklyPoint struct {
	Start            string           `json:"start"`
	End              string           `json:"end"`
	Load             *decimal.Decimal `json:"load"`
	OpenSpaceRevenue *decimal.Decimal `json:"open_space_revenue"`
	CoffeeRevenue    *decimal.Decimal `json:"coffee_revenue"`
}

// Overview is the month-to-date summary for a branch: period aggregates,
// year-over-year deltas, efficiency coefficients, the trailing weekly
// series, reconciliation results and the derived alerts.
type Overview struct {
	BranchCode  string `json:"branch_code"`
	Month       string `json:"month"`
	CutoffDate  string `json:"cutoff_date"`
	DaysCovered int    `json:"days_covered"`

	Current      map[string]*decimal.Decimal `json:"current"`
	YoY          map[string]*decimal.Decimal `json:"yoy"`
	YoYDelta     map[string]fin.Delta        `json:"yoy_delta"`
	Coefficients map[string]*decimal.Decimal `json:"coefficients"`

	Weekly         []WeeklyPoint      `json:"weekly"`
	CashMismatches []fin.CashMismatch `json:"cash_mismatches"`
	Checks         []Check            `json:"checks"`
	Alerts         []Check            `json:"alerts"`
	Drivers        []fin.Driver       `json:"drivers"`
}

// Overview builds the month-to-date overview for a branch. month is
// "YYYY-MM". The cutoff is the last day of the month with any reported
// metric besides occupancy; everything downstream covers days up to it.
func (s *Service) Overview(ctx context.Context, branchCode, month string) (Overview, error) {
	monthStart, err := fin.ParseMonth(month)
	if err != nil {
		return Overview{}, err
	}
	monthDays := fin.MonthDays(monthStart)

	fetchFrom := fin.WeekStart(monthStart).AddDate(0, 0, -7*(trailingWeeks-1))
	values, err := s.fetchValues(ctx, branchCode, fetchFrom, fin.MonthEnd(monthStart))
	if err != nil {
		return Overview{}, err
	}

	yoyStart := monthStart.AddDate(-1, 0, 0)
	yoyValues, err := s.fetchValues(ctx, branchCode, yoyStart, fin.MonthEnd(yoyStart))
	if err != nil {
		return Overview{}, err
	}

	out := Overview{
		BranchCode: branchCode,
		Month:      monthStart.Format("2006-01"),
	}

	cutoffIdx := lastReportedDay(values, monthDays)
	if cutoffIdx < 0 {
		out.Checks = noDataChecks()
		return out, nil
	}
	cutoff := monthDays[cutoffIdx]
	mtdDays := monthDays[:cutoffIdx+1]
	out.CutoffDate = cutoff.Format(store.DateLayout)
	out.DaysCovered = len(mtdDays)

	yoyDays := fin.MonthDays(yoyStart)
	if len(yoyDays) > len(mtdDays) {
		yoyDays = yoyDays[:len(mtdDays)]
	}

	out.Current = fin.PeriodValues(values, mtdDays)
	out.YoY = fin.PeriodValues(yoyValues, yoyDays)

	out.YoYDelta = make(map[string]fin.Delta, len(yoyDeltaCodes))
	for _, code := range yoyDeltaCodes {
		out.YoYDelta[code] = fin.NewDelta(out.Current[code], out.YoY[code])
	}

	out.Coefficients = map[string]*decimal.Decimal{
		fin.CodeAvgCheck:         out.Current[fin.CodeAvgCheck],
		fin.CodeWriteoffRateFull: out.Current[fin.CodeWriteoffRateFull],
		fin.CodeLabToOpenSpace:   out.Current[fin.CodeLabToOpenSpace],
	}

	out.Weekly = weeklySeries(values, cutoff)
	out.CashMismatches = fin.CheckCash(
		mtdDays,
		values[fin.CodeCashBalanceEndDay],
		values[fin.CodeRevenueCash],
		values[fin.CodeDeposits],
		values[fin.CodeWithdrawals],
		fin.CashThreshold,
	)

	out.Checks = s.buildChecks(out)
	for _, check := range out.Checks {
		if check.Status != CheckAlert {
			continue
		}
		out.Alerts = append(out.Alerts, check)
		if len(out.Alerts) == 3 {
			break
		}
	}

	deltas := make(map[string]fin.Delta, len(driverCandidates))
	for _, code := range driverCandidates {
		deltas[code] = fin.NewDelta(out.Current[code], out.YoY[code])
	}
	out.Drivers = fin.TopDrivers(deltas, 3)

	return out, nil
}

// lastReportedDay finds the index of the last day with any base metric
// besides the derived occupancy series; -1 when no day is filled.
func lastReportedDay(values fin.ValueSet, days []time.Time) int {
	keys := fin.DateKeys(days)
	for idx := len(keys) - 1; idx >= 0; idx-- {
		for _, code := range fin.BaseCodes {
			if code == fin.CodeLoadPercent {
				continue
			}
			if values[code].At(keys[idx]) != nil {
				return idx
			}
		}
	}
	return -1
}

// weeklySeries aggregates the trailing calendar weeks ending with the week
// containing cutoff: average occupancy plus open-space and coffee revenue
// totals per week.
func weeklySeries(values fin.ValueSet, cutoff time.Time) []WeeklyPoint {
	weeks := fin.LastNWeeks(cutoff, trailingWeeks)
	points := make([]WeeklyPoint, 0, len(weeks))
	for _, week := range weeks {
		keys := fin.DateKeys(fin.DateRange(week.Start, week.End))
		load := make([]*decimal.Decimal, len(keys))
		open := make([]*decimal.Decimal, len(keys))
		coffee := make([]*decimal.Decimal, len(keys))
		for i, key := range keys {
			load[i] = values[fin.CodeLoadPercent].At(key)
			open[i] = values[fin.CodeRevenueOpenSpace].At(key)
			coffee[i] = values[fin.CodeCoffeeRevenue].At(key)
		}
		points = append(points, WeeklyPoint{
			Start:            week.Start.Format(store.DateLayout),
			End:              week.End.Format(store.DateLayout),
			Load:             fin.Avg(load),
			OpenSpaceRevenue: fin.Sum(open),
			CoffeeRevenue:    fin.Sum(coffee),
		})
	}
	return points
}

func (s *Service) buildChecks(ov Overview) []Check {
	var checks []Check

	cash := Check{Code: "cash_reconciliation", Status: CheckOK}
	if ov.Current[fin.CodeCashBalanceEndDay] == nil {
		cash.Status = CheckNoData
	} else if n := len(ov.CashMismatches); n > 0 {
		cash.Status = CheckAlert
		cash.Detail = fmt.Sprintf("%d day(s) deviate beyond the threshold, first on %s", n, ov.CashMismatches[0].Date)
	}
	checks = append(checks, cash)

	writeoff := Check{Code: fin.CodeWriteoffRateFull, Status: CheckNoData}
	if rate := ov.Coefficients[fin.CodeWriteoffRateFull]; rate != nil {
		if rate.GreaterThan(fin.WriteoffAlertRate) {
			writeoff.Status = CheckAlert
			writeoff.Detail = fmt.Sprintf("write-off rate %s exceeds %s", rate.StringFixed(3), fin.WriteoffAlertRate.String())
		} else {
			writeoff.Status = CheckOK
		}
	}
	checks = append(checks, writeoff)

	checks = append(checks, loadRevenueCheck("load_vs_open_space", ov.Weekly, pointOpenSpace))
	checks = append(checks, loadRevenueCheck("load_vs_coffee", ov.Weekly, pointCoffee))
	return checks
}

func pointOpenSpace(p WeeklyPoint) *decimal.Decimal { return p.OpenSpaceRevenue }
func pointCoffee(p WeeklyPoint) *decimal.Decimal    { return p.CoffeeRevenue }

// loadRevenueCheck compares the latest week against the trailing weeks:
// occupancy holding at or above its average while the revenue stream falls
// to 90% of its own average or lower is an alert.
func loadRevenueCheck(code string, weekly []WeeklyPoint, revenue func(WeeklyPoint) *decimal.Decimal) Check {
	check := Check{Code: code, Status: CheckNoData}
	if len(weekly) < 2 {
		return check
	}
	latest := weekly[len(weekly)-1]
	trailing := weekly[:len(weekly)-1]

	loads := make([]*decimal.Decimal, len(trailing))
	revenues := make([]*decimal.Decimal, len(trailing))
	for i, p := range trailing {
		loads[i] = p.Load
		revenues[i] = revenue(p)
	}

	mismatch, known := fin.LoadRevenueMismatch(latest.Load, fin.Avg(loads), revenue(latest), fin.Avg(revenues))
	if !known {
		return check
	}
	if mismatch {
		check.Status = CheckAlert
		check.Detail = "occupancy held while revenue fell below 90% of its trailing average"
	} else {
		check.Status = CheckOK
	}
	return check
}

func noDataChecks() []Check {
	return []Check{
		{Code: "cash_reconciliation", Status: CheckNoData},
		{Code: fin.CodeWriteoffRateFull, Status: CheckNoData},
		{Code: "load_vs_open_space", Status: CheckNoData},
		{Code: "load_vs_coffee", Status: CheckNoData},
	}
}
