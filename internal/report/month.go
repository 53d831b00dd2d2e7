package report

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dp-cuteam/yclients-heatmap/internal/fin"
	"github.com/dp-cuteam/yclients-heatmap/internal/store"
)

// DayInfo describes one calendar day of a report grid.
type DayInfo struct {
	Date string `json:"date"`
	Day  int    `json:"day"`
	DOW  int    `json:"dow"`
}

// WeekRange is one reporting week, inclusive.
type WeekRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// MonthMetric is one metric row of the month report. WeekTotals covers the
// previous month's weeks, then the previous month total, then the current
// month's weeks. Forecast extrapolates the month total linearly over the
// filled days; rate metrics forecast their running average instead.
type MonthMetric struct {
	Code        string             `json:"code"`
	Values      []*decimal.Decimal `json:"values"`
	WeekTotals  []*decimal.Decimal `json:"week_totals"`
	MonthTotal  *decimal.Decimal   `json:"month_total"`
	Plan        *decimal.Decimal   `json:"plan"`
	PlanPct     *decimal.Decimal   `json:"plan_pct"`
	PlanDelta   *decimal.Decimal   `json:"plan_delta"`
	Forecast    *decimal.Decimal   `json:"forecast"`
	ForecastPct *decimal.Decimal   `json:"forecast_pct"`
}

// MonthReport is the per-day metric grid for one branch and month, with
// week and month roll-ups and plan comparisons.
type MonthReport struct {
	BranchCode string        `json:"branch_code"`
	Month      string        `json:"month"`
	Days       []DayInfo     `json:"days"`
	Weeks      []WeekRange   `json:"weeks"`
	Metrics    []MonthMetric `json:"metrics"`
}

// Month builds the month report for a branch. month is "YYYY-MM".
func (s *Service) Month(ctx context.Context, branchCode, month string) (MonthReport, error) {
	monthStart, err := fin.ParseMonth(month)
	if err != nil {
		return MonthReport{}, err
	}
	prevStart := fin.PrevMonthStart(monthStart)
	prevDays := fin.MonthDays(prevStart)
	currDays := fin.MonthDays(monthStart)
	prevChunks := fin.WeekChunks(prevDays)
	currChunks := fin.WeekChunks(currDays)

	values, err := s.fetchValues(ctx, branchCode, prevDays[0], currDays[len(currDays)-1])
	if err != nil {
		return MonthReport{}, err
	}

	plans, err := s.fetchPlans(ctx, branchCode, monthStart)
	if err != nil {
		return MonthReport{}, err
	}

	out := MonthReport{
		BranchCode: branchCode,
		Month:      monthStart.Format("2006-01"),
	}
	for _, day := range currDays {
		out.Days = append(out.Days, DayInfo{
			Date: day.Format(store.DateLayout),
			Day:  day.Day(),
			DOW:  isoWeekday(day),
		})
	}
	for _, chunk := range append(append([]fin.WeekChunk{}, prevChunks...), currChunks...) {
		out.Weeks = append(out.Weeks, WeekRange{
			Start: chunk.Start.Format(store.DateLayout),
			End:   chunk.End.Format(store.DateLayout),
		})
	}

	prevKeys := fin.DateKeys(prevDays)
	currKeys := fin.DateKeys(currDays)
	for _, code := range fin.BaseCodes {
		series := values[code]
		prevValues := seriesValues(series, prevKeys)
		currValues := seriesValues(series, currKeys)

		var weekTotals []*decimal.Decimal
		for _, chunk := range prevChunks {
			weekTotals = append(weekTotals, fin.Aggregate(code, prevValues[chunk.StartIdx:chunk.EndIdx+1]))
		}
		weekTotals = append(weekTotals, fin.Aggregate(code, prevValues))
		for _, chunk := range currChunks {
			weekTotals = append(weekTotals, fin.Aggregate(code, currValues[chunk.StartIdx:chunk.EndIdx+1]))
		}

		monthTotal := fin.Aggregate(code, currValues)
		metric := MonthMetric{
			Code:       code,
			Values:     currValues,
			WeekTotals: weekTotals,
			MonthTotal: monthTotal,
			Forecast:   forecast(code, monthTotal, currValues),
		}

		if plan, ok := plans[code]; ok {
			metric.Plan = &plan
			if monthTotal != nil {
				delta := monthTotal.Sub(plan)
				metric.PlanDelta = &delta
				if !plan.IsZero() {
					pct := monthTotal.Div(plan).Mul(decimal.NewFromInt(100))
					metric.PlanPct = &pct
				}
			}
			if metric.Forecast != nil && !plan.IsZero() {
				pct := metric.Forecast.Div(plan).Mul(decimal.NewFromInt(100))
				metric.ForecastPct = &pct
			}
		}
		out.Metrics = append(out.Metrics, metric)
	}
	return out, nil
}

// forecast extrapolates the month total over the days reported so far.
func forecast(code string, monthTotal *decimal.Decimal, values []*decimal.Decimal) *decimal.Decimal {
	filled := 0
	for _, v := range values {
		if v != nil {
			filled++
		}
	}
	if filled == 0 || monthTotal == nil {
		return nil
	}
	if fin.IsRateMetric(code) {
		return monthTotal
	}
	f := monthTotal.Div(decimal.NewFromInt(int64(filled))).Mul(decimal.NewFromInt(int64(len(values))))
	return &f
}

func seriesValues(series fin.Series, keys []string) []*decimal.Decimal {
	out := make([]*decimal.Decimal, len(keys))
	for i, key := range keys {
		out[i] = series.At(key)
	}
	return out
}

// fetchValues loads daily facts for every base code plus the occupancy
// load series when a source is wired.
func (s *Service) fetchValues(ctx context.Context, branchCode string, from, to time.Time) (fin.ValueSet, error) {
	facts, err := s.store.DailyMetrics(ctx, branchCode, from.Format(store.DateLayout), to.Format(store.DateLayout), fin.BaseCodes)
	if err != nil {
		return nil, fmt.Errorf("load daily metrics: %w", err)
	}
	values := make(fin.ValueSet)
	for _, fact := range facts {
		series := values[fact.MetricCode]
		if series == nil {
			series = make(fin.Series)
			values[fact.MetricCode] = series
		}
		series[fact.Date] = fact.Value
	}
	if s.load != nil {
		loadSeries, err := s.load.DailyLoad(ctx, branchCode, from, to)
		if err != nil {
			return nil, fmt.Errorf("load occupancy series: %w", err)
		}
		if len(loadSeries) > 0 {
			values[fin.CodeLoadPercent] = loadSeries
		}
	}
	return values, nil
}

func (s *Service) fetchPlans(ctx context.Context, branchCode string, monthStart time.Time) (map[string]decimal.Decimal, error) {
	plans, err := s.store.Plans(ctx, branchCode, monthStart.Format(store.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(plans))
	for _, p := range plans {
		out[p.MetricCode] = p.Value
	}
	return out, nil
}
