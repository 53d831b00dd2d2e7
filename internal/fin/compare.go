package fin

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CashThreshold is the reconciliation tolerance in currency units; smaller
// discrepancies are considered till noise.
var CashThreshold = decimal.NewFromInt(1000)

// WriteoffAlertRate flags periods whose full write-off rate exceeds it.
var WriteoffAlertRate = decimal.NewFromFloat(0.10)

// revenueDropFactor: a revenue stream at or below this share of its
// trailing average counts as underperforming.
var revenueDropFactor = decimal.NewFromFloat(0.9)

var hundred = decimal.NewFromInt(100)

// Delta is a current-vs-previous comparison. Pct is nil when the previous
// value is zero; both fields are nil when either input is unknown.
type Delta struct {
	Delta *decimal.Decimal `json:"delta"`
	Pct   *decimal.Decimal `json:"pct"`
}

// NewDelta compares current against previous.
func NewDelta(current, previous *decimal.Decimal) Delta {
	if current == nil || previous == nil {
		return Delta{}
	}
	d := current.Sub(*previous)
	out := Delta{Delta: &d}
	if !previous.IsZero() {
		pct := d.Div(*previous).Mul(hundred)
		out.Pct = &pct
	}
	return out
}

// CashMismatch is one day whose actual closing balance deviates from the
// expected one beyond the threshold.
type CashMismatch struct {
	Date     string          `json:"date"`
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
	Diff     decimal.Decimal `json:"diff"`
}

// CheckCash reconciles daily closing balances over the given days:
// expected = previous day's closing balance + cash revenue + deposits −
// withdrawals. Days missing either balance are skipped, not flagged;
// missing flow values count as zero. The first day has no prior balance
// and is never checked.
func CheckCash(days []time.Time, balances, cashRevenue, deposits, withdrawals Series, threshold decimal.Decimal) []CashMismatch {
	keys := DateKeys(days)
	var out []CashMismatch
	for idx := 1; idx < len(keys); idx++ {
		actual := balances.At(keys[idx])
		prevBalance := balances.At(keys[idx-1])
		if actual == nil || prevBalance == nil {
			continue
		}
		expected := *prevBalance
		expected = expected.Add(orZero(cashRevenue.At(keys[idx])))
		expected = expected.Add(orZero(deposits.At(keys[idx])))
		expected = expected.Sub(orZero(withdrawals.At(keys[idx])))
		diff := actual.Sub(expected)
		if diff.Abs().GreaterThanOrEqual(threshold) {
			out = append(out, CashMismatch{
				Date:     keys[idx],
				Expected: expected,
				Actual:   *actual,
				Diff:     diff,
			})
		}
	}
	return out
}

func orZero(v *decimal.Decimal) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return *v
}

// LoadRevenueMismatch reports the high-utilization / weak-revenue signal:
// current load at or above its trailing average while the revenue stream
// sits at or below 90% of its own. Unknown on any missing input.
func LoadRevenueMismatch(currentLoad, avgLoad, currentRevenue, avgRevenue *decimal.Decimal) (bool, bool) {
	if currentLoad == nil || avgLoad == nil || currentRevenue == nil || avgRevenue == nil {
		return false, false
	}
	mismatch := currentLoad.GreaterThanOrEqual(*avgLoad) &&
		currentRevenue.LessThanOrEqual(avgRevenue.Mul(revenueDropFactor))
	return mismatch, true
}

// Driver is one metric's contribution to a period-over-period swing.
type Driver struct {
	Code  string          `json:"code"`
	Delta decimal.Decimal `json:"delta"`
	Pct   decimal.Decimal `json:"pct"`
}

// TopDrivers ranks candidate metrics by positive delta and keeps the top n.
// Candidates with an unknown delta or percentage, or a non-positive delta,
// are excluded.
func TopDrivers(deltas map[string]Delta, n int) []Driver {
	var drivers []Driver
	for code, d := range deltas {
		if d.Delta == nil || d.Pct == nil {
			continue
		}
		if !d.Delta.IsPositive() {
			continue
		}
		drivers = append(drivers, Driver{Code: code, Delta: *d.Delta, Pct: *d.Pct})
	}
	sort.Slice(drivers, func(i, j int) bool {
		if !drivers[i].Delta.Equal(drivers[j].Delta) {
			return drivers[i].Delta.GreaterThan(drivers[j].Delta)
		}
		return drivers[i].Code < drivers[j].Code
	})
	if len(drivers) > n {
		drivers = drivers[:n]
	}
	return drivers
}
