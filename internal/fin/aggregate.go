// Package fin is the financial period-aggregation, derived-metric and
// comparison engine. Values are decimals; an absent value is a nil pointer
// and is propagated as "unknown", never as zero. Aggregating an empty slice
// yields nil so callers can distinguish "no data" from a zero total.
package fin

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Series maps ISO dates (store.DateLayout) to reported values.
type Series map[string]decimal.Decimal

// At returns the value for a date, nil when the day has no data.
func (s Series) At(date string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	if v, ok := s[date]; ok {
		return &v
	}
	return nil
}

// ValueSet maps metric codes to their daily series.
type ValueSet map[string]Series

// rateHints mark metric codes that average over a period instead of
// summing.
var rateHints = []string{"percent", "ratio", "share"}

// IsRateMetric classifies a metric as a rate (averaged) rather than
// additive (summed): codes ending in _pct/_percent or containing
// percent/ratio/share.
func IsRateMetric(code string) bool {
	lowered := strings.ToLower(code)
	if strings.HasSuffix(lowered, "_pct") || strings.HasSuffix(lowered, "_percent") {
		return true
	}
	for _, hint := range rateHints {
		if strings.Contains(lowered, hint) {
			return true
		}
	}
	return false
}

// Sum adds the present values; nil when none are present.
func Sum(vals []*decimal.Decimal) *decimal.Decimal {
	total := decimal.Zero
	n := 0
	for _, v := range vals {
		if v == nil {
			continue
		}
		total = total.Add(*v)
		n++
	}
	if n == 0 {
		return nil
	}
	return &total
}

// Avg averages the present values; nil when none are present.
func Avg(vals []*decimal.Decimal) *decimal.Decimal {
	total := Sum(vals)
	if total == nil {
		return nil
	}
	n := 0
	for _, v := range vals {
		if v != nil {
			n++
		}
	}
	avg := total.Div(decimal.NewFromInt(int64(n)))
	return &avg
}

// Aggregate folds daily values into a period total: average for rate
// metrics, sum for additive ones.
func Aggregate(code string, vals []*decimal.Decimal) *decimal.Decimal {
	if IsRateMetric(code) {
		return Avg(vals)
	}
	return Sum(vals)
}

// SafeDiv divides a by b, returning nil when either side is unknown or the
// denominator is zero. It never panics and never produces infinities.
func SafeDiv(a, b *decimal.Decimal) *decimal.Decimal {
	if a == nil || b == nil || b.IsZero() {
		return nil
	}
	q := a.Div(*b)
	return &q
}

// SafeSum adds the present operands; nil when all are absent.
func SafeSum(vals ...*decimal.Decimal) *decimal.Decimal {
	return Sum(vals)
}

// SafeSub subtracts b from a; nil when either is unknown.
func SafeSub(a, b *decimal.Decimal) *decimal.Decimal {
	if a == nil || b == nil {
		return nil
	}
	d := a.Sub(*b)
	return &d
}

// D wraps a float in a decimal pointer; test and literal convenience.
func D(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}
