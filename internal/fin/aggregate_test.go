package fin

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRateMetric(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"load_percent", true},
		{"writeoff_pct", true},
		{"expense_ratio", true},
		{"market_share", true},
		{"revenue_total", false},
		{"coffee_checks", false},
		{"deposit_total", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRateMetric(tt.code), tt.code)
	}
}

func TestSumEmptyIsNil(t *testing.T) {
	assert.Nil(t, Sum(nil))
	assert.Nil(t, Sum([]*decimal.Decimal{nil, nil}))
}

func TestSumSkipsNils(t *testing.T) {
	got := Sum([]*decimal.Decimal{D(10), nil, D(5)})
	require.NotNil(t, got)
	assert.True(t, got.Equal(decimal.NewFromInt(15)))
}

func TestAvgOverPresentValuesOnly(t *testing.T) {
	got := Avg([]*decimal.Decimal{D(10), nil, D(20)})
	require.NotNil(t, got)
	assert.True(t, got.Equal(decimal.NewFromInt(15)))
}

func TestAggregateRateVsAdditive(t *testing.T) {
	vals := []*decimal.Decimal{D(50), D(100)}

	total := Aggregate("revenue_total", vals)
	require.NotNil(t, total)
	assert.True(t, total.Equal(decimal.NewFromInt(150)))

	avg := Aggregate("load_percent", vals)
	require.NotNil(t, avg)
	assert.True(t, avg.Equal(decimal.NewFromInt(75)))
}

func TestSafeDiv(t *testing.T) {
	assert.Nil(t, SafeDiv(nil, D(2)))
	assert.Nil(t, SafeDiv(D(2), nil))
	assert.Nil(t, SafeDiv(D(2), D(0)))

	got := SafeDiv(D(10), D(4))
	require.NotNil(t, got)
	assert.True(t, got.Equal(decimal.NewFromFloat(2.5)))
}

func TestSafeSub(t *testing.T) {
	assert.Nil(t, SafeSub(nil, D(1)))
	assert.Nil(t, SafeSub(D(1), nil))

	got := SafeSub(D(7), D(3))
	require.NotNil(t, got)
	assert.True(t, got.Equal(decimal.NewFromInt(4)))
}

func TestSeriesAt(t *testing.T) {
	var empty Series
	assert.Nil(t, empty.At("2026-08-01"))

	s := Series{"2026-08-01": decimal.NewFromInt(42)}
	require.NotNil(t, s.At("2026-08-01"))
	assert.True(t, s.At("2026-08-01").Equal(decimal.NewFromInt(42)))
	assert.Nil(t, s.At("2026-08-02"))
}
