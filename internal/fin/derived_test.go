package fin

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveGuardedRatios(t *testing.T) {
	values := map[string]*decimal.Decimal{
		CodeCoffeeRevenue:  D(1000),
		CodeCoffeeChecks:   D(40),
		CodeSoldFood:       D(900),
		CodeWrittenOffFood: D(100),
	}
	derived := Derive(values)

	require.NotNil(t, derived[CodeAvgCheck])
	assert.True(t, derived[CodeAvgCheck].Equal(decimal.NewFromInt(25)))

	// Full rate divides by sold + written off.
	require.NotNil(t, derived[CodeWriteoffRateFull])
	assert.True(t, derived[CodeWriteoffRateFull].Equal(decimal.NewFromFloat(0.1)))

	// Inputs missing everywhere else stay unknown, not zero.
	assert.Nil(t, derived[CodeLabToOpenSpace])
	assert.Nil(t, derived[CodeRevenuePerLoad])
	assert.Nil(t, derived[CodeExpenseRatio])
}

func TestDeriveZeroDenominator(t *testing.T) {
	values := map[string]*decimal.Decimal{
		CodeCoffeeRevenue: D(1000),
		CodeCoffeeChecks:  D(0),
	}
	derived := Derive(values)
	assert.Nil(t, derived[CodeAvgCheck])
}

func TestDeriveCoworkingTotal(t *testing.T) {
	values := map[string]*decimal.Decimal{
		CodeRevenueOpenSpace: D(10000),
		CodeRevenueCabinets:  D(3000),
		// Remaining coworking streams unreported.
	}
	derived := Derive(values)
	require.NotNil(t, derived[CodeCoworkingTotal])
	assert.True(t, derived[CodeCoworkingTotal].Equal(decimal.NewFromInt(13000)))
}

func TestDeriveOperatingProfitAndMargin(t *testing.T) {
	values := map[string]*decimal.Decimal{
		CodeRevenueTotal: D(10000),
	}
	for _, code := range ExpenseCodes {
		values[code] = D(200)
	}
	derived := Derive(values)

	require.NotNil(t, derived[CodeTotalExpenses])
	assert.True(t, derived[CodeTotalExpenses].Equal(decimal.NewFromInt(2000)))
	require.NotNil(t, derived[CodeOperatingProfit])
	assert.True(t, derived[CodeOperatingProfit].Equal(decimal.NewFromInt(8000)))
	require.NotNil(t, derived[CodeOperatingMargin])
	assert.True(t, derived[CodeOperatingMargin].Equal(decimal.NewFromFloat(0.8)))
}

func TestPeriodValues(t *testing.T) {
	days := []time.Time{
		day(2026, time.August, 1),
		day(2026, time.August, 2),
		day(2026, time.August, 3),
	}
	vs := ValueSet{
		CodeRevenueTotal: Series{
			"2026-08-01": decimal.NewFromInt(100),
			"2026-08-03": decimal.NewFromInt(200),
		},
		CodeLoadPercent: Series{
			"2026-08-01": decimal.NewFromInt(60),
			"2026-08-02": decimal.NewFromInt(80),
		},
	}

	values := PeriodValues(vs, days)

	// Additive metrics sum over reported days.
	require.NotNil(t, values[CodeRevenueTotal])
	assert.True(t, values[CodeRevenueTotal].Equal(decimal.NewFromInt(300)))

	// Rate metrics average over reported days only.
	require.NotNil(t, values[CodeLoadPercent])
	assert.True(t, values[CodeLoadPercent].Equal(decimal.NewFromInt(70)))

	// Unreported metrics stay unknown.
	assert.Nil(t, values[CodeCoffeeRevenue])

	// Derived metrics are layered on top.
	_, ok := values[CodeCoworkingTotal]
	assert.True(t, ok)
}
