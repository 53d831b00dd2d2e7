package fin

import (
	"time"

	"github.com/shopspring/decimal"
)

// Base metric codes reported daily per branch.
const (
	CodeRevenueTotal      = "revenue_total"
	CodeRevenueCashless   = "revenue_cashless"
	CodeRevenueCash       = "revenue_cash"
	CodeCashBalanceEndDay = "cash_balance_end_day"
	CodeRevenueOpenSpace  = "revenue_open_space"
	CodeRevenueCabinets   = "revenue_cabinets"
	CodeRevenueLecture    = "revenue_lecture"
	CodeRevenueLab        = "revenue_lab"
	CodeRevenueRetail     = "revenue_retail"
	CodeRevenueSalon      = "revenue_salon"
	CodeLoadPercent       = "load_percent"
	CodeCoffeeRevenue     = "coffee_revenue_total"
	CodeCoffeeChecks      = "coffee_checks"
	CodeSoldFood          = "sold_food_total"
	CodeWrittenOffFood    = "written_off_food_total"
	CodeWithdrawals       = "withdrawals_total"
	CodeDeposits          = "deposit_total"
)

// Derived metric codes.
const (
	CodeAvgCheck         = "avg_check"
	CodeWriteoffRate     = "writeoff_rate"
	CodeWriteoffRateFull = "writeoff_rate_full"
	CodeLabToOpenSpace   = "lab_to_open_space_ratio"
	CodeRevenuePerLoad   = "revenue_per_load"
	CodeCoffeePerLoad    = "coffee_revenue_per_load"
	CodeTotalExpenses    = "total_expenses"
	CodeExpenseRatio     = "expense_ratio"
	CodeGrossProfit      = "gross_profit"
	CodeOperatingProfit  = "operating_profit"
	CodeOperatingMargin  = "operating_margin"
	CodeCoworkingTotal   = "coworking_total"
)

// ExpenseCodes is the fixed expense set summed into total_expenses.
var ExpenseCodes = []string{
	"expense_cleaning_salary",
	"expense_staff_salary",
	"expense_maintenance",
	"expense_facility",
	"expense_delivery_taxi",
	"expense_food_purchase",
	"expense_marketing",
	"expense_hiring",
	"expense_cash_collection",
	"expense_other",
}

// CoworkingCodes are the revenue streams making up coworking_total.
var CoworkingCodes = []string{
	CodeRevenueOpenSpace,
	CodeRevenueCabinets,
	CodeRevenueLecture,
	CodeRevenueLab,
	CodeRevenueRetail,
	CodeRevenueSalon,
}

// FoodCodes are the food revenue breakdown metrics.
var FoodCodes = []string{
	CodeSoldFood,
	"revenue_desserts",
	"revenue_food_breakfast",
	"revenue_food_lunch",
	"revenue_food_croissants",
	"revenue_food_salads",
	"revenue_food_sandwiches",
}

// DrinkCodes are the drinks revenue breakdown metrics.
var DrinkCodes = []string{
	"revenue_drinks_total",
	"revenue_coffee",
	"revenue_coffee_hot",
	"revenue_drinks_cold",
	"revenue_drinks_seasonal",
}

// BaseCodes lists every daily-reported metric the engine aggregates.
var BaseCodes = buildBaseCodes()

func buildBaseCodes() []string {
	codes := []string{
		CodeRevenueTotal,
		CodeRevenueCashless,
		CodeRevenueCash,
		CodeCashBalanceEndDay,
	}
	codes = append(codes, CoworkingCodes...)
	codes = append(codes, CodeLoadPercent, CodeCoffeeRevenue, CodeCoffeeChecks)
	codes = append(codes, FoodCodes...)
	codes = append(codes, DrinkCodes...)
	codes = append(codes, CodeWrittenOffFood, CodeWithdrawals, CodeDeposits)
	codes = append(codes, ExpenseCodes...)
	return codes
}

// Derive computes the derived ratios from aggregated base values. Every
// ratio uses guarded division; a missing input yields a nil result, never a
// zero or a panic. The input map is not modified.
func Derive(values map[string]*decimal.Decimal) map[string]*decimal.Decimal {
	derived := make(map[string]*decimal.Decimal)

	revenueTotal := values[CodeRevenueTotal]
	coffeeRev := values[CodeCoffeeRevenue]
	coffeeChecks := values[CodeCoffeeChecks]
	soldFood := values[CodeSoldFood]
	writtenOff := values[CodeWrittenOffFood]
	load := values[CodeLoadPercent]
	revenueLab := values[CodeRevenueLab]
	revenueOpen := values[CodeRevenueOpenSpace]

	derived[CodeAvgCheck] = SafeDiv(coffeeRev, coffeeChecks)
	derived[CodeWriteoffRate] = SafeDiv(writtenOff, soldFood)
	derived[CodeWriteoffRateFull] = SafeDiv(writtenOff, SafeSum(soldFood, writtenOff))
	derived[CodeLabToOpenSpace] = SafeDiv(revenueLab, revenueOpen)
	derived[CodeRevenuePerLoad] = SafeDiv(revenueOpen, load)
	derived[CodeCoffeePerLoad] = SafeDiv(coffeeRev, load)

	expenses := make([]*decimal.Decimal, 0, len(ExpenseCodes))
	for _, code := range ExpenseCodes {
		expenses = append(expenses, values[code])
	}
	totalExpenses := Sum(expenses)
	derived[CodeTotalExpenses] = totalExpenses
	derived[CodeExpenseRatio] = SafeDiv(totalExpenses, revenueTotal)

	derived[CodeGrossProfit] = SafeSub(revenueTotal, values["expense_food_purchase"])
	derived[CodeOperatingProfit] = SafeSub(revenueTotal, totalExpenses)
	derived[CodeOperatingMargin] = SafeDiv(derived[CodeOperatingProfit], revenueTotal)

	coworking := make([]*decimal.Decimal, 0, len(CoworkingCodes))
	for _, code := range CoworkingCodes {
		coworking = append(coworking, values[code])
	}
	derived[CodeCoworkingTotal] = Sum(coworking)

	return derived
}

// PeriodValues aggregates each base metric over the given days and layers
// the derived metrics on top.
func PeriodValues(vs ValueSet, days []time.Time) map[string]*decimal.Decimal {
	keys := DateKeys(days)
	values := make(map[string]*decimal.Decimal, len(BaseCodes))
	for _, code := range BaseCodes {
		series := vs[code]
		vals := make([]*decimal.Decimal, len(keys))
		for i, key := range keys {
			vals[i] = series.At(key)
		}
		values[code] = Aggregate(code, vals)
	}
	for code, v := range Derive(values) {
		values[code] = v
	}
	return values
}
