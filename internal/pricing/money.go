package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Round2 rounds half away from zero to two decimals.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// percentOf returns base * pct / 100.
func percentOf(pct, base decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

func decimalPtr(v decimal.Decimal) *decimal.Decimal {
	return &v
}
