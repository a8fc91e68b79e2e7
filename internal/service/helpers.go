package service

import "github.com/shopspring/decimal"

// decimalZero is shorthand for a zero decimal in analytics fields.
func decimalZero() decimal.Decimal {
	return decimal.NewFromInt(0)
}

// bpsFactor converts a basis-point fee into the retained fraction,
// e.g. 500 bps gives 0.95.
func bpsFactor(bps int64) decimal.Decimal {
	return decimal.NewFromInt(10000 - bps).Div(decimal.NewFromInt(10000))
}
