package money

import (
	"github.com/shopspring/decimal"
)

// DefaultCurrency is the ISO code applied to wallets created without one.
const DefaultCurrency = "MAD"

// Round normalises a monetary value to two decimal places.
func Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// FeePolicy computes the platform fee for a transfer. The fee is a
// percentage of the amount clamped to [Min, Max].
type FeePolicy struct {
	Percent decimal.Decimal
	Min     decimal.Decimal
	Max     decimal.Decimal
}

// DefaultFeePolicy returns the platform defaults: 2% clamped to [5, 100].
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		Percent: decimal.NewFromFloat(0.02),
		Min:     decimal.NewFromInt(5),
		Max:     decimal.NewFromInt(100),
	}
}

// Fee returns the fee owed on the given amount, rounded to two decimals.
func (p FeePolicy) Fee(amount decimal.Decimal) decimal.Decimal {
	fee := amount.Mul(p.Percent)
	if fee.LessThan(p.Min) {
		fee = p.Min
	}
	if fee.GreaterThan(p.Max) {
		fee = p.Max
	}
	return Round(fee)
}

// TotalWithFee returns amount + Fee(amount).
func (p FeePolicy) TotalWithFee(amount decimal.Decimal) decimal.Decimal {
	return Round(amount.Add(p.Fee(amount)))
}
