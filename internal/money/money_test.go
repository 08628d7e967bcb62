package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFeePolicy(t *testing.T) {
	policy := DefaultFeePolicy()

	cases := []struct {
		amount string
		fee    string
		total  string
	}{
		{"500", "10", "510"},       // plain 2%
		{"100", "5", "105"},        // clamped up to min
		{"10", "5", "15"},          // clamped up to min
		{"10000", "100", "10100"},  // clamped down to max
		{"750", "15", "765"},       // 2% inside the clamp window
		{"333.33", "6.67", "340"},  // rounding to two decimals
	}

	for _, tc := range cases {
		amount := decimal.RequireFromString(tc.amount)
		fee := policy.Fee(amount)
		if !fee.Equal(decimal.RequireFromString(tc.fee)) {
			t.Fatalf("fee(%s): expected %s, got %s", tc.amount, tc.fee, fee)
		}
		total := policy.TotalWithFee(amount)
		if !total.Equal(decimal.RequireFromString(tc.total)) {
			t.Fatalf("total(%s): expected %s, got %s", tc.amount, tc.total, total)
		}
	}
}

func TestRound(t *testing.T) {
	v := decimal.RequireFromString("10.005")
	if got := Round(v); !got.Equal(decimal.RequireFromString("10.01")) {
		t.Fatalf("expected 10.01, got %s", got)
	}
}
