// Package money holds the few places where kip amounts meet rates or ratios.
// Amounts stay int64 whole kip everywhere else; decimal is used here so that
// rounding is exact and half-up.
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// MaxAmount bounds any single line or document total. Two bounded amounts
// never overflow int64 when added.
const MaxAmount int64 = 1_000_000_000_000_000

// LineTotal returns price*qty, or false when it would pass MaxAmount.
func LineTotal(price int64, qty int) (int64, bool) {
	if price < 0 || qty < 0 {
		return 0, false
	}
	if qty > 0 && price > MaxAmount/int64(qty) {
		return 0, false
	}
	return price * int64(qty), true
}

// AddBounded returns a+b, or false when the sum would pass MaxAmount.
func AddBounded(a, b int64) (int64, bool) {
	if a > MaxAmount-b {
		return 0, false
	}
	return a + b, true
}

// TaxFromRate returns round_half_up(base * ratePercent / 100).
func TaxFromRate(base int64, ratePercent float64) int64 {
	if base <= 0 || ratePercent <= 0 {
		return 0
	}
	rate := decimal.NewFromFloat(ratePercent)
	return decimal.NewFromInt(base).Mul(rate).Div(hundred).Round(0).IntPart()
}

// Percent formats part/whole*100 with two decimals. A zero whole yields "0.00".
func Percent(part, whole int64) string {
	if whole == 0 {
		return "0.00"
	}
	return decimal.NewFromInt(part).Mul(hundred).Div(decimal.NewFromInt(whole)).StringFixed(2)
}

// WeightedCost blends the current unit cost with an incoming batch.
func WeightedCost(oldCost int64, oldQty int, incomingCost int64, incomingQty int) int64 {
	if incomingQty <= 0 || incomingCost <= 0 {
		return oldCost
	}
	if oldQty <= 0 || oldCost <= 0 {
		return incomingCost
	}
	value := decimal.NewFromInt(oldCost).Mul(decimal.NewFromInt(int64(oldQty))).
		Add(decimal.NewFromInt(incomingCost).Mul(decimal.NewFromInt(int64(incomingQty))))
	weighted := value.Div(decimal.NewFromInt(int64(oldQty + incomingQty))).Round(0).IntPart()
	if weighted < 1 {
		return 1
	}
	return weighted
}

// Share returns floor(amount * part / whole), the slice of amount that part
// of whole accounts for. Flooring keeps the shares of one whole from ever
// summing past it. A non-positive whole yields 0.
func Share(amount, part, whole int64) int64 {
	if whole <= 0 || amount <= 0 || part <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(decimal.NewFromInt(part)).Div(decimal.NewFromInt(whole)).Floor().IntPart()
}
