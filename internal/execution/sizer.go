package execution

import "github.com/shopspring/decimal"

// Position sizing curve: a base fraction of available capital scaled down as
// declared risk rises. Risk 1 keeps the full base allocation, risk 10 cuts
// it to a tenth.
var (
	baseFraction  = decimal.NewFromFloat(0.20)
	minMultiplier = decimal.NewFromFloat(0.10)
	eleven        = decimal.NewFromInt(11)
	ten           = decimal.NewFromInt(10)
)

// Size converts a risk score and available capital into a whole-share
// quantity. It is monotonically decreasing in risk and monotonically
// increasing in capital. When the scaled allocation cannot cover one share
// but the capital can, a single share is bought; otherwise zero is returned,
// never a fractional or negative quantity.
func Size(riskScore int, available, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || !available.IsPositive() {
		return decimal.Zero
	}
	if riskScore < 1 {
		riskScore = 1
	}
	if riskScore > 10 {
		riskScore = 10
	}

	multiplier := eleven.Sub(decimal.NewFromInt(int64(riskScore))).Div(ten)
	if multiplier.LessThan(minMultiplier) {
		multiplier = minMultiplier
	}

	allocation := available.Mul(baseFraction).Mul(multiplier)
	qty := allocation.Div(price).Floor()

	if qty.LessThan(decimal.NewFromInt(1)) && available.GreaterThanOrEqual(price) {
		qty = decimal.NewFromInt(1)
	}
	if qty.LessThan(decimal.NewFromInt(1)) {
		return decimal.Zero
	}
	return qty
}
