// Package strategy holds the preconditions applied to manually initiated
// trades before they reach the execution engine. A denied trade produces no
// side effects at all.
package strategy

import (
	"fmt"

	"finsight/internal/indicators"
	"finsight/internal/models"

	"github.com/shopspring/decimal"
)

// Strategy names accepted from the serving layer.
type Strategy string

const (
	Market         Strategy = "market"
	Momentum       Strategy = "momentum"
	MeanReversion  Strategy = "mean_reversion"
	Breakout       Strategy = "breakout"
	AIOptimized    Strategy = "ai_optimized"
	ManualOverride Strategy = "manual_override"
)

// Decision is the outcome of a precondition check. Reason is human-readable
// and returned verbatim to the caller on denial.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true, Reason: "precondition met"}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Evaluate checks side against the strategy's precondition over the current
// indicators and price. rec is the current AI recommendation, required only
// by AIOptimized.
func Evaluate(s Strategy, side models.Side, ind *indicators.Set, price decimal.Decimal, rec *models.Recommendation) Decision {
	switch s {
	case Market, ManualOverride, "":
		return allow()

	case Momentum:
		if side == models.Buy && (ind.RSI < 50 || ind.MACD < 0) {
			return deny("Momentum not bullish (RSI/MACD)")
		}
		if side == models.Sell && (ind.RSI > 50 || ind.MACD > 0) {
			return deny("Momentum not bearish (RSI/MACD)")
		}
		return allow()

	case MeanReversion:
		if side == models.Buy && ind.RSI > 35 {
			return deny("RSI not oversold")
		}
		if side == models.Sell && ind.RSI < 65 {
			return deny("RSI not overbought")
		}
		return allow()

	case Breakout:
		sma20 := decimal.NewFromFloat(ind.SMA20)
		if side == models.Buy && price.LessThan(sma20) {
			return deny("Price below 20-day average (no breakout)")
		}
		if side == models.Sell && price.GreaterThan(sma20) {
			return deny("Price above 20-day average (no breakdown)")
		}
		return allow()

	case AIOptimized:
		if rec == nil {
			return deny("No AI analysis available")
		}
		if string(rec.Action) != string(side) {
			return deny(fmt.Sprintf("AI signal is %s, not %s", rec.Action, side))
		}
		return allow()

	default:
		return deny(fmt.Sprintf("Unknown strategy %q", s))
	}
}
