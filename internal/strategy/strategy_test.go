package strategy

import (
	"testing"

	"finsight/internal/indicators"
	"finsight/internal/models"

	"github.com/shopspring/decimal"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name       string
		strategy   Strategy
		side       models.Side
		ind        indicators.Set
		price      decimal.Decimal
		rec        *models.Recommendation
		allowed    bool
		wantReason string
	}{
		{
			name: "market always allows", strategy: Market, side: models.Buy,
			ind: indicators.Set{RSI: 99}, allowed: true,
		},
		{
			name: "manual override always allows", strategy: ManualOverride, side: models.Sell,
			allowed: true,
		},
		{
			name: "empty strategy allows", strategy: "", side: models.Buy,
			allowed: true,
		},
		{
			name: "mean reversion buy rejected when not oversold", strategy: MeanReversion, side: models.Buy,
			ind: indicators.Set{RSI: 55}, allowed: false, wantReason: "RSI not oversold",
		},
		{
			name: "mean reversion buy allowed at oversold", strategy: MeanReversion, side: models.Buy,
			ind: indicators.Set{RSI: 28}, allowed: true,
		},
		{
			name: "mean reversion sell rejected when not overbought", strategy: MeanReversion, side: models.Sell,
			ind: indicators.Set{RSI: 50}, allowed: false, wantReason: "RSI not overbought",
		},
		{
			name: "momentum buy needs bullish rsi and macd", strategy: Momentum, side: models.Buy,
			ind: indicators.Set{RSI: 60, MACD: -0.5}, allowed: false,
		},
		{
			name: "momentum buy allowed", strategy: Momentum, side: models.Buy,
			ind: indicators.Set{RSI: 60, MACD: 0.5}, allowed: true,
		},
		{
			name: "momentum sell allowed when bearish", strategy: Momentum, side: models.Sell,
			ind: indicators.Set{RSI: 40, MACD: -0.5}, allowed: true,
		},
		{
			name: "breakout buy below sma rejected", strategy: Breakout, side: models.Buy,
			ind: indicators.Set{SMA20: 100}, price: decimal.NewFromInt(95), allowed: false,
		},
		{
			name: "breakout buy above sma allowed", strategy: Breakout, side: models.Buy,
			ind: indicators.Set{SMA20: 100}, price: decimal.NewFromInt(105), allowed: true,
		},
		{
			name: "breakout sell above sma rejected", strategy: Breakout, side: models.Sell,
			ind: indicators.Set{SMA20: 100}, price: decimal.NewFromInt(105), allowed: false,
		},
		{
			name: "ai optimized without analysis rejected", strategy: AIOptimized, side: models.Buy,
			rec: nil, allowed: false, wantReason: "No AI analysis available",
		},
		{
			name: "ai optimized against signal rejected", strategy: AIOptimized, side: models.Buy,
			rec: &models.Recommendation{Action: models.SignalSell}, allowed: false,
		},
		{
			name: "ai optimized matching signal allowed", strategy: AIOptimized, side: models.Buy,
			rec: &models.Recommendation{Action: models.SignalBuy}, allowed: true,
		},
		{
			name: "unknown strategy rejected", strategy: "hft_scalper", side: models.Buy,
			allowed: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ind := tc.ind
			got := Evaluate(tc.strategy, tc.side, &ind, tc.price, tc.rec)
			if got.Allowed != tc.allowed {
				t.Fatalf("Allowed = %v, want %v (reason %q)", got.Allowed, tc.allowed, got.Reason)
			}
			if tc.wantReason != "" && got.Reason != tc.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tc.wantReason)
			}
			if !got.Allowed && got.Reason == "" {
				t.Error("denial carries no reason")
			}
		})
	}
}
