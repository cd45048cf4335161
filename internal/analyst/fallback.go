package analyst

import (
	"fmt"

	"finsight/internal/indicators"
	"finsight/internal/models"

	"github.com/shopspring/decimal"
)

// Fallback thresholds: classic oversold/overbought RSI bands combined with
// the MACD sign for trend confirmation.
const (
	oversoldRSI   = 30.0
	overboughtRSI = 70.0
	fallbackRisk  = 5 // conservative mid value
)

// ruleBased synthesizes a recommendation from indicators alone. It always
// returns a valid Recommendation; degraded mode never fails a cycle.
// support is the recent local price minimum used as the stop-loss for buys.
func ruleBased(ind *indicators.Set, support decimal.Decimal) *models.Recommendation {
	rec := &models.Recommendation{
		Action:    models.SignalHold,
		RiskScore: fallbackRisk,
	}

	switch {
	case ind.RSI < oversoldRSI && ind.MACD > 0:
		rec.Action = models.SignalBuy
		rec.StopLoss = support
		rec.Rationale = fmt.Sprintf("Rule-based: RSI %.1f oversold with positive MACD %.3f; entering with stop at recent support.", ind.RSI, ind.MACD)
	case ind.RSI > overboughtRSI && ind.MACD < 0:
		rec.Action = models.SignalSell
		rec.Rationale = fmt.Sprintf("Rule-based: RSI %.1f overbought with negative MACD %.3f.", ind.RSI, ind.MACD)
	default:
		rec.Rationale = fmt.Sprintf("Rule-based: no edge (RSI %.1f, MACD %.3f); holding.", ind.RSI, ind.MACD)
	}

	return rec
}
