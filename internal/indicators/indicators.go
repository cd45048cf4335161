// Package indicators computes technical indicators over daily OHLCV series.
// All functions are pure and deterministic: same bars in, same numbers out.
package indicators

import (
	"errors"

	"finsight/internal/models"

	"github.com/shopspring/decimal"
)

// MinBars is the longest lookback window required (the 50-day SMA).
const MinBars = 50

// ErrInsufficientData is returned when the series is shorter than MinBars.
// Callers must treat this as "no signal", not as degenerate numbers.
var ErrInsufficientData = errors.New("indicators: insufficient data")

// Set holds the latest value of each indicator.
type Set struct {
	RSI        float64 `json:"rsi"`         // RSI(14), Wilder smoothing
	MACD       float64 `json:"macd"`        // MACD line, EMA12 - EMA26
	MACDSignal float64 `json:"macd_signal"` // EMA9 of the MACD line
	SMA20      float64 `json:"sma_20"`
	EMA20      float64 `json:"ema_20"`
	SMA50      float64 `json:"sma_50"`
}

// Compute derives the full indicator set from bars ordered oldest to newest.
func Compute(bars []models.Bar) (*Set, error) {
	if len(bars) < MinBars {
		return nil, ErrInsufficientData
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close.InexactFloat64()
	}

	macdLine := macdSeries(closes)

	return &Set{
		RSI:        rsi(closes, 14),
		MACD:       macdLine[len(macdLine)-1],
		MACDSignal: last(emaSeries(macdLine, 9)),
		SMA20:      sma(closes, 20),
		EMA20:      last(emaSeries(closes, 20)),
		SMA50:      sma(closes, 50),
	}, nil
}

// RecentSupport returns the lowest low of the last window bars, used as the
// fallback stop-loss level. Returns zero for an empty series.
func RecentSupport(bars []models.Bar, window int) decimal.Decimal {
	if len(bars) == 0 {
		return decimal.Zero
	}
	start := len(bars) - window
	if start < 0 {
		start = 0
	}
	low := bars[start].Low
	for _, b := range bars[start+1:] {
		if b.Low.LessThan(low) {
			low = b.Low
		}
	}
	return low
}

// sma is the simple average of the last period closes.
func sma(values []float64, period int) float64 {
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// emaSeries seeds the EMA with the SMA of the first period values, then
// applies the standard 2/(n+1) multiplier. The returned series starts at the
// first valid EMA value.
func emaSeries(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}

	multiplier := 2.0 / (float64(period) + 1.0)

	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	ema := seed / float64(period)

	out := make([]float64, 0, len(values)-period+1)
	out = append(out, ema)
	for _, v := range values[period:] {
		ema = (v-ema)*multiplier + ema
		out = append(out, ema)
	}
	return out
}

// macdSeries returns the MACD line (EMA12 - EMA26) for every bar where both
// EMAs are defined.
func macdSeries(closes []float64) []float64 {
	ema12 := emaSeries(closes, 12)
	ema26 := emaSeries(closes, 26)

	// ema12 starts 14 values earlier than ema26; align on the shorter one.
	offset := len(ema12) - len(ema26)
	out := make([]float64, len(ema26))
	for i := range ema26 {
		out[i] = ema12[i+offset] - ema26[i]
	}
	return out
}

// rsi computes the Relative Strength Index with Wilder smoothing: the first
// average gain/loss is a simple mean over period deltas, each later one is
// (prev*(period-1) + current) / period.
func rsi(closes []float64, period int) float64 {
	gains, losses := 0.0, 0.0
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}
