// Package marketdata provides the market data capability the agent consumes:
// OHLCV history and last-price snapshots.
package marketdata

import (
	"errors"

	"finsight/internal/models"
)

// ErrRateLimited marks a provider throttle. The agent loop treats it as a
// transient skip for the symbol, retried next cycle, not as a failure.
var ErrRateLimited = errors.New("marketdata: provider rate limit reached")

// ErrNoData is returned when the provider has no bars for a symbol.
var ErrNoData = errors.New("marketdata: no data for symbol")

// Source is the market data capability.
type Source interface {
	// GetBars returns up to lookback daily bars, oldest first.
	GetBars(symbol string, lookback int) ([]models.Bar, error)
	// GetSnapshot returns the latest price, day change and volume.
	GetSnapshot(symbol string) (*models.PriceSnapshot, error)
}
