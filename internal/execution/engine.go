// Package execution submits orders through one of two interchangeable
// backends: the Alpaca brokerage or a local deterministic simulator. The
// backend is selected once at startup from credential presence; call sites
// never branch on the mode.
package execution

import (
	"finsight/internal/models"

	"github.com/shopspring/decimal"
)

// Request is a fully sized order ready for submission. Price is the
// reference price used by the simulator and for pre-trade cost checks.
// StopLoss and RiskScore are persisted as position metadata on fills.
type Request struct {
	Symbol    string
	Side      models.Side
	Qty       decimal.Decimal
	Price     decimal.Decimal
	Source    models.TradeSource
	StopLoss  decimal.Decimal
	RiskScore int
}

// Engine is the uniform order-submission contract over both backends.
type Engine interface {
	// Mode identifies the backend ("ALPACA" or "SIMULATION").
	Mode() string
	// Submit places the order. Rejections are returned as results with a
	// reason, not as errors; errors mean the submission itself failed.
	Submit(req Request) (*models.OrderResult, error)
	// Reconcile resolves orders that were accepted but not yet filled.
	// The simulator fills immediately, so there it is a no-op.
	Reconcile() error
}
