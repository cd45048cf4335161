package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of a trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Signal is the action recommended by an analysis pass.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// TradeSource distinguishes manually placed trades from autonomous ones.
type TradeSource string

const (
	SourceManual TradeSource = "MANUAL"
	SourceAgent  TradeSource = "AGENT"
)

// Order status values shared by both execution backends.
const (
	OrderFilled   = "FILLED"
	OrderPending  = "PENDING"
	OrderRejected = "REJECTED"
)

// Position is a single holding. A zero StopLoss means no stop is set; a zero
// RiskScore means the position has never been scored. Positions are owned by
// the portfolio store and mutated only through its operations.
type Position struct {
	Symbol       string          `json:"symbol"`
	Qty          decimal.Decimal `json:"qty"`
	AvgEntry     decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pl"`
	StopLoss     decimal.Decimal `json:"stop_loss"`
	RiskScore    int             `json:"risk_score"`
}

// Trade is an immutable, append-only record of a fill.
type Trade struct {
	Timestamp time.Time       `json:"timestamp"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Qty       decimal.Decimal `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Source    TradeSource     `json:"source"`
}

// EquityPoint is a timestamped equity sample for the performance chart.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
}

// AgentAllocation is the capital ceiling isolating autonomous spending from
// the rest of the account. CashUsed never exceeds CapitalLimit.
type AgentAllocation struct {
	CapitalLimit decimal.Decimal `json:"capital_limit"`
	CashUsed     decimal.Decimal `json:"cash_used"`
}

// Available returns the capital the agent may still deploy.
func (a AgentAllocation) Available() decimal.Decimal {
	avail := a.CapitalLimit.Sub(a.CashUsed)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// Recommendation is the output contract of signal synthesis, whether it came
// from the inference backend or the rule-based fallback.
type Recommendation struct {
	Action    Signal          `json:"signal"`
	RiskScore int             `json:"risk_score"` // 1 (safe) .. 10 (extreme)
	StopLoss  decimal.Decimal `json:"stop_loss"`  // zero when no stop is suggested
	Rationale string          `json:"reasoning"`
}

// PriceSnapshot is the latest price/volume view of a symbol.
type PriceSnapshot struct {
	Price     decimal.Decimal `json:"price"`
	ChangePct float64         `json:"change_percent"`
	Volume    int64           `json:"volume"`
}

// Bar is a daily OHLCV candlestick, oldest first in any series.
type Bar struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// OrderResult is what an execution backend returns for a submission.
type OrderResult struct {
	Status    string          `json:"status"` // FILLED, PENDING or REJECTED
	FillPrice decimal.Decimal `json:"fill_price"`
	Reason    string          `json:"reason,omitempty"`
	OrderID   string          `json:"order_id,omitempty"`
}

// AccountSnapshot is derived on demand from the store plus live prices and is
// never persisted, so it cannot go stale.
type AccountSnapshot struct {
	Cash        decimal.Decimal `json:"cash"`
	Equity      decimal.Decimal `json:"equity"`
	BuyingPower decimal.Decimal `json:"buying_power"`
	Positions   []Position      `json:"positions"`
	NetProfit   decimal.Decimal `json:"net_profit"`
	NetLoss     decimal.Decimal `json:"net_loss"`
	MaxDrawdown decimal.Decimal `json:"max_drawdown"`
	Agent       AgentAllocation `json:"agent_allocation"`
}
