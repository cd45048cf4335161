package portfolio

import (
	"fmt"
	"time"

	"finsight/internal/models"

	"github.com/shopspring/decimal"
)

const equityLogInterval = 60 * time.Second

// Fill describes a completed execution to be recorded in the ledger.
// StopLoss and RiskScore are optional metadata carried on agent buys.
type Fill struct {
	Symbol    string
	Side      models.Side
	Qty       decimal.Decimal
	Price     decimal.Decimal
	Source    models.TradeSource
	StopLoss  decimal.Decimal
	RiskScore int
}

// ApplyFill records a fill atomically: exactly one Trade appended and exactly
// one Position updated, with the agent sub-account mirrored for agent trades.
// The whole read-modify-write is one critical section.
func (s *Store) ApplyFill(f Fill) (*models.Trade, error) {
	var trade *models.Trade
	err := s.Update(func(state *State) error {
		var err error
		trade, err = applyFill(state, f, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// applyFill mutates state in place. Kept separate from the locking so Replay
// can run the identical transition function over a trade log.
func applyFill(state *State, f Fill, now time.Time) (*models.Trade, error) {
	if !f.Qty.IsPositive() {
		return nil, fmt.Errorf("portfolio: fill quantity must be positive, got %s", f.Qty)
	}
	if !f.Price.IsPositive() {
		return nil, fmt.Errorf("portfolio: fill price must be positive, got %s", f.Price)
	}

	cost := f.Price.Mul(f.Qty)

	// Capital isolation: an agent buy may never draw past its allocation,
	// regardless of what the main account could cover.
	if f.Source == models.SourceAgent && f.Side == models.Buy {
		if cost.GreaterThan(state.Agent.Allocation.Available()) {
			return nil, fmt.Errorf("%w: cost %s exceeds available %s",
				ErrAllocationExhausted, cost.StringFixed(2), state.Agent.Allocation.Available().StringFixed(2))
		}
	}

	switch f.Side {
	case models.Buy:
		if cost.GreaterThan(state.Cash) {
			return nil, fmt.Errorf("%w: cost %s, cash %s",
				ErrInsufficientFunds, cost.StringFixed(2), state.Cash.StringFixed(2))
		}
		state.Cash = state.Cash.Sub(cost)
		buyInto(state.Positions, f, cost)

	case models.Sell:
		pos, ok := state.Positions[f.Symbol]
		if !ok || pos.Qty.LessThan(f.Qty) {
			return nil, fmt.Errorf("%w: %s", ErrNoPosition, f.Symbol)
		}
		state.Cash = state.Cash.Add(cost)
		sellFrom(state.Positions, f)

	default:
		return nil, fmt.Errorf("portfolio: unknown side %q", f.Side)
	}

	if f.Source == models.SourceAgent {
		applyAgentLeg(&state.Agent, f, cost)
	}

	recalcEquity(state)

	trade := models.Trade{
		Timestamp: now,
		Symbol:    f.Symbol,
		Side:      f.Side,
		Qty:       f.Qty,
		Price:     f.Price,
		Source:    f.Source,
	}
	state.Trades = append(state.Trades, trade)
	if len(state.Trades) > maxTrades {
		state.Trades = state.Trades[len(state.Trades)-maxTrades:]
	}

	logEquity(state, now)
	return &trade, nil
}

// buyInto upserts a long position with a volume-weighted entry price.
// Existing stop-loss and risk metadata survive unless the fill carries new
// values; unrelated writes must never clear them.
func buyInto(positions map[string]*models.Position, f Fill, cost decimal.Decimal) {
	pos, ok := positions[f.Symbol]
	if !ok {
		pos = &models.Position{Symbol: f.Symbol}
		positions[f.Symbol] = pos
	}

	newQty := pos.Qty.Add(f.Qty)
	pos.AvgEntry = pos.Qty.Mul(pos.AvgEntry).Add(cost).Div(newQty)
	pos.Qty = newQty
	pos.CurrentPrice = f.Price
	pos.UnrealizedPL = f.Price.Sub(pos.AvgEntry).Mul(newQty)
	if f.StopLoss.IsPositive() {
		pos.StopLoss = f.StopLoss
	}
	if f.RiskScore > 0 {
		pos.RiskScore = f.RiskScore
	}
}

// sellFrom reduces a position, removing it entirely once quantity hits zero.
// The caller has already verified the shares are held.
func sellFrom(positions map[string]*models.Position, f Fill) {
	pos := positions[f.Symbol]
	pos.Qty = pos.Qty.Sub(f.Qty)
	if pos.Qty.IsZero() {
		delete(positions, f.Symbol)
		return
	}
	pos.CurrentPrice = f.Price
	pos.UnrealizedPL = f.Price.Sub(pos.AvgEntry).Mul(pos.Qty)
}

// applyAgentLeg mirrors the fill into the agent's isolated book. An agent
// sell of shares the agent book does not hold is ignored here; the main
// account already recorded the fill and the caller logs the mismatch.
func applyAgentLeg(agent *AgentBook, f Fill, cost decimal.Decimal) {
	if f.Side == models.Buy {
		agent.Allocation.CashUsed = agent.Allocation.CashUsed.Add(cost)
		buyInto(agent.Positions, f, cost)
		return
	}

	pos, ok := agent.Positions[f.Symbol]
	if !ok || pos.Qty.LessThan(f.Qty) {
		return
	}
	agent.Allocation.CashUsed = agent.Allocation.CashUsed.Sub(cost)
	if agent.Allocation.CashUsed.IsNegative() {
		agent.Allocation.CashUsed = decimal.Zero
	}
	sellFrom(agent.Positions, f)
}

func recalcEquity(state *State) {
	value := decimal.Zero
	for _, pos := range state.Positions {
		value = value.Add(pos.Qty.Mul(pos.CurrentPrice))
	}
	state.Equity = state.Cash.Add(value)
	state.BuyingPower = state.Cash
}

// logEquity appends an equity sample when equity changed or a minute passed
// since the last sample, capped at maxEquityPoints.
func logEquity(state *State, now time.Time) {
	if n := len(state.EquityHistory); n > 0 {
		last := state.EquityHistory[n-1]
		if last.Equity.Equal(state.Equity) && now.Sub(last.Timestamp) < equityLogInterval {
			return
		}
	}
	state.EquityHistory = append(state.EquityHistory, models.EquityPoint{
		Timestamp: now,
		Equity:    state.Equity,
	})
	if len(state.EquityHistory) > maxEquityPoints {
		state.EquityHistory = state.EquityHistory[len(state.EquityHistory)-maxEquityPoints:]
	}
}

// SetAllocation replaces the agent's capital ceiling. Re-allocating starts a
// fresh budget: spent capital is forgiven, open agent positions remain.
func (s *Store) SetAllocation(limit decimal.Decimal) error {
	if limit.IsNegative() {
		return fmt.Errorf("portfolio: allocation must not be negative, got %s", limit)
	}
	return s.Update(func(state *State) error {
		state.Agent.Allocation.CapitalLimit = limit
		state.Agent.Allocation.CashUsed = decimal.Zero
		return nil
	})
}

// Allocation returns the current agent allocation.
func (s *Store) Allocation() (models.AgentAllocation, error) {
	var alloc models.AgentAllocation
	err := s.View(func(state *State) error {
		alloc = state.Agent.Allocation
		return nil
	})
	return alloc, err
}

// AgentPosition returns the agent's holding for symbol, or nil.
func (s *Store) AgentPosition(symbol string) (*models.Position, error) {
	var pos *models.Position
	err := s.View(func(state *State) error {
		if p, ok := state.Agent.Positions[symbol]; ok {
			cp := *p
			pos = &cp
		}
		return nil
	})
	return pos, err
}

// AgentSymbols lists symbols currently held by the agent.
func (s *Store) AgentSymbols() ([]string, error) {
	var symbols []string
	err := s.View(func(state *State) error {
		for symbol := range state.Agent.Positions {
			symbols = append(symbols, symbol)
		}
		return nil
	})
	return symbols, err
}

// TradeHistory returns the append-only trade log, oldest first.
func (s *Store) TradeHistory() ([]models.Trade, error) {
	var trades []models.Trade
	err := s.View(func(state *State) error {
		trades = append(trades, state.Trades...)
		return nil
	})
	return trades, err
}

// EquityHistory returns the timestamped equity samples for charting.
func (s *Store) EquityHistory() ([]models.EquityPoint, error) {
	var points []models.EquityPoint
	err := s.View(func(state *State) error {
		points = append(points, state.EquityHistory...)
		return nil
	})
	return points, err
}

// RefreshPrices marks positions to the given prices and re-derives equity.
// Symbols missing from prices keep their last mark.
func (s *Store) RefreshPrices(prices map[string]decimal.Decimal) error {
	return s.Update(func(state *State) error {
		mark(state.Positions, prices)
		mark(state.Agent.Positions, prices)
		recalcEquity(state)
		logEquity(state, s.now())
		return nil
	})
}

func mark(positions map[string]*models.Position, prices map[string]decimal.Decimal) {
	for symbol, pos := range positions {
		price, ok := prices[symbol]
		if !ok || !price.IsPositive() {
			continue
		}
		pos.CurrentPrice = price
		pos.UnrealizedPL = price.Sub(pos.AvgEntry).Mul(pos.Qty)
	}
}

// Replay rebuilds a ledger from scratch by running the transition function
// over a trade log. Replaying the same log always yields an identical state.
func Replay(trades []models.Trade) (*State, error) {
	state := newState()
	for _, t := range trades {
		fill := Fill{
			Symbol: t.Symbol,
			Side:   t.Side,
			Qty:    t.Qty,
			Price:  t.Price,
			Source: t.Source,
		}
		// Replayed agent buys predate the allocation bookkeeping being
		// rebuilt, so lift the ceiling to the recorded spend first.
		if t.Source == models.SourceAgent && t.Side == models.Buy {
			cost := t.Price.Mul(t.Qty)
			needed := state.Agent.Allocation.CashUsed.Add(cost)
			if needed.GreaterThan(state.Agent.Allocation.CapitalLimit) {
				state.Agent.Allocation.CapitalLimit = needed
			}
		}
		if _, err := applyFill(state, fill, t.Timestamp); err != nil {
			return nil, fmt.Errorf("replay trade %s %s %s: %w", t.Side, t.Qty, t.Symbol, err)
		}
	}
	return state, nil
}
