package portfolio

import (
	"sort"

	"finsight/internal/models"

	"github.com/shopspring/decimal"
)

// Snapshot derives the account view from the ledger plus live prices. It is
// computed fresh on every call and never persisted. Symbols missing from
// prices fall back to their last stored mark.
func (s *Store) Snapshot(prices map[string]decimal.Decimal) (*models.AccountSnapshot, error) {
	snap := &models.AccountSnapshot{}
	err := s.View(func(state *State) error {
		snap.Cash = state.Cash
		snap.BuyingPower = state.Cash
		snap.Agent = state.Agent.Allocation

		value := decimal.Zero
		for _, stored := range state.Positions {
			pos := *stored
			if price, ok := prices[pos.Symbol]; ok && price.IsPositive() {
				pos.CurrentPrice = price
				pos.UnrealizedPL = price.Sub(pos.AvgEntry).Mul(pos.Qty)
			}
			value = value.Add(pos.Qty.Mul(pos.CurrentPrice))

			if pos.UnrealizedPL.IsPositive() {
				snap.NetProfit = snap.NetProfit.Add(pos.UnrealizedPL)
			} else {
				snap.NetLoss = snap.NetLoss.Add(pos.UnrealizedPL.Abs())
			}
			snap.Positions = append(snap.Positions, pos)
		}
		snap.Equity = state.Cash.Add(value)
		snap.MaxDrawdown = maxDrawdown(state.EquityHistory)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(snap.Positions, func(i, j int) bool {
		return snap.Positions[i].Symbol < snap.Positions[j].Symbol
	})
	return snap, nil
}

// maxDrawdown is the largest peak-to-trough equity decline in the history.
func maxDrawdown(history []models.EquityPoint) decimal.Decimal {
	peak := decimal.Zero
	worst := decimal.Zero
	for _, p := range history {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		if dd := peak.Sub(p.Equity); dd.GreaterThan(worst) {
			worst = dd
		}
	}
	return worst
}
