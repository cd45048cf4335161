package execution

import (
	"errors"
	"fmt"

	"finsight/internal/models"
	"finsight/internal/portfolio"
)

// Simulator fills every order immediately at the provided reference price.
// No slippage, no external calls; all effects happen through the store, so
// a simulated run exercises the same ledger path as live trading.
type Simulator struct {
	store *portfolio.Store
}

var _ Engine = (*Simulator)(nil)

func NewSimulator(store *portfolio.Store) *Simulator {
	return &Simulator{store: store}
}

func (s *Simulator) Mode() string { return "SIMULATION" }

func (s *Simulator) Submit(req Request) (*models.OrderResult, error) {
	if !req.Price.IsPositive() {
		return nil, fmt.Errorf("execution: no reference price for %s", req.Symbol)
	}

	_, err := s.store.ApplyFill(portfolio.Fill{
		Symbol:    req.Symbol,
		Side:      req.Side,
		Qty:       req.Qty,
		Price:     req.Price,
		Source:    req.Source,
		StopLoss:  req.StopLoss,
		RiskScore: req.RiskScore,
	})
	switch {
	case err == nil:
	case errors.Is(err, portfolio.ErrInsufficientFunds),
		errors.Is(err, portfolio.ErrAllocationExhausted),
		errors.Is(err, portfolio.ErrNoPosition):
		// Rejected by the ledger, no partial side effects occurred.
		return &models.OrderResult{
			Status: models.OrderRejected,
			Reason: err.Error(),
		}, nil
	default:
		return nil, err
	}

	return &models.OrderResult{
		Status:    models.OrderFilled,
		FillPrice: req.Price,
	}, nil
}

func (s *Simulator) Reconcile() error { return nil }
