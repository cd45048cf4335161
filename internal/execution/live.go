package execution

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"finsight/internal/models"
	"finsight/internal/portfolio"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
)

// LiveBroker forwards orders to Alpaca. Orders that come back unfilled are
// tracked and reconciled by polling on later cycles; a PENDING result is
// never assumed filled.
type LiveBroker struct {
	client  *alpaca.Client
	store   *portfolio.Store
	mu      sync.Mutex
	pending map[string]Request // order ID -> original request
}

var _ Engine = (*LiveBroker)(nil)

// NewLiveBroker builds the Alpaca-backed engine. The SDK client reads
// APCA_API_KEY_ID / APCA_API_SECRET_KEY from the environment.
func NewLiveBroker(store *portfolio.Store) *LiveBroker {
	return &LiveBroker{
		client:  alpaca.NewClient(alpaca.ClientOpts{}),
		store:   store,
		pending: make(map[string]Request),
	}
}

func (b *LiveBroker) Mode() string { return "ALPACA" }

func (b *LiveBroker) Submit(req Request) (*models.OrderResult, error) {
	order, err := b.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      req.Symbol,
		Qty:         &req.Qty,
		Side:        alpaca.Side(strings.ToLower(string(req.Side))),
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	})
	if err != nil {
		return nil, fmt.Errorf("brokerage submit %s %s: %w", req.Side, req.Symbol, err)
	}

	if order.Status == "filled" && order.FilledAvgPrice != nil {
		return b.recordFill(req, order)
	}

	b.mu.Lock()
	b.pending[order.ID] = req
	b.mu.Unlock()

	return &models.OrderResult{
		Status:  models.OrderPending,
		OrderID: order.ID,
	}, nil
}

// Reconcile polls every tracked order and records fills in the ledger.
// Terminal non-fill states are dropped with a log line.
func (b *LiveBroker) Reconcile() error {
	b.mu.Lock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		order, err := b.client.GetOrder(id)
		if err != nil {
			log.Printf("WARNING: reconcile: fetch order %s: %v", id, err)
			continue
		}

		switch order.Status {
		case "filled":
			b.mu.Lock()
			req, ok := b.pending[id]
			delete(b.pending, id)
			b.mu.Unlock()
			if ok && order.FilledAvgPrice != nil {
				if _, err := b.recordFill(req, order); err != nil {
					log.Printf("ERROR: reconcile: record fill for order %s: %v", id, err)
				}
			}
		case "canceled", "expired", "rejected":
			b.mu.Lock()
			delete(b.pending, id)
			b.mu.Unlock()
			log.Printf("WARNING: order %s for %s ended %s without filling", id, order.Symbol, order.Status)
		}
	}
	return nil
}

// Account serves the account view from the brokerage itself; in live mode
// the local ledger only tracks the agent sub-account, so cash, equity and
// buying power come from Alpaca. The agent allocation stays local.
func (b *LiveBroker) Account() (*models.AccountSnapshot, error) {
	acct, err := b.client.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("brokerage account: %w", err)
	}
	positions, err := b.Positions()
	if err != nil {
		return nil, err
	}
	alloc, err := b.store.Allocation()
	if err != nil {
		return nil, err
	}

	snap := &models.AccountSnapshot{
		Cash:        acct.Cash,
		Equity:      acct.Equity,
		BuyingPower: acct.BuyingPower,
		Positions:   positions,
		Agent:       alloc,
	}
	for _, pos := range positions {
		if pos.UnrealizedPL.IsPositive() {
			snap.NetProfit = snap.NetProfit.Add(pos.UnrealizedPL)
		} else {
			snap.NetLoss = snap.NetLoss.Add(pos.UnrealizedPL.Abs())
		}
	}
	return snap, nil
}

// Positions lists the open brokerage positions, sorted by symbol.
func (b *LiveBroker) Positions() ([]models.Position, error) {
	alpacaPositions, err := b.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("brokerage positions: %w", err)
	}

	positions := make([]models.Position, 0, len(alpacaPositions))
	for _, p := range alpacaPositions {
		current := decimal.Zero
		if p.CurrentPrice != nil {
			current = *p.CurrentPrice
		}
		unrealized := decimal.Zero
		if p.UnrealizedPL != nil {
			unrealized = *p.UnrealizedPL
		}
		positions = append(positions, models.Position{
			Symbol:       p.Symbol,
			Qty:          p.Qty,
			AvgEntry:     p.AvgEntryPrice,
			CurrentPrice: current,
			UnrealizedPL: unrealized,
		})
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
	return positions, nil
}

func (b *LiveBroker) recordFill(req Request, order *alpaca.Order) (*models.OrderResult, error) {
	fillPrice := *order.FilledAvgPrice
	_, err := b.store.ApplyFill(portfolio.Fill{
		Symbol:    req.Symbol,
		Side:      req.Side,
		Qty:       req.Qty,
		Price:     fillPrice,
		Source:    req.Source,
		StopLoss:  req.StopLoss,
		RiskScore: req.RiskScore,
	})
	if err != nil {
		// The broker filled but our ledger refused: surface loudly, the
		// books now disagree with the brokerage until an operator acts.
		return nil, fmt.Errorf("record brokerage fill for %s: %w", req.Symbol, err)
	}
	return &models.OrderResult{
		Status:    models.OrderFilled,
		FillPrice: fillPrice,
		OrderID:   order.ID,
	}, nil
}
