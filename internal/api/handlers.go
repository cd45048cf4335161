package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"finsight/internal/config"
	"finsight/internal/execution"
	"finsight/internal/indicators"
	"finsight/internal/models"
	"finsight/internal/portfolio"
	"finsight/internal/strategy"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "FinSight Agent",
		"mode":    s.engine.Mode(),
	})
}

// brokerageView is implemented by engines whose account of record is the
// brokerage, not the local ledger. The simulator does not implement it; its
// ledger is authoritative.
type brokerageView interface {
	Account() (*models.AccountSnapshot, error)
	Positions() ([]models.Position, error)
}

// accountSnapshot picks the account of record: the brokerage in live mode,
// the local store otherwise.
func (s *Server) accountSnapshot() (*models.AccountSnapshot, error) {
	if broker, ok := s.engine.(brokerageView); ok {
		return broker.Account()
	}
	s.maybeRefreshPrices()
	return s.store.Snapshot(nil)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	snap, err := s.accountSnapshot()
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "active",
		"mode":             s.engine.Mode(),
		"equity":           snap.Equity,
		"buying_power":     snap.BuyingPower,
		"cash":             snap.Cash,
		"currency":         "USD",
		"positions":        snap.Positions,
		"agent_allocation": snap.Agent,
		"net_profit":       snap.NetProfit,
		"net_loss":         snap.NetLoss,
		"max_drawdown":     snap.MaxDrawdown,
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if broker, ok := s.engine.(brokerageView); ok {
		positions, err := broker.Positions()
		if err != nil {
			respondError(w, http.StatusBadGateway, err)
			return
		}
		respondJSON(w, http.StatusOK, positions)
		return
	}

	snap, err := s.store.Snapshot(nil)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, snap.Positions)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.TradeHistory()
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, trades)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	points, err := s.store.EquityHistory()
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, points)
}

type tradeRequest struct {
	Ticker   string            `json:"ticker"`
	Qty      decimal.Decimal   `json:"qty"`
	Side     string            `json:"side"`
	Strategy strategy.Strategy `json:"strategy"`
}

// handleTrade executes a manual trade after the strategy precondition check.
// A denied precondition returns a rejected result with the reason and has no
// side effects.
func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	side, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if !req.Qty.IsPositive() {
		respondError(w, http.StatusBadRequest, errors.New("qty must be positive"))
		return
	}

	snapshot, err := s.market.GetSnapshot(req.Ticker)
	if err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}

	// Indicator-driven strategies need the computed set; plain market and
	// override orders do not.
	var ind *indicators.Set
	var rec *models.Recommendation
	switch req.Strategy {
	case strategy.Market, strategy.ManualOverride, "":
	default:
		bars, err := s.market.GetBars(req.Ticker, 100)
		if err == nil {
			ind, err = indicators.Compute(bars)
		}
		if err != nil {
			respondJSON(w, http.StatusOK, map[string]string{
				"status": "rejected",
				"reason": fmt.Sprintf("strategy %s needs indicators: %v", req.Strategy, err),
			})
			return
		}
		if req.Strategy == strategy.AIOptimized {
			headlines, _ := s.news.GetHeadlines(req.Ticker)
			support := indicators.RecentSupport(bars, 10)
			rec = s.synth.Synthesize(r.Context(), req.Ticker, *snapshot, ind, headlines, support, s.cfg.Load().Model)
		}
	}

	decision := strategy.Evaluate(req.Strategy, side, ind, snapshot.Price, rec)
	if !decision.Allowed {
		respondJSON(w, http.StatusOK, map[string]string{
			"status": "rejected",
			"reason": decision.Reason,
		})
		return
	}

	result, err := s.engine.Submit(execution.Request{
		Symbol: req.Ticker,
		Side:   side,
		Qty:    req.Qty,
		Price:  snapshot.Price,
		Source: models.SourceManual,
	})
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type analyzeRequest struct {
	Ticker string `json:"ticker"`
	Model  string `json:"model"`
}

// handleAnalyze runs one on-demand synthesis pass for a symbol.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	bars, err := s.market.GetBars(req.Ticker, 100)
	if err != nil {
		respondError(w, http.StatusNotFound, fmt.Errorf("no data found for ticker %s: %w", req.Ticker, err))
		return
	}
	snapshot, err := s.market.GetSnapshot(req.Ticker)
	if err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}
	ind, err := indicators.Compute(bars)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}

	headlines, err := s.news.GetHeadlines(req.Ticker)
	if err != nil {
		log.Printf("WARNING: [%s] news fetch failed: %v", req.Ticker, err)
	}

	model := req.Model
	if model == "" {
		model = s.cfg.Load().Model
	}
	support := indicators.RecentSupport(bars, 10)
	rec := s.synth.Synthesize(r.Context(), req.Ticker, *snapshot, ind, headlines, support, model)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ticker":     req.Ticker,
		"signal":     rec.Action,
		"risk_score": rec.RiskScore,
		"stop_loss":  rec.StopLoss,
		"reasoning":  rec.Rationale,
		"market_data_summary": map[string]interface{}{
			"price":  snapshot.Price,
			"change": snapshot.ChangePct,
			"volume": snapshot.Volume,
		},
		"indicators": ind,
	})
}

func (s *Server) handleMarketStatus(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	snapshot, err := s.market.GetSnapshot(symbol)
	if err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}

	resp := map[string]interface{}{
		"ticker": symbol,
		"price":  snapshot.Price,
		"change": snapshot.ChangePct,
		"volume": snapshot.Volume,
	}
	if bars, err := s.market.GetBars(symbol, 100); err == nil {
		if ind, err := indicators.Compute(bars); err == nil {
			resp["indicators"] = ind
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetAgentConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.cfg.Load())
}

type agentConfigRequest struct {
	Enabled         *bool            `json:"enabled"`
	Model           *string          `json:"model"`
	Watchlist       []string         `json:"watchlist"`
	AgentCapital    *decimal.Decimal `json:"agent_capital"`
	IntervalMinutes *int             `json:"interval_minutes"`
}

// handleUpdateAgentConfig merges the given fields into the persisted config.
// The agent loop picks the result up on its next cycle.
func (s *Server) handleUpdateAgentConfig(w http.ResponseWriter, r *http.Request) {
	var req agentConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	updated, err := s.cfg.Update(func(cfg *config.AgentConfig) {
		if req.Enabled != nil {
			cfg.Enabled = *req.Enabled
		}
		if req.Model != nil {
			cfg.Model = *req.Model
		}
		if req.Watchlist != nil {
			cfg.Watchlist = req.Watchlist
		}
		if req.AgentCapital != nil {
			cfg.CapitalLimit = *req.AgentCapital
		}
		if req.IntervalMinutes != nil {
			cfg.IntervalMinutes = *req.IntervalMinutes
		}
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "config": updated})
}

type allocationRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleSetAllocation(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.store.SetAllocation(req.Amount); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "allocated": req.Amount})
}

// maybeRefreshPrices marks positions to market at most once per minute,
// in the background so reads never block on the data provider.
func (s *Server) maybeRefreshPrices() {
	s.mu.Lock()
	if time.Since(s.lastRefresh) < priceRefreshInterval {
		s.mu.Unlock()
		return
	}
	s.lastRefresh = time.Now()
	s.mu.Unlock()

	go func() {
		var symbols []string
		err := s.store.View(func(state *portfolio.State) error {
			for symbol := range state.Positions {
				symbols = append(symbols, symbol)
			}
			for symbol := range state.Agent.Positions {
				symbols = append(symbols, symbol)
			}
			return nil
		})
		if err != nil {
			log.Printf("WARNING: price refresh: read positions: %v", err)
			return
		}

		prices := make(map[string]decimal.Decimal)
		for _, symbol := range symbols {
			snapshot, err := s.market.GetSnapshot(symbol)
			if err != nil {
				log.Printf("WARNING: price refresh for %s: %v", symbol, err)
				continue
			}
			prices[symbol] = snapshot.Price
		}
		if len(prices) == 0 {
			return
		}
		if err := s.store.RefreshPrices(prices); err != nil {
			log.Printf("WARNING: price refresh: persist marks: %v", err)
		}
	}()
}

func parseSide(raw string) (models.Side, error) {
	switch models.Side(strings.ToUpper(raw)) {
	case models.Buy:
		return models.Buy, nil
	case models.Sell:
		return models.Sell, nil
	}
	return "", fmt.Errorf("invalid side %q", raw)
}

// statusFor maps store errors onto HTTP statuses: lock timeouts are
// retryable, corruption is a server fault, the rest are client-visible
// rejections.
func statusFor(err error) int {
	switch {
	case errors.Is(err, portfolio.ErrLockTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, portfolio.ErrCorruptState):
		return http.StatusInternalServerError
	case errors.Is(err, portfolio.ErrInsufficientFunds),
		errors.Is(err, portfolio.ErrAllocationExhausted),
		errors.Is(err, portfolio.ErrNoPosition):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
