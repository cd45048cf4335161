// Package agent runs the autonomous trading cycle: every interval it walks
// the watchlist plus held positions, synthesizes a signal per symbol, sizes
// and submits orders, and enforces stop-loss exits. One symbol failing never
// aborts the cycle for the others.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"finsight/internal/analyst"
	"finsight/internal/config"
	"finsight/internal/execution"
	"finsight/internal/indicators"
	"finsight/internal/marketdata"
	"finsight/internal/models"
	"finsight/internal/news"
	"finsight/internal/portfolio"

	"github.com/shopspring/decimal"
)

const barLookback = 100

// Loop is the cycle orchestrator. All persistent effects go through the
// store; all blocking collaborator calls happen before any critical section.
type Loop struct {
	store    *portfolio.Store
	engine   execution.Engine
	market   marketdata.Source
	news     news.Source
	synth    *analyst.Synthesizer
	clock    execution.Clock
	cfg      *config.AgentConfigStore
	notifier Notifier
	now      func() time.Time
}

func New(store *portfolio.Store, engine execution.Engine, market marketdata.Source, newsSource news.Source, synth *analyst.Synthesizer, clock execution.Clock, cfg *config.AgentConfigStore, notifier Notifier) *Loop {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Loop{
		store:    store,
		engine:   engine,
		market:   market,
		news:     newsSource,
		synth:    synth,
		clock:    clock,
		cfg:      cfg,
		notifier: notifier,
		now:      time.Now,
	}
}

// Run executes cycles until ctx is canceled. The configuration is re-read
// before every cycle, so watchlist, model or interval changes apply on the
// next tick without a restart.
func (l *Loop) Run(ctx context.Context) {
	log.Printf("Agent loop starting (%s mode)", l.engine.Mode())
	l.Cycle(ctx)

	for {
		interval := l.cfg.Load().Interval()
		select {
		case <-ctx.Done():
			log.Println("Agent loop stopping...")
			return
		case <-time.After(interval):
			l.Cycle(ctx)
		}
	}
}

// Cycle processes every symbol in watchlist union held positions, each
// independently, then reconciles pending live orders.
func (l *Loop) Cycle(ctx context.Context) {
	cfg := l.cfg.Load()

	if err := l.syncAllocation(cfg); err != nil {
		log.Printf("ERROR: sync agent allocation: %v", err)
	}

	for _, symbol := range l.cycleSymbols(cfg) {
		if ctx.Err() != nil {
			return
		}
		if err := l.processSymbol(ctx, cfg, symbol); err != nil {
			log.Printf("WARNING: [%s] symbol skipped this cycle: %v", symbol, err)
		}
	}

	if err := l.engine.Reconcile(); err != nil {
		log.Printf("WARNING: order reconciliation: %v", err)
	}

	log.Printf("Cycle complete. Next run in %s.", cfg.Interval())
}

// cycleSymbols is watchlist union agent-held positions, watchlist order
// first, so positions dropped from the watchlist keep being monitored.
func (l *Loop) cycleSymbols(cfg config.AgentConfig) []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, s := range cfg.Watchlist {
		if !seen[s] {
			seen[s] = true
			symbols = append(symbols, s)
		}
	}

	held, err := l.store.AgentSymbols()
	if err != nil {
		log.Printf("ERROR: list held positions: %v", err)
		return symbols
	}
	for _, s := range held {
		if !seen[s] {
			seen[s] = true
			symbols = append(symbols, s)
		}
	}
	return symbols
}

// syncAllocation pushes a changed capital limit from the config into the
// store's allocation record. The config value wins every cycle: a limit set
// through the allocation endpoint is overwritten on the next tick, and the
// overwrite resets CashUsed to zero.
func (l *Loop) syncAllocation(cfg config.AgentConfig) error {
	if !cfg.CapitalLimit.IsPositive() {
		return nil
	}
	alloc, err := l.store.Allocation()
	if err != nil {
		return err
	}
	if alloc.CapitalLimit.Equal(cfg.CapitalLimit) {
		return nil
	}
	log.Printf("Agent capital limit changed: %s -> %s", alloc.CapitalLimit, cfg.CapitalLimit)
	return l.store.SetAllocation(cfg.CapitalLimit)
}

// processSymbol runs one full pass for a symbol: fetch, synthesize, enforce
// stops, gate, size, execute. Returned errors are contained by the caller.
func (l *Loop) processSymbol(ctx context.Context, cfg config.AgentConfig, symbol string) error {
	// Fetch everything up front; no network call may happen once the
	// store's critical section is entered.
	bars, err := l.market.GetBars(symbol, barLookback)
	if err != nil {
		if errors.Is(err, marketdata.ErrRateLimited) {
			log.Printf("[%s] data provider throttled, retrying next cycle", symbol)
			return nil
		}
		return fmt.Errorf("fetch bars: %w", err)
	}
	snapshot, err := l.market.GetSnapshot(symbol)
	if err != nil {
		if errors.Is(err, marketdata.ErrRateLimited) {
			log.Printf("[%s] data provider throttled, retrying next cycle", symbol)
			return nil
		}
		return fmt.Errorf("fetch snapshot: %w", err)
	}

	ind, err := indicators.Compute(bars)
	if err != nil {
		return fmt.Errorf("compute indicators: %w", err)
	}
	support := indicators.RecentSupport(bars, 10)

	headlines, err := l.news.GetHeadlines(symbol)
	if err != nil {
		// Headlines are optional context; synthesis proceeds without them.
		log.Printf("WARNING: [%s] news fetch failed: %v", symbol, err)
		headlines = nil
	}

	rec := l.synth.Synthesize(ctx, symbol, *snapshot, ind, headlines, support, cfg.Model)
	l.notifier.Notify(fmt.Sprintf("[%s] %s | Risk %d/10 | SL %s | %s",
		symbol, rec.Action, rec.RiskScore, rec.StopLoss.StringFixed(2), rec.Rationale))

	// Safety first: a breached stop exits the whole position before any
	// strategy-selected trade is considered.
	exited, err := l.enforceStopLoss(symbol, snapshot.Price, rec)
	if err != nil {
		return fmt.Errorf("stop-loss enforcement: %w", err)
	}
	if exited {
		return nil
	}

	if rec.Action == models.SignalHold {
		return nil
	}
	if !cfg.Enabled {
		log.Printf("[%s] autonomous execution disabled, skipping %s", symbol, rec.Action)
		return nil
	}

	return l.executeSignal(symbol, snapshot.Price, rec)
}

// enforceStopLoss submits an unconditional full-quantity exit when the price
// has breached the active stop. The strategy gate does not apply; the market
// clock still does, so gated assets exit on the next session open. A failed
// or deferred exit is retried every cycle while the breach persists.
func (l *Loop) enforceStopLoss(symbol string, price decimal.Decimal, rec *models.Recommendation) (bool, error) {
	pos, err := l.store.AgentPosition(symbol)
	if err != nil {
		return false, err
	}
	if pos == nil || !pos.Qty.IsPositive() {
		return false, nil
	}

	activeStop := tighterStop(pos.StopLoss, rec.StopLoss)
	if !activeStop.IsPositive() || price.GreaterThan(activeStop) {
		return false, nil
	}

	if !l.clock.IsTradable(symbol, l.now()) {
		log.Printf("[%s] stop-loss breached (price %s <= SL %s) but market is closed; exit deferred to next session",
			symbol, price.StringFixed(2), activeStop.StringFixed(2))
		return false, nil
	}

	l.notifier.Notify(fmt.Sprintf("PANIC SELL: stop-loss breached for %s at %s (SL %s)",
		symbol, price.StringFixed(2), activeStop.StringFixed(2)))

	result, err := l.engine.Submit(execution.Request{
		Symbol: symbol,
		Side:   models.Sell,
		Qty:    pos.Qty,
		Price:  price,
		Source: models.SourceAgent,
	})
	if err != nil {
		return false, err
	}
	if result.Status == models.OrderRejected {
		return false, fmt.Errorf("stop-loss exit rejected: %s", result.Reason)
	}
	return true, nil
}

// tighterStop picks the safer (higher, for longs) of the stored stop and the
// freshly recommended one.
func tighterStop(stored, recommended decimal.Decimal) decimal.Decimal {
	if stored.IsPositive() && recommended.IsPositive() {
		if stored.GreaterThan(recommended) {
			return stored
		}
		return recommended
	}
	if stored.IsPositive() {
		return stored
	}
	return recommended
}

// executeSignal gates, sizes and submits a BUY or SELL recommendation under
// the agent's capital isolation.
func (l *Loop) executeSignal(symbol string, price decimal.Decimal, rec *models.Recommendation) error {
	if !l.clock.IsTradable(symbol, l.now()) {
		log.Printf("[%s] market closed, %s not submitted", symbol, rec.Action)
		return nil
	}
	if !price.IsPositive() {
		return fmt.Errorf("invalid price %s", price)
	}

	var req execution.Request
	switch rec.Action {
	case models.SignalBuy:
		alloc, err := l.store.Allocation()
		if err != nil {
			return err
		}
		available := alloc.Available()

		qty := execution.Size(rec.RiskScore, available, price)
		if qty.IsZero() {
			log.Printf("[%s] allocation exhausted: available %s cannot cover a position at %s, order skipped",
				symbol, available.StringFixed(2), price.StringFixed(2))
			return nil
		}
		// Orders are skipped, never resized, when they would breach the
		// agent's remaining allocation.
		if cost := qty.Mul(price); cost.GreaterThan(available) {
			log.Printf("[%s] allocation exhausted: order value %s exceeds available %s, order skipped",
				symbol, cost.StringFixed(2), available.StringFixed(2))
			return nil
		}

		req = execution.Request{
			Symbol:    symbol,
			Side:      models.Buy,
			Qty:       qty,
			Price:     price,
			Source:    models.SourceAgent,
			StopLoss:  rec.StopLoss,
			RiskScore: rec.RiskScore,
		}

	case models.SignalSell:
		pos, err := l.store.AgentPosition(symbol)
		if err != nil {
			return err
		}
		if pos == nil || !pos.Qty.IsPositive() {
			log.Printf("[%s] SELL signal but agent holds no shares, skipping", symbol)
			return nil
		}
		req = execution.Request{
			Symbol: symbol,
			Side:   models.Sell,
			Qty:    pos.Qty,
			Price:  price,
			Source: models.SourceAgent,
		}

	default:
		return nil
	}

	result, err := l.engine.Submit(req)
	if err != nil {
		return fmt.Errorf("submit %s: %w", req.Side, err)
	}
	if result.Status == models.OrderRejected {
		log.Printf("[%s] %s rejected: %s", symbol, req.Side, result.Reason)
		return nil
	}

	l.notifier.Notify(fmt.Sprintf("TRADE: %s %s %s @ %s (risk %d/10, SL %s, %s)",
		req.Side, req.Qty, symbol, price.StringFixed(2), rec.RiskScore, rec.StopLoss.StringFixed(2), result.Status))
	return nil
}
