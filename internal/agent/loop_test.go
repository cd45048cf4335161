package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"finsight/internal/analyst"
	"finsight/internal/config"
	"finsight/internal/execution"
	"finsight/internal/marketdata"
	"finsight/internal/models"
	"finsight/internal/news"
	"finsight/internal/portfolio"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// stubMarket serves canned bars and snapshots per symbol.
type stubMarket struct {
	bars  map[string][]models.Bar
	price map[string]decimal.Decimal
}

func (m *stubMarket) GetBars(symbol string, lookback int) ([]models.Bar, error) {
	return m.bars[symbol], nil
}

func (m *stubMarket) GetSnapshot(symbol string) (*models.PriceSnapshot, error) {
	return &models.PriceSnapshot{Price: m.price[symbol]}, nil
}

type stubNews struct{}

func (stubNews) GetHeadlines(symbol string) ([]news.Headline, error) { return nil, nil }

// stubInference hands back a fixed recommendation, so the cycle under test is
// fully deterministic.
type stubInference struct {
	rec models.Recommendation
}

func (s *stubInference) Complete(context.Context, analyst.Request) (*models.Recommendation, error) {
	rec := s.rec
	return &rec, nil
}

// stubClock reports a fixed market state.
type stubClock struct {
	open bool
}

func (c stubClock) IsTradable(string, time.Time) bool { return c.open }

// spyNotifier records every message.
type spyNotifier struct {
	messages []string
}

func (n *spyNotifier) Notify(msg string) { n.messages = append(n.messages, msg) }

func (n *spyNotifier) contains(sub string) bool {
	for _, m := range n.messages {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

// flatBars yields enough identical bars to clear the indicator minimum.
func flatBars(price string) []models.Bar {
	p := d(price)
	bars := make([]models.Bar, 60)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		bars[i] = models.Bar{
			Time: day.AddDate(0, 0, i),
			Open: p, High: p.Add(d("1")), Low: p.Sub(d("1")), Close: p,
			Volume: 1000,
		}
	}
	return bars
}

type fixture struct {
	loop     *Loop
	store    *portfolio.Store
	notifier *spyNotifier
	cfgStore *config.AgentConfigStore
}

func newFixture(t *testing.T, symbol, price string, rec models.Recommendation, open bool) *fixture {
	t.Helper()
	dir := t.TempDir()

	store := portfolio.NewStore(filepath.Join(dir, "state.json"), 5*time.Second)

	cfgStore := config.NewAgentConfigStore(filepath.Join(dir, "agent_config.json"))
	if err := cfgStore.Save(config.AgentConfig{
		Enabled:         true,
		Model:           "test-model",
		Watchlist:       []string{symbol},
		CapitalLimit:    d("1000"),
		IntervalMinutes: 5,
	}); err != nil {
		t.Fatalf("save agent config: %v", err)
	}

	market := &stubMarket{
		bars:  map[string][]models.Bar{symbol: flatBars(price)},
		price: map[string]decimal.Decimal{symbol: d(price)},
	}
	notifier := &spyNotifier{}

	loop := New(
		store,
		execution.NewSimulator(store),
		market,
		stubNews{},
		analyst.NewSynthesizer(&stubInference{rec: rec}),
		stubClock{open: open},
		cfgStore,
		notifier,
	)
	return &fixture{loop: loop, store: store, notifier: notifier, cfgStore: cfgStore}
}

func agentQty(t *testing.T, store *portfolio.Store, symbol string) decimal.Decimal {
	t.Helper()
	pos, err := store.AgentPosition(symbol)
	if err != nil {
		t.Fatalf("AgentPosition failed: %v", err)
	}
	if pos == nil {
		return decimal.Zero
	}
	return pos.Qty
}

func TestCycleBuysOnSignal(t *testing.T) {
	fx := newFixture(t, "AAPL", "100", models.Recommendation{
		Action:    models.SignalBuy,
		RiskScore: 1,
		StopLoss:  d("90"),
	}, true)

	fx.loop.Cycle(context.Background())

	// 1000 * 0.20 * 1.0 = 200 allocation -> 2 shares at 100.
	if qty := agentQty(t, fx.store, "AAPL"); !qty.Equal(d("2")) {
		t.Fatalf("agent qty = %s, want 2", qty)
	}

	pos, err := fx.store.AgentPosition("AAPL")
	if err != nil {
		t.Fatalf("AgentPosition failed: %v", err)
	}
	if !pos.StopLoss.Equal(d("90")) || pos.RiskScore != 1 {
		t.Errorf("metadata not recorded: stop %s, risk %d", pos.StopLoss, pos.RiskScore)
	}

	if !fx.notifier.contains("TRADE: BUY") {
		t.Errorf("no trade notification sent: %v", fx.notifier.messages)
	}
}

func TestCycleHoldDoesNothing(t *testing.T) {
	fx := newFixture(t, "AAPL", "100", models.Recommendation{
		Action:    models.SignalHold,
		RiskScore: 5,
	}, true)

	fx.loop.Cycle(context.Background())

	trades, err := fx.store.TradeHistory()
	if err != nil {
		t.Fatalf("TradeHistory failed: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("HOLD produced %d trades, want 0", len(trades))
	}
}

func TestCycleDisabledSkipsExecution(t *testing.T) {
	fx := newFixture(t, "AAPL", "100", models.Recommendation{
		Action:    models.SignalBuy,
		RiskScore: 1,
	}, true)
	if _, err := fx.cfgStore.Update(func(c *config.AgentConfig) { c.Enabled = false }); err != nil {
		t.Fatalf("update config: %v", err)
	}

	fx.loop.Cycle(context.Background())

	if qty := agentQty(t, fx.store, "AAPL"); !qty.IsZero() {
		t.Errorf("disabled agent bought %s shares", qty)
	}
	// Analysis notifications still flow while execution is off.
	if !fx.notifier.contains("[AAPL] BUY") {
		t.Errorf("analysis notification missing: %v", fx.notifier.messages)
	}
}

func TestSellWithoutHoldingSkipped(t *testing.T) {
	fx := newFixture(t, "AAPL", "100", models.Recommendation{
		Action:    models.SignalSell,
		RiskScore: 5,
	}, true)

	fx.loop.Cycle(context.Background())

	trades, err := fx.store.TradeHistory()
	if err != nil {
		t.Fatalf("TradeHistory failed: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("SELL with no holding produced %d trades, want 0", len(trades))
	}
}

func TestStopLossExitWhenMarketOpen(t *testing.T) {
	fx := newFixture(t, "NVDA", "100", models.Recommendation{
		Action:    models.SignalHold,
		RiskScore: 5,
	}, true)

	// Seed an agent position with a stop above the current price.
	if err := fx.store.SetAllocation(d("10000")); err != nil {
		t.Fatalf("SetAllocation failed: %v", err)
	}
	if _, err := fx.store.ApplyFill(portfolio.Fill{
		Symbol: "NVDA", Side: models.Buy, Qty: d("10"), Price: d("120"),
		Source: models.SourceAgent, StopLoss: d("110"), RiskScore: 4,
	}); err != nil {
		t.Fatalf("seed fill failed: %v", err)
	}

	fx.loop.Cycle(context.Background())

	if qty := agentQty(t, fx.store, "NVDA"); !qty.IsZero() {
		t.Fatalf("position not exited after stop breach, qty = %s", qty)
	}
	if !fx.notifier.contains("PANIC SELL") {
		t.Errorf("no panic sell notification: %v", fx.notifier.messages)
	}

	trades, err := fx.store.TradeHistory()
	if err != nil {
		t.Fatalf("TradeHistory failed: %v", err)
	}
	last := trades[len(trades)-1]
	if last.Side != models.Sell || !last.Qty.Equal(d("10")) {
		t.Errorf("exit trade %+v, want full-quantity SELL", last)
	}
}

func TestStopLossDeferredWhenMarketClosed(t *testing.T) {
	fx := newFixture(t, "NVDA", "100", models.Recommendation{
		Action:    models.SignalHold,
		RiskScore: 5,
	}, false)

	if err := fx.store.SetAllocation(d("10000")); err != nil {
		t.Fatalf("SetAllocation failed: %v", err)
	}
	if _, err := fx.store.ApplyFill(portfolio.Fill{
		Symbol: "NVDA", Side: models.Buy, Qty: d("10"), Price: d("120"),
		Source: models.SourceAgent, StopLoss: d("110"), RiskScore: 4,
	}); err != nil {
		t.Fatalf("seed fill failed: %v", err)
	}

	fx.loop.Cycle(context.Background())

	// Monitoring detected the breach but no order may go out off-hours.
	if qty := agentQty(t, fx.store, "NVDA"); !qty.Equal(d("10")) {
		t.Fatalf("closed-market breach still exited, qty = %s", qty)
	}
	if fx.notifier.contains("PANIC SELL") {
		t.Errorf("panic sell announced while market closed: %v", fx.notifier.messages)
	}
}

func TestStopLossUsesTighterOfStoredAndRecommended(t *testing.T) {
	// Stored stop 90 would not trigger at price 100; the fresh analysis
	// recommends 105, which does.
	fx := newFixture(t, "NVDA", "100", models.Recommendation{
		Action:    models.SignalHold,
		RiskScore: 5,
		StopLoss:  d("105"),
	}, true)

	if err := fx.store.SetAllocation(d("10000")); err != nil {
		t.Fatalf("SetAllocation failed: %v", err)
	}
	if _, err := fx.store.ApplyFill(portfolio.Fill{
		Symbol: "NVDA", Side: models.Buy, Qty: d("5"), Price: d("120"),
		Source: models.SourceAgent, StopLoss: d("90"), RiskScore: 4,
	}); err != nil {
		t.Fatalf("seed fill failed: %v", err)
	}

	fx.loop.Cycle(context.Background())

	if qty := agentQty(t, fx.store, "NVDA"); !qty.IsZero() {
		t.Errorf("tighter recommended stop not enforced, qty = %s", qty)
	}
}

func TestAllocationExhaustedSkipsOrder(t *testing.T) {
	fx := newFixture(t, "AAPL", "100", models.Recommendation{
		Action:    models.SignalBuy,
		RiskScore: 1,
	}, true)

	// Consume almost the whole allocation, leaving less than one share's
	// worth available.
	if err := fx.store.SetAllocation(d("1000")); err != nil {
		t.Fatalf("SetAllocation failed: %v", err)
	}
	if _, err := fx.store.ApplyFill(portfolio.Fill{
		Symbol: "NVDA", Side: models.Buy, Qty: d("9.5"), Price: d("100"),
		Source: models.SourceAgent,
	}); err != nil {
		t.Fatalf("seed fill failed: %v", err)
	}

	before, err := fx.store.TradeHistory()
	if err != nil {
		t.Fatalf("TradeHistory failed: %v", err)
	}

	fx.loop.Cycle(context.Background())

	// The order is skipped outright, never resized down to fit.
	after, err := fx.store.TradeHistory()
	if err != nil {
		t.Fatalf("TradeHistory failed: %v", err)
	}
	if len(after) != len(before) {
		t.Errorf("exhausted allocation still produced %d new trades", len(after)-len(before))
	}
	if qty := agentQty(t, fx.store, "AAPL"); !qty.IsZero() {
		t.Errorf("bought %s AAPL with exhausted allocation", qty)
	}
}

func TestCycleMonitorsHeldSymbolsOffWatchlist(t *testing.T) {
	fx := newFixture(t, "AAPL", "100", models.Recommendation{
		Action:    models.SignalHold,
		RiskScore: 5,
	}, true)

	if err := fx.store.SetAllocation(d("10000")); err != nil {
		t.Fatalf("SetAllocation failed: %v", err)
	}
	if _, err := fx.store.ApplyFill(portfolio.Fill{
		Symbol: "TSLA", Side: models.Buy, Qty: d("2"), Price: d("200"),
		Source: models.SourceAgent,
	}); err != nil {
		t.Fatalf("seed fill failed: %v", err)
	}

	cfg := fx.cfgStore.Load()
	symbols := fx.loop.cycleSymbols(cfg)

	found := false
	for _, s := range symbols {
		if s == "TSLA" {
			found = true
		}
	}
	if !found {
		t.Errorf("held TSLA not monitored, cycle symbols = %v", symbols)
	}
	if symbols[0] != "AAPL" {
		t.Errorf("watchlist order not preserved, got %v", symbols)
	}
}

func TestSyncAllocationPushesConfigChange(t *testing.T) {
	fx := newFixture(t, "AAPL", "100", models.Recommendation{
		Action:    models.SignalHold,
		RiskScore: 5,
	}, true)

	if err := fx.loop.syncAllocation(fx.cfgStore.Load()); err != nil {
		t.Fatalf("syncAllocation failed: %v", err)
	}

	alloc, err := fx.store.Allocation()
	if err != nil {
		t.Fatalf("Allocation failed: %v", err)
	}
	if !alloc.CapitalLimit.Equal(d("1000")) {
		t.Errorf("capital limit = %s, want 1000 from config", alloc.CapitalLimit)
	}
}

// errMarket fails every fetch with a fixed error.
type errMarket struct {
	err error
}

func (m errMarket) GetBars(string, int) ([]models.Bar, error) { return nil, m.err }

func (m errMarket) GetSnapshot(string) (*models.PriceSnapshot, error) { return nil, m.err }

func TestThrottledProviderSkipsSymbolQuietly(t *testing.T) {
	fx := newFixture(t, "AAPL", "100", models.Recommendation{
		Action:    models.SignalBuy,
		RiskScore: 1,
	}, true)
	cfg := fx.cfgStore.Load()

	fx.loop.market = errMarket{err: fmt.Errorf("fetch history for AAPL: %w", marketdata.ErrRateLimited)}
	if err := fx.loop.processSymbol(context.Background(), cfg, "AAPL"); err != nil {
		t.Fatalf("a throttled provider should be a quiet skip, got %v", err)
	}

	// Other provider failures still surface to the cycle.
	fx.loop.market = errMarket{err: errors.New("connection refused")}
	if err := fx.loop.processSymbol(context.Background(), cfg, "AAPL"); err == nil {
		t.Fatal("a genuine fetch failure should be reported")
	}
}

func TestTighterStop(t *testing.T) {
	cases := []struct {
		stored, recommended, want string
	}{
		{"90", "105", "105"},
		{"105", "90", "105"},
		{"0", "95", "95"},
		{"95", "0", "95"},
		{"0", "0", "0"},
	}
	for _, tc := range cases {
		if got := tighterStop(d(tc.stored), d(tc.recommended)); !got.Equal(d(tc.want)) {
			t.Errorf("tighterStop(%s, %s) = %s, want %s", tc.stored, tc.recommended, got, tc.want)
		}
	}
}
