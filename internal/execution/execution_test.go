package execution

import (
	"path/filepath"
	"testing"
	"time"

	"finsight/internal/models"
	"finsight/internal/portfolio"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestSizeMonotonicInRisk(t *testing.T) {
	available := d("10000")
	price := d("50")

	prev := Size(1, available, price)
	if prev.IsZero() {
		t.Fatal("risk 1 with ample capital sized to zero")
	}
	for risk := 2; risk <= 10; risk++ {
		qty := Size(risk, available, price)
		if qty.GreaterThan(prev) {
			t.Errorf("size grew with risk: risk %d -> %s, risk %d -> %s", risk-1, prev, risk, qty)
		}
		prev = qty
	}
}

func TestSizeMonotonicInCapital(t *testing.T) {
	price := d("50")
	prev := decimal.Zero
	for _, capital := range []string{"100", "1000", "5000", "50000"} {
		qty := Size(5, d(capital), price)
		if qty.LessThan(prev) {
			t.Errorf("size shrank with more capital: %s -> %s at capital %s", prev, qty, capital)
		}
		prev = qty
	}
}

func TestSizeKnownValues(t *testing.T) {
	// 10000 * 0.20 * (11-1)/10 = 2000 -> 40 shares at 50.
	if qty := Size(1, d("10000"), d("50")); !qty.Equal(d("40")) {
		t.Errorf("risk 1: qty = %s, want 40", qty)
	}
	// 10000 * 0.20 * (11-10)/10 = 200 -> 4 shares at 50.
	if qty := Size(10, d("10000"), d("50")); !qty.Equal(d("4")) {
		t.Errorf("risk 10: qty = %s, want 4", qty)
	}
}

func TestSizePromotesToOneShare(t *testing.T) {
	// Allocation 500*0.2*0.1 = 10 covers no share at 400, but capital does.
	if qty := Size(10, d("500"), d("400")); !qty.Equal(d("1")) {
		t.Errorf("qty = %s, want 1 (promote when capital covers a share)", qty)
	}
	// Capital below one share: zero, never fractional.
	if qty := Size(10, d("300"), d("400")); !qty.IsZero() {
		t.Errorf("qty = %s, want 0 when capital cannot cover a share", qty)
	}
}

func TestSizeDegenerateInputs(t *testing.T) {
	if qty := Size(5, decimal.Zero, d("50")); !qty.IsZero() {
		t.Errorf("zero capital sized %s, want 0", qty)
	}
	if qty := Size(5, d("1000"), decimal.Zero); !qty.IsZero() {
		t.Errorf("zero price sized %s, want 0", qty)
	}
	// Out-of-range risk is clamped, not rejected.
	if qty := Size(0, d("10000"), d("50")); !qty.Equal(Size(1, d("10000"), d("50"))) {
		t.Error("risk 0 should behave like risk 1")
	}
	if qty := Size(15, d("10000"), d("50")); !qty.Equal(Size(10, d("10000"), d("50"))) {
		t.Error("risk 15 should behave like risk 10")
	}
}

func TestSessionClock(t *testing.T) {
	clock, err := NewSessionClock()
	if err != nil {
		t.Fatalf("NewSessionClock failed: %v", err)
	}
	ny, _ := time.LoadLocation("America/New_York")

	cases := []struct {
		name   string
		symbol string
		at     time.Time
		want   bool
	}{
		{"weekday mid session", "AAPL", time.Date(2024, 6, 3, 12, 0, 0, 0, ny), true},
		{"weekday open bell", "AAPL", time.Date(2024, 6, 3, 9, 30, 0, 0, ny), true},
		{"weekday just before open", "AAPL", time.Date(2024, 6, 3, 9, 29, 0, 0, ny), false},
		{"weekday close", "AAPL", time.Date(2024, 6, 3, 16, 0, 0, 0, ny), false},
		{"weekday after hours", "AAPL", time.Date(2024, 6, 3, 20, 0, 0, 0, ny), false},
		{"saturday", "AAPL", time.Date(2024, 6, 1, 12, 0, 0, 0, ny), false},
		{"sunday", "AAPL", time.Date(2024, 6, 2, 12, 0, 0, 0, ny), false},
		{"crypto on sunday night", "BTC-USD", time.Date(2024, 6, 2, 3, 0, 0, 0, ny), true},
		{"crypto usdt pair", "ETH-USDT", time.Date(2024, 6, 1, 0, 0, 0, 0, ny), true},
		{"utc instant converted to eastern", "AAPL", time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := clock.IsTradable(tc.symbol, tc.at); got != tc.want {
				t.Errorf("IsTradable(%s, %s) = %v, want %v", tc.symbol, tc.at, got, tc.want)
			}
		})
	}
}

func TestIsCrypto(t *testing.T) {
	for symbol, want := range map[string]bool{
		"BTC-USD":  true,
		"ETH-USDC": true,
		"SOL-EUR":  true,
		"AAPL":     false,
		"BRK-B":    false,
	} {
		if got := IsCrypto(symbol); got != want {
			t.Errorf("IsCrypto(%s) = %v, want %v", symbol, got, want)
		}
	}
}

func newSimulator(t *testing.T) (*Simulator, *portfolio.Store) {
	t.Helper()
	store := portfolio.NewStore(filepath.Join(t.TempDir(), "state.json"), 5*time.Second)
	return NewSimulator(store), store
}

func TestSimulatorFillRecordsTrade(t *testing.T) {
	sim, store := newSimulator(t)

	res, err := sim.Submit(Request{
		Symbol: "AAPL",
		Side:   models.Buy,
		Qty:    d("10"),
		Price:  d("150"),
		Source: models.SourceManual,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Status != models.OrderFilled {
		t.Fatalf("status = %s, want FILLED", res.Status)
	}
	if !res.FillPrice.Equal(d("150")) {
		t.Errorf("fill price = %s, want the reference price 150", res.FillPrice)
	}

	trades, err := store.TradeHistory()
	if err != nil {
		t.Fatalf("TradeHistory failed: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("trade count = %d, want exactly 1 per fill", len(trades))
	}
	if trades[0].Symbol != "AAPL" || !trades[0].Qty.Equal(d("10")) {
		t.Errorf("recorded trade %+v does not match the submission", trades[0])
	}
}

func TestSimulatorLedgerRejection(t *testing.T) {
	sim, store := newSimulator(t)

	res, err := sim.Submit(Request{
		Symbol: "TSLA",
		Side:   models.Sell,
		Qty:    d("1"),
		Price:  d("200"),
		Source: models.SourceManual,
	})
	if err != nil {
		t.Fatalf("ledger rejection should not surface as an error, got %v", err)
	}
	if res.Status != models.OrderRejected {
		t.Fatalf("status = %s, want REJECTED", res.Status)
	}
	if res.Reason == "" {
		t.Error("rejection carries no reason")
	}

	trades, err := store.TradeHistory()
	if err != nil {
		t.Fatalf("TradeHistory failed: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("rejected order recorded %d trades, want 0", len(trades))
	}
}

func TestSimulatorRequiresReferencePrice(t *testing.T) {
	sim, _ := newSimulator(t)
	if _, err := sim.Submit(Request{Symbol: "AAPL", Side: models.Buy, Qty: d("1")}); err == nil {
		t.Fatal("expected an error for a zero reference price")
	}
}

func TestSimulatorCarriesStopMetadata(t *testing.T) {
	sim, store := newSimulator(t)

	_, err := sim.Submit(Request{
		Symbol:    "NVDA",
		Side:      models.Buy,
		Qty:       d("5"),
		Price:     d("120"),
		Source:    models.SourceManual,
		StopLoss:  d("110"),
		RiskScore: 3,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	err = store.View(func(state *portfolio.State) error {
		pos := state.Positions["NVDA"]
		if pos == nil {
			t.Fatal("position missing")
		}
		if !pos.StopLoss.Equal(d("110")) || pos.RiskScore != 3 {
			t.Errorf("metadata not carried: stop %s, risk %d", pos.StopLoss, pos.RiskScore)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}
