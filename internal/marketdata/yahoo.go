package marketdata

import (
	"fmt"
	"strings"
	"time"

	"finsight/internal/models"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"
)

// YahooSource fetches quotes and daily history from Yahoo Finance.
type YahooSource struct{}

var _ Source = (*YahooSource)(nil)

func NewYahooSource() *YahooSource {
	return &YahooSource{}
}

// GetBars returns up to lookback daily bars, oldest first. Weekends and
// holidays mean the calendar window must be wider than the bar count.
func (y *YahooSource) GetBars(symbol string, lookback int) ([]models.Bar, error) {
	end := time.Now()
	start := end.AddDate(0, 0, -(lookback*7/5 + 10))

	params := &chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	}

	iter := chart.Get(params)

	var bars []models.Bar
	for iter.Next() {
		b := iter.Bar()
		bars = append(bars, models.Bar{
			Time:   time.Unix(int64(b.Timestamp), 0),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: int64(b.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, classify(fmt.Errorf("fetch history for %s: %w", symbol, err))
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}

	if len(bars) > lookback {
		bars = bars[len(bars)-lookback:]
	}
	return bars, nil
}

func (y *YahooSource) GetSnapshot(symbol string) (*models.PriceSnapshot, error) {
	q, err := quote.Get(symbol)
	if err != nil {
		return nil, classify(fmt.Errorf("fetch quote for %s: %w", symbol, err))
	}
	if q == nil || q.RegularMarketPrice == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}

	return &models.PriceSnapshot{
		Price:     decimal.NewFromFloat(q.RegularMarketPrice),
		ChangePct: q.RegularMarketChangePercent,
		Volume:    int64(q.RegularMarketVolume),
	}, nil
}

// classify maps provider throttle responses onto ErrRateLimited so callers
// can distinguish "back off" from genuine failure.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "429") {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return err
}
