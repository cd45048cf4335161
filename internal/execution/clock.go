package execution

import (
	"strings"
	"time"
)

// Clock decides whether a symbol's market accepts orders at a given time.
// It gates every submission; stop-loss monitoring still runs off-hours, only
// the exit execution waits for the next session.
type Clock interface {
	IsTradable(symbol string, at time.Time) bool
}

// SessionClock implements the NYSE cash session for equities and treats
// crypto pairs as always-on.
type SessionClock struct {
	loc *time.Location
}

var _ Clock = (*SessionClock)(nil)

func NewSessionClock() (*SessionClock, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, err
	}
	return &SessionClock{loc: loc}, nil
}

// IsTradable reports whether orders for symbol can execute at the given
// instant. Equities trade weekdays 09:30-16:00 Eastern; does not model
// exchange holidays.
func (c *SessionClock) IsTradable(symbol string, at time.Time) bool {
	if IsCrypto(symbol) {
		return true
	}

	local := at.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}

// IsCrypto classifies continuously traded pairs by their quote-currency
// suffix, e.g. BTC-USD.
func IsCrypto(symbol string) bool {
	for _, suffix := range []string{"-USD", "-USDT", "-USDC", "-EUR"} {
		if strings.HasSuffix(symbol, suffix) {
			return true
		}
	}
	return false
}
