package agent

import "log"

// Notifier receives operator-facing messages (analysis results, executed
// trades, safety exits). Delivery transport is outside the core; the default
// sink is the process log.
type Notifier interface {
	Notify(msg string)
}

// LogNotifier writes notifications to the standard logger.
type LogNotifier struct{}

func (LogNotifier) Notify(msg string) {
	log.Printf("NOTIFY: %s", msg)
}
