// Package news provides the headline capability consumed by signal synthesis.
package news

import "time"

// Headline is a single news item for a symbol.
type Headline struct {
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
}

// Source is the news capability. An empty result is valid input for
// synthesis, not an error.
type Source interface {
	GetHeadlines(symbol string) ([]Headline, error)
}
