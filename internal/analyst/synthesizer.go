package analyst

import (
	"context"
	"log"

	"finsight/internal/indicators"
	"finsight/internal/models"
	"finsight/internal/news"

	"github.com/shopspring/decimal"
)

// Synthesizer produces one Recommendation per symbol per cycle. The primary
// path delegates to the inference backend; when that reports unavailability
// the rule-based fallback takes over with the same output contract. A nil
// recommendation is never returned.
type Synthesizer struct {
	inference Inference
}

func NewSynthesizer(inference Inference) *Synthesizer {
	return &Synthesizer{inference: inference}
}

// Synthesize combines indicators, the price snapshot and headlines into a
// recommendation. Beyond the outbound inference call it has no side effects.
func (s *Synthesizer) Synthesize(ctx context.Context, symbol string, snapshot models.PriceSnapshot, ind *indicators.Set, headlines []news.Headline, support decimal.Decimal, model string) *models.Recommendation {
	if s.inference != nil {
		rec, err := s.inference.Complete(ctx, Request{
			Symbol:     symbol,
			Snapshot:   snapshot,
			Indicators: ind,
			Headlines:  headlines,
			Model:      model,
		})
		if err == nil {
			rec.RiskScore = clampRisk(rec.RiskScore)
			return rec
		}
		log.Printf("WARNING: [%s] inference failed, using rule-based fallback: %v", symbol, err)
	}

	return ruleBased(ind, support)
}
