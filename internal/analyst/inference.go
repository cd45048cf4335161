// Package analyst turns market observations into trading recommendations,
// preferring an external inference backend and degrading to a rule-based
// synthesis when that backend is unavailable.
package analyst

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"finsight/internal/indicators"
	"finsight/internal/models"
	"finsight/internal/news"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// ErrUnavailable marks an inference backend that cannot serve right now
// (down, rate-limited, timed out, or returning garbage). It triggers the
// rule-based fallback and never fails a cycle.
var ErrUnavailable = errors.New("analyst: inference backend unavailable")

// Request is the structured context handed to the inference backend.
type Request struct {
	Symbol     string                `json:"symbol"`
	Snapshot   models.PriceSnapshot  `json:"price_data"`
	Indicators *indicators.Set       `json:"indicators"`
	Headlines  []news.Headline       `json:"news"`
	Model      string                `json:"-"`
}

// Inference is the black-box completion capability.
type Inference interface {
	Complete(ctx context.Context, req Request) (*models.Recommendation, error)
}

const systemPrompt = `You are a seasoned Wall Street technical analyst.
Analyze the provided stock data and output a strictly formatted JSON response.
The JSON must have the following keys:
1. "signal": One of "BUY", "SELL", or "HOLD".
2. "risk_score": A number from 1 to 10 (1=Safe, 10=Extreme volatility/danger).
3. "stop_loss": A suggested price level to exit the trade if it goes against us (based on support levels).
4. "reasoning": A concise paragraph explaining why, based on the indicators, risk profile, and news.
Do not include any other text.`

// Client calls an OpenAI-compatible chat completion endpoint.
type Client struct {
	http    *resty.Client
	baseURL string
}

var _ Inference = (*Client)(nil)

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	http := resty.New()
	http.SetTimeout(timeout)
	if apiKey != "" {
		http.SetAuthToken(apiKey)
	}
	return &Client{
		http:    http,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends the analysis request and parses the structured answer.
// Anything short of a well-formed recommendation is reported as unavailable.
func (c *Client) Complete(ctx context.Context, req Request) (*models.Recommendation, error) {
	contextJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal inference context: %w", err)
	}

	payload := map[string]interface{}{
		"model": req.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": fmt.Sprintf("Analyze %s based on this data: %s", req.Symbol, contextJSON)},
		},
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(c.baseURL + "/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode(), resp.String())
	}

	var chat chatResponse
	if err := json.Unmarshal(resp.Body(), &chat); err != nil || len(chat.Choices) == 0 {
		return nil, fmt.Errorf("%w: malformed completion response", ErrUnavailable)
	}

	rec, err := parseRecommendation(chat.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return rec, nil
}

// parseRecommendation extracts the JSON object from the model output. Local
// models pad their answers with prose, so it scans for the outermost braces.
func parseRecommendation(content string) (*models.Recommendation, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return nil, errors.New("no JSON object in completion")
	}

	var raw struct {
		Signal    string          `json:"signal"`
		RiskScore json.Number     `json:"risk_score"`
		StopLoss  json.Number     `json:"stop_loss"`
		Reasoning string          `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("parse completion JSON: %w", err)
	}

	action := models.Signal(strings.ToUpper(strings.TrimSpace(raw.Signal)))
	switch action {
	case models.SignalBuy, models.SignalSell, models.SignalHold:
	default:
		return nil, fmt.Errorf("invalid signal %q", raw.Signal)
	}

	risk := 5
	if f, err := raw.RiskScore.Float64(); err == nil {
		risk = clampRisk(int(f))
	}

	stopLoss := decimal.Zero
	if f, err := raw.StopLoss.Float64(); err == nil && f > 0 {
		stopLoss = decimal.NewFromFloat(f)
	}

	return &models.Recommendation{
		Action:    action,
		RiskScore: risk,
		StopLoss:  stopLoss,
		Rationale: raw.Reasoning,
	}, nil
}

func clampRisk(risk int) int {
	if risk < 1 {
		return 1
	}
	if risk > 10 {
		return 10
	}
	return risk
}
