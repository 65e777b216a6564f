// Package oracle is the HTTP client for the external pattern-recognition
// decision service. The service is a black box: candles in, one structured
// trade decision out.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arvindrk/silverbot/internal/domain"
)

// Client calls the decision service over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a decision service client.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type analyzeRequest struct {
	Model   string       `json:"model,omitempty"`
	Candles []wireCandle `json:"candles"`
}

type wireCandle struct {
	Timestamp int64   `json:"ts"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    int64   `json:"v"`
}

type analyzeResponse struct {
	Pattern    string  `json:"pattern"`
	Action     string  `json:"action"`
	Confidence int     `json:"confidence"`
	Entry      float64 `json:"entry"`
	StopLoss   float64 `json:"stop_loss"`
	Target     float64 `json:"target"`
}

// Evaluate submits the candle series and returns the service's decision.
// Any action string other than BUY or SELL maps to WAIT, so a confused
// answer can never open a position.
func (c *Client) Evaluate(ctx context.Context, candles []domain.Candle) (domain.Decision, error) {
	req := analyzeRequest{Model: c.model, Candles: make([]wireCandle, 0, len(candles))}
	for _, cd := range candles {
		req.Candles = append(req.Candles, wireCandle{
			Timestamp: cd.Timestamp.UnixMilli(),
			Open:      cd.Open,
			High:      cd.High,
			Low:       cd.Low,
			Close:     cd.Close,
			Volume:    cd.Volume,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("oracle: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return domain.Decision{}, fmt.Errorf("oracle: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("oracle: request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("oracle: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.Decision{}, fmt.Errorf("oracle: %w", domain.ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.Decision{}, fmt.Errorf("oracle: %w", domain.ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return domain.Decision{}, fmt.Errorf("oracle: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var ar analyzeResponse
	if err := json.Unmarshal(respBody, &ar); err != nil {
		return domain.Decision{}, fmt.Errorf("oracle: decode response: %w", err)
	}

	return domain.Decision{
		Pattern:    ar.Pattern,
		Action:     mapAction(ar.Action),
		Confidence: ar.Confidence,
		Entry:      ar.Entry,
		Stop:       ar.StopLoss,
		Target:     ar.Target,
	}, nil
}

func mapAction(s string) domain.DecisionAction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return domain.ActionBuy
	case "SELL":
		return domain.ActionSell
	default:
		return domain.ActionWait
	}
}
