// Package scorer adapts the external ML scoring service and provides a
// rule-based fallback for when the service is unreachable.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/breakoutlab/tradecore/internal/config"
	"github.com/breakoutlab/tradecore/internal/domain"
)

// Client implements domain.Scorer against the HTTP scoring service.
type Client struct {
	host       string
	httpClient *http.Client
}

// NewClient creates a scoring service client.
func NewClient(cfg config.ScorerConfig) *Client {
	timeout := cfg.RequestTimeout.Duration
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		host: strings.TrimRight(cfg.Host, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type scoreRequest struct {
	Symbol        string  `json:"symbol"`
	Direction     string  `json:"direction"`
	Pattern       string  `json:"pattern"`
	Timeframe     string  `json:"timeframe"`
	EntryPrice    float64 `json:"entry_price"`
	StopDistance  float64 `json:"stop_distance"`
	RewardRisk    float64 `json:"reward_risk"`
	BreakDistance float64 `json:"break_distance"`
	VolumeRatio   float64 `json:"volume_ratio"`
	Momentum      float64 `json:"momentum"`
	Session       string  `json:"session"`
	Volatility    float64 `json:"volatility"`
	NewsRisk      float64 `json:"news_risk"`
}

type scoreResponse struct {
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`
}

// Score forwards the signal's features to the scoring service.
func (c *Client) Score(ctx context.Context, sig domain.Signal) (domain.Score, error) {
	volumeRatio := 0.0
	if sig.Context.AverageVolume > 0 {
		volumeRatio = sig.Context.BreakVolume / sig.Context.AverageVolume
	}
	payload := scoreRequest{
		Symbol:        sig.Symbol,
		Direction:     string(sig.Direction),
		Pattern:       string(sig.Pattern),
		Timeframe:     sig.Timeframe,
		EntryPrice:    sig.EntryPrice,
		StopDistance:  sig.StopDistance(),
		RewardRisk:    sig.RewardRisk(),
		BreakDistance: sig.Context.BreakDistance,
		VolumeRatio:   volumeRatio,
		Momentum:      sig.Context.Momentum,
		Session:       sig.Context.Session,
		Volatility:    sig.Context.Volatility,
		NewsRisk:      sig.Context.NewsRisk,
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return domain.Score{}, fmt.Errorf("scorer: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/v1/score", bytes.NewReader(jsonBody))
	if err != nil {
		return domain.Score{}, fmt.Errorf("scorer: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Score{}, fmt.Errorf("scorer: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Score{}, fmt.Errorf("scorer: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Score{}, fmt.Errorf("scorer: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var out scoreResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.Score{}, fmt.Errorf("scorer: decode response: %w", err)
	}
	return domain.Score{Probability: out.Probability, Confidence: out.Confidence}, nil
}
