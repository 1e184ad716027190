// Package policy is the core-side adapter over the external strategic policy
// evaluator. It requests policy decisions under the caller's deadline and
// forwards recovery escalations.
package policy

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

// Client implements domain.StrategicValidator against an HTTP policy
// evaluator.
type Client struct {
	host       string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a policy evaluator client.
func NewClient(cfg config.PolicyConfig) *Client {
	timeout := cfg.RequestTimeout.Duration
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		host:   strings.TrimRight(cfg.Host, "/"),
		apiKey: strings.TrimSpace(cfg.ApiKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type evaluateRequest struct {
	Signal   signalPayload `json:"signal"`
	FastMode bool          `json:"fast_mode"`
}

type signalPayload struct {
	ID         string  `json:"id"`
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Pattern    string  `json:"pattern"`
	Timeframe  string  `json:"timeframe"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Session    string  `json:"session"`
	Momentum   float64 `json:"momentum"`
	NewsRisk   float64 `json:"news_risk"`
	DetectedAt string  `json:"detected_at"`
}

type evaluateResponse struct {
	Approved   bool     `json:"approved"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// Evaluate requests a policy decision for the signal. The context deadline is
// the request deadline; the optimizer passes its 45 ms sub-deadline here.
func (c *Client) Evaluate(ctx context.Context, sig domain.Signal, fastMode bool) (domain.PolicyDecision, error) {
	payload := evaluateRequest{
		Signal: signalPayload{
			ID:         sig.ID,
			Symbol:     sig.Symbol,
			Direction:  string(sig.Direction),
			Pattern:    string(sig.Pattern),
			Timeframe:  sig.Timeframe,
			EntryPrice: sig.EntryPrice,
			StopLoss:   sig.StopLoss,
			TakeProfit: sig.TakeProfit,
			Session:    sig.Context.Session,
			Momentum:   sig.Context.Momentum,
			NewsRisk:   sig.Context.NewsRisk,
			DetectedAt: sig.DetectedAt.UTC().Format(time.RFC3339Nano),
		},
		FastMode: fastMode,
	}

	var resp evaluateResponse
	if err := c.post(ctx, "/v1/evaluate", payload, &resp); err != nil {
		return domain.PolicyDecision{}, fmt.Errorf("policy: evaluate: %w", err)
	}
	return domain.PolicyDecision{
		Approved:   resp.Approved,
		Confidence: resp.Confidence,
		Reasons:    resp.Reasons,
	}, nil
}

type escalateRequest struct {
	Reason string         `json:"reason"`
	Events []eventPayload `json:"events"`
}

type eventPayload struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Kind      string `json:"kind"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
}

// Escalate reports a recovery escalation to the policy evaluator. The call is
// advisory; the evaluator may tighten its approvals in response.
func (c *Client) Escalate(ctx context.Context, reason string, events []domain.ErrorEvent) error {
	payload := escalateRequest{
		Reason: reason,
		Events: make([]eventPayload, 0, len(events)),
	}
	for _, e := range events {
		payload.Events = append(payload.Events, eventPayload{
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
			Component: e.Component,
			Kind:      string(e.Kind),
			Severity:  string(e.Severity),
			Message:   e.Message,
		})
	}

	if err := c.post(ctx, "/v1/escalate", payload, nil); err != nil {
		return fmt.Errorf("policy: escalate: %w", err)
	}
	return nil
}

// post executes a JSON POST and decodes the response into out when non-nil.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
