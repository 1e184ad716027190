package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/breakoutlab/tradecore/internal/config"
	"github.com/breakoutlab/tradecore/internal/crypto"
	"github.com/breakoutlab/tradecore/internal/domain"
)

// REST is a broker-gateway client over the gateway's HTTP API. It implements
// domain.BrokerGateway.
type REST struct {
	host       string
	apiKey     string
	accountID  string
	auth       *crypto.RequestAuth // nil when the gateway does not require signing
	httpClient *http.Client
}

// NewREST creates a REST gateway client. When an API secret is configured,
// requests are HMAC-signed in addition to carrying the bearer key.
func NewREST(cfg config.BrokerConfig) (*REST, error) {
	timeout := cfg.RequestTimeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     cfg.ApiSecret,
		EncryptedPath: cfg.SecretFile,
		Password:      cfg.SecretPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("broker: resolving api secret: %w", err)
	}

	r := &REST{
		host:      strings.TrimRight(cfg.RestHost, "/"),
		apiKey:    strings.TrimSpace(cfg.ApiKey),
		accountID: cfg.AccountID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	if secret != "" {
		r.auth = &crypto.RequestAuth{Key: r.apiKey, Secret: secret}
	}
	return r, nil
}

// Connect verifies the gateway link and credentials.
func (r *REST) Connect(ctx context.Context) error {
	var out struct {
		Connected bool `json:"connected"`
	}
	if err := r.get(ctx, "/v1/session", nil, &out); err != nil {
		return fmt.Errorf("broker: connect: %w", err)
	}
	if !out.Connected {
		return fmt.Errorf("broker: connect: %w", domain.ErrConnectionLost)
	}
	return nil
}

type tickResponse struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Time   int64   `json:"time"` // unix milliseconds
}

func (r *REST) GetTick(ctx context.Context, symbol string) (domain.Tick, error) {
	var out tickResponse
	if err := r.get(ctx, "/v1/ticks/"+url.PathEscape(symbol), nil, &out); err != nil {
		return domain.Tick{}, fmt.Errorf("broker: get tick %s: %w", symbol, err)
	}
	return domain.Tick{
		Symbol: out.Symbol,
		Bid:    out.Bid,
		Ask:    out.Ask,
		Time:   time.UnixMilli(out.Time).UTC(),
	}, nil
}

type candleResponse struct {
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	OpenTime int64   `json:"open_time"` // unix milliseconds
}

func (r *REST) GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]domain.Candle, error) {
	query := url.Values{
		"timeframe": {timeframe},
		"count":     {strconv.Itoa(count)},
	}
	var out []candleResponse
	if err := r.get(ctx, "/v1/candles/"+url.PathEscape(symbol), query, &out); err != nil {
		return nil, fmt.Errorf("broker: get candles %s %s: %w", symbol, timeframe, err)
	}

	candles := make([]domain.Candle, 0, len(out))
	for _, c := range out {
		candles = append(candles, domain.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			OpenTime:  time.UnixMilli(c.OpenTime).UTC(),
		})
	}
	return candles, nil
}

type placeOrderRequest struct {
	AccountID  string  `json:"account_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Type       string  `json:"type"`
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	Comment    string  `json:"comment,omitempty"`
}

type placeOrderResponse struct {
	Success    bool    `json:"success"`
	Ticket     int64   `json:"ticket"`
	FillPrice  float64 `json:"fill_price"`
	Commission float64 `json:"commission"`
	ErrorCode  string  `json:"error_code"`
	Message    string  `json:"message"`
	Retryable  bool    `json:"retryable"`
}

func (r *REST) PlaceOrder(ctx context.Context, spec domain.OrderSpec) (domain.PlaceResult, error) {
	payload := placeOrderRequest{
		AccountID:  r.accountID,
		Symbol:     spec.Symbol,
		Side:       string(spec.Side),
		Type:       string(spec.Type),
		Quantity:   spec.Quantity,
		Price:      spec.Price,
		StopLoss:   spec.StopLoss,
		TakeProfit: spec.TakeProfit,
		Comment:    spec.Comment,
	}
	var out placeOrderResponse
	if err := r.post(ctx, "/v1/orders", payload, &out); err != nil {
		return domain.PlaceResult{}, fmt.Errorf("broker: place order: %w", err)
	}
	return domain.PlaceResult{
		Success:    out.Success,
		Ticket:     out.Ticket,
		FillPrice:  out.FillPrice,
		Commission: out.Commission,
		ErrorCode:  out.ErrorCode,
		Message:    out.Message,
		Retryable:  out.Retryable,
	}, nil
}

type closePositionResponse struct {
	Success    bool    `json:"success"`
	ClosePrice float64 `json:"close_price"`
	Profit     float64 `json:"profit"`
	Commission float64 `json:"commission"`
	Message    string  `json:"message"`
}

func (r *REST) ClosePosition(ctx context.Context, ticket int64, volume float64) (domain.CloseResult, error) {
	payload := map[string]any{
		"account_id": r.accountID,
		"volume":     volume,
	}
	var out closePositionResponse
	path := fmt.Sprintf("/v1/positions/%d/close", ticket)
	if err := r.post(ctx, path, payload, &out); err != nil {
		return domain.CloseResult{}, fmt.Errorf("broker: close position %d: %w", ticket, err)
	}
	return domain.CloseResult{
		Success:    out.Success,
		ClosePrice: out.ClosePrice,
		Profit:     out.Profit,
		Commission: out.Commission,
		Message:    out.Message,
	}, nil
}

type brokerPositionResponse struct {
	Ticket     int64   `json:"ticket"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Volume     float64 `json:"volume"`
	EntryPrice float64 `json:"entry_price"`
	Profit     float64 `json:"profit"`
}

func (r *REST) GetPositions(ctx context.Context, symbol string) ([]domain.BrokerPosition, error) {
	query := url.Values{"account_id": {r.accountID}}
	if symbol != "" {
		query.Set("symbol", symbol)
	}
	var out []brokerPositionResponse
	if err := r.get(ctx, "/v1/positions", query, &out); err != nil {
		return nil, fmt.Errorf("broker: get positions: %w", err)
	}

	positions := make([]domain.BrokerPosition, 0, len(out))
	for _, p := range out {
		positions = append(positions, domain.BrokerPosition{
			Ticket:     p.Ticket,
			Symbol:     p.Symbol,
			Side:       domain.OrderSide(p.Side),
			Volume:     p.Volume,
			EntryPrice: p.EntryPrice,
			Profit:     p.Profit,
		})
	}
	return positions, nil
}

type accountResponse struct {
	Balance       float64 `json:"balance"`
	Equity        float64 `json:"equity"`
	Margin        float64 `json:"margin"`
	MarginLevel   float64 `json:"margin_level"`
	DailyPnL      float64 `json:"daily_pnl"`
	HighWaterMark float64 `json:"high_water_mark"`
	OpenPositions int     `json:"open_positions"`
}

func (r *REST) GetAccountInfo(ctx context.Context) (domain.AccountState, error) {
	query := url.Values{"account_id": {r.accountID}}
	var out accountResponse
	if err := r.get(ctx, "/v1/account", query, &out); err != nil {
		return domain.AccountState{}, fmt.Errorf("broker: get account info: %w", err)
	}
	return domain.AccountState{
		Balance:       out.Balance,
		Equity:        out.Equity,
		Margin:        out.Margin,
		MarginLevel:   out.MarginLevel,
		DailyPnL:      out.DailyPnL,
		HighWaterMark: out.HighWaterMark,
		OpenPositions: out.OpenPositions,
	}, nil
}

func (r *REST) IsMarketOpen(ctx context.Context, symbol string) (bool, error) {
	var out struct {
		Open bool `json:"open"`
	}
	if err := r.get(ctx, "/v1/markets/"+url.PathEscape(symbol), nil, &out); err != nil {
		return false, fmt.Errorf("broker: market state %s: %w", symbol, err)
	}
	return out.Open, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (r *REST) get(ctx context.Context, path string, query url.Values, out any) error {
	target := r.host + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	r.sign(req, http.MethodGet, path, "")
	return r.do(req, out)
}

func (r *REST) post(ctx context.Context, path string, payload, out any) error {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.host+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	r.sign(req, http.MethodPost, path, string(jsonBody))
	return r.do(req, out)
}

func (r *REST) sign(req *http.Request, method, path, body string) {
	if r.auth == nil {
		return
	}
	for k, v := range r.auth.Headers(method, path, body) {
		req.Header.Set(k, v)
	}
}

func (r *REST) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
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
