package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breakoutlab/tradecore/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TickHandler is called for every quote received on the feed.
type TickHandler func(ctx context.Context, tick domain.Tick)

// TickFeed streams real-time quotes for the configured symbols from the
// gateway's WebSocket endpoint and dispatches them to registered handlers.
// It reconnects with exponential backoff on disconnect and restores its
// subscriptions.
type TickFeed struct {
	wsURL   string
	apiKey  string
	symbols []string
	logger  *slog.Logger

	handlerMu sync.RWMutex
	handlers  []TickHandler

	closeOnce sync.Once
	done      chan struct{}
}

// NewTickFeed creates a feed subscribing to the given symbols.
func NewTickFeed(wsURL, apiKey string, symbols []string, logger *slog.Logger) *TickFeed {
	return &TickFeed{
		wsURL:   wsURL,
		apiKey:  apiKey,
		symbols: symbols,
		logger:  logger.With(slog.String("component", "tick_feed")),
		done:    make(chan struct{}),
	}
}

// OnTick registers a handler invoked for every received quote.
func (f *TickFeed) OnTick(handler TickHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.handlers = append(f.handlers, handler)
}

// Run connects and streams until ctx is cancelled or Close is called.
// Disconnects trigger reconnection with exponential backoff.
func (f *TickFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-f.done:
			return nil
		default:
		}

		f.logger.Warn("tick feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the feed permanently.
func (f *TickFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

type subscribeCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
	ApiKey  string   `json:"api_key,omitempty"`
}

type tickMessage struct {
	Channel string  `json:"channel"`
	Symbol  string  `json:"symbol"`
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	Time    int64   `json:"time"` // unix milliseconds
}

// runConnection dials, subscribes, and reads until the connection drops.
func (f *TickFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := dialer.DialContext(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("broker: tick feed connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	cmd := subscribeCommand{
		Type:    "subscribe",
		Channel: "ticks",
		Symbols: f.symbols,
		ApiKey:  f.apiKey,
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("broker: tick feed subscribe: %w", err)
	}
	f.logger.Info("tick feed subscribed", slog.Int("symbols", len(f.symbols)))

	// Ping loop keeps the connection alive; closing the connection unblocks
	// the read below.
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-f.done:
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
	defer func() { <-pingDone }()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("broker: tick feed read: %w", err)
		}
		f.handleMessage(ctx, message)
	}
}

// handleMessage parses one feed message and dispatches ticks. Unparseable
// messages are dropped silently.
func (f *TickFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg tickMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Channel != "ticks" || msg.Symbol == "" {
		return
	}

	tick := domain.Tick{
		Symbol: msg.Symbol,
		Bid:    msg.Bid,
		Ask:    msg.Ask,
		Time:   time.UnixMilli(msg.Time).UTC(),
	}

	f.handlerMu.RLock()
	handlers := f.handlers
	f.handlerMu.RUnlock()
	for _, h := range handlers {
		h(ctx, tick)
	}
}
