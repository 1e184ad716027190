package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/breakoutlab/tradecore/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each symbol's quote is stored as a hash at key "tick:{symbol}" with
// fields "bid", "ask" and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.rdb}
}

func tickKey(symbol string) string {
	return "tick:" + symbol
}

// SetTick stores the latest quote for a symbol.
func (pc *PriceCache) SetTick(ctx context.Context, tick domain.Tick) error {
	key := tickKey(tick.Symbol)
	fields := map[string]interface{}{
		"bid": strconv.FormatFloat(tick.Bid, 'f', -1, 64),
		"ask": strconv.FormatFloat(tick.Ask, 'f', -1, 64),
		"ts":  strconv.FormatInt(tick.Time.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set tick %s: %w", tick.Symbol, err)
	}
	return nil
}

// GetTick retrieves the latest quote for a symbol.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetTick(ctx context.Context, symbol string) (domain.Tick, error) {
	vals, err := pc.rdb.HGetAll(ctx, tickKey(symbol)).Result()
	if err != nil {
		return domain.Tick{}, fmt.Errorf("redis: get tick %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Tick{}, domain.ErrNotFound
	}
	return parseTick(symbol, vals)
}

// GetTicks retrieves the latest quotes for multiple symbols using a pipeline.
// Symbols whose keys do not exist are silently omitted from the result map.
func (pc *PriceCache) GetTicks(ctx context.Context, symbols []string) (map[string]domain.Tick, error) {
	if len(symbols) == 0 {
		return map[string]domain.Tick{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, sym := range symbols {
		cmds[sym] = pipe.HGetAll(ctx, tickKey(sym))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get ticks pipeline: %w", err)
	}

	result := make(map[string]domain.Tick, len(symbols))
	for sym, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		tick, err := parseTick(sym, vals)
		if err != nil {
			continue
		}
		result[sym] = tick
	}

	return result, nil
}

func parseTick(symbol string, vals map[string]string) (domain.Tick, error) {
	bidStr, ok := vals["bid"]
	if !ok {
		return domain.Tick{}, domain.ErrNotFound
	}
	bid, err := strconv.ParseFloat(bidStr, 64)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("redis: parse bid %s: %w", symbol, err)
	}

	askStr, ok := vals["ask"]
	if !ok {
		return domain.Tick{}, domain.ErrNotFound
	}
	ask, err := strconv.ParseFloat(askStr, 64)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("redis: parse ask %s: %w", symbol, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Tick{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
	}

	return domain.Tick{Symbol: symbol, Bid: bid, Ask: ask, Time: time.Unix(0, tsNano)}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
