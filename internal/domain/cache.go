package domain

import (
	"context"
	"io"
	"time"
)

// PriceCache provides fast access to the latest quotes per symbol.
type PriceCache interface {
	SetTick(ctx context.Context, tick Tick) error
	GetTick(ctx context.Context, symbol string) (Tick, error)
	GetTicks(ctx context.Context, symbols []string) (map[string]Tick, error)
}

// EventBus publishes phase events (signal detected, order filled, emergency
// stop) for external consumers. Delivery is fire-and-forget; publishers never
// block on consumers.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// SnapshotStore persists and restores SystemSnapshots.
type SnapshotStore interface {
	Save(snapshot SystemSnapshot) error
	Load() (SystemSnapshot, error)
	LastSavedAt() time.Time
}
