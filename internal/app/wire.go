package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/breakoutlab/tradecore/internal/blob/s3"
	"github.com/breakoutlab/tradecore/internal/cache/redis"
	"github.com/breakoutlab/tradecore/internal/config"
	"github.com/breakoutlab/tradecore/internal/domain"
	"github.com/breakoutlab/tradecore/internal/notify"
	"github.com/breakoutlab/tradecore/internal/store/postgres"
)

// Dependencies bundles the infrastructure-level dependencies the application
// modes need. Stores and caches are nil when their backend is not configured;
// every consumer treats them as optional audit/acceleration layers.
type Dependencies struct {
	// Durable stores (nil without Postgres).
	OrderStore    domain.OrderStore
	PositionStore domain.PositionStore
	ErrorStore    domain.ErrorEventStore

	// Caches (nil without Redis).
	PriceCache  domain.PriceCache
	EventBus    domain.EventBus
	CacheHealth func(ctx context.Context) error

	// Cold storage (nil unless S3 is enabled).
	BlobHealth func(ctx context.Context) error
	Archiver   *s3blob.Archiver

	// Notifications (always present; no-op without configured senders).
	Notifier *notify.Notifier
}

// Wire constructs all concrete infrastructure implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (optional: skipped when no DSN or host is configured) ---
	if cfg.Postgres.DSN != "" || cfg.Postgres.Host != "" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.ErrorStore = postgres.NewErrorEventStore(pool)
	}

	// --- Redis (optional) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.EventBus = redis.NewEventBus(redisClient)
		deps.CacheHealth = redisClient.Ping
	}

	// --- S3 cold storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		writer := s3blob.NewWriter(s3Client)
		deps.BlobHealth = s3Client.Health
		if deps.PositionStore != nil && deps.ErrorStore != nil {
			deps.Archiver = s3blob.NewArchiver(writer, deps.PositionStore, deps.ErrorStore)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
