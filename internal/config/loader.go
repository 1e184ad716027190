package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADECORE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADECORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Broker ──
	setStr(&cfg.Broker.RestHost, "TRADECORE_BROKER_REST_HOST")
	setStr(&cfg.Broker.WsHost, "TRADECORE_BROKER_WS_HOST")
	setStr(&cfg.Broker.ApiKey, "TRADECORE_BROKER_API_KEY")
	setStr(&cfg.Broker.ApiSecret, "TRADECORE_BROKER_API_SECRET")
	setStr(&cfg.Broker.SecretFile, "TRADECORE_BROKER_SECRET_FILE")
	setStr(&cfg.Broker.SecretPassword, "TRADECORE_BROKER_SECRET_FILE_PASSWORD")
	setStr(&cfg.Broker.AccountID, "TRADECORE_BROKER_ACCOUNT_ID")
	setDur(&cfg.Broker.RequestTimeout, "TRADECORE_BROKER_REQUEST_TIMEOUT")

	// ── Policy evaluator ──
	setStr(&cfg.Policy.Host, "TRADECORE_POLICY_HOST")
	setStr(&cfg.Policy.ApiKey, "TRADECORE_POLICY_API_KEY")
	setDur(&cfg.Policy.RequestTimeout, "TRADECORE_POLICY_REQUEST_TIMEOUT")

	// ── Scorer ──
	setStr(&cfg.Scorer.Host, "TRADECORE_SCORER_HOST")
	setDur(&cfg.Scorer.RequestTimeout, "TRADECORE_SCORER_REQUEST_TIMEOUT")
	setBool(&cfg.Scorer.FallbackEnabled, "TRADECORE_SCORER_FALLBACK_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADECORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADECORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADECORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADECORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADECORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADECORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADECORE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADECORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADECORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADECORE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADECORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADECORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADECORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADECORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADECORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADECORE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRADECORE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRADECORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADECORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADECORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADECORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADECORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADECORE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADECORE_S3_FORCE_PATH_STYLE")

	// ── Risk ──
	setFloat64(&cfg.Risk.RiskPerTradePct, "TRADECORE_RISK_PER_TRADE_PCT")
	setFloat64(&cfg.Risk.DailyLossLimitPct, "TRADECORE_RISK_DAILY_LOSS_LIMIT_PCT")
	setFloat64(&cfg.Risk.TotalLossLimitPct, "TRADECORE_RISK_TOTAL_LOSS_LIMIT_PCT")
	setInt(&cfg.Risk.MaxOpenPositions, "TRADECORE_RISK_MAX_OPEN_POSITIONS")

	// ── Execution ──
	setInt(&cfg.Execution.MaxRetries, "TRADECORE_EXECUTION_MAX_RETRIES")
	setInt(&cfg.Execution.QueueSize, "TRADECORE_EXECUTION_QUEUE_SIZE")
	setInt(&cfg.Execution.MaxInFlight, "TRADECORE_EXECUTION_MAX_IN_FLIGHT")
	setFloat64(&cfg.Execution.MaxSlippage, "TRADECORE_EXECUTION_MAX_SLIPPAGE")

	// ── Recovery ──
	setStr(&cfg.Recovery.SnapshotPath, "TRADECORE_RECOVERY_SNAPSHOT_PATH")
	setDur(&cfg.Recovery.SnapshotInterval, "TRADECORE_RECOVERY_SNAPSHOT_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADECORE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADECORE_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "TRADECORE_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADECORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADECORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADECORE_NOTIFY_DISCORD_WEBHOOK_URL")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADECORE_MODE")
	setStr(&cfg.LogLevel, "TRADECORE_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDur(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
