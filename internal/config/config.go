// Package config defines the top-level configuration for the trading core
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADECORE_* environment variables.
type Config struct {
	Broker     BrokerConfig     `toml:"broker"`
	Policy     PolicyConfig     `toml:"policy"`
	Scorer     ScorerConfig     `toml:"scorer"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Validation ValidationConfig `toml:"validation"`
	Risk       RiskConfig       `toml:"risk"`
	Execution  ExecutionConfig  `toml:"execution"`
	Positions  PositionsConfig  `toml:"positions"`
	Recovery   RecoveryConfig   `toml:"recovery"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// BrokerConfig holds broker gateway endpoints and credentials.
type BrokerConfig struct {
	RestHost       string   `toml:"rest_host"`
	WsHost         string   `toml:"ws_host"`
	ApiKey         string   `toml:"api_key"`
	ApiSecret      string   `toml:"api_secret"`          // HMAC secret; optional
	SecretFile     string   `toml:"secret_file"`         // encrypted secret file, used when api_secret is empty
	SecretPassword string   `toml:"secret_file_password"`
	AccountID      string   `toml:"account_id"`
	RequestTimeout duration `toml:"request_timeout"`
	Symbols        []string `toml:"symbols"`
}

// PolicyConfig holds the strategic policy evaluator endpoint.
type PolicyConfig struct {
	Host           string   `toml:"host"`
	ApiKey         string   `toml:"api_key"`
	RequestTimeout duration `toml:"request_timeout"`
}

// ScorerConfig holds the ML scoring service endpoint.
type ScorerConfig struct {
	Host            string   `toml:"host"`
	RequestTimeout  duration `toml:"request_timeout"`
	FallbackEnabled bool     `toml:"fallback_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for cold archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ValidationConfig holds validation-optimizer parameters.
type ValidationConfig struct {
	ConfidenceThreshold float64  `toml:"confidence_threshold"`
	SubDeadline         duration `toml:"sub_deadline"`
	TotalDeadline       duration `toml:"total_deadline"`
	CacheTTL            duration `toml:"cache_ttl"`
	CacheSize           int      `toml:"cache_size"`
	CacheMinConfidence  float64  `toml:"cache_min_confidence"`
	BreakerThreshold    int      `toml:"breaker_threshold"`
	BreakerCooldown     duration `toml:"breaker_cooldown"`
	Timeframes          []string `toml:"timeframes"`
}

// RiskConfig holds risk-engine parameters.
type RiskConfig struct {
	RiskPerTradePct    float64            `toml:"risk_per_trade_pct"`
	DailyLossLimitPct  float64            `toml:"daily_loss_limit_pct"`
	TotalLossLimitPct  float64            `toml:"total_loss_limit_pct"`
	MaxOpenPositions   int                `toml:"max_open_positions"`
	MinProbability     float64            `toml:"min_probability"`
	MinRewardRisk      float64            `toml:"min_reward_risk"`
	MinLot             float64            `toml:"min_lot"`
	MaxLot             float64            `toml:"max_lot"`
	LotStep            float64            `toml:"lot_step"`
	DefaultUnitValue   float64            `toml:"default_unit_value"`
	UnitValues         map[string]float64 `toml:"unit_values"`
	SessionMultipliers map[string]float64 `toml:"session_multipliers"`
}

// ExecutionConfig holds trade-execution parameters.
type ExecutionConfig struct {
	MaxRetries       int      `toml:"max_retries"`
	RetryDelay       duration `toml:"retry_delay"`
	QueueSize        int      `toml:"queue_size"`
	MaxInFlight      int      `toml:"max_in_flight"`
	MaxSlippage      float64  `toml:"max_slippage"`
	MaxSpreadFactor  float64  `toml:"max_spread_factor"`
	BreakerThreshold int      `toml:"breaker_threshold"`
	BreakerCooldown  duration `toml:"breaker_cooldown"`
}

// PositionsConfig holds position-manager parameters.
type PositionsConfig struct {
	MonitorInterval duration `toml:"monitor_interval"`
	StopOutLevel    float64  `toml:"stop_out_level"`  // margin level percent
	ReconcileEvery  int      `toml:"reconcile_every"` // monitor ticks between broker reconciliations
}

// RecoveryConfig holds error-recovery parameters.
type RecoveryConfig struct {
	EscalationWindow     duration `toml:"escalation_window"`
	EscalationThreshold  int      `toml:"escalation_threshold"`
	SnapshotInterval     duration `toml:"snapshot_interval"`
	SnapshotPath         string   `toml:"snapshot_path"`
	EmergencyThreshold   int      `toml:"emergency_threshold"`
	ErrorHistorySize     int      `toml:"error_history_size"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	HealthCheckInterval  duration `toml:"health_check_interval"`
}

// PipelineConfig holds signal-pipeline parameters.
type PipelineConfig struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s", "45ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "45ms".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the documented default values.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			RestHost:       "http://localhost:8081",
			WsHost:         "ws://localhost:8081/ticks",
			RequestTimeout: duration{5 * time.Second},
			Symbols:        []string{"EURUSD"},
		},
		Policy: PolicyConfig{
			Host:           "http://localhost:8082",
			RequestTimeout: duration{45 * time.Millisecond},
		},
		Scorer: ScorerConfig{
			Host:            "http://localhost:8083",
			RequestTimeout:  duration{200 * time.Millisecond},
			FallbackEnabled: true,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradecore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradecore-archive",
			ForcePathStyle: true,
		},
		Validation: ValidationConfig{
			ConfidenceThreshold: 0.75,
			SubDeadline:         duration{45 * time.Millisecond},
			TotalDeadline:       duration{90 * time.Millisecond},
			CacheTTL:            duration{5 * time.Minute},
			CacheSize:           1000,
			CacheMinConfidence:  0.5,
			BreakerThreshold:    5,
			BreakerCooldown:     duration{60 * time.Second},
			Timeframes:          []string{"M5", "M15", "M30", "H1", "H4", "D1"},
		},
		Risk: RiskConfig{
			RiskPerTradePct:   1.0,
			DailyLossLimitPct: 5.0,
			TotalLossLimitPct: 20.0,
			MaxOpenPositions:  5,
			MinProbability:    0.6,
			MinRewardRisk:     1.5,
			MinLot:            0.01,
			MaxLot:            10.0,
			LotStep:           0.01,
			DefaultUnitValue:  100_000,
			SessionMultipliers: map[string]float64{
				"london":  1.0,
				"newyork": 1.0,
				"tokyo":   0.8,
				"sydney":  0.7,
				"off":     0.5,
			},
		},
		Execution: ExecutionConfig{
			MaxRetries:       3,
			RetryDelay:       duration{500 * time.Millisecond},
			QueueSize:        100,
			MaxInFlight:      5,
			MaxSlippage:      0.0005,
			MaxSpreadFactor:  0.3,
			BreakerThreshold: 5,
			BreakerCooldown:  duration{5 * time.Minute},
		},
		Positions: PositionsConfig{
			MonitorInterval: duration{time.Second},
			StopOutLevel:    100,
			ReconcileEvery:  30,
		},
		Recovery: RecoveryConfig{
			EscalationWindow:     duration{5 * time.Minute},
			EscalationThreshold:  3,
			SnapshotInterval:     duration{30 * time.Second},
			SnapshotPath:         "tradecore_state.json",
			EmergencyThreshold:   10,
			ErrorHistorySize:     500,
			MaxReconnectAttempts: 5,
			HealthCheckInterval:  duration{10 * time.Second},
		},
		Pipeline: PipelineConfig{
			Workers:   4,
			QueueSize: 64,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// Validate checks the configuration for inconsistencies that would make the
// core misbehave at runtime. It returns the first problem found.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "trade", "paper", "monitor":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Validation.ConfidenceThreshold <= 0 || c.Validation.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: validation confidence_threshold must be in (0,1], got %v", c.Validation.ConfidenceThreshold)
	}
	if c.Validation.SubDeadline.Duration <= 0 || c.Validation.TotalDeadline.Duration <= 0 {
		return fmt.Errorf("config: validation deadlines must be positive")
	}
	if c.Validation.SubDeadline.Duration > c.Validation.TotalDeadline.Duration {
		return fmt.Errorf("config: validation sub_deadline %v exceeds total_deadline %v",
			c.Validation.SubDeadline.Duration, c.Validation.TotalDeadline.Duration)
	}
	if c.Validation.CacheSize <= 0 {
		return fmt.Errorf("config: validation cache_size must be positive")
	}

	if c.Risk.RiskPerTradePct <= 0 {
		return fmt.Errorf("config: risk risk_per_trade_pct must be positive")
	}
	if c.Risk.MinRewardRisk < 1 {
		return fmt.Errorf("config: risk min_reward_risk must be >= 1, got %v", c.Risk.MinRewardRisk)
	}
	if c.Risk.LotStep <= 0 || c.Risk.MinLot <= 0 || c.Risk.MaxLot < c.Risk.MinLot {
		return fmt.Errorf("config: risk lot bounds invalid (min=%v max=%v step=%v)",
			c.Risk.MinLot, c.Risk.MaxLot, c.Risk.LotStep)
	}
	if c.Risk.DefaultUnitValue <= 0 {
		return fmt.Errorf("config: risk default_unit_value must be positive")
	}

	if c.Execution.QueueSize <= 0 || c.Execution.MaxInFlight <= 0 {
		return fmt.Errorf("config: execution queue_size and max_in_flight must be positive")
	}

	if c.Positions.MonitorInterval.Duration <= 0 {
		return fmt.Errorf("config: positions monitor_interval must be positive")
	}

	if c.Recovery.SnapshotInterval.Duration <= 0 {
		return fmt.Errorf("config: recovery snapshot_interval must be positive")
	}
	if c.Recovery.SnapshotPath == "" {
		return fmt.Errorf("config: recovery snapshot_path is required")
	}

	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("config: pipeline workers must be positive")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("config: server port %d out of range", c.Server.Port)
	}

	if strings.ToLower(c.Mode) == "trade" && c.Broker.RestHost == "" {
		return fmt.Errorf("config: broker rest_host is required in trade mode")
	}

	return nil
}

// UnitValue returns the per-instrument contract unit value used for position
// sizing, falling back to the configured default when the symbol has no
// explicit entry.
func (r RiskConfig) UnitValue(symbol string) float64 {
	if v, ok := r.UnitValues[symbol]; ok && v > 0 {
		return v
	}
	return r.DefaultUnitValue
}

// SessionMultiplier returns the risk multiplier for a trading session,
// defaulting to 1.0 for unknown sessions.
func (r RiskConfig) SessionMultiplier(session string) float64 {
	if v, ok := r.SessionMultipliers[session]; ok && v > 0 {
		return v
	}
	return 1.0
}
