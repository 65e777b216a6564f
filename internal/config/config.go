// Package config defines the top-level configuration for the silver futures
// bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SILVERBOT_* environment
// variables.
type Config struct {
	Broker   BrokerConfig   `toml:"broker"`
	Oracle   OracleConfig   `toml:"oracle"`
	Trading  TradingConfig  `toml:"trading"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BrokerConfig holds the brokerage REST and feed endpoints plus the traded
// contract.
type BrokerConfig struct {
	APIHost       string `toml:"api_host"`
	FeedHost      string `toml:"feed_host"`
	InstrumentKey string `toml:"instrument_key"`
	ContractName  string `toml:"contract_name"`
	// AccessToken is a static token for local runs. When empty the token
	// is observed from the shared-auth document in Redis.
	AccessToken string `toml:"access_token"`
}

// OracleConfig holds the pattern-recognition oracle endpoint.
type OracleConfig struct {
	BaseURL       string `toml:"base_url"`
	APIKey        string `toml:"api_key"`
	Model         string `toml:"model"`
	MinConfidence int    `toml:"min_confidence"`
	TimeoutSec    int    `toml:"timeout_sec"`
}

// TradingConfig holds the position sizing, stop management, and session
// window parameters. Minute-of-day values are in exchange local time.
type TradingConfig struct {
	Quantity          int     `toml:"quantity"`
	EntryBufferPct    float64 `toml:"entry_buffer_pct"`
	TrailMultiplier   float64 `toml:"trail_multiplier"`
	StopMultiplier    float64 `toml:"stop_multiplier"`
	TrailMarginPoints float64 `toml:"trail_margin_points"`
	GhostStopBuffer   float64 `toml:"ghost_stop_buffer"`
	ATRPeriod         int     `toml:"atr_period"`
	ATRMultiplier     float64 `toml:"atr_multiplier"`
	ATRFloor          float64 `toml:"atr_floor"`
	ATRDefault        float64 `toml:"atr_default"`
	CandlePeriodMin   int     `toml:"candle_period_min"`
	MinSessionCandles int     `toml:"min_session_candles"`
	CooldownMin       int     `toml:"cooldown_min"`
	PostExitWatchMin  int     `toml:"post_exit_watch_min"`
	MarketOpenMinute  int     `toml:"market_open_minute"`
	MarketCloseMinute int     `toml:"market_close_minute"`
	NoEntryMinute     int     `toml:"no_entry_minute"`
	ForceExitMinute   int     `toml:"force_exit_minute"`
	APIStartMinute    int     `toml:"api_start_minute"`
	ReconcileStopGap  float64 `toml:"reconcile_stop_gap"`
	SchedulerInterval int     `toml:"scheduler_interval_sec"`
	Timezone          string  `toml:"timezone"`
	Enabled           bool    `toml:"enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters for the trade log.
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

// RedisConfig holds Redis connection parameters for the snapshot document
// and the shared auth token.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for replay
// archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Enabled        bool   `toml:"enabled"`
}

// ServerConfig holds the control/snapshot HTTP server parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// Defaults returns the built-in configuration. Values mirror the tuned live
// parameters for MCX silver mini futures on a 5-minute chart.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			APIHost:  "https://api.upstox.com",
			FeedHost: "wss://feed.upstox.com/v3/feed/market-data-feed",
		},
		Oracle: OracleConfig{
			MinConfidence: 80,
			TimeoutSec:    20,
		},
		Trading: TradingConfig{
			Quantity:          1,
			EntryBufferPct:    0.003,
			TrailMultiplier:   2.5,
			StopMultiplier:    2.0,
			TrailMarginPoints: 50,
			GhostStopBuffer:   200,
			ATRPeriod:         8,
			ATRMultiplier:     2.9,
			ATRFloor:          500,
			ATRDefault:        800,
			CandlePeriodMin:   5,
			MinSessionCandles: 5,
			CooldownMin:       10,
			PostExitWatchMin:  10,
			MarketOpenMinute:  540,  // 09:00
			MarketCloseMinute: 1430, // 23:50
			NoEntryMinute:     1380, // 23:00
			ForceExitMinute:   1395, // 23:15
			APIStartMinute:    330,  // 05:30, broker REST comes up
			ReconcileStopGap:  1200,
			SchedulerInterval: 30,
			Timezone:          "Asia/Kolkata",
			Enabled:           true,
		},
		Postgres: PostgresConfig{
			Port:         5432,
			SSLMode:      "require",
			PoolMaxConns: 4,
			PoolMinConns: 1,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 8,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    10000,
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "trade", "monitor":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Broker.InstrumentKey == "" {
		return fmt.Errorf("config: broker.instrument_key is required")
	}
	if c.Trading.Quantity <= 0 {
		return fmt.Errorf("config: trading.quantity must be positive")
	}
	if c.Trading.TrailMultiplier <= 0 || c.Trading.StopMultiplier <= 0 {
		return fmt.Errorf("config: trail and stop multipliers must be positive")
	}
	if c.Trading.TrailMarginPoints < 0 {
		return fmt.Errorf("config: trading.trail_margin_points must not be negative")
	}
	if c.Trading.ForceExitMinute <= c.Trading.NoEntryMinute {
		return fmt.Errorf("config: trading.force_exit_minute must come after no_entry_minute")
	}
	if c.Trading.ATRPeriod < 1 {
		return fmt.Errorf("config: trading.atr_period must be at least 1")
	}
	if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
		return fmt.Errorf("config: trading.timezone: %w", err)
	}
	if c.Oracle.MinConfidence < 0 || c.Oracle.MinConfidence > 100 {
		return fmt.Errorf("config: oracle.min_confidence must be 0-100")
	}
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("config: server.port out of range")
	}
	return nil
}

// SchedulerPeriod returns the scheduler tick interval as a duration.
func (c *Config) SchedulerPeriod() time.Duration {
	if c.Trading.SchedulerInterval <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Trading.SchedulerInterval) * time.Second
}

// CandlePeriod returns the strategy candle interval as a duration.
func (c *Config) CandlePeriod() time.Duration {
	if c.Trading.CandlePeriodMin <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Trading.CandlePeriodMin) * time.Minute
}

// Location resolves the configured exchange timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Trading.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
