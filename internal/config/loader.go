package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SILVERBOT_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known SILVERBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Broker ──
	setStr(&cfg.Broker.APIHost, "SILVERBOT_BROKER_API_HOST")
	setStr(&cfg.Broker.FeedHost, "SILVERBOT_BROKER_FEED_HOST")
	setStr(&cfg.Broker.InstrumentKey, "SILVERBOT_BROKER_INSTRUMENT_KEY")
	setStr(&cfg.Broker.ContractName, "SILVERBOT_BROKER_CONTRACT_NAME")
	setStr(&cfg.Broker.AccessToken, "SILVERBOT_BROKER_ACCESS_TOKEN")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "SILVERBOT_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.APIKey, "SILVERBOT_ORACLE_API_KEY")
	setStr(&cfg.Oracle.Model, "SILVERBOT_ORACLE_MODEL")
	setInt(&cfg.Oracle.MinConfidence, "SILVERBOT_ORACLE_MIN_CONFIDENCE")
	setInt(&cfg.Oracle.TimeoutSec, "SILVERBOT_ORACLE_TIMEOUT_SEC")

	// ── Trading ──
	setInt(&cfg.Trading.Quantity, "SILVERBOT_TRADING_QUANTITY")
	setFloat64(&cfg.Trading.EntryBufferPct, "SILVERBOT_TRADING_ENTRY_BUFFER_PCT")
	setFloat64(&cfg.Trading.TrailMultiplier, "SILVERBOT_TRADING_TRAIL_MULTIPLIER")
	setFloat64(&cfg.Trading.StopMultiplier, "SILVERBOT_TRADING_STOP_MULTIPLIER")
	setFloat64(&cfg.Trading.TrailMarginPoints, "SILVERBOT_TRADING_TRAIL_MARGIN_POINTS")
	setFloat64(&cfg.Trading.GhostStopBuffer, "SILVERBOT_TRADING_GHOST_STOP_BUFFER")
	setInt(&cfg.Trading.ATRPeriod, "SILVERBOT_TRADING_ATR_PERIOD")
	setFloat64(&cfg.Trading.ATRMultiplier, "SILVERBOT_TRADING_ATR_MULTIPLIER")
	setInt(&cfg.Trading.CooldownMin, "SILVERBOT_TRADING_COOLDOWN_MIN")
	setInt(&cfg.Trading.NoEntryMinute, "SILVERBOT_TRADING_NO_ENTRY_MINUTE")
	setInt(&cfg.Trading.ForceExitMinute, "SILVERBOT_TRADING_FORCE_EXIT_MINUTE")
	setInt(&cfg.Trading.SchedulerInterval, "SILVERBOT_TRADING_SCHEDULER_INTERVAL_SEC")
	setStr(&cfg.Trading.Timezone, "SILVERBOT_TRADING_TIMEZONE")
	setBool(&cfg.Trading.Enabled, "SILVERBOT_TRADING_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SILVERBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SILVERBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SILVERBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SILVERBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SILVERBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SILVERBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SILVERBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SILVERBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SILVERBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SILVERBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SILVERBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SILVERBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SILVERBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SILVERBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SILVERBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SILVERBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SILVERBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SILVERBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SILVERBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SILVERBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SILVERBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SILVERBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SILVERBOT_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.Enabled, "SILVERBOT_S3_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SILVERBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SILVERBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SILVERBOT_SERVER_API_KEY")

	// ── Top-level ──
	setStr(&cfg.Mode, "SILVERBOT_MODE")
	setStr(&cfg.LogLevel, "SILVERBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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
