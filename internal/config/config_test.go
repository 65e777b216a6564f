package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Broker.InstrumentKey = "MCX_FO|12345"
	return cfg
}

func TestDefaults_ValidateWithInstrument(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unsupported mode", func(c *Config) { c.Mode = "replay" }},
		{"missing instrument key", func(c *Config) { c.Broker.InstrumentKey = "" }},
		{"zero quantity", func(c *Config) { c.Trading.Quantity = 0 }},
		{"negative trail multiplier", func(c *Config) { c.Trading.TrailMultiplier = -1 }},
		{"negative trail margin", func(c *Config) { c.Trading.TrailMarginPoints = -5 }},
		{"force exit before entry cutoff", func(c *Config) { c.Trading.ForceExitMinute = c.Trading.NoEntryMinute }},
		{"bad timezone", func(c *Config) { c.Trading.Timezone = "Mars/Olympus" }},
		{"atr period", func(c *Config) { c.Trading.ATRPeriod = 0 }},
		{"confidence range", func(c *Config) { c.Oracle.MinConfidence = 101 }},
		{"server port", func(c *Config) { c.Server.Port = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_TOMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "monitor"

[broker]
instrument_key = "MCX_FO|54321"
contract_name = "SILVERM26FEB"

[trading]
quantity = 2
trail_multiplier = 3.0
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "MCX_FO|54321", cfg.Broker.InstrumentKey)
	assert.Equal(t, 2, cfg.Trading.Quantity)
	assert.Equal(t, 3.0, cfg.Trading.TrailMultiplier)
	// Untouched fields keep their defaults.
	assert.Equal(t, 2.0, cfg.Trading.StopMultiplier)
	assert.Equal(t, "Asia/Kolkata", cfg.Trading.Timezone)
	assert.Equal(t, 80, cfg.Oracle.MinConfidence)
}

func TestLoad_EnvOverridesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[broker]
instrument_key = "MCX_FO|54321"
`), 0o600))

	t.Setenv("SILVERBOT_BROKER_INSTRUMENT_KEY", "MCX_FO|99999")
	t.Setenv("SILVERBOT_TRADING_QUANTITY", "3")
	t.Setenv("SILVERBOT_TRADING_ENABLED", "false")
	t.Setenv("SILVERBOT_TRADING_TRAIL_MULTIPLIER", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "MCX_FO|99999", cfg.Broker.InstrumentKey)
	assert.Equal(t, 3, cfg.Trading.Quantity)
	assert.False(t, cfg.Trading.Enabled)
	// Unparseable overrides are ignored, not applied as zero.
	assert.Equal(t, 2.5, cfg.Trading.TrailMultiplier)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestDurationHelpers(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 30*time.Second, cfg.SchedulerPeriod())
	assert.Equal(t, 5*time.Minute, cfg.CandlePeriod())

	cfg.Trading.SchedulerInterval = 0
	cfg.Trading.CandlePeriodMin = 0
	assert.Equal(t, 30*time.Second, cfg.SchedulerPeriod())
	assert.Equal(t, 5*time.Minute, cfg.CandlePeriod())
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Broker.AccessToken = "tok"
	cfg.Oracle.APIKey = "key"
	cfg.Postgres.Password = "pw"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.Redis.Password = "rpw"
	cfg.S3.AccessKey = "ak"
	cfg.S3.SecretKey = "sk"
	cfg.Server.APIKey = "srv"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Broker.AccessToken)
	assert.Equal(t, "***", red.Oracle.APIKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Postgres.DSN)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.AccessKey)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)

	// Empty secrets stay empty, and the original is untouched.
	assert.Equal(t, "tok", cfg.Broker.AccessToken)
	empty := Defaults()
	assert.Empty(t, RedactedConfig(&empty).Broker.AccessToken)
}
