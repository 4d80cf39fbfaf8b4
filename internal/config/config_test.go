package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
log_level = "debug"

[chain]
request_delay = "250ms"
max_retries = 5
retry_delay = "2s"
cool_down = "30s"

[[chain.endpoints]]
url = "https://polygon-rpc.com"
max_range = 50

[[chain.endpoints]]
url = "https://rpc.ankr.com/polygon"
max_range = 1000

[monitor]
accounts = ["0x1111111111111111111111111111111111111111"]
poll_interval = "15s"
batch_size = 200
lookback_hours = 2

[postgres]
host = "db.internal"
database = "fills"
user = "monitor"

[redis]
enabled = true
addr = "redis.internal:6379"

[archive]
enabled = true
retention_days = 7
interval = "12h"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.Chain.Endpoints, 2)
	assert.EqualValues(t, 1000, cfg.Chain.Endpoints[1].MaxRange)
	assert.Equal(t, 250*time.Millisecond, cfg.Chain.RequestDelay.Duration)
	assert.Equal(t, 15*time.Second, cfg.Monitor.PollInterval.Duration)
	assert.EqualValues(t, 200, cfg.Monitor.BatchSize)
	assert.Equal(t, 2, cfg.Monitor.LookbackHours)
	assert.Equal(t, 12*time.Hour, cfg.Archive.Interval.Duration)

	// Untouched fields keep their defaults.
	assert.Equal(t, "0x4bfb41d5b3570defd03c39a9a4d8de6bd8b8982e", cfg.Monitor.CTFExchange)
	assert.InDelta(t, 0.95, cfg.Monitor.SettleWinThreshold, 1e-9)
	assert.True(t, cfg.Postgres.RunMigrations)

	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("POLYMON_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("POLYMON_MONITOR_ACCOUNTS",
		"0x2222222222222222222222222222222222222222, 0x3333333333333333333333333333333333333333")
	t.Setenv("POLYMON_MONITOR_POLL_INTERVAL", "5s")
	t.Setenv("POLYMON_CHAIN_RPC_URLS", "https://alt-rpc.example.com")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.Equal(t, []string{
		"0x2222222222222222222222222222222222222222",
		"0x3333333333333333333333333333333333333333",
	}, cfg.Monitor.Accounts)
	assert.Equal(t, 5*time.Second, cfg.Monitor.PollInterval.Duration)
	require.Len(t, cfg.Chain.Endpoints, 1)
	assert.Equal(t, "https://alt-rpc.example.com", cfg.Chain.Endpoints[0].URL)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		frag   string
	}{
		{"no endpoints", func(c *Config) { c.Chain.Endpoints = nil }, "endpoint"},
		{"no accounts", func(c *Config) { c.Monitor.Accounts = nil }, "account"},
		{"bad account", func(c *Config) { c.Monitor.Accounts = []string{"not-an-address"} }, "hex address"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"inverted bands", func(c *Config) {
			c.Monitor.SettleWinThreshold = 0.05
			c.Monitor.SettleLossThreshold = 0.95
		}, "settle_win_threshold"},
		{"zero poll interval", func(c *Config) { c.Monitor.PollInterval = duration{} }, "poll_interval"},
		{"archive without retention", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.RetentionDays = 0
		}, "retention_days"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Monitor.Accounts = []string{"0x1111111111111111111111111111111111111111"}
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.frag)
		})
	}
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))

	assert.Error(t, d.UnmarshalText([]byte("not a duration")))
}
