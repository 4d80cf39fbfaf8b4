// Package config defines the top-level configuration for the chain monitor
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYMON_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	LogLevel string         `toml:"log_level"`
}

// EndpointConfig describes a single JSON-RPC endpoint. MaxRange is the widest
// eth_getLogs block span the provider tolerates; zero means use the default.
type EndpointConfig struct {
	URL      string `toml:"url"`
	MaxRange uint64 `toml:"max_range"`
}

// ChainConfig holds the RPC endpoint pool and client pacing parameters.
type ChainConfig struct {
	Endpoints    []EndpointConfig `toml:"endpoints"`
	RequestDelay duration         `toml:"request_delay"`
	MaxRetries   int              `toml:"max_retries"`
	RetryDelay   duration         `toml:"retry_delay"`
	CoolDown     duration         `toml:"cool_down"`
}

// MonitorConfig holds the scan targets and windowing parameters.
type MonitorConfig struct {
	Accounts            []string `toml:"accounts"`
	CTFExchange         string   `toml:"ctf_exchange"`
	NegRiskExchange     string   `toml:"neg_risk_exchange"`
	PollInterval        duration `toml:"poll_interval"`
	BatchSize           uint64   `toml:"batch_size"`
	StartBlock          uint64   `toml:"start_block"`
	LookbackHours       int      `toml:"lookback_hours"`
	CatchupThreshold    uint64   `toml:"catchup_threshold"`
	MaxConsecutiveErrs  int      `toml:"max_consecutive_errors"`
	SettleWinThreshold  float64  `toml:"settle_win_threshold"`
	SettleLossThreshold float64  `toml:"settle_loss_threshold"`
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

// RedisConfig holds Redis connection parameters for the trade notification bus.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the periodic CSV export of aged trades to S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding, so config files can say poll_interval = "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so BurntSushi/toml can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler for round-tripping.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Defaults returns a Config populated with sensible defaults. Load merges the
// TOML file on top of this.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			Endpoints: []EndpointConfig{
				{URL: "https://polygon-rpc.com", MaxRange: 50},
			},
			RequestDelay: duration{200 * time.Millisecond},
			MaxRetries:   3,
			RetryDelay:   duration{5 * time.Second},
			CoolDown:     duration{time.Minute},
		},
		Monitor: MonitorConfig{
			CTFExchange:         "0x4bfb41d5b3570defd03c39a9a4d8de6bd8b8982e",
			NegRiskExchange:     "0xc5d563a36ae78145c45a50134d48a1215220f80a",
			PollInterval:        duration{30 * time.Second},
			BatchSize:           100,
			LookbackHours:       1,
			CatchupThreshold:    10,
			MaxConsecutiveErrs:  10,
			SettleWinThreshold:  0.95,
			SettleLossThreshold: 0.05,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polymonitor",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polymonitor-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			Interval:      duration{24 * time.Hour},
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for obvious mistakes and returns an error
// describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if len(c.Chain.Endpoints) == 0 {
		errs = append(errs, "chain: at least one RPC endpoint must be configured")
	}
	for i, ep := range c.Chain.Endpoints {
		if ep.URL == "" {
			errs = append(errs, fmt.Sprintf("chain: endpoints[%d].url must not be empty", i))
		}
	}
	if c.Chain.MaxRetries < 1 {
		errs = append(errs, "chain: max_retries must be at least 1")
	}

	// Monitor
	if len(c.Monitor.Accounts) == 0 {
		errs = append(errs, "monitor: at least one account to watch must be configured")
	}
	for i, acct := range c.Monitor.Accounts {
		if !looksLikeAddress(acct) {
			errs = append(errs, fmt.Sprintf("monitor: accounts[%d] %q is not a hex address", i, acct))
		}
	}
	if !looksLikeAddress(c.Monitor.CTFExchange) {
		errs = append(errs, fmt.Sprintf("monitor: ctf_exchange %q is not a hex address", c.Monitor.CTFExchange))
	}
	if !looksLikeAddress(c.Monitor.NegRiskExchange) {
		errs = append(errs, fmt.Sprintf("monitor: neg_risk_exchange %q is not a hex address", c.Monitor.NegRiskExchange))
	}
	if c.Monitor.PollInterval.Duration <= 0 {
		errs = append(errs, "monitor: poll_interval must be positive")
	}
	if c.Monitor.BatchSize == 0 {
		errs = append(errs, "monitor: batch_size must be positive")
	}
	if c.Monitor.LookbackHours < 0 {
		errs = append(errs, "monitor: lookback_hours must not be negative")
	}
	if c.Monitor.SettleWinThreshold <= c.Monitor.SettleLossThreshold {
		errs = append(errs, "monitor: settle_win_threshold must be greater than settle_loss_threshold")
	}
	if c.Monitor.SettleWinThreshold > 1 || c.Monitor.SettleLossThreshold < 0 {
		errs = append(errs, "monitor: settlement thresholds must lie within [0, 1]")
	}

	// Postgres
	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		errs = append(errs, "postgres: either dsn or host/database/user must be set")
	}

	// Redis
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "archive: s3 bucket must be set when archiving is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be at least 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// looksLikeAddress is a cheap shape check; full checksum validation happens
// when the address is parsed by go-ethereum at wiring time.
func looksLikeAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	return len(s) == 42
}
