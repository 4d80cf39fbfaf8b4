package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYMON_* environment variable overrides, and
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

// applyEnvOverrides reads well-known POLYMON_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	if urls := envStringSlice("POLYMON_CHAIN_RPC_URLS"); len(urls) > 0 {
		eps := make([]EndpointConfig, 0, len(urls))
		for _, u := range urls {
			eps = append(eps, EndpointConfig{URL: u})
		}
		cfg.Chain.Endpoints = eps
	}
	setDuration(&cfg.Chain.RequestDelay, "POLYMON_CHAIN_REQUEST_DELAY")
	setInt(&cfg.Chain.MaxRetries, "POLYMON_CHAIN_MAX_RETRIES")
	setDuration(&cfg.Chain.RetryDelay, "POLYMON_CHAIN_RETRY_DELAY")
	setDuration(&cfg.Chain.CoolDown, "POLYMON_CHAIN_COOL_DOWN")

	// ── Monitor ──
	setStringSlice(&cfg.Monitor.Accounts, "POLYMON_MONITOR_ACCOUNTS")
	setStr(&cfg.Monitor.CTFExchange, "POLYMON_MONITOR_CTF_EXCHANGE")
	setStr(&cfg.Monitor.NegRiskExchange, "POLYMON_MONITOR_NEG_RISK_EXCHANGE")
	setDuration(&cfg.Monitor.PollInterval, "POLYMON_MONITOR_POLL_INTERVAL")
	setUint64(&cfg.Monitor.BatchSize, "POLYMON_MONITOR_BATCH_SIZE")
	setUint64(&cfg.Monitor.StartBlock, "POLYMON_MONITOR_START_BLOCK")
	setInt(&cfg.Monitor.LookbackHours, "POLYMON_MONITOR_LOOKBACK_HOURS")
	setUint64(&cfg.Monitor.CatchupThreshold, "POLYMON_MONITOR_CATCHUP_THRESHOLD")
	setInt(&cfg.Monitor.MaxConsecutiveErrs, "POLYMON_MONITOR_MAX_CONSECUTIVE_ERRORS")
	setFloat64(&cfg.Monitor.SettleWinThreshold, "POLYMON_MONITOR_SETTLE_WIN_THRESHOLD")
	setFloat64(&cfg.Monitor.SettleLossThreshold, "POLYMON_MONITOR_SETTLE_LOSS_THRESHOLD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYMON_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYMON_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYMON_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYMON_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYMON_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYMON_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYMON_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYMON_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYMON_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYMON_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYMON_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYMON_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYMON_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYMON_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYMON_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYMON_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYMON_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYMON_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYMON_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYMON_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYMON_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYMON_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYMON_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYMON_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POLYMON_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "POLYMON_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "POLYMON_ARCHIVE_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "POLYMON_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if cleaned := envStringSlice(key); len(cleaned) > 0 {
		*dst = cleaned
	}
}

func envStringSlice(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}
