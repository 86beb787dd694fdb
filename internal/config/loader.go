package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies STAKING_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env file is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from STAKING_* variables that
// are set and non-empty.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "STAKING_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "STAKING_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "STAKING_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "STAKING_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "STAKING_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "STAKING_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "STAKING_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "STAKING_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "STAKING_POSTGRES_POOL_MIN_CONNS")
	setDuration(&cfg.Postgres.LockTimeout, "STAKING_POSTGRES_LOCK_TIMEOUT")
	setBool(&cfg.Postgres.RunMigrations, "STAKING_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "STAKING_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "STAKING_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STAKING_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STAKING_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STAKING_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "STAKING_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "STAKING_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "STAKING_REDIS_KEY_PREFIX")
	setStr(&cfg.Redis.EventChannel, "STAKING_REDIS_EVENT_CHANNEL")
	setDuration(&cfg.Redis.PoolCacheTTL, "STAKING_REDIS_POOL_CACHE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "STAKING_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "STAKING_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "STAKING_S3_REGION")
	setStr(&cfg.S3.Bucket, "STAKING_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "STAKING_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "STAKING_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "STAKING_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "STAKING_S3_FORCE_PATH_STYLE")

	// ── Accrual ──
	setStr(&cfg.Accrual.SweepCron, "STAKING_ACCRUAL_SWEEP_CRON")
	setDuration(&cfg.Accrual.RunTimeout, "STAKING_ACCRUAL_RUN_TIMEOUT")
	setInt64(&cfg.Accrual.LockKey, "STAKING_ACCRUAL_LOCK_KEY")
	setDuration(&cfg.Accrual.LockTTL, "STAKING_ACCRUAL_LOCK_TTL")
	setBool(&cfg.Accrual.SweepOnStart, "STAKING_ACCRUAL_SWEEP_ON_START")

	// ── Archive ──
	setStr(&cfg.Archive.Cron, "STAKING_ARCHIVE_CRON")
	setStr(&cfg.Archive.Prefix, "STAKING_ARCHIVE_PREFIX")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "STAKING_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "STAKING_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "STAKING_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "STAKING_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "STAKING_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "STAKING_SERVER_ADDR")

	// ── Top-level ──
	setStr(&cfg.Mode, "STAKING_MODE")
	setStr(&cfg.LogLevel, "STAKING_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present and parses.

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
