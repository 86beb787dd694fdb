// Package config defines the configuration for the staking engine binaries
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by STAKING_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Accrual  AccrualConfig  `toml:"accrual"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Server   ServerConfig   `toml:"server"`
	Pools    []PoolConfig   `toml:"pools"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string   `toml:"dsn"`
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	Database      string   `toml:"database"`
	User          string   `toml:"user"`
	Password      string   `toml:"password"`
	SSLMode       string   `toml:"ssl_mode"`
	PoolMaxConns  int      `toml:"pool_max_conns"`
	PoolMinConns  int      `toml:"pool_min_conns"`
	LockTimeout   duration `toml:"lock_timeout"`
	RunMigrations bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; when
// disabled the engine runs without the pool cache, sweep pre-lock, and
// event bus.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	EventChannel string   `toml:"event_channel"`
	PoolCacheTTL duration `toml:"pool_cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters for ledger archives.
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

// AccrualConfig controls the batch sweep.
type AccrualConfig struct {
	SweepCron    string   `toml:"sweep_cron"`
	RunTimeout   duration `toml:"run_timeout"`
	LockKey      int64    `toml:"lock_key"`
	LockTTL      duration `toml:"lock_ttl"`
	SweepOnStart bool     `toml:"sweep_on_start"`
}

// ArchiveConfig controls the daily ledger export.
type ArchiveConfig struct {
	Cron   string `toml:"cron"`
	Prefix string `toml:"prefix"`
}

// NotifyConfig holds operator notification channels.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig controls the ops HTTP listener started in worker mode.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// PoolConfig seeds one pool into the registry at startup. Amounts are
// decimal strings.
type PoolConfig struct {
	Code                    string `toml:"code"`
	Name                    string `toml:"name"`
	Description             string `toml:"description"`
	AssetSymbol             string `toml:"asset_symbol"`
	RewardAssetSymbol       string `toml:"reward_asset_symbol"`
	APYBps                  int    `toml:"apy_bps"`
	LockDays                int    `toml:"lock_days"`
	EarlyWithdrawPenaltyBps int    `toml:"early_withdraw_penalty_bps"`
	MinStake                string `toml:"min_stake"`
	MaxStake                string `toml:"max_stake"`
	Inactive                bool   `toml:"inactive"`
	StartsAt                string `toml:"starts_at"`
	EndsAt                  string `toml:"ends_at"`
}

// Pool converts the seed into a domain.Pool.
func (p PoolConfig) Pool() (domain.Pool, error) {
	pool := domain.Pool{
		Code:                    p.Code,
		Name:                    p.Name,
		Description:             p.Description,
		AssetSymbol:             p.AssetSymbol,
		RewardAssetSymbol:       p.RewardAssetSymbol,
		APYBps:                  p.APYBps,
		LockSeconds:             int64(p.LockDays) * 86400,
		EarlyWithdrawPenaltyBps: p.EarlyWithdrawPenaltyBps,
		IsActive:                !p.Inactive,
	}
	if pool.Name == "" {
		pool.Name = p.Code
	}
	if pool.RewardAssetSymbol == "" {
		pool.RewardAssetSymbol = pool.AssetSymbol
	}

	var err error
	if pool.MinStake, err = optionalAmount(p.MinStake); err != nil {
		return domain.Pool{}, fmt.Errorf("pool %s: min_stake: %w", p.Code, err)
	}
	if pool.MaxStake, err = optionalAmount(p.MaxStake); err != nil {
		return domain.Pool{}, fmt.Errorf("pool %s: max_stake: %w", p.Code, err)
	}
	if pool.StartsAt, err = optionalTime(p.StartsAt); err != nil {
		return domain.Pool{}, fmt.Errorf("pool %s: starts_at: %w", p.Code, err)
	}
	if pool.EndsAt, err = optionalTime(p.EndsAt); err != nil {
		return domain.Pool{}, fmt.Errorf("pool %s: ends_at: %w", p.Code, err)
	}
	if err := pool.Validate(); err != nil {
		return domain.Pool{}, err
	}
	return pool, nil
}

// DomainPools converts every [[pools]] entry.
func (c *Config) DomainPools() ([]domain.Pool, error) {
	out := make([]domain.Pool, 0, len(c.Pools))
	for _, p := range c.Pools {
		pool, err := p.Pool()
		if err != nil {
			return nil, err
		}
		out = append(out, pool)
	}
	return out, nil
}

func optionalAmount(s string) (*decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := domain.ParseAmount(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func optionalTime(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

// duration wraps time.Duration so it can be decoded from TOML strings like "2s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible defaults.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "staking",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			LockTimeout:   duration{2 * time.Second},
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "staking",
			EventChannel: "staking.events",
			PoolCacheTTL: duration{5 * time.Minute},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "staking-ledger",
			ForcePathStyle: true,
		},
		Accrual: AccrualConfig{
			SweepCron:  "0 */5 * * * *",
			RunTimeout: duration{4 * time.Minute},
			LockKey:    912345678,
			LockTTL:    duration{5 * time.Minute},
		},
		Archive: ArchiveConfig{
			Cron:   "0 30 0 * * *",
			Prefix: "archive",
		},
		Notify: NotifyConfig{
			Events: []string{"REWARD_CLAIMED", "POSITION_COMPLETED", "POSITION_WITHDRAWN", "POSITION_CANCELLED"},
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Mode:     "worker",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"worker":  true,
	"sweep":   true,
	"archive": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// cronParser accepts the six-field (seconds first) expressions the worker
// schedules with.
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the configuration for logical errors and returns every
// problem found joined into one error.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: worker, sweep, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Postgres.DSN == "" && c.Postgres.Host == "" {
		errs = append(errs, "postgres: dsn or host is required")
	}
	if c.Postgres.LockTimeout.Duration <= 0 {
		errs = append(errs, "postgres: lock_timeout must be > 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns exceeds pool_max_conns")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr is required when enabled")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket is required when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region is required when enabled")
		}
	}
	if mode == "archive" && !c.S3.Enabled {
		errs = append(errs, "archive mode requires s3.enabled")
	}

	if _, err := cronParser.Parse(c.Accrual.SweepCron); err != nil {
		errs = append(errs, fmt.Sprintf("accrual: invalid sweep_cron %q: %v", c.Accrual.SweepCron, err))
	}
	if c.Accrual.RunTimeout.Duration <= 0 {
		errs = append(errs, "accrual: run_timeout must be > 0")
	}
	if c.S3.Enabled {
		if _, err := cronParser.Parse(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, "server: addr is required when enabled")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	seen := make(map[string]bool, len(c.Pools))
	for i, p := range c.Pools {
		if p.Code == "" {
			errs = append(errs, fmt.Sprintf("pools[%d]: code is required", i))
			continue
		}
		if seen[p.Code] {
			errs = append(errs, fmt.Sprintf("pools[%d]: duplicate code %q", i, p.Code))
		}
		seen[p.Code] = true
		if _, err := p.Pool(); err != nil {
			errs = append(errs, fmt.Sprintf("pools[%d]: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
