package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/stakingengine/internal/blob/s3"
	"github.com/alanyoungcy/stakingengine/internal/cache/redis"
	"github.com/alanyoungcy/stakingengine/internal/config"
	"github.com/alanyoungcy/stakingengine/internal/domain"
	"github.com/alanyoungcy/stakingengine/internal/notify"
	"github.com/alanyoungcy/stakingengine/internal/service"
	"github.com/alanyoungcy/stakingengine/internal/store/postgres"
)

// Dependencies bundles everything the modes and the CLI operate on. Optional
// pieces are nil when their backend is disabled.
type Dependencies struct {
	Postgres *postgres.Client
	Store    domain.StakingStore

	Redis       *redis.Client
	PoolCache   domain.PoolCache
	LockManager domain.LockManager
	EventBus    *redis.EventBus

	S3       *s3blob.Client
	Archiver domain.Archiver
	Notifier *notify.Notifier

	Engine *service.Engine
}

// Wire constructs the concrete dependencies from cfg and returns them with a
// cleanup function to call on shutdown. Pools from [[pools]] are synced into
// the registry before Wire returns.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:         cfg.Postgres.DSN,
		Host:        cfg.Postgres.Host,
		Port:        cfg.Postgres.Port,
		Database:    cfg.Postgres.Database,
		User:        cfg.Postgres.User,
		Password:    cfg.Postgres.Password,
		SSLMode:     cfg.Postgres.SSLMode,
		MaxConns:    cfg.Postgres.PoolMaxConns,
		MinConns:    cfg.Postgres.PoolMinConns,
		LockTimeout: cfg.Postgres.LockTimeout.Duration,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.Postgres = pgClient
	deps.Store = postgres.NewStakingStore(pgClient)

	// --- Redis (optional) ---
	var publisher domain.EventPublisher
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.PoolCache = redis.NewPoolCache(redisClient, cfg.Redis.PoolCacheTTL.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.EventBus = redis.NewEventBus(redisClient, cfg.Redis.EventChannel)
		publisher = deps.EventBus
	}

	// --- S3 ledger archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.Archive.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.S3 = s3Client
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Store.Ledger(), logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	var notifier service.Notifier
	if deps.Notifier.Enabled() {
		notifier = deps.Notifier
	}

	// --- Engine ---
	deps.Engine = service.NewEngine(
		deps.Store,
		deps.PoolCache,
		deps.LockManager,
		service.NewFanout(publisher, notifier, logger),
		service.EngineConfig{
			SweepLockKey: cfg.Accrual.LockKey,
			SweepLockTTL: cfg.Accrual.LockTTL.Duration,
		},
		logger,
	)

	pools, err := cfg.DomainPools()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: pools: %w", err)
	}
	if err := deps.Engine.Pools.Sync(ctx, pools); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: sync pools: %w", err)
	}

	return deps, cleanup, nil
}
