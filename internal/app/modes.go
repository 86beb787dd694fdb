package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/stakingengine/internal/domain"
	"github.com/alanyoungcy/stakingengine/internal/server"
	"github.com/alanyoungcy/stakingengine/internal/server/handler"
	"github.com/alanyoungcy/stakingengine/internal/server/ws"
)

// WorkerMode schedules the accrual sweep and, when S3 is enabled, the daily
// ledger archive. It blocks until ctx is cancelled and lets the running job
// finish before returning.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering worker mode",
		slog.String("sweep_cron", a.cfg.Accrual.SweepCron),
		slog.Bool("archive", deps.Archiver != nil),
	)

	clog := cronLogger{logger: a.logger}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	if _, err := c.AddFunc(a.cfg.Accrual.SweepCron, func() {
		_ = a.runSweep(ctx, deps)
	}); err != nil {
		return fmt.Errorf("app: schedule sweep: %w", err)
	}

	if deps.Archiver != nil {
		if _, err := c.AddFunc(a.cfg.Archive.Cron, func() {
			_ = a.runArchive(ctx, deps.Archiver, previousDay(a.now()))
		}); err != nil {
			return fmt.Errorf("app: schedule archive: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Accrual.SweepOnStart {
		g.Go(func() error {
			// A failed catch-up sweep is retried by the schedule.
			_ = a.runSweep(ctx, deps)
			return nil
		})
	}

	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps)
	}

	g.Go(func() error {
		c.Start()
		a.logger.InfoContext(ctx, "scheduler started")
		<-ctx.Done()
		<-c.Stop().Done()
		a.logger.Info("scheduler stopped")
		return ctx.Err()
	})

	return g.Wait()
}

// startServer adds the ops HTTP server, and the event stream hub when Redis
// is enabled, to g.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	checks := map[string]handler.Check{}
	if deps.Postgres != nil {
		checks["postgres"] = deps.Postgres.Health
	}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis.Ping
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3.Health
	}

	var hub *ws.Hub
	if deps.EventBus != nil {
		hub = ws.NewHub(deps.EventBus, a.logger)
		g.Go(func() error {
			// The stream is best effort; the worker keeps running without it.
			if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.WarnContext(ctx, "event stream stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	srv := server.NewServer(
		server.Config{Addr: a.cfg.Server.Addr},
		handler.NewHealthHandler(checks, a.logger),
		hub,
		a.logger,
	)
	g.Go(func() error {
		return srv.Run(ctx)
	})
}

// SweepMode runs one accrual sweep and returns.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	return a.runSweep(ctx, deps)
}

// ArchiveMode exports the previous UTC day of the ledger and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive mode requires s3")
	}
	return a.runArchive(ctx, deps.Archiver, previousDay(a.now()))
}

// runSweep runs one bounded sweep and logs its outcome.
func (a *App) runSweep(ctx context.Context, deps *Dependencies) error {
	runCtx, cancel := context.WithTimeout(ctx, a.cfg.Accrual.RunTimeout.Duration)
	defer cancel()

	res, err := deps.Engine.Sweep(runCtx)
	if err != nil {
		a.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
		return fmt.Errorf("app: sweep: %w", err)
	}
	if res.Skipped {
		a.logger.InfoContext(ctx, "sweep skipped, another run holds the lock")
		return nil
	}
	a.logger.InfoContext(ctx, "sweep finished",
		slog.Int("scanned", res.Scanned),
		slog.Int("updated", res.Updated),
		slog.Int("rewards", res.RewardsInserted),
		slog.Int("completed", res.Completed),
		slog.String("total_reward", domain.FormatAmount(res.TotalReward)),
		slog.Duration("duration", res.Duration),
	)
	return nil
}

// runArchive exports both logs for the UTC day starting at day.
func (a *App) runArchive(ctx context.Context, archiver domain.Archiver, day time.Time) error {
	since, until := day, day.Add(24*time.Hour)

	rewards, err := archiver.ArchiveRewards(ctx, since, until)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive rewards failed", slog.String("error", err.Error()))
		return fmt.Errorf("app: archive rewards: %w", err)
	}
	events, err := archiver.ArchiveEvents(ctx, since, until)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive events failed", slog.String("error", err.Error()))
		return fmt.Errorf("app: archive events: %w", err)
	}

	a.logger.InfoContext(ctx, "archive finished",
		slog.String("day", since.Format("2006-01-02")),
		slog.Int64("rewards", rewards),
		slog.Int64("events", events),
	)
	return nil
}

// previousDay returns midnight UTC of the day before now.
func previousDay(now time.Time) time.Time {
	return now.UTC().Truncate(24*time.Hour).Add(-24 * time.Hour)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)...)
}
