package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/agora-forum/agora/internal/accounts"
	"github.com/agora-forum/agora/internal/app"
	"github.com/agora-forum/agora/internal/bans"
	"github.com/agora-forum/agora/internal/content"
	jobmetrics "github.com/agora-forum/agora/internal/jobs"
	"github.com/agora-forum/agora/internal/platform/cache"
	"github.com/agora-forum/agora/internal/platform/db"
	"github.com/agora-forum/agora/internal/platform/lock"
	"github.com/agora-forum/agora/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	ledger := bans.NewLedger(
		bans.NewRepository(pool),
		accounts.NewRepository(pool),
		content.NewRepository(pool),
		lock.NewRedis(redisClient, lock.RedisOptions{TTL: cfg.LockTTL}),
		logger,
	)
	ledger.SetLockWait(cfg.LockWait)
	ledger.SetSweepConcurrency(cfg.SweepConcurrency)

	sweepJob := jobs.NewBanSweepJob(ledger, logger, jobmetrics.NewMetrics(nil), cfg.SweepTimeout)
	sweepTask, err := jobs.NewBanSweepTask("cron", cfg.SweepTimeout)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskBanSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(1), asynq.Timeout(cfg.SweepTimeout)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("sweep_cron", cfg.SweepCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
