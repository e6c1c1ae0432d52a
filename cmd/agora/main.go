package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/agora-forum/agora/internal/access"
	"github.com/agora-forum/agora/internal/accounts"
	"github.com/agora-forum/agora/internal/app"
	"github.com/agora-forum/agora/internal/auth"
	"github.com/agora-forum/agora/internal/bans"
	"github.com/agora-forum/agora/internal/blocks"
	"github.com/agora-forum/agora/internal/content"
	"github.com/agora-forum/agora/internal/observability"
	"github.com/agora-forum/agora/internal/platform/cache"
	"github.com/agora-forum/agora/internal/platform/db"
	"github.com/agora-forum/agora/internal/platform/lock"
	"github.com/agora-forum/agora/internal/rbac"
	"github.com/agora-forum/agora/internal/shared"
	"github.com/agora-forum/agora/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if err := db.Migrate(ctx, dbpool, logger); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}

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

	locker := lock.NewRedis(redisClient, lock.RedisOptions{TTL: cfg.LockTTL})
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()
	rbacMiddleware := rbac.Middleware{Logger: logger}

	accountRepo := accounts.NewRepository(dbpool)
	contentRepo := content.NewRepository(dbpool)

	blockStore := blocks.NewStore(blocks.NewRepository(dbpool), accountRepo, locker, auditLogger, logger)
	blockStore.SetLockWait(cfg.LockWait)
	blockGate := blocks.NewGate(blockStore)

	ledger := bans.NewLedger(bans.NewRepository(dbpool), accountRepo, contentRepo, locker, logger)
	ledger.SetLockWait(cfg.LockWait)
	ledger.SetSweepConcurrency(cfg.SweepConcurrency)

	if len(os.Args) > 1 {
		code := runCommand(ctx, cfg, ledger, os.Args[1:])
		dbpool.Close()
		_ = redisClient.Close()
		os.Exit(code)
	}

	accessGate := access.NewGate(accountRepo, contentRepo, ledger, blockGate, metrics, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		AuthHandler:         auth.NewHandler(logger, auth.NewService(cfg.OperatorTokenHash, accountRepo, ledger)),
		CapabilitiesHandler: rbac.NewCapabilitiesHandler(logger, rbac.DefaultTable, rbacMiddleware),
		BansHandler:         bans.NewHandler(logger, ledger, accountRepo, idempotencyStore, rbacMiddleware, cfg.SweepTimeout),
		BlocksHandler:       blocks.NewHandler(logger, blockStore, rbacMiddleware),
		AccessHandler:       access.NewHandler(logger, accessGate, rbacMiddleware),
		JobHandler:          jobs.NewHandler(inspector, logger),
		Metrics:             metrics,
	})

	go pruneIdempotencyKeys(ctx, idempotencyStore, logger)

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// pruneIdempotencyKeys drops keys older than a day once an hour.
func pruneIdempotencyKeys(ctx context.Context, store *shared.IdempotencyStore, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Cleanup(ctx, 24*time.Hour); err != nil {
				logger.Warn("idempotency cleanup", slog.Any("error", err))
			}
		}
	}
}
