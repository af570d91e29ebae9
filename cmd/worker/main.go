package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/EgorKonstrukt/AutoPlasma/internal/app"
	"github.com/EgorKonstrukt/AutoPlasma/internal/ledger"
	"github.com/EgorKonstrukt/AutoPlasma/internal/platform/cache"
	"github.com/EgorKonstrukt/AutoPlasma/internal/platform/db"
	"github.com/EgorKonstrukt/AutoPlasma/jobs"
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

	if cfg.StorageDriver != app.StoragePostgres {
		logger.Error("worker requires postgres storage", slog.String("storage", cfg.StorageDriver))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	stock := ledger.NewService(ledger.NewRepository(pool), nil, ledger.ServiceConfig{
		Thresholds:   ledger.Thresholds{Low: cfg.LowStockGrams, Critical: cfg.CriticalStockGrams},
		DefaultLimit: cfg.LogDefaultLimit,
		MaxLimit:     cfg.LogMaxLimit,
		Logger:       logger,
	}, nil)

	integrityJob := jobs.NewLedgerIntegrityJob(stock, logger, nil)
	lowStockJob := jobs.NewLowStockScanJob(stock, logger, nil)

	integrityTask, err := jobs.NewLedgerIntegrityTask(time.Time{})
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}
	lowStockTask, err := jobs.NewLowStockScanTask(jobs.LowStockScanPayload{})
	if err != nil {
		logger.Error("build low stock task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts.AsynqOpt(),
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerIntegrity, Handler: integrityJob.Handle},
			{Type: jobs.TaskLowStockScan, Handler: lowStockJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/15 * * * *", Task: lowStockTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
