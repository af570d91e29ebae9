package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/EgorKonstrukt/AutoPlasma/cmd/autoplasma/cli"
	"github.com/EgorKonstrukt/AutoPlasma/internal/app"
	"github.com/EgorKonstrukt/AutoPlasma/internal/integration"
	"github.com/EgorKonstrukt/AutoPlasma/internal/ledger"
	"github.com/EgorKonstrukt/AutoPlasma/internal/materials"
	"github.com/EgorKonstrukt/AutoPlasma/internal/observability"
	"github.com/EgorKonstrukt/AutoPlasma/internal/platform/cache"
	"github.com/EgorKonstrukt/AutoPlasma/internal/platform/db"
	"github.com/EgorKonstrukt/AutoPlasma/internal/reports"
	"github.com/EgorKonstrukt/AutoPlasma/internal/shared"
	"github.com/EgorKonstrukt/AutoPlasma/internal/store/memory"
	"github.com/EgorKonstrukt/AutoPlasma/jobs"
)

const usage = `usage: autoplasma [serve | migrate | jobs trigger <ledger:integrity|ledger:low_stock_scan> | jobs stats]`

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

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = db.Migrate(ctx, cfg.PGDSN)
		if err == nil {
			logger.Info("migrations applied")
		}
	case "jobs":
		err = runJobs(ctx, cfg, args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

func redisOptions(cfg *app.Config) cache.Options {
	return cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	jobsCLI, err := cli.NewJobsCLI(redisOptions(cfg).AsynqOpt())
	if err != nil {
		return err
	}
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New(usage)
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		return errors.New(usage)
	}
	return nil
}

type storage struct {
	materials materials.RepositoryPort
	ledger    ledger.RepositoryPort
	audit     materials.AuditPort
	close     func()
}

func openStorage(ctx context.Context, cfg *app.Config, logger *slog.Logger) (storage, error) {
	if cfg.StorageDriver == app.StorageMemory {
		logger.Warn("using in-memory storage, data is lost on exit")
		store := memory.New()
		return storage{materials: store.Materials(), ledger: store.Ledger(), close: func() {}}, nil
	}
	if cfg.PGAutoMigrate {
		if err := db.Migrate(ctx, cfg.PGDSN); err != nil {
			return storage{}, err
		}
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		return storage{}, err
	}
	return storage{
		materials: materials.NewRepository(pool),
		ledger:    ledger.NewRepository(pool),
		audit:     shared.NewAuditLogger(pool),
		close:     pool.Close,
	}, nil
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	var idempotency *shared.IdempotencyStore
	var inspector *asynq.Inspector
	redisClient, err := cache.New(ctx, redisOptions(cfg))
	if err != nil {
		logger.Warn("redis unavailable, idempotency keys and job health disabled", slog.Any("error", err))
	} else {
		defer closeRedis(redisClient, logger)
		idempotency = shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL)
		inspector = asynq.NewInspector(redisOptions(cfg).AsynqOpt())
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
	}

	thresholds := ledger.Thresholds{Low: cfg.LowStockGrams, Critical: cfg.CriticalStockGrams}
	metrics := observability.NewMetrics()
	hooks := integration.NewHooks(metrics, thresholds, logger)
	admin := app.RequireAdmin(cfg.AdminTokenHash, logger)
	if cfg.AdminTokenHash == "" {
		logger.Warn("ADMIN_TOKEN_HASH not set, admin routes are open")
	}

	registry := materials.NewService(store.materials, store.audit, materials.ServiceConfig{
		RequireEmptyStockOnDelete: cfg.RequireEmptyStockOnDelete,
		Logger:                    logger,
	}, hooks)
	stock := ledger.NewService(store.ledger, idempotency, ledger.ServiceConfig{
		Thresholds:   thresholds,
		DefaultLimit: cfg.LogDefaultLimit,
		MaxLimit:     cfg.LogMaxLimit,
		Logger:       logger,
	}, hooks)
	if err := primeStockGauges(ctx, stock, metrics); err != nil {
		logger.Warn("prime stock gauges", slog.Any("error", err))
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		MaterialsHandler: materials.NewHandler(logger, registry, admin),
		LedgerHandler:    ledger.NewHandler(logger, stock, admin),
		ReportsHandler:   reports.NewHandler(logger, reports.NewService(stock)),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("storage", cfg.StorageDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func primeStockGauges(ctx context.Context, stock *ledger.Service, metrics *observability.Metrics) error {
	entries, err := stock.ListStock(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		metrics.SetStock(e.MaterialName, e.QuantityGrams)
	}
	return nil
}

func closeRedis(client *redis.Client, logger *slog.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn("redis close", slog.Any("error", err))
	}
}
