package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/EgorKonstrukt/AutoPlasma/internal/jobs"
	"github.com/EgorKonstrukt/AutoPlasma/internal/ledger"
)

// StockReader lists current stock and its configured bands.
type StockReader interface {
	ListStock(ctx context.Context) ([]ledger.StockEntry, error)
	Thresholds() ledger.Thresholds
}

// LowStockScanJob warns about materials below the low or critical band.
type LowStockScanJob struct {
	Stock   StockReader
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockScanJob initialises the scan handler.
func NewLowStockScanJob(stock StockReader, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Stock: stock, Logger: logger, Metrics: metrics}
}

// Handle classifies every stock entry and publishes counts per band.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Stock == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	bands := j.Stock.Thresholds()
	if payload.LowGrams > 0 {
		bands.Low = payload.LowGrams
	}
	if payload.CriticalGrams > 0 {
		bands.Critical = payload.CriticalGrams
	}

	tracker := j.metrics().Track(TaskLowStockScan)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger()
	entries, err := j.Stock.ListStock(ctx)
	if err != nil {
		logger.Error("list stock failed", slog.Any("error", err))
		return err
	}
	counts := map[string]int{
		string(ledger.StockStatusOK):       0,
		string(ledger.StockStatusLow):      0,
		string(ledger.StockStatusCritical): 0,
	}
	for _, e := range entries {
		status := bands.Classify(e.QuantityGrams)
		counts[string(status)]++
		if status == ledger.StockStatusOK {
			continue
		}
		logger.Warn("material running low",
			slog.String("material", e.MaterialName),
			slog.String("status", string(status)),
			slog.Float64("quantity_grams", e.QuantityGrams))
	}
	j.metrics().SetStockStatus(counts)
	logger.Info("completed low stock scan",
		slog.Int("materials", len(entries)),
		slog.Int("low", counts[string(ledger.StockStatusLow)]),
		slog.Int("critical", counts[string(ledger.StockStatusCritical)]))
	return nil
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLowStockScan))
	}
	return slog.Default().With(slog.String("job", TaskLowStockScan))
}

func (j *LowStockScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
