package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/cafepos/cafepos/internal/inventory"
	jobmetrics "github.com/cafepos/cafepos/internal/jobs"
)

// StockLister reads the active ledger.
type StockLister interface {
	List(ctx context.Context, filter inventory.ListFilter) ([]inventory.RawMaterial, error)
	Thresholds() inventory.Thresholds
}

// StockObserver exports the scan result, typically as gauges.
type StockObserver interface {
	ObserveStock(s inventory.Summary)
}

// LowStockScanJob reports materials that are low or empty.
type LowStockScanJob struct {
	Inventory StockLister
	Observer  StockObserver
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewLowStockScanJob wires dependencies for the scan handler.
func NewLowStockScanJob(inv StockLister, observer StockObserver, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Inventory: inv, Observer: observer, Logger: logger, Metrics: metrics}
}

// Handle processes low stock scan tasks.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inventory == nil {
		return errors.New("low stock scan: handler not configured")
	}
	payload := LowStockScanPayload{IncludeLow: true}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Scan(ctx, payload.IncludeLow)
	return err
}

// Scan computes the summary, logs every flagged material and returns the summary.
func (j *LowStockScanJob) Scan(ctx context.Context, includeLow bool) (inventory.Summary, error) {
	tracker := j.metrics().Track(TaskLowStockScan)
	started := time.Now()
	logger := j.logger()

	materials, err := j.Inventory.List(ctx, inventory.ListFilter{})
	if err != nil {
		logger.Error("list materials", slog.Any("error", err))
		return inventory.Summary{}, tracker.End(err)
	}
	thresholds := j.Inventory.Thresholds()
	summary := inventory.Summarise(materials, thresholds)
	for _, m := range materials {
		status := thresholds.StatusFor(m.Quantity)
		if status == inventory.StatusInStock || (status == inventory.StatusLowStock && !includeLow) {
			continue
		}
		logger.Warn("material needs restock",
			slog.Int64("material_id", m.ID),
			slog.String("name", m.Name),
			slog.Float64("quantity", m.Quantity),
			slog.String("unit", m.Unit),
			slog.String("status", string(status)))
	}
	if includeLow {
		j.metrics().AddStockAlerts(string(inventory.StatusLowStock), summary.LowStock)
	}
	j.metrics().AddStockAlerts(string(inventory.StatusOutOfStock), summary.OutOfStock)
	if j.Observer != nil {
		j.Observer.ObserveStock(summary)
	}
	logger.Info("completed low stock scan",
		slog.Int("total", summary.Total),
		slog.Int("low", summary.LowStock),
		slog.Int("out", summary.OutOfStock),
		slog.Duration("duration", time.Since(started)))
	return summary, tracker.End(nil)
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
