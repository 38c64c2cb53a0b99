package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAvailabilityRefresh asks every API broadcaster to recompute its snapshot.
	TaskAvailabilityRefresh = "availability:refresh"
	// TaskLowStockScan counts low and empty materials.
	TaskLowStockScan = "inventory:low_stock_scan"
)

// AvailabilityRefreshPayload carries scheduling metadata.
type AvailabilityRefreshPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewAvailabilityRefreshTask constructs an Asynq task for a broadcast refresh.
func NewAvailabilityRefreshTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(AvailabilityRefreshPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAvailabilityRefresh, body, asynq.Queue(QueueDefault)), nil
}

// LowStockScanPayload selects which statuses the scan reports.
type LowStockScanPayload struct {
	IncludeLow bool `json:"include_low"`
}

// NewLowStockScanTask constructs an Asynq task for the low stock scan.
func NewLowStockScanTask(includeLow bool) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockScanPayload{IncludeLow: includeLow})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, body, asynq.Queue(QueueDefault)), nil
}
