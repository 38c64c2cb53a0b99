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

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// AvailabilityRefreshJob publishes a scheduled change event so subscribed broadcasters
// recompute even when no stock movement reached them.
type AvailabilityRefreshJob struct {
	Publisher inventory.Publisher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewAvailabilityRefreshJob wires dependencies for the refresh handler.
func NewAvailabilityRefreshJob(publisher inventory.Publisher, logger *slog.Logger, metrics *jobmetrics.Metrics) *AvailabilityRefreshJob {
	return &AvailabilityRefreshJob{
		Publisher: publisher,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes availability refresh tasks.
func (j *AvailabilityRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Publisher == nil {
		return errors.New("availability refresh: handler not configured")
	}
	var payload AvailabilityRefreshPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskAvailabilityRefresh)
	now := j.now()
	err := j.Publisher.Publish(ctx, inventory.ChangeEvent{Reason: inventory.ReasonScheduled, At: now})
	if err != nil {
		j.logger().Error("publish scheduled refresh", slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger().Info("published scheduled refresh", slog.Time("scheduled_for", payload.ScheduledFor))
	return tracker.End(nil)
}

func (j *AvailabilityRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAvailabilityRefresh))
	}
	return slog.Default().With(slog.String("job", TaskAvailabilityRefresh))
}

func (j *AvailabilityRefreshJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AvailabilityRefreshJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
