package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

// Recalculator rewrites stale replenishment values.
type Recalculator interface {
	Recalculate(ctx context.Context, productID int64) (int, error)
}

// FeedRefresher invalidates the urgency feed.
type FeedRefresher interface {
	Refresh(ctx context.Context) error
}

// RecalculateJob keeps persisted ROP/EOQ in line with product parameters.
type RecalculateJob struct {
	Products Recalculator
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handle executes a recalculation pass.
func (j *RecalculateJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Products == nil {
		return errors.New("replenishment recalculate: handler not configured")
	}
	var payload RecalculatePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskReplenishmentRecalculate)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := loggerFor(j.Logger, TaskReplenishmentRecalculate)
	changed, err := j.Products.Recalculate(ctx, payload.ProductID)
	if err != nil {
		logger.Error("recalculate failed", slog.Int("changed", changed), slog.Any("error", err))
		return err
	}
	logger.Info("completed replenishment recalculation",
		slog.Int64("product_id", payload.ProductID),
		slog.Int("changed", changed),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// UrgencyRefreshJob bumps the urgency feed version.
type UrgencyRefreshJob struct {
	Feed    FeedRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle executes the refresh.
func (j *UrgencyRefreshJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Feed == nil {
		return errors.New("urgency refresh: handler not configured")
	}
	var payload UrgencyRefreshPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskUrgencyRefresh)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	if err := j.Feed.Refresh(ctx); err != nil {
		return err
	}
	loggerFor(j.Logger, TaskUrgencyRefresh).Info("urgency feed refreshed", slog.String("reason", payload.Reason))
	return nil
}

func loggerFor(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}
