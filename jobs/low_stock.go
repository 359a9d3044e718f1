package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/ledgerdesk/ledgerdesk/internal/inventory"
	jobmetrics "github.com/ledgerdesk/ledgerdesk/internal/jobs"
	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LowStockJob records an audit entry per product that reached its reorder
// level.
type LowStockJob struct {
	Audit   AuditRecorder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockJob wires dependencies for the low-stock handler.
func NewLowStockJob(audit AuditRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockJob {
	return &LowStockJob{Audit: audit, Logger: logger, Metrics: metrics}
}

// Handle processes TaskLowStock tasks.
func (j *LowStockJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("low stock: handler not configured")
	}
	var evt inventory.LowStockEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskLowStock)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("owner_id", evt.OwnerID), slog.String("reason", string(evt.Reason)))
	for _, id := range evt.ProductIDs {
		logger.Warn("product at or below reorder level", slog.String("product_id", id.String()))
		if j.Audit == nil {
			continue
		}
		err := j.Audit.Record(ctx, shared.AuditLog{
			ActorID:  evt.OwnerID,
			Action:   "inventory.low_stock",
			Entity:   "product",
			EntityID: id.String(),
			Meta:     map[string]any{"reason": string(evt.Reason)},
			At:       evt.RaisedAt,
		})
		if err != nil {
			resultErr = err
			logger.Error("record low stock audit", slog.Any("error", err))
			return resultErr
		}
	}
	return resultErr
}

func (j *LowStockJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLowStock))
	}
	return slog.Default().With(slog.String("job", TaskLowStock))
}

func (j *LowStockJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
