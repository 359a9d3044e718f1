package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerdesk/ledgerdesk/internal/inventory"
	jobmetrics "github.com/ledgerdesk/ledgerdesk/internal/jobs"
)

// ReconcileSource reports ledger discrepancies per owner.
type ReconcileSource interface {
	Owners(ctx context.Context) ([]int64, error)
	Reconcile(ctx context.Context, ownerID int64) ([]inventory.Discrepancy, error)
}

// InventoryReconcileJob checks that every product's quantity equals the sum
// of its movements. Drift is logged and counted, never corrected.
type InventoryReconcileJob struct {
	Source      ReconcileSource
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Concurrency int
	clock       func() time.Time
}

// NewInventoryReconcileJob wires dependencies for the reconcile handler.
func NewInventoryReconcileJob(source ReconcileSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *InventoryReconcileJob {
	return &InventoryReconcileJob{
		Source:      source,
		Logger:      logger,
		Metrics:     metrics,
		Concurrency: 4,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskInventoryReconcile tasks.
func (j *InventoryReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil {
		return errors.New("inventory reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload.OwnerID)
	return err
}

// Run reconciles one owner, or every owner when ownerID is zero, and returns
// the number of drifting products.
func (j *InventoryReconcileJob) Run(ctx context.Context, ownerID int64) (int, error) {
	start := j.now()
	tracker := j.metrics().Track(TaskInventoryReconcile)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	owners := []int64{ownerID}
	if ownerID == 0 {
		var err error
		owners, err = j.Source.Owners(ctx)
		if err != nil {
			resultErr = err
			logger.Error("load owners", slog.Any("error", err))
			return 0, resultErr
		}
	}

	var (
		mu    sync.Mutex
		drift int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency())
	for _, owner := range owners {
		g.Go(func() error {
			found, err := j.Source.Reconcile(gctx, owner)
			if err != nil {
				return err
			}
			for _, d := range found {
				logger.Warn("inventory drift detected",
					slog.Int64("owner_id", owner),
					slog.String("product_id", d.ProductID.String()),
					slog.Int("quantity", d.Quantity),
					slog.Int("ledger_sum", d.LedgerSum),
				)
			}
			mu.Lock()
			drift += len(found)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		resultErr = err
		logger.Error("reconcile failed", slog.Any("error", err))
		return drift, resultErr
	}
	j.metrics().AddDrift(drift)
	logger.Info("completed inventory reconcile",
		slog.Int("owners", len(owners)),
		slog.Int("drift", drift),
		slog.Duration("duration", time.Since(start)),
	)
	return drift, resultErr
}

func (j *InventoryReconcileJob) concurrency() int {
	if j.Concurrency > 0 {
		return j.Concurrency
	}
	return 1
}

func (j *InventoryReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInventoryReconcile))
	}
	return slog.Default().With(slog.String("job", TaskInventoryReconcile))
}

func (j *InventoryReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *InventoryReconcileJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
