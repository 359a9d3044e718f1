package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ledgerdesk/ledgerdesk/internal/inventory"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStock reports products that fell to their reorder level.
	TaskLowStock = "inventory:low-stock"
	// TaskInventoryReconcile compares quantities with the movement ledger.
	TaskInventoryReconcile = "inventory:reconcile"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency-cleanup"
)

// ReconcilePayload narrows a reconcile run to one owner. Zero means all.
type ReconcilePayload struct {
	OwnerID      int64     `json:"owner_id,omitempty"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// CleanupPayload carries scheduling metadata for the idempotency sweep.
type CleanupPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLowStockTask constructs an Asynq task from a committed low-stock event.
func NewLowStockTask(evt inventory.LowStockEvent) (*asynq.Task, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStock, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewInventoryReconcileTask constructs an Asynq task for the ledger check.
func NewInventoryReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryReconcile, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs an Asynq task for the key sweep.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
