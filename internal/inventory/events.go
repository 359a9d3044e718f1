package inventory

import (
	"time"

	"github.com/google/uuid"
)

// LowStockEvent is raised after a commit leaves products at or below their
// reorder level.
type LowStockEvent struct {
	OwnerID    int64       `json:"owner_id"`
	ProductIDs []uuid.UUID `json:"product_ids"`
	Reason     Reason      `json:"reason"`
	RaisedAt   time.Time   `json:"raised_at"`
}
