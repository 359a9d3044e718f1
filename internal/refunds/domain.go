package refunds

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

// Status of a refund request.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusApproved  Status = "Approved"
	StatusRejected  Status = "Rejected"
	StatusCompleted Status = "Completed"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusCompleted},
}

// CanTransition reports whether a refund may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// ParseStatus normalises user input such as "approved".
func ParseStatus(raw string) (Status, error) {
	s := Status(shared.NormalizeStatus(raw))
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCompleted:
		return s, nil
	}
	return "", shared.NewValidationError("status", "must be one of Pending Approved Rejected Completed")
}

// Refund returns part of a completed sale.
type Refund struct {
	ID          uuid.UUID  `json:"id"`
	OwnerID     int64      `json:"-"`
	SaleID      uuid.UUID  `json:"saleId"`
	Items       []Item     `json:"items"`
	Subtotal    float64    `json:"subtotal"`
	TaxTotal    float64    `json:"taxTotal"`
	Total       float64    `json:"total"`
	Reason      string     `json:"reason"`
	Status      Status     `json:"status"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Open reports whether the refund still reserves sale quantity.
func (r Refund) Open() bool {
	return r.Status == StatusPending
}

// Item is a refunded line priced from the originating sale line.
type Item struct {
	ID          uuid.UUID `json:"id"`
	ProductID   uuid.UUID `json:"productId"`
	ProductName string    `json:"productName"`
	Quantity    int       `json:"quantity"`
	Price       float64   `json:"price"`
	TaxRate     float64   `json:"taxRate"`
	TaxAmount   float64   `json:"taxAmount"`
	Total       float64   `json:"total"`
}

// ItemInput requests a quantity of one sold product back.
type ItemInput struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Quantity  int       `json:"quantity" validate:"gt=0"`
}

// CreateInput opens a refund against a sale.
type CreateInput struct {
	SaleID uuid.UUID   `json:"saleId" validate:"required"`
	Items  []ItemInput `json:"items" validate:"required,min=1,dive"`
	Reason string      `json:"reason" validate:"max=500"`
}

// ListFilter narrows refund listings.
type ListFilter struct {
	SaleID *uuid.UUID
	Status Status
	Limit  int
	Offset int
}

// ErrRefundNotFound indicates the refund does not exist.
var ErrRefundNotFound = fmt.Errorf("refund %w", shared.ErrNotFound)
