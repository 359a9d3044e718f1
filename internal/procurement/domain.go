package procurement

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

// Status is the purchase order lifecycle status.
type Status string

const (
	StatusDraft             Status = "Draft"
	StatusOrdered           Status = "Ordered"
	StatusPartiallyReceived Status = "Partially Received"
	StatusReceived          Status = "Received"
	StatusCancelled         Status = "Cancelled"
)

// PaymentStatus tracks settlement with the supplier.
type PaymentStatus string

const (
	PaymentUnpaid        PaymentStatus = "Unpaid"
	PaymentPartiallyPaid PaymentStatus = "Partially Paid"
	PaymentPaid          PaymentStatus = "Paid"
)

var allStatuses = []Status{StatusDraft, StatusOrdered, StatusPartiallyReceived, StatusReceived, StatusCancelled}

// ParseStatus normalises user input such as "partially_received".
func ParseStatus(raw string) (Status, error) {
	s := Status(shared.NormalizeStatus(raw))
	if slices.Contains(allStatuses, s) {
		return s, nil
	}
	return "", shared.NewValidationError("status", "must be one of Draft Ordered Partially Received Received Cancelled")
}

// PurchaseOrder is stock ordered from a supplier.
type PurchaseOrder struct {
	ID            uuid.UUID     `json:"id"`
	OwnerID       int64         `json:"-"`
	PONumber      string        `json:"poNumber"`
	SupplierID    *uuid.UUID    `json:"supplierId,omitempty"`
	SupplierName  string        `json:"supplierName"`
	Items         []Item        `json:"items"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	TotalAmount   float64       `json:"totalAmount"`
	PaidAmount    float64       `json:"paidAmount"`
	ExpectedDate  *time.Time    `json:"expectedDate,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	ReceivedAt    *time.Time    `json:"receivedAt,omitempty"`
	CancelledAt   *time.Time    `json:"cancelledAt,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Item is an ordered line. UnitPrice is the tax-exclusive cost.
type Item struct {
	ID               uuid.UUID `json:"id"`
	ProductID        uuid.UUID `json:"productId"`
	ProductName      string    `json:"productName"`
	Quantity         int       `json:"quantity"`
	ReceivedQuantity int       `json:"receivedQuantity"`
	UnitPrice        float64   `json:"unitPrice"`
	TaxRate          float64   `json:"taxRate"`
	Total            float64   `json:"total"`
}

// Outstanding returns the quantity still to be received.
func (it Item) Outstanding() int {
	return it.Quantity - it.ReceivedQuantity
}

// FullyReceived reports whether every line has been received.
func (po PurchaseOrder) FullyReceived() bool {
	for _, it := range po.Items {
		if it.Outstanding() > 0 {
			return false
		}
	}
	return true
}

// ItemInput is a requested purchase line.
type ItemInput struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Quantity  int       `json:"quantity" validate:"gt=0"`
	UnitPrice float64   `json:"unitPrice" validate:"gte=0"`
	TaxRate   float64   `json:"taxRate" validate:"gte=0,lt=100"`
}

// CreateInput creates a purchase order.
type CreateInput struct {
	SupplierID     *uuid.UUID  `json:"supplierId"`
	SupplierName   string      `json:"supplierName" validate:"required,max=200"`
	Items          []ItemInput `json:"items" validate:"required,min=1,dive"`
	Status         string      `json:"status"`
	ExpectedDate   *time.Time  `json:"expectedDate"`
	Notes          string      `json:"notes" validate:"max=1000"`
	IdempotencyKey string      `json:"-"`
}

// UpdateInput replaces the editable fields of a purchase order.
type UpdateInput struct {
	SupplierID   *uuid.UUID  `json:"supplierId"`
	SupplierName string      `json:"supplierName" validate:"required,max=200"`
	Items        []ItemInput `json:"items" validate:"required,min=1,dive"`
	ExpectedDate *time.Time  `json:"expectedDate"`
	Notes        string      `json:"notes" validate:"max=1000"`
}

// ReceiptLine receives part of one ordered product.
type ReceiptLine struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Quantity  int       `json:"quantity" validate:"gt=0"`
}

// ReceiveInput lists received quantities. No lines receives everything
// outstanding.
type ReceiveInput struct {
	Lines          []ReceiptLine `json:"lines" validate:"dive"`
	IdempotencyKey string        `json:"-"`
}

// ListFilter narrows purchase listings.
type ListFilter struct {
	Status        Status
	PaymentStatus PaymentStatus
	Limit         int
	Offset        int
}

// FormatNumber renders PO-<year>-<seq>.
func FormatNumber(year int, seq int64) string {
	return fmt.Sprintf("PO-%d-%04d", year, seq)
}

var (
	// ErrPurchaseNotFound indicates the purchase order does not exist.
	ErrPurchaseNotFound = fmt.Errorf("purchase order %w", shared.ErrNotFound)
)
