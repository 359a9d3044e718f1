package sales

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

// ============================================================================
// CUSTOMER
// ============================================================================

// Customer is a buyer that sales and invoices are addressed to.
type Customer struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   int64     `json:"-"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CustomerInput creates a customer.
type CustomerInput struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone" validate:"omitempty,max=50"`
	Address string `json:"address" validate:"omitempty,max=500"`
}

// CustomerFilter narrows customer listings.
type CustomerFilter struct {
	Search string
	Limit  int
	Offset int
}

// ============================================================================
// SALE ORDER
// ============================================================================

// Status of a sale order.
type Status string

const (
	StatusDraft     Status = "Draft"
	StatusPending   Status = "Pending"
	StatusOrdered   Status = "Ordered"
	StatusCompleted Status = "Completed"
	StatusReceived  Status = "Received"
	StatusCancelled Status = "Cancelled"
)

// PaymentStatus of a sale order.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "Unpaid"
	PaymentPaid   PaymentStatus = "Paid"
)

// Sale is a customer order whose completion consumes stock.
type Sale struct {
	ID            uuid.UUID     `json:"id"`
	OwnerID       int64         `json:"-"`
	CustomerID    uuid.UUID     `json:"customerId"`
	CustomerName  string        `json:"customerName"`
	Items         []Item        `json:"items"`
	Subtotal      float64       `json:"subtotal"`
	TaxTotal      float64       `json:"taxTotal"`
	Discount      float64       `json:"discount"`
	RoundOff      float64       `json:"roundOff"`
	Total         float64       `json:"total"`
	RefundedTotal float64       `json:"refundedTotal"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	InvoiceID     *uuid.UUID    `json:"invoiceId,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty"`
	CancelledAt   *time.Time    `json:"cancelledAt,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Item is a sale line. Price is tax-exclusive; Total includes tax.
type Item struct {
	ID               uuid.UUID `json:"id"`
	ProductID        uuid.UUID `json:"productId"`
	ProductName      string    `json:"productName"`
	Quantity         int       `json:"quantity"`
	Price            float64   `json:"price"`
	TaxRate          float64   `json:"taxRate"`
	TaxAmount        float64   `json:"taxAmount"`
	Total            float64   `json:"total"`
	RefundedQuantity int       `json:"refundedQuantity"`
}

// Refundable returns the quantity not yet refunded.
func (it Item) Refundable() int {
	return it.Quantity - it.RefundedQuantity
}

// ConsumesStock reports whether the sale's items have left inventory.
func (s Sale) ConsumesStock() bool {
	return s.Status == StatusCompleted || s.Status == StatusReceived
}

// ItemByProduct returns the line for productID.
func (s Sale) ItemByProduct(productID uuid.UUID) (Item, int, bool) {
	for i, it := range s.Items {
		if it.ProductID == productID {
			return it, i, true
		}
	}
	return Item{}, -1, false
}

// ItemInput is a requested sale line. Price and TaxRate default to the
// product's selling price (tax stripped) and rate.
type ItemInput struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Quantity  int       `json:"quantity" validate:"gt=0"`
	Price     *float64  `json:"price" validate:"omitempty,gte=0"`
	TaxRate   *float64  `json:"taxRate" validate:"omitempty,gte=0,lt=100"`
}

// CreateInput creates a sale order.
type CreateInput struct {
	CustomerID     uuid.UUID   `json:"customerId" validate:"required"`
	Items          []ItemInput `json:"items" validate:"required,min=1,dive"`
	Discount       float64     `json:"discount" validate:"gte=0"`
	Status         string      `json:"status"`
	Notes          string      `json:"notes" validate:"max=1000"`
	IdempotencyKey string      `json:"-"`
}

// UpdateInput replaces the editable fields of a sale.
type UpdateInput struct {
	CustomerID uuid.UUID   `json:"customerId" validate:"required"`
	Items      []ItemInput `json:"items" validate:"required,min=1,dive"`
	Discount   float64     `json:"discount" validate:"gte=0"`
	Notes      string      `json:"notes" validate:"max=1000"`
}

// ListFilter narrows sale listings.
type ListFilter struct {
	Status     Status
	CustomerID *uuid.UUID
	Limit      int
	Offset     int
}

// TransitionResult reports a lifecycle change. Partial is set when a
// best-effort leg was skipped; Warnings says which.
type TransitionResult struct {
	Order    Sale     `json:"order"`
	Warnings []string `json:"warnings,omitempty"`
	Partial  bool     `json:"partial"`
}

var (
	// ErrSaleNotFound indicates the sale does not exist.
	ErrSaleNotFound = fmt.Errorf("sale %w", shared.ErrNotFound)
	// ErrCustomerNotFound indicates the customer does not exist.
	ErrCustomerNotFound = fmt.Errorf("customer %w", shared.ErrNotFound)
)
