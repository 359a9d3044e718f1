package inventory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

// Reason tags the subsystem responsible for a quantity change.
type Reason string

const (
	ReasonSales                 Reason = "sales"
	ReasonSalesCancellation     Reason = "sales-cancellation"
	ReasonPurchases             Reason = "purchases"
	ReasonPurchasesCancellation Reason = "purchases-cancellation"
	ReasonSuppliers             Reason = "suppliers"
	ReasonRefunds               Reason = "refunds"
	ReasonManual                Reason = "manual"
	ReasonInitial               Reason = "initial"
)

// ManualReasons are the tags accepted on the direct adjustment endpoint.
var ManualReasons = []Reason{ReasonManual, ReasonSuppliers}

var (
	// ErrProductNotFound indicates the product does not exist.
	ErrProductNotFound = fmt.Errorf("product %w", shared.ErrNotFound)
	// ErrInvalidQuantity indicates a zero delta.
	ErrInvalidQuantity = fmt.Errorf("%w: quantity delta must be non-zero", shared.ErrValidation)
	// ErrDuplicateSKU indicates the owner already has a product with the SKU.
	ErrDuplicateSKU = fmt.Errorf("%w: sku already in use", shared.ErrConflict)
	// ErrQuantityReadOnly rejects product edits that carry a quantity.
	ErrQuantityReadOnly = shared.NewValidationError("quantity", "quantity changes go through the adjustment endpoint")
)

// Product is a stocked item. Quantity only changes through the ledger.
type Product struct {
	ID               uuid.UUID  `json:"id"`
	OwnerID          int64      `json:"-"`
	Name             string     `json:"name"`
	SKU              string     `json:"sku"`
	Category         string     `json:"category"`
	Quantity         int        `json:"quantity"`
	Cost             float64    `json:"cost"`
	SellingPrice     float64    `json:"sellingPrice"`
	PurchasePrice    float64    `json:"purchasePrice"`
	TaxRate          float64    `json:"taxRate"`
	ReorderLevel     int        `json:"reorderLevel"`
	SupplierID       *uuid.UUID `json:"supplierId,omitempty"`
	LastModified     time.Time  `json:"lastModified"`
	LastModifiedFrom Reason     `json:"lastModifiedFrom"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// LowStock reports whether the quantity has reached the reorder level.
func (p Product) LowStock() bool {
	return p.ReorderLevel > 0 && p.Quantity <= p.ReorderLevel
}

// Movement is one applied ledger delta.
type Movement struct {
	ID        int64     `json:"id"`
	ProductID uuid.UUID `json:"productId"`
	OwnerID   int64     `json:"-"`
	Delta     int       `json:"delta"`
	Reason    Reason    `json:"reason"`
	Reference string    `json:"reference,omitempty"`
	Balance   int       `json:"balance"`
	ActorID   int64     `json:"actorId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Adjustment is a requested signed change for one product.
type Adjustment struct {
	ProductID uuid.UUID
	Delta     int
	Reason    Reason
	Reference string
}

// ProductInput carries fields for product creation.
type ProductInput struct {
	Name          string     `json:"name" validate:"required,max=200"`
	SKU           string     `json:"sku" validate:"required,max=64"`
	Category      string     `json:"category" validate:"max=100"`
	Quantity      int        `json:"quantity" validate:"gte=0"`
	Cost          float64    `json:"cost" validate:"gte=0"`
	SellingPrice  float64    `json:"sellingPrice" validate:"gte=0"`
	PurchasePrice float64    `json:"purchasePrice" validate:"gte=0"`
	TaxRate       float64    `json:"taxRate" validate:"gte=0,lt=100"`
	ReorderLevel  int        `json:"reorderLevel" validate:"gte=0"`
	SupplierID    *uuid.UUID `json:"supplierId"`
}

// ProductUpdate carries editable product details. Quantity is present only
// so that attempts to overwrite it can be refused.
type ProductUpdate struct {
	Name          string     `json:"name" validate:"required,max=200"`
	SKU           string     `json:"sku" validate:"required,max=64"`
	Category      string     `json:"category" validate:"max=100"`
	Quantity      *int       `json:"quantity,omitempty"`
	Cost          float64    `json:"cost" validate:"gte=0"`
	SellingPrice  float64    `json:"sellingPrice" validate:"gte=0"`
	PurchasePrice float64    `json:"purchasePrice" validate:"gte=0"`
	TaxRate       float64    `json:"taxRate" validate:"gte=0,lt=100"`
	ReorderLevel  int        `json:"reorderLevel" validate:"gte=0"`
	SupplierID    *uuid.UUID `json:"supplierId"`
}

// ListFilter narrows product listings.
type ListFilter struct {
	Search   string
	Category string
	LowStock bool
	Limit    int
	Offset   int
}

// Shortage describes one product that cannot cover a requested decrement.
type Shortage struct {
	ProductID   uuid.UUID `json:"productId"`
	ProductName string    `json:"productName"`
	Available   int       `json:"available"`
	Requested   int       `json:"requested"`
}

// NegativeStockError lists every product a transition would drive below zero.
type NegativeStockError struct {
	Shortages []Shortage
}

func (e *NegativeStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (available %d, requested %d)", s.ProductName, s.Available, s.Requested))
	}
	return "insufficient stock for " + strings.Join(parts, ", ")
}

// Unwrap exposes shared.ErrNegativeStock.
func (e *NegativeStockError) Unwrap() error {
	return shared.ErrNegativeStock
}

// AsNegativeStock extracts a NegativeStockError from err.
func AsNegativeStock(err error) (*NegativeStockError, bool) {
	var nse *NegativeStockError
	ok := errors.As(err, &nse)
	return nse, ok
}

// Discrepancy is a product whose quantity disagrees with its movements.
type Discrepancy struct {
	ProductID   uuid.UUID `json:"productId"`
	ProductName string    `json:"productName"`
	Quantity    int       `json:"quantity"`
	LedgerSum   int       `json:"ledgerSum"`
}
