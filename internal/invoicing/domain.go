package invoicing

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerdesk/ledgerdesk/internal/pricing"
	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

// Status of an invoice.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusUnpaid Status = "unpaid"
	StatusPaid   Status = "paid"
	StatusVoid   Status = "void"
)

var transitions = map[Status][]Status{
	StatusDraft:  {StatusUnpaid, StatusPaid, StatusVoid},
	StatusUnpaid: {StatusPaid, StatusVoid},
	StatusPaid:   {StatusVoid},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// ParseStatus accepts the lower-case names and "pending" as an alias of unpaid.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusDraft, StatusUnpaid, StatusPaid, StatusVoid:
		return Status(raw), nil
	case "pending":
		return StatusUnpaid, nil
	}
	return "", shared.NewValidationError("status", "must be one of draft unpaid paid void")
}

var (
	// ErrInvoiceNotFound indicates the invoice does not exist.
	ErrInvoiceNotFound = fmt.Errorf("invoice %w", shared.ErrNotFound)
)

// Invoice is a customer bill, optionally linked to one sale.
type Invoice struct {
	ID           uuid.UUID    `json:"id"`
	OwnerID      int64        `json:"-"`
	Number       string       `json:"number"`
	CustomerID   uuid.UUID    `json:"customerId"`
	CustomerName string       `json:"customerName"`
	SaleID       *uuid.UUID   `json:"saleId,omitempty"`
	Mode         pricing.Mode `json:"mode"`
	Items        []Item       `json:"items"`
	Subtotal     float64      `json:"subtotal"`
	TaxTotal     float64      `json:"taxTotal"`
	Discount     float64      `json:"discount"`
	RoundOff     float64      `json:"roundOff"`
	Total        float64      `json:"total"`
	Status       Status       `json:"status"`
	DueDate      *time.Time   `json:"dueDate,omitempty"`
	PaidAt       *time.Time   `json:"paidAt,omitempty"`
	VoidedAt     *time.Time   `json:"voidedAt,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Item is an invoice line. SellingPrice is tax-inclusive and is the value
// the mode toggle recomputes from; Price is tax-exclusive.
type Item struct {
	ID           uuid.UUID  `json:"id"`
	ProductID    *uuid.UUID `json:"productId,omitempty"`
	Description  string     `json:"description"`
	Quantity     int        `json:"quantity"`
	SellingPrice float64    `json:"sellingPrice"`
	Price        float64    `json:"price"`
	TaxRate      float64    `json:"taxRate"`
	TaxAmount    float64    `json:"taxAmount"`
	Total        float64    `json:"total"`
}

// ItemInput is a line as entered, priced tax-inclusive.
type ItemInput struct {
	ProductID    *uuid.UUID `json:"productId"`
	Description  string     `json:"description" validate:"required,max=200"`
	Quantity     int        `json:"quantity" validate:"gt=0"`
	SellingPrice float64    `json:"sellingPrice" validate:"gte=0"`
	TaxRate      float64    `json:"taxRate" validate:"gte=0,lt=100"`
}

// CreateInput creates a standalone invoice.
type CreateInput struct {
	CustomerID uuid.UUID    `json:"customerId" validate:"required"`
	Mode       pricing.Mode `json:"mode" validate:"omitempty,oneof=gst non_gst"`
	Items      []ItemInput  `json:"items" validate:"required,min=1,dive"`
	Discount   float64      `json:"discount" validate:"gte=0"`
	Status     Status       `json:"status" validate:"omitempty,oneof=draft unpaid"`
	DueDate    *time.Time   `json:"dueDate"`
}

// ListFilter narrows invoice listings.
type ListFilter struct {
	Status     Status
	CustomerID *uuid.UUID
	SaleID     *uuid.UUID
	Limit      int
	Offset     int
}

// FormatNumber renders INV-<year>-<seq>.
func FormatNumber(year int, seq int64) string {
	return fmt.Sprintf("INV-%d-%04d", year, seq)
}

// Reprice recomputes every line and the totals for mode.
func (inv *Invoice) Reprice(mode pricing.Mode) {
	selling := make([]pricing.SellingLine, len(inv.Items))
	for i, it := range inv.Items {
		selling[i] = pricing.SellingLine{SellingPrice: it.SellingPrice, Quantity: it.Quantity, TaxRate: it.TaxRate}
	}
	lines := pricing.ApplyMode(selling, mode)
	for i, l := range lines {
		inv.Items[i].Price = l.UnitPrice
		inv.Items[i].TaxAmount = l.TaxAmount
		inv.Items[i].Total = l.Total
	}
	inv.Mode = mode
	inv.applyTotals(pricing.Summarize(lines, inv.Discount))
}

func (inv *Invoice) applyTotals(t pricing.Totals) {
	inv.Subtotal = t.Subtotal
	inv.TaxTotal = t.TaxTotal
	inv.Discount = t.Discount
	inv.RoundOff = t.RoundOff
	inv.Total = t.Total
}

// SaleLine is the slice of a sale item an invoice is built from.
type SaleLine struct {
	ProductID   uuid.UUID
	ProductName string
	Quantity    int
	Price       float64
	TaxRate     float64
	TaxAmount   float64
	Total       float64
}

// SaleSource carries what an invoice needs from a sale.
type SaleSource struct {
	OwnerID      int64
	SaleID       uuid.UUID
	CustomerID   uuid.UUID
	CustomerName string
	Lines        []SaleLine
	Subtotal     float64
	TaxTotal     float64
	Discount     float64
	RoundOff     float64
	Total        float64
	Paid         bool
}

// FromSale assembles an unnumbered GST invoice mirroring the sale's amounts.
func FromSale(src SaleSource, at time.Time) Invoice {
	saleID := src.SaleID
	inv := Invoice{
		ID:           uuid.New(),
		OwnerID:      src.OwnerID,
		CustomerID:   src.CustomerID,
		CustomerName: src.CustomerName,
		SaleID:       &saleID,
		Mode:         pricing.ModeGST,
		Subtotal:     src.Subtotal,
		TaxTotal:     src.TaxTotal,
		Discount:     src.Discount,
		RoundOff:     src.RoundOff,
		Total:        src.Total,
		Status:       StatusUnpaid,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	if src.Paid {
		inv.Status = StatusPaid
		inv.PaidAt = &at
	}
	for _, l := range src.Lines {
		productID := l.ProductID
		inv.Items = append(inv.Items, Item{
			ID:           uuid.New(),
			ProductID:    &productID,
			Description:  l.ProductName,
			Quantity:     l.Quantity,
			SellingPrice: pricing.InclusivePrice(l.Price, l.TaxRate),
			Price:        l.Price,
			TaxRate:      l.TaxRate,
			TaxAmount:    l.TaxAmount,
			Total:        l.Total,
		})
	}
	return inv
}
