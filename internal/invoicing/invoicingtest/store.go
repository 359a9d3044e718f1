// Package invoicingtest provides an in-memory invoice store for tests of
// packages that link orders to invoices.
package invoicingtest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerdesk/ledgerdesk/internal/invoicing"
)

// Store implements invoicing.TxRepository over maps.
type Store struct {
	Invoices  map[uuid.UUID]invoicing.Invoice
	Sequences map[int]int64
	PaidSales map[uuid.UUID]time.Time
	// Locks records row locks in the order they were taken.
	Locks []string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		Invoices:  make(map[uuid.UUID]invoicing.Invoice),
		Sequences: make(map[int]int64),
		PaidSales: make(map[uuid.UUID]time.Time),
	}
}

// Clone copies the store for a transaction.
func (s *Store) Clone() *Store {
	out := NewStore()
	for k, v := range s.Invoices {
		v.Items = append([]invoicing.Item(nil), v.Items...)
		out.Invoices[k] = v
	}
	for k, v := range s.Sequences {
		out.Sequences[k] = v
	}
	for k, v := range s.PaidSales {
		out.PaidSales[k] = v
	}
	out.Locks = append(out.Locks, s.Locks...)
	return out
}

func (s *Store) LockLinkedSale(ctx context.Context, invoiceID uuid.UUID) (*uuid.UUID, error) {
	inv, ok := s.Invoices[invoiceID]
	if !ok || inv.SaleID == nil {
		return nil, nil
	}
	s.Locks = append(s.Locks, "sale:"+inv.SaleID.String())
	id := *inv.SaleID
	return &id, nil
}

func (s *Store) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (invoicing.Invoice, error) {
	inv, ok := s.Invoices[id]
	if !ok {
		return invoicing.Invoice{}, invoicing.ErrInvoiceNotFound
	}
	s.Locks = append(s.Locks, "invoice:"+id.String())
	return inv, nil
}

func (s *Store) NextNumber(ctx context.Context, ownerID int64, year int) (int64, error) {
	s.Sequences[year]++
	return s.Sequences[year], nil
}

func (s *Store) InsertInvoice(ctx context.Context, inv invoicing.Invoice) error {
	s.Invoices[inv.ID] = inv
	return nil
}

func (s *Store) UpdateInvoice(ctx context.Context, inv invoicing.Invoice) error {
	if _, ok := s.Invoices[inv.ID]; !ok {
		return invoicing.ErrInvoiceNotFound
	}
	s.Invoices[inv.ID] = inv
	return nil
}

func (s *Store) MarkSalePaid(ctx context.Context, saleID uuid.UUID, at time.Time) error {
	s.PaidSales[saleID] = at
	return nil
}

var _ invoicing.TxRepository = (*Store)(nil)
