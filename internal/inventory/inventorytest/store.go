// Package inventorytest provides an in-memory inventory ledger for tests of
// packages that post stock movements.
package inventorytest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerdesk/ledgerdesk/internal/inventory"
)

// Store implements inventory.TxRepository over maps.
type Store struct {
	Products  map[uuid.UUID]inventory.Product
	Movements []inventory.Movement
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{Products: make(map[uuid.UUID]inventory.Product)}
}

// Seed inserts p with its opening movement and returns it.
func (s *Store) Seed(p inventory.Product) inventory.Product {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.Products[p.ID] = p
	if p.Quantity != 0 {
		s.Movements = append(s.Movements, inventory.Movement{
			ID: int64(len(s.Movements) + 1), ProductID: p.ID, OwnerID: p.OwnerID, Delta: p.Quantity,
			Reason: inventory.ReasonInitial, Balance: p.Quantity,
		})
	}
	return p
}

// Clone copies the store for a transaction.
func (s *Store) Clone() *Store {
	out := &Store{Products: make(map[uuid.UUID]inventory.Product, len(s.Products))}
	for k, v := range s.Products {
		out.Products[k] = v
	}
	out.Movements = append([]inventory.Movement(nil), s.Movements...)
	return out
}

// Quantity returns the current quantity of a product.
func (s *Store) Quantity(id uuid.UUID) int {
	return s.Products[id].Quantity
}

// Product returns a product.
func (s *Store) Product(id uuid.UUID) inventory.Product {
	return s.Products[id]
}

// MovementsFor returns the movements of a product, oldest first.
func (s *Store) MovementsFor(id uuid.UUID) []inventory.Movement {
	var out []inventory.Movement
	for _, m := range s.Movements {
		if m.ProductID == id {
			out = append(out, m)
		}
	}
	return out
}

func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (inventory.Product, error) {
	return s.GetProductForUpdate(ctx, id)
}

func (s *Store) GetProductForUpdate(ctx context.Context, id uuid.UUID) (inventory.Product, error) {
	p, ok := s.Products[id]
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return p, nil
}

func (s *Store) ApplyDelta(ctx context.Context, id uuid.UUID, delta int, reason inventory.Reason, at time.Time) (inventory.Product, bool, error) {
	p, ok := s.Products[id]
	if !ok {
		return inventory.Product{}, false, inventory.ErrProductNotFound
	}
	if p.Quantity+delta < 0 {
		return p, false, nil
	}
	p.Quantity += delta
	p.LastModified = at
	p.LastModifiedFrom = reason
	s.Products[id] = p
	return p, true, nil
}

func (s *Store) InsertMovement(ctx context.Context, m inventory.Movement) error {
	m.ID = int64(len(s.Movements) + 1)
	s.Movements = append(s.Movements, m)
	return nil
}

func (s *Store) UpdatePricing(ctx context.Context, id uuid.UUID, cost, purchasePrice, sellingPrice float64, at time.Time) error {
	p, ok := s.Products[id]
	if !ok {
		return inventory.ErrProductNotFound
	}
	p.Cost = cost
	p.PurchasePrice = purchasePrice
	p.SellingPrice = sellingPrice
	p.LastModified = at
	s.Products[id] = p
	return nil
}

func (s *Store) InsertProduct(ctx context.Context, p inventory.Product) error {
	s.Products[p.ID] = p
	return nil
}

func (s *Store) UpdateProductDetails(ctx context.Context, p inventory.Product) error {
	if _, ok := s.Products[p.ID]; !ok {
		return inventory.ErrProductNotFound
	}
	s.Products[p.ID] = p
	return nil
}

var _ inventory.TxRepository = (*Store)(nil)
