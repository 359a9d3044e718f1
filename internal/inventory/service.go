package inventory

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerdesk/ledgerdesk/internal/pricing"
	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	ListProducts(ctx context.Context, ownerID int64, filter ListFilter) ([]Product, int, error)
	ListMovements(ctx context.Context, productID uuid.UUID, limit int) ([]Movement, error)
	LedgerSums(ctx context.Context, ownerID int64) (map[uuid.UUID]int, error)
	ListOwners(ctx context.Context) ([]int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// StockMetrics counts refused decrements.
type StockMetrics interface {
	ObserveStockRejection(products int)
}

// Service owns the product quantity ledger.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	notifier LowStockNotifier
	metrics  StockMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service. audit, notifier and metrics may be nil.
func NewService(repo RepositoryPort, audit AuditPort, notifier LowStockNotifier, metrics StockMetrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		audit:    audit,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AdjustQuantity applies a single signed delta in its own transaction.
func (s *Service) AdjustQuantity(ctx context.Context, actor int64, productID uuid.UUID, delta int, reason Reason, reference string) (Product, error) {
	if delta == 0 {
		return Product{}, ErrInvalidQuantity
	}
	if reason == "" {
		return Product{}, shared.NewValidationError("reason", "is required")
	}
	var updated []Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		updated, err = s.Apply(ctx, tx, actor, []Adjustment{{ProductID: productID, Delta: delta, Reason: reason, Reference: reference}})
		return err
	})
	if err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, actor, "inventory.adjust", productID.String(), map[string]any{
		"delta":     delta,
		"reason":    string(reason),
		"reference": reference,
		"balance":   updated[0].Quantity,
	})
	s.NotifyLowStock(ctx, actor, reason, updated)
	return updated[0], nil
}

// Apply performs adjustments inside the caller's transaction. Deltas are
// merged per product, rows are locked in id order, and every shortage is
// reported before anything is written. Returns the updated products.
func (s *Service) Apply(ctx context.Context, tx TxRepository, actor int64, adjustments []Adjustment) ([]Product, error) {
	merged, order := mergeAdjustments(adjustments)
	if len(order) == 0 {
		return nil, nil
	}

	current := make(map[uuid.UUID]Product, len(order))
	var shortages []Shortage
	for _, id := range order {
		p, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("inventory: lock %s: %w", id, err)
		}
		if p.OwnerID != actor {
			return nil, fmt.Errorf("%w: product %s", shared.ErrForbidden, id)
		}
		current[id] = p
		if delta := merged[id].Delta; p.Quantity+delta < 0 {
			shortages = append(shortages, Shortage{ProductID: id, ProductName: p.Name, Available: p.Quantity, Requested: -delta})
		}
	}
	if len(shortages) > 0 {
		return nil, s.rejectShortage(shortages)
	}

	at := s.now()
	updated := make([]Product, 0, len(order))
	for _, id := range order {
		adj := merged[id]
		p, applied, err := tx.ApplyDelta(ctx, id, adj.Delta, adj.Reason, at)
		if err != nil {
			return nil, fmt.Errorf("inventory: apply %s: %w", id, err)
		}
		if !applied {
			return nil, s.rejectShortage([]Shortage{{ProductID: id, ProductName: p.Name, Available: p.Quantity, Requested: -adj.Delta}})
		}
		if err := tx.InsertMovement(ctx, Movement{
			ProductID: id,
			OwnerID:   p.OwnerID,
			Delta:     adj.Delta,
			Reason:    adj.Reason,
			Reference: adj.Reference,
			Balance:   p.Quantity,
			ActorID:   actor,
			CreatedAt: at,
		}); err != nil {
			return nil, fmt.Errorf("inventory: movement %s: %w", id, err)
		}
		updated = append(updated, p)
	}
	return updated, nil
}

// ApplyCost reprices a product after a purchase receipt, preserving its
// margin: sellingPrice moves by the same amount as cost.
func (s *Service) ApplyCost(ctx context.Context, tx TxRepository, actor int64, productID uuid.UUID, newCost float64) (Product, error) {
	if newCost < 0 {
		return Product{}, shared.NewValidationError("unitPrice", "must not be negative")
	}
	p, err := tx.GetProductForUpdate(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	if p.OwnerID != actor {
		return Product{}, fmt.Errorf("%w: product %s", shared.ErrForbidden, productID)
	}
	selling := pricing.Sum(p.SellingPrice, newCost, -p.Cost)
	if selling < 0 {
		selling = 0
	}
	if err := tx.UpdatePricing(ctx, productID, newCost, newCost, selling, s.now()); err != nil {
		return Product{}, err
	}
	p.Cost = newCost
	p.PurchasePrice = newCost
	p.SellingPrice = selling
	return p, nil
}

// CreateProduct registers a product; opening stock is posted as an initial
// movement so the ledger sums to the quantity from the start.
func (s *Service) CreateProduct(ctx context.Context, actor int64, input ProductInput) (Product, error) {
	if err := pricing.ValidateRate(input.TaxRate); err != nil {
		return Product{}, err
	}
	if input.Quantity < 0 {
		return Product{}, shared.NewValidationError("quantity", "must not be negative")
	}
	now := s.now()
	product := Product{
		ID:               uuid.New(),
		OwnerID:          actor,
		Name:             input.Name,
		SKU:              input.SKU,
		Category:         input.Category,
		Cost:             input.Cost,
		SellingPrice:     input.SellingPrice,
		PurchasePrice:    input.PurchasePrice,
		TaxRate:          input.TaxRate,
		ReorderLevel:     input.ReorderLevel,
		SupplierID:       input.SupplierID,
		LastModified:     now,
		LastModifiedFrom: ReasonInitial,
		CreatedAt:        now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertProduct(ctx, product); err != nil {
			return err
		}
		if input.Quantity == 0 {
			return nil
		}
		updated, err := s.Apply(ctx, tx, actor, []Adjustment{{ProductID: product.ID, Delta: input.Quantity, Reason: ReasonInitial}})
		if err != nil {
			return err
		}
		product = updated[0]
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, actor, "inventory.product.create", product.ID.String(), map[string]any{"sku": product.SKU, "quantity": product.Quantity})
	return product, nil
}

// UpdateProduct edits product details. Quantity is not editable here.
func (s *Service) UpdateProduct(ctx context.Context, actor int64, id uuid.UUID, input ProductUpdate) (Product, error) {
	if input.Quantity != nil {
		return Product{}, ErrQuantityReadOnly
	}
	if err := pricing.ValidateRate(input.TaxRate); err != nil {
		return Product{}, err
	}
	var product Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.OwnerID != actor {
			return fmt.Errorf("%w: product %s", shared.ErrForbidden, id)
		}
		p.Name = input.Name
		p.SKU = input.SKU
		p.Category = input.Category
		p.Cost = input.Cost
		p.SellingPrice = input.SellingPrice
		p.PurchasePrice = input.PurchasePrice
		p.TaxRate = input.TaxRate
		p.ReorderLevel = input.ReorderLevel
		p.SupplierID = input.SupplierID
		if err := tx.UpdateProductDetails(ctx, p); err != nil {
			return err
		}
		product = p
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, actor, "inventory.product.update", id.String(), map[string]any{"sku": product.SKU})
	return product, nil
}

// GetProduct returns a product owned by actor.
func (s *Service) GetProduct(ctx context.Context, actor int64, id uuid.UUID) (Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if p.OwnerID != actor {
		return Product{}, fmt.Errorf("%w: product %s", shared.ErrForbidden, id)
	}
	return p, nil
}

// ListProducts lists actor's products.
func (s *Service) ListProducts(ctx context.Context, actor int64, filter ListFilter) ([]Product, int, error) {
	return s.repo.ListProducts(ctx, actor, filter)
}

// ListMovements returns the adjustment history of a product.
func (s *Service) ListMovements(ctx context.Context, actor int64, productID uuid.UUID, limit int) ([]Movement, error) {
	if _, err := s.GetProduct(ctx, actor, productID); err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, productID, limit)
}

// Owners lists users holding products, for background sweeps.
func (s *Service) Owners(ctx context.Context) ([]int64, error) {
	return s.repo.ListOwners(ctx)
}

// Reconcile compares each product's quantity with the sum of its movements.
func (s *Service) Reconcile(ctx context.Context, ownerID int64) ([]Discrepancy, error) {
	products, _, err := s.repo.ListProducts(ctx, ownerID, ListFilter{})
	if err != nil {
		return nil, err
	}
	sums, err := s.repo.LedgerSums(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	var out []Discrepancy
	for _, p := range products {
		if sum := sums[p.ID]; sum != p.Quantity {
			out = append(out, Discrepancy{ProductID: p.ID, ProductName: p.Name, Quantity: p.Quantity, LedgerSum: sum})
		}
	}
	return out, nil
}

// NotifyLowStock raises a low-stock event for products at or below their
// reorder level. Call after the transaction has committed.
func (s *Service) NotifyLowStock(ctx context.Context, actor int64, reason Reason, products []Product) {
	if s.notifier == nil {
		return
	}
	var ids []uuid.UUID
	for _, p := range products {
		if p.LowStock() {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	evt := LowStockEvent{OwnerID: actor, ProductIDs: ids, Reason: reason, RaisedAt: s.now()}
	if err := s.notifier.NotifyLowStock(ctx, evt); err != nil {
		s.logger.Warn("inventory: low stock notify", slog.Any("error", err), slog.Int("products", len(ids)))
	}
}

func (s *Service) rejectShortage(shortages []Shortage) error {
	if s.metrics != nil {
		s.metrics.ObserveStockRejection(len(shortages))
	}
	return &NegativeStockError{Shortages: shortages}
}

func (s *Service) recordAudit(ctx context.Context, actor int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actor, Action: action, Entity: "product", EntityID: entityID, Meta: meta, At: s.now()}); err != nil {
		s.logger.Warn("inventory: audit", slog.String("action", action), slog.Any("error", err))
	}
}

func mergeAdjustments(adjustments []Adjustment) (map[uuid.UUID]Adjustment, []uuid.UUID) {
	merged := make(map[uuid.UUID]Adjustment, len(adjustments))
	for _, adj := range adjustments {
		cur, ok := merged[adj.ProductID]
		if !ok {
			merged[adj.ProductID] = adj
			continue
		}
		cur.Delta += adj.Delta
		if adj.Reference != "" && adj.Reference != cur.Reference {
			cur.Reference = joinRef(cur.Reference, adj.Reference)
		}
		merged[adj.ProductID] = cur
	}
	order := make([]uuid.UUID, 0, len(merged))
	for id, adj := range merged {
		if adj.Delta == 0 {
			continue
		}
		order = append(order, id)
	}
	slices.SortFunc(order, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return merged, order
}

func joinRef(a, b string) string {
	if a == "" {
		return b
	}
	return a + "," + b
}

// ParseReason validates a manual adjustment reason.
func ParseReason(raw string) (Reason, error) {
	if raw == "" {
		return ReasonManual, nil
	}
	r := Reason(raw)
	if slices.Contains(ManualReasons, r) {
		return r, nil
	}
	return "", shared.NewValidationError("reason", "must be manual or suppliers")
}
