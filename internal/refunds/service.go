package refunds

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerdesk/ledgerdesk/internal/inventory"
	"github.com/ledgerdesk/ledgerdesk/internal/pricing"
	"github.com/ledgerdesk/ledgerdesk/internal/sales"
	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRefund(ctx context.Context, id uuid.UUID) (Refund, error)
	ListRefunds(ctx context.Context, ownerID int64, filter ListFilter) ([]Refund, int, error)
}

// LedgerPort restocks refunded goods inside the approval transaction.
type LedgerPort interface {
	Apply(ctx context.Context, tx inventory.TxRepository, actor int64, adjustments []inventory.Adjustment) ([]inventory.Product, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// TransitionObserver counts status changes.
type TransitionObserver interface {
	ObserveTransition(entity, from, to string)
}

// Service processes refunds against completed sales.
type Service struct {
	repo    RepositoryPort
	ledger  LedgerPort
	audit   AuditPort
	metrics TransitionObserver
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs the refund service. audit and metrics may be nil.
func NewService(repo RepositoryPort, ledger LedgerPort, audit AuditPort, metrics TransitionObserver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		ledger:  ledger,
		audit:   audit,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a Pending refund. Each quantity is bounded by what was sold
// less what is already refunded or awaiting approval.
func (s *Service) Create(ctx context.Context, actor int64, input CreateInput) (Refund, error) {
	if len(input.Items) == 0 {
		return Refund{}, shared.NewValidationError("items", "at least one item is required")
	}
	now := s.now()
	refund := Refund{
		ID:        uuid.New(),
		OwnerID:   actor,
		SaleID:    input.SaleID,
		Reason:    strings.TrimSpace(input.Reason),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := lockSale(ctx, tx, actor, input.SaleID)
		if err != nil {
			return err
		}
		if !sale.ConsumesStock() {
			return fmt.Errorf("%w: only Completed or Received sales can be refunded", shared.ErrInvalidTransition)
		}
		pending, err := tx.PendingQuantities(ctx, sale.ID)
		if err != nil {
			return fmt.Errorf("refunds: pending quantities: %w", err)
		}
		requested := make(map[uuid.UUID]int, len(input.Items))
		var order []uuid.UUID
		for _, in := range input.Items {
			if in.Quantity <= 0 {
				return shared.NewValidationError("quantity", "must be positive")
			}
			if _, seen := requested[in.ProductID]; !seen {
				order = append(order, in.ProductID)
			}
			requested[in.ProductID] += in.Quantity
		}
		subtotals := make([]float64, 0, len(order))
		taxes := make([]float64, 0, len(order))
		totals := make([]float64, 0, len(order))
		for _, productID := range order {
			qty := requested[productID]
			line, _, ok := sale.ItemByProduct(productID)
			if !ok {
				return shared.NewValidationError("productId", fmt.Sprintf("%s was not sold on this sale", productID))
			}
			if available := line.Refundable() - pending[productID]; qty > available {
				return shared.NewValidationError("quantity", fmt.Sprintf("%s: refunding %d exceeds refundable %d", line.ProductName, qty, available))
			}
			sold := pricing.Line{
				Quantity:  line.Quantity,
				UnitPrice: line.Price,
				TaxRate:   line.TaxRate,
				Subtotal:  pricing.Sum(line.Total, -line.TaxAmount),
				TaxAmount: line.TaxAmount,
				Total:     line.Total,
			}
			amounts := pricing.Portion(sold, line.RefundedQuantity+pending[productID], qty)
			refund.Items = append(refund.Items, Item{
				ID:          uuid.New(),
				ProductID:   productID,
				ProductName: line.ProductName,
				Quantity:    qty,
				Price:       line.Price,
				TaxRate:     line.TaxRate,
				TaxAmount:   amounts.TaxAmount,
				Total:       amounts.Total,
			})
			subtotals = append(subtotals, amounts.Subtotal)
			taxes = append(taxes, amounts.TaxAmount)
			totals = append(totals, amounts.Total)
		}
		refund.Subtotal = pricing.Sum(subtotals...)
		refund.TaxTotal = pricing.Sum(taxes...)
		refund.Total = pricing.Sum(totals...)
		return tx.InsertRefund(ctx, refund)
	})
	if err != nil {
		return Refund{}, err
	}
	s.observe("none", StatusPending)
	s.recordAudit(ctx, actor, "refund.create", refund.ID, map[string]any{"sale": refund.SaleID.String(), "total": refund.Total})
	return refund, nil
}

// UpdateStatus moves a refund along Pending→Approved|Rejected and
// Approved→Completed. Approval restocks the goods and books the refunded
// quantities on the sale in the same transaction.
func (s *Service) UpdateStatus(ctx context.Context, actor int64, id uuid.UUID, to Status) (Refund, error) {
	var (
		refund Refund
		from   Status
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		refund, err = tx.GetRefundForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if refund.OwnerID != actor {
			return fmt.Errorf("%w: refund %s", shared.ErrForbidden, id)
		}
		from = refund.Status
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s to %s", shared.ErrInvalidTransition, from, to)
		}
		now := s.now()
		switch to {
		case StatusApproved:
			if err := s.approve(ctx, tx, actor, refund, now); err != nil {
				return err
			}
			refund.ApprovedAt = &now
		case StatusCompleted:
			refund.CompletedAt = &now
		}
		refund.Status = to
		refund.UpdatedAt = now
		return tx.UpdateRefundStatus(ctx, refund)
	})
	if err != nil {
		return Refund{}, err
	}
	s.observe(from, to)
	s.recordAudit(ctx, actor, "refund.status", id, map[string]any{"from": string(from), "to": string(to)})
	return refund, nil
}

// Get returns a refund owned by actor.
func (s *Service) Get(ctx context.Context, actor int64, id uuid.UUID) (Refund, error) {
	refund, err := s.repo.GetRefund(ctx, id)
	if err != nil {
		return Refund{}, err
	}
	if refund.OwnerID != actor {
		return Refund{}, fmt.Errorf("%w: refund %s", shared.ErrForbidden, id)
	}
	return refund, nil
}

// List returns actor's refunds, optionally for one sale.
func (s *Service) List(ctx context.Context, actor int64, filter ListFilter) ([]Refund, int, error) {
	return s.repo.ListRefunds(ctx, actor, filter)
}

func (s *Service) approve(ctx context.Context, tx TxRepository, actor int64, refund Refund, at time.Time) error {
	sale, err := lockSale(ctx, tx, actor, refund.SaleID)
	if err != nil {
		return err
	}
	if !sale.ConsumesStock() {
		return fmt.Errorf("%w: sale is %s", shared.ErrInvalidTransition, sale.Status)
	}
	adjustments := make([]inventory.Adjustment, 0, len(refund.Items))
	for _, it := range refund.Items {
		line, idx, ok := sale.ItemByProduct(it.ProductID)
		if !ok {
			return fmt.Errorf("%w: product %s is no longer on the sale", shared.ErrConflict, it.ProductID)
		}
		if it.Quantity > line.Refundable() {
			return shared.NewValidationError("quantity", fmt.Sprintf("%s: refunding %d exceeds refundable %d", line.ProductName, it.Quantity, line.Refundable()))
		}
		sale.Items[idx].RefundedQuantity += it.Quantity
		adjustments = append(adjustments, inventory.Adjustment{
			ProductID: it.ProductID,
			Delta:     it.Quantity,
			Reason:    inventory.ReasonRefunds,
			Reference: "refund:" + refund.ID.String(),
		})
	}
	if _, err := s.ledger.Apply(ctx, tx.Sales().Ledger(), actor, adjustments); err != nil {
		return err
	}
	sale.RefundedTotal = pricing.Sum(sale.RefundedTotal, refund.Total)
	sale.UpdatedAt = at
	return tx.Sales().UpdateSale(ctx, sale)
}

func lockSale(ctx context.Context, tx TxRepository, actor int64, id uuid.UUID) (sales.Sale, error) {
	sale, err := tx.Sales().GetSaleForUpdate(ctx, id)
	if err != nil {
		return sales.Sale{}, err
	}
	if sale.OwnerID != actor {
		return sales.Sale{}, fmt.Errorf("%w: sale %s", shared.ErrForbidden, id)
	}
	return sale, nil
}

func (s *Service) observe(from, to Status) {
	if s.metrics != nil {
		s.metrics.ObserveTransition("refund", string(from), string(to))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor int64, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actor, Action: action, Entity: "refund", EntityID: id.String(), Meta: meta, At: s.now()}); err != nil {
		s.logger.Warn("refunds: audit", slog.String("action", action), slog.Any("error", err))
	}
}
