package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerdesk/ledgerdesk/internal/inventory"
	"github.com/ledgerdesk/ledgerdesk/internal/invoicing"
	"github.com/ledgerdesk/ledgerdesk/internal/pricing"
	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

const idempotencyModule = "sales"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, id uuid.UUID) (Sale, error)
	ListSales(ctx context.Context, ownerID int64, filter ListFilter) ([]Sale, int, error)
	InsertCustomer(ctx context.Context, c Customer) error
	GetCustomer(ctx context.Context, id uuid.UUID) (Customer, error)
	ListCustomers(ctx context.Context, ownerID int64, filter CustomerFilter) ([]Customer, int, error)
}

// LedgerPort posts stock movements inside a sale transaction.
type LedgerPort interface {
	Apply(ctx context.Context, tx inventory.TxRepository, actor int64, adjustments []inventory.Adjustment) ([]inventory.Product, error)
	NotifyLowStock(ctx context.Context, actor int64, reason inventory.Reason, products []inventory.Product)
}

// IdempotencyPort guards retried creates.
type IdempotencyPort interface {
	Claim(ctx context.Context, ownerID int64, module, key string) error
	Release(ctx context.Context, ownerID int64, module, key string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// TransitionObserver counts status changes.
type TransitionObserver interface {
	ObserveTransition(entity, from, to string)
}

// Service provides business logic for sales operations.
type Service struct {
	repo    RepositoryPort
	ledger  LedgerPort
	idem    IdempotencyPort
	audit   AuditPort
	metrics TransitionObserver
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a sales service. idem, audit and metrics may be nil.
func NewService(repo RepositoryPort, ledger LedgerPort, idem IdempotencyPort, audit AuditPort, metrics TransitionObserver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		ledger:  ledger,
		idem:    idem,
		audit:   audit,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ============================================================================
// SALE OPERATIONS
// ============================================================================

// Create records a sale. A sale created as Completed consumes stock in the
// same transaction.
func (s *Service) Create(ctx context.Context, actor int64, input CreateInput) (Sale, error) {
	status, err := parseInitialStatus(input.Status)
	if err != nil {
		return Sale{}, err
	}
	if input.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.Claim(ctx, actor, idempotencyModule, input.IdempotencyKey); err != nil {
			return Sale{}, err
		}
	}

	now := s.now()
	sale := Sale{
		ID:            uuid.New(),
		OwnerID:       actor,
		Status:        status,
		PaymentStatus: PaymentUnpaid,
		Notes:         input.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	var consumed []inventory.Product
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.fill(ctx, tx, actor, &sale, input.CustomerID, input.Items, input.Discount); err != nil {
			return err
		}
		if status == StatusCompleted {
			var err error
			consumed, err = s.ledger.Apply(ctx, tx.Ledger(), actor, consumeAdjustments(sale))
			if err != nil {
				return err
			}
			sale.CompletedAt = &now
		}
		return tx.InsertSale(ctx, sale)
	})
	if err != nil {
		if input.IdempotencyKey != "" && s.idem != nil {
			if rerr := s.idem.Release(ctx, actor, idempotencyModule, input.IdempotencyKey); rerr != nil {
				s.logger.Warn("sales: release idempotency key", slog.Any("error", rerr))
			}
		}
		return Sale{}, err
	}

	s.observe("none", status)
	s.recordAudit(ctx, actor, "sale.create", sale.ID, map[string]any{"status": string(status), "total": sale.Total})
	s.ledger.NotifyLowStock(ctx, actor, inventory.ReasonSales, consumed)
	return sale, nil
}

// Update replaces customer, items, discount and notes of an editable sale.
func (s *Service) Update(ctx context.Context, actor int64, id uuid.UUID, input UpdateInput) (Sale, error) {
	var sale Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = s.lock(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if err := checkEditable(sale); err != nil {
			return err
		}
		if err := s.fill(ctx, tx, actor, &sale, input.CustomerID, input.Items, input.Discount); err != nil {
			return err
		}
		sale.Notes = input.Notes
		sale.UpdatedAt = s.now()
		return tx.UpdateSale(ctx, sale)
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, actor, "sale.update", id, map[string]any{"total": sale.Total})
	return sale, nil
}

// Delete removes a Draft or Ordered sale that has no live invoice.
func (s *Service) Delete(ctx context.Context, actor int64, id uuid.UUID) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := s.lock(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if err := checkDeletable(sale); err != nil {
			return err
		}
		if sale.InvoiceID != nil {
			inv, err := tx.Invoices().GetInvoiceForUpdate(ctx, *sale.InvoiceID)
			if err != nil && !errors.Is(err, shared.ErrNotFound) {
				return err
			}
			if err == nil && inv.Status != invoicing.StatusVoid {
				return fmt.Errorf("%w: invoice %s is linked; void it first", shared.ErrInvalidTransition, inv.Number)
			}
		}
		return tx.DeleteSale(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "sale.delete", id, nil)
	return nil
}

// Get returns a sale owned by actor.
func (s *Service) Get(ctx context.Context, actor int64, id uuid.UUID) (Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return Sale{}, err
	}
	if sale.OwnerID != actor {
		return Sale{}, fmt.Errorf("%w: sale %s", shared.ErrForbidden, id)
	}
	return sale, nil
}

// List returns actor's sales.
func (s *Service) List(ctx context.Context, actor int64, filter ListFilter) ([]Sale, int, error) {
	return s.repo.ListSales(ctx, actor, filter)
}

// VerifyAccess reports whether actor may act on the sale.
func (s *Service) VerifyAccess(ctx context.Context, actor int64, id uuid.UUID) error {
	_, err := s.Get(ctx, actor, id)
	return err
}

// Complete consumes stock for a Pending sale.
func (s *Service) Complete(ctx context.Context, actor int64, id uuid.UUID) (TransitionResult, error) {
	return s.transition(ctx, actor, id, StatusCompleted)
}

// Receive marks a Pending sale as received by the customer; stock is
// consumed as for Complete.
func (s *Service) Receive(ctx context.Context, actor int64, id uuid.UUID) (TransitionResult, error) {
	return s.transition(ctx, actor, id, StatusReceived)
}

// Cancel cancels a sale, restoring unrefunded stock when it had been
// consumed and voiding an unpaid linked invoice.
func (s *Service) Cancel(ctx context.Context, actor int64, id uuid.UUID) (TransitionResult, error) {
	return s.transition(ctx, actor, id, StatusCancelled)
}

// SetStatus moves a sale to the requested status.
func (s *Service) SetStatus(ctx context.Context, actor int64, id uuid.UUID, to Status) (TransitionResult, error) {
	return s.transition(ctx, actor, id, to)
}

func (s *Service) transition(ctx context.Context, actor int64, id uuid.UUID, to Status) (TransitionResult, error) {
	var (
		res      TransitionResult
		from     Status
		consumed []inventory.Product
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := s.lock(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		from = sale.Status
		if err := checkTransition(sale, to); err != nil {
			return err
		}
		now := s.now()
		switch to {
		case StatusCompleted, StatusReceived:
			consumed, err = s.ledger.Apply(ctx, tx.Ledger(), actor, consumeAdjustments(sale))
			if err != nil {
				return err
			}
			sale.CompletedAt = &now
		case StatusCancelled:
			if err := voidLinkedInvoice(ctx, tx, sale, now); err != nil {
				return err
			}
			if sale.ConsumesStock() {
				warnings, err := s.restock(ctx, tx, actor, sale)
				if err != nil {
					return err
				}
				res.Warnings = warnings
			}
			sale.CancelledAt = &now
		}
		sale.Status = to
		sale.UpdatedAt = now
		if err := tx.UpdateSale(ctx, sale); err != nil {
			return err
		}
		res.Order = sale
		res.Partial = len(res.Warnings) > 0
		return nil
	})
	if err != nil {
		return TransitionResult{}, err
	}

	s.observe(from, to)
	s.recordAudit(ctx, actor, "sale.status", id, map[string]any{"from": string(from), "to": string(to), "partial": res.Partial})
	if res.Partial {
		s.logger.Warn("sales: partial transition", slog.String("sale_id", id.String()), slog.Any("warnings", res.Warnings))
	}
	s.ledger.NotifyLowStock(ctx, actor, inventory.ReasonSales, consumed)
	return res, nil
}

// RecordPayment marks the sale paid and pays its live invoice.
func (s *Service) RecordPayment(ctx context.Context, actor int64, id uuid.UUID) (Sale, error) {
	var sale Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = s.lock(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if sale.PaymentStatus == PaymentPaid {
			return fmt.Errorf("%w: sale is already paid", shared.ErrInvalidTransition)
		}
		now := s.now()
		if sale.InvoiceID != nil {
			inv, err := tx.Invoices().GetInvoiceForUpdate(ctx, *sale.InvoiceID)
			if err != nil {
				return err
			}
			if inv.Status == invoicing.StatusDraft || inv.Status == invoicing.StatusUnpaid {
				if err := invoicing.SetStatus(&inv, invoicing.StatusPaid, now); err != nil {
					return err
				}
				if err := tx.Invoices().UpdateInvoice(ctx, inv); err != nil {
					return err
				}
			}
		}
		sale.PaymentStatus = PaymentPaid
		sale.UpdatedAt = now
		return tx.UpdateSale(ctx, sale)
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, actor, "sale.payment", id, map[string]any{"total": sale.Total})
	return sale, nil
}

// fill resolves the customer and prices every line of sale.
func (s *Service) fill(ctx context.Context, tx TxRepository, actor int64, sale *Sale, customerID uuid.UUID, inputs []ItemInput, discount float64) error {
	if len(inputs) == 0 {
		return shared.NewValidationError("items", "at least one item is required")
	}
	if discount < 0 {
		return shared.NewValidationError("discount", "must not be negative")
	}
	customer, err := tx.GetCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if customer.OwnerID != actor {
		return fmt.Errorf("%w: customer %s", shared.ErrForbidden, customerID)
	}

	merged := mergeItems(inputs)
	items := make([]Item, 0, len(merged))
	lines := make([]pricing.Line, 0, len(merged))
	for _, in := range merged {
		if in.Quantity <= 0 {
			return shared.NewValidationError("quantity", "must be positive")
		}
		product, err := tx.Ledger().GetProduct(ctx, in.ProductID)
		if err != nil {
			return err
		}
		if product.OwnerID != actor {
			return fmt.Errorf("%w: product %s", shared.ErrForbidden, in.ProductID)
		}
		rate := product.TaxRate
		if in.TaxRate != nil {
			rate = *in.TaxRate
		}
		if err := pricing.ValidateRate(rate); err != nil {
			return err
		}
		price := pricing.PreTaxPrice(product.SellingPrice, rate)
		if in.Price != nil {
			price = *in.Price
		}
		if price < 0 {
			return shared.NewValidationError("price", "must not be negative")
		}
		line := pricing.ComputeLine(price, in.Quantity, rate)
		lines = append(lines, line)
		items = append(items, Item{
			ID:          uuid.New(),
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    in.Quantity,
			Price:       line.UnitPrice,
			TaxRate:     rate,
			TaxAmount:   line.TaxAmount,
			Total:       line.Total,
		})
	}
	totals := pricing.Summarize(lines, discount)
	if totals.Total < 0 {
		return shared.NewValidationError("discount", "exceeds order total")
	}
	sale.CustomerID = customer.ID
	sale.CustomerName = customer.Name
	sale.Items = items
	sale.Subtotal = totals.Subtotal
	sale.TaxTotal = totals.TaxTotal
	sale.Discount = totals.Discount
	sale.RoundOff = totals.RoundOff
	sale.Total = totals.Total
	return nil
}

// restock returns unrefunded quantities to stock. Products that no longer
// exist are skipped and reported.
func (s *Service) restock(ctx context.Context, tx TxRepository, actor int64, sale Sale) ([]string, error) {
	var (
		adjustments []inventory.Adjustment
		warnings    []string
	)
	for _, it := range sale.Items {
		qty := it.Refundable()
		if qty <= 0 {
			continue
		}
		if _, err := tx.Ledger().GetProduct(ctx, it.ProductID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				warnings = append(warnings, fmt.Sprintf("product %q no longer exists; %d units not restocked", it.ProductName, qty))
				continue
			}
			return nil, err
		}
		adjustments = append(adjustments, inventory.Adjustment{
			ProductID: it.ProductID,
			Delta:     qty,
			Reason:    inventory.ReasonSalesCancellation,
			Reference: reference(sale.ID),
		})
	}
	if _, err := s.ledger.Apply(ctx, tx.Ledger(), actor, adjustments); err != nil {
		return nil, err
	}
	return warnings, nil
}

func voidLinkedInvoice(ctx context.Context, tx TxRepository, sale Sale, at time.Time) error {
	if sale.InvoiceID == nil {
		return nil
	}
	inv, err := tx.Invoices().GetInvoiceForUpdate(ctx, *sale.InvoiceID)
	if err != nil {
		return err
	}
	switch inv.Status {
	case invoicing.StatusPaid:
		return fmt.Errorf("%w: linked invoice %s is paid", shared.ErrInvalidTransition, inv.Number)
	case invoicing.StatusVoid:
		return nil
	}
	if err := invoicing.SetStatus(&inv, invoicing.StatusVoid, at); err != nil {
		return err
	}
	return tx.Invoices().UpdateInvoice(ctx, inv)
}

func (s *Service) lock(ctx context.Context, tx TxRepository, actor int64, id uuid.UUID) (Sale, error) {
	sale, err := tx.GetSaleForUpdate(ctx, id)
	if err != nil {
		return Sale{}, err
	}
	if sale.OwnerID != actor {
		return Sale{}, fmt.Errorf("%w: sale %s", shared.ErrForbidden, id)
	}
	return sale, nil
}

func (s *Service) observe(from, to Status) {
	if s.metrics != nil {
		s.metrics.ObserveTransition("sale", string(from), string(to))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor int64, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actor, Action: action, Entity: "sale", EntityID: id.String(), Meta: meta, At: s.now()}); err != nil {
		s.logger.Warn("sales: audit", slog.String("action", action), slog.Any("error", err))
	}
}

func consumeAdjustments(sale Sale) []inventory.Adjustment {
	out := make([]inventory.Adjustment, 0, len(sale.Items))
	for _, it := range sale.Items {
		out = append(out, inventory.Adjustment{
			ProductID: it.ProductID,
			Delta:     -it.Quantity,
			Reason:    inventory.ReasonSales,
			Reference: reference(sale.ID),
		})
	}
	return out
}

// mergeItems folds duplicate product lines, keeping first-seen order and
// the first explicit price and rate.
func mergeItems(inputs []ItemInput) []ItemInput {
	index := make(map[uuid.UUID]int, len(inputs))
	out := make([]ItemInput, 0, len(inputs))
	for _, in := range inputs {
		i, ok := index[in.ProductID]
		if !ok {
			index[in.ProductID] = len(out)
			out = append(out, in)
			continue
		}
		out[i].Quantity += in.Quantity
		if out[i].Price == nil {
			out[i].Price = in.Price
		}
		if out[i].TaxRate == nil {
			out[i].TaxRate = in.TaxRate
		}
	}
	return out
}

func reference(id uuid.UUID) string {
	return "sale:" + id.String()
}
