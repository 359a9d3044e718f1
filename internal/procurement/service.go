package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerdesk/ledgerdesk/internal/inventory"
	"github.com/ledgerdesk/ledgerdesk/internal/pricing"
	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

const (
	idempotencyCreate  = "purchases"
	idempotencyReceipt = "purchase-receipts"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchase(ctx context.Context, id uuid.UUID) (PurchaseOrder, error)
	ListPurchases(ctx context.Context, ownerID int64, filter ListFilter) ([]PurchaseOrder, int, error)
}

// LedgerPort exposes required inventory integration.
type LedgerPort interface {
	Apply(ctx context.Context, tx inventory.TxRepository, actor int64, adjustments []inventory.Adjustment) ([]inventory.Product, error)
	ApplyCost(ctx context.Context, tx inventory.TxRepository, actor int64, productID uuid.UUID, newCost float64) (inventory.Product, error)
	NotifyLowStock(ctx context.Context, actor int64, reason inventory.Reason, products []inventory.Product)
}

// IdempotencyPort guards retried creates and receipts.
type IdempotencyPort interface {
	Claim(ctx context.Context, ownerID int64, module, key string) error
	Release(ctx context.Context, ownerID int64, module, key string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// TransitionObserver counts status changes.
type TransitionObserver interface {
	ObserveTransition(entity, from, to string)
}

// Service orchestrates procurement flows.
type Service struct {
	repo    RepositoryPort
	ledger  LedgerPort
	idem    IdempotencyPort
	audit   AuditPort
	metrics TransitionObserver
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs procurement service.
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

// Create persists a purchase order. Orders created as Received are fully
// received at once.
func (s *Service) Create(ctx context.Context, actor int64, input CreateInput) (PurchaseOrder, error) {
	status := StatusDraft
	if input.Status != "" {
		parsed, err := ParseStatus(input.Status)
		if err != nil {
			return PurchaseOrder{}, err
		}
		if !slices.Contains([]Status{StatusDraft, StatusOrdered, StatusReceived}, parsed) {
			return PurchaseOrder{}, shared.NewValidationError("status", "new purchases start as Draft Ordered or Received")
		}
		status = parsed
	}
	release, err := s.claim(ctx, actor, idempotencyCreate, input.IdempotencyKey)
	if err != nil {
		return PurchaseOrder{}, err
	}

	now := s.now()
	po := PurchaseOrder{
		ID:            uuid.New(),
		OwnerID:       actor,
		SupplierID:    input.SupplierID,
		SupplierName:  input.SupplierName,
		Status:        StatusOrdered,
		PaymentStatus: PaymentUnpaid,
		ExpectedDate:  input.ExpectedDate,
		Notes:         input.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if status == StatusDraft {
		po.Status = StatusDraft
	}
	var touched []inventory.Product
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.fill(ctx, tx, actor, &po, input.Items); err != nil {
			return err
		}
		seq, err := tx.NextNumber(ctx, actor, now.Year())
		if err != nil {
			return fmt.Errorf("procurement: next number: %w", err)
		}
		po.PONumber = FormatNumber(now.Year(), seq)
		if status == StatusReceived {
			lines := make([]ReceiptLine, 0, len(po.Items))
			for _, it := range po.Items {
				lines = append(lines, ReceiptLine{ProductID: it.ProductID, Quantity: it.Quantity})
			}
			if touched, err = s.receive(ctx, tx, actor, &po, lines, now); err != nil {
				return err
			}
		}
		return tx.InsertPurchase(ctx, po)
	})
	if err != nil {
		release()
		return PurchaseOrder{}, err
	}
	s.observe("none", po.Status)
	s.recordAudit(ctx, actor, "purchase.create", po.ID, map[string]any{"number": po.PONumber, "status": string(po.Status)})
	s.ledger.NotifyLowStock(ctx, actor, inventory.ReasonPurchases, touched)
	return po, nil
}

// Update replaces supplier, items and notes while Draft or Ordered.
func (s *Service) Update(ctx context.Context, actor int64, id uuid.UUID, input UpdateInput) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = s.lock(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if err := checkEditable(po); err != nil {
			return err
		}
		if err := s.fill(ctx, tx, actor, &po, input.Items); err != nil {
			return err
		}
		if po.PaidAmount > po.TotalAmount {
			return shared.NewValidationError("items", "total would fall below the amount already paid")
		}
		po.PaymentStatus = paymentStatusFor(po.PaidAmount, po.TotalAmount)
		po.SupplierID = input.SupplierID
		po.SupplierName = input.SupplierName
		po.ExpectedDate = input.ExpectedDate
		po.Notes = input.Notes
		po.UpdatedAt = s.now()
		return tx.UpdatePurchase(ctx, po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actor, "purchase.update", id, map[string]any{"total": po.TotalAmount})
	return po, nil
}

// Delete removes a Draft or Ordered purchase order.
func (s *Service) Delete(ctx context.Context, actor int64, id uuid.UUID) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := s.lock(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if err := checkEditable(po); err != nil {
			return err
		}
		return tx.DeletePurchase(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "purchase.delete", id, nil)
	return nil
}

// Get returns a purchase order owned by actor.
func (s *Service) Get(ctx context.Context, actor int64, id uuid.UUID) (PurchaseOrder, error) {
	po, err := s.repo.GetPurchase(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if po.OwnerID != actor {
		return PurchaseOrder{}, fmt.Errorf("%w: purchase %s", shared.ErrForbidden, id)
	}
	return po, nil
}

// List returns actor's purchase orders.
func (s *Service) List(ctx context.Context, actor int64, filter ListFilter) ([]PurchaseOrder, int, error) {
	return s.repo.ListPurchases(ctx, actor, filter)
}

// SetStatus dispatches a status change: Ordered places a draft, Received
// receives everything outstanding and Cancelled cancels.
func (s *Service) SetStatus(ctx context.Context, actor int64, id uuid.UUID, to Status) (PurchaseOrder, error) {
	switch to {
	case StatusOrdered:
		return s.Order(ctx, actor, id)
	case StatusReceived:
		return s.Receive(ctx, actor, id, ReceiveInput{})
	case StatusCancelled:
		return s.Cancel(ctx, actor, id)
	}
	return PurchaseOrder{}, fmt.Errorf("%w: status %s is set by receiving", shared.ErrInvalidTransition, to)
}

// Order moves a Draft purchase to Ordered.
func (s *Service) Order(ctx context.Context, actor int64, id uuid.UUID) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = s.lock(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if po.Status != StatusDraft {
			return fmt.Errorf("%w: only Draft purchases can be ordered", shared.ErrInvalidTransition)
		}
		po.Status = StatusOrdered
		po.UpdatedAt = s.now()
		return tx.UpdatePurchase(ctx, po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.observe(StatusDraft, StatusOrdered)
	s.recordAudit(ctx, actor, "purchase.status", id, map[string]any{"from": string(StatusDraft), "to": string(StatusOrdered)})
	return po, nil
}

// Receive books received quantities into stock and reprices the products.
func (s *Service) Receive(ctx context.Context, actor int64, id uuid.UUID, input ReceiveInput) (PurchaseOrder, error) {
	release, err := s.claim(ctx, actor, idempotencyReceipt, input.IdempotencyKey)
	if err != nil {
		return PurchaseOrder{}, err
	}
	var (
		po      PurchaseOrder
		from    Status
		touched []inventory.Product
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = s.lock(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		from = po.Status
		if po.Status != StatusOrdered && po.Status != StatusPartiallyReceived {
			return fmt.Errorf("%w: cannot receive a %s purchase", shared.ErrInvalidTransition, po.Status)
		}
		lines := input.Lines
		if len(lines) == 0 {
			for _, it := range po.Items {
				if it.Outstanding() > 0 {
					lines = append(lines, ReceiptLine{ProductID: it.ProductID, Quantity: it.Outstanding()})
				}
			}
		}
		if touched, err = s.receive(ctx, tx, actor, &po, lines, s.now()); err != nil {
			return err
		}
		return tx.UpdatePurchase(ctx, po)
	})
	if err != nil {
		release()
		return PurchaseOrder{}, err
	}
	s.observe(from, po.Status)
	s.recordAudit(ctx, actor, "purchase.receive", id, map[string]any{"from": string(from), "to": string(po.Status)})
	s.ledger.NotifyLowStock(ctx, actor, inventory.ReasonPurchases, touched)
	return po, nil
}

// Cancel cancels an unpaid purchase, reversing any received stock.
func (s *Service) Cancel(ctx context.Context, actor int64, id uuid.UUID) (PurchaseOrder, error) {
	var (
		po       PurchaseOrder
		from     Status
		reversed []inventory.Product
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = s.lock(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		from = po.Status
		if po.Status == StatusCancelled {
			return fmt.Errorf("%w: purchase is already cancelled", shared.ErrInvalidTransition)
		}
		if po.PaymentStatus == PaymentPaid {
			return fmt.Errorf("%w: paid purchases cannot be cancelled", shared.ErrInvalidTransition)
		}
		var adjustments []inventory.Adjustment
		for _, it := range po.Items {
			if it.ReceivedQuantity > 0 {
				adjustments = append(adjustments, inventory.Adjustment{
					ProductID: it.ProductID,
					Delta:     -it.ReceivedQuantity,
					Reason:    inventory.ReasonPurchasesCancellation,
					Reference: po.PONumber,
				})
			}
		}
		if reversed, err = s.ledger.Apply(ctx, tx.Ledger(), actor, adjustments); err != nil {
			return err
		}
		now := s.now()
		po.Status = StatusCancelled
		po.CancelledAt = &now
		po.UpdatedAt = now
		return tx.UpdatePurchase(ctx, po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.observe(from, StatusCancelled)
	s.recordAudit(ctx, actor, "purchase.cancel", id, map[string]any{"from": string(from)})
	s.ledger.NotifyLowStock(ctx, actor, inventory.ReasonPurchasesCancellation, reversed)
	return po, nil
}

// RecordPayment adds amount to the paid total. Overpayment is refused.
func (s *Service) RecordPayment(ctx context.Context, actor int64, id uuid.UUID, amount float64) (PurchaseOrder, error) {
	if amount <= 0 {
		return PurchaseOrder{}, shared.NewValidationError("amount", "must be positive")
	}
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = s.lock(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if po.PaymentStatus == PaymentPaid {
			return fmt.Errorf("%w: purchase is already paid", shared.ErrInvalidTransition)
		}
		paid := pricing.Sum(po.PaidAmount, amount)
		if paid > po.TotalAmount {
			return shared.NewValidationError("amount", fmt.Sprintf("exceeds outstanding balance %.2f", pricing.Sum(po.TotalAmount, -po.PaidAmount)))
		}
		po.PaidAmount = paid
		po.PaymentStatus = paymentStatusFor(paid, po.TotalAmount)
		po.UpdatedAt = s.now()
		return tx.UpdatePurchase(ctx, po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actor, "purchase.payment", id, map[string]any{"amount": amount, "paid": po.PaidAmount})
	return po, nil
}

// receive applies receipt lines to po inside tx.
func (s *Service) receive(ctx context.Context, tx TxRepository, actor int64, po *PurchaseOrder, lines []ReceiptLine, at time.Time) ([]inventory.Product, error) {
	if len(lines) == 0 {
		return nil, shared.NewValidationError("lines", "nothing left to receive")
	}
	ordered := make(map[uuid.UUID]float64, len(po.Items))
	for _, it := range po.Items {
		ordered[it.ProductID] = it.UnitPrice
	}
	requested := make(map[uuid.UUID]int, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, shared.NewValidationError("quantity", "must be positive")
		}
		if _, ok := ordered[l.ProductID]; !ok {
			return nil, shared.NewValidationError("productId", fmt.Sprintf("%s is not on this purchase", l.ProductID))
		}
		requested[l.ProductID] += l.Quantity
	}
	var adjustments []inventory.Adjustment
	for i := range po.Items {
		it := &po.Items[i]
		qty, ok := requested[it.ProductID]
		if !ok {
			continue
		}
		if qty > it.Outstanding() {
			return nil, shared.NewValidationError("quantity", fmt.Sprintf("%s: receiving %d exceeds outstanding %d", it.ProductName, qty, it.Outstanding()))
		}
		it.ReceivedQuantity += qty
		adjustments = append(adjustments, inventory.Adjustment{
			ProductID: it.ProductID,
			Delta:     qty,
			Reason:    inventory.ReasonPurchases,
			Reference: po.PONumber,
		})
	}
	if _, err := s.ledger.Apply(ctx, tx.Ledger(), actor, adjustments); err != nil {
		return nil, err
	}
	products := make([]inventory.Product, 0, len(adjustments))
	for _, adj := range adjustments {
		p, err := s.ledger.ApplyCost(ctx, tx.Ledger(), actor, adj.ProductID, ordered[adj.ProductID])
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if po.FullyReceived() {
		po.Status = StatusReceived
		po.ReceivedAt = &at
	} else {
		po.Status = StatusPartiallyReceived
	}
	po.UpdatedAt = at
	return products, nil
}

// fill prices items and resolves product names.
func (s *Service) fill(ctx context.Context, tx TxRepository, actor int64, po *PurchaseOrder, inputs []ItemInput) error {
	if len(inputs) == 0 {
		return shared.NewValidationError("items", "at least one item is required")
	}
	index := make(map[uuid.UUID]int, len(inputs))
	items := make([]Item, 0, len(inputs))
	for _, in := range inputs {
		if in.Quantity <= 0 {
			return shared.NewValidationError("quantity", "must be positive")
		}
		if in.UnitPrice < 0 {
			return shared.NewValidationError("unitPrice", "must not be negative")
		}
		if err := pricing.ValidateRate(in.TaxRate); err != nil {
			return err
		}
		if i, ok := index[in.ProductID]; ok {
			if items[i].UnitPrice != in.UnitPrice || items[i].TaxRate != in.TaxRate {
				return shared.NewValidationError("items", fmt.Sprintf("%s is listed twice with different prices or tax rates", items[i].ProductName))
			}
			items[i].Quantity += in.Quantity
			continue
		}
		product, err := tx.Ledger().GetProduct(ctx, in.ProductID)
		if err != nil {
			return err
		}
		if product.OwnerID != actor {
			return fmt.Errorf("%w: product %s", shared.ErrForbidden, in.ProductID)
		}
		index[in.ProductID] = len(items)
		items = append(items, Item{
			ID:          uuid.New(),
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			TaxRate:     in.TaxRate,
		})
	}
	totals := make([]float64, 0, len(items))
	for i := range items {
		line := pricing.ComputeLine(items[i].UnitPrice, items[i].Quantity, items[i].TaxRate)
		items[i].Total = line.Total
		totals = append(totals, line.Total)
	}
	po.Items = items
	po.TotalAmount = pricing.Sum(totals...)
	return nil
}

func (s *Service) claim(ctx context.Context, actor int64, module, key string) (func(), error) {
	if key == "" || s.idem == nil {
		return func() {}, nil
	}
	if err := s.idem.Claim(ctx, actor, module, key); err != nil {
		return nil, err
	}
	return func() {
		if err := s.idem.Release(ctx, actor, module, key); err != nil {
			s.logger.Warn("procurement: release idempotency key", slog.String("module", module), slog.Any("error", err))
		}
	}, nil
}

func (s *Service) lock(ctx context.Context, tx TxRepository, actor int64, id uuid.UUID) (PurchaseOrder, error) {
	po, err := tx.GetPurchaseForUpdate(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if po.OwnerID != actor {
		return PurchaseOrder{}, fmt.Errorf("%w: purchase %s", shared.ErrForbidden, id)
	}
	return po, nil
}

func (s *Service) observe(from, to Status) {
	if s.metrics != nil {
		s.metrics.ObserveTransition("purchase", string(from), string(to))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor int64, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actor, Action: action, Entity: "purchase", EntityID: id.String(), Meta: meta, At: s.now()}); err != nil {
		s.logger.Warn("procurement: audit", slog.String("action", action), slog.Any("error", err))
	}
}

func checkEditable(po PurchaseOrder) error {
	if po.Status != StatusDraft && po.Status != StatusOrdered {
		return fmt.Errorf("%w: %s purchases cannot be changed", shared.ErrInvalidTransition, po.Status)
	}
	return nil
}

func paymentStatusFor(paid, total float64) PaymentStatus {
	switch {
	case paid <= 0:
		return PaymentUnpaid
	case paid >= total:
		return PaymentPaid
	default:
		return PaymentPartiallyPaid
	}
}
