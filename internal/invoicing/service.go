package invoicing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerdesk/ledgerdesk/internal/pricing"
	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id uuid.UUID) (Invoice, error)
	ListInvoices(ctx context.Context, ownerID int64, filter ListFilter) ([]Invoice, int, error)
}

// CustomerDirectory resolves customer names for the actor.
type CustomerDirectory interface {
	CustomerName(ctx context.Context, actor int64, id uuid.UUID) (string, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// TransitionObserver counts status changes.
type TransitionObserver interface {
	ObserveTransition(entity, from, to string)
}

// Service manages invoices.
type Service struct {
	repo      RepositoryPort
	customers CustomerDirectory
	audit     AuditPort
	metrics   TransitionObserver
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs Service. audit and metrics may be nil.
func NewService(repo RepositoryPort, customers CustomerDirectory, audit AuditPort, metrics TransitionObserver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		customers: customers,
		audit:     audit,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AssignNumber allocates the next per-year number for inv.
func AssignNumber(ctx context.Context, tx TxRepository, inv *Invoice) error {
	year := inv.CreatedAt.Year()
	seq, err := tx.NextNumber(ctx, inv.OwnerID, year)
	if err != nil {
		return fmt.Errorf("invoicing: next number: %w", err)
	}
	inv.Number = FormatNumber(year, seq)
	return nil
}

// Create issues a standalone invoice.
func (s *Service) Create(ctx context.Context, actor int64, input CreateInput) (Invoice, error) {
	mode := input.Mode
	if mode == "" {
		mode = pricing.ModeGST
	}
	if !mode.Valid() {
		return Invoice{}, shared.NewValidationError("mode", "must be gst or non_gst")
	}
	status := input.Status
	if status == "" {
		status = StatusUnpaid
	}
	if status != StatusDraft && status != StatusUnpaid {
		return Invoice{}, shared.NewValidationError("status", "must be draft or unpaid")
	}
	if len(input.Items) == 0 {
		return Invoice{}, shared.NewValidationError("items", "at least one item is required")
	}
	for _, it := range input.Items {
		if it.Quantity <= 0 {
			return Invoice{}, shared.NewValidationError("quantity", "must be positive")
		}
		if err := pricing.ValidateRate(it.TaxRate); err != nil {
			return Invoice{}, err
		}
	}
	name, err := s.customers.CustomerName(ctx, actor, input.CustomerID)
	if err != nil {
		return Invoice{}, err
	}

	now := s.now()
	inv := Invoice{
		ID:           uuid.New(),
		OwnerID:      actor,
		CustomerID:   input.CustomerID,
		CustomerName: name,
		Discount:     input.Discount,
		Status:       status,
		DueDate:      input.DueDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, it := range input.Items {
		inv.Items = append(inv.Items, Item{
			ID:           uuid.New(),
			ProductID:    it.ProductID,
			Description:  it.Description,
			Quantity:     it.Quantity,
			SellingPrice: it.SellingPrice,
			TaxRate:      it.TaxRate,
		})
	}
	inv.Reprice(mode)
	if inv.Total < 0 {
		return Invoice{}, shared.NewValidationError("discount", "exceeds invoice total")
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := AssignNumber(ctx, tx, &inv); err != nil {
			return err
		}
		return tx.InsertInvoice(ctx, inv)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, actor, "invoice.create", inv.ID.String(), map[string]any{"number": inv.Number, "total": inv.Total})
	return inv, nil
}

// Get returns an invoice owned by actor.
func (s *Service) Get(ctx context.Context, actor int64, id uuid.UUID) (Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if inv.OwnerID != actor {
		return Invoice{}, fmt.Errorf("%w: invoice %s", shared.ErrForbidden, id)
	}
	return inv, nil
}

// List returns actor's invoices.
func (s *Service) List(ctx context.Context, actor int64, filter ListFilter) ([]Invoice, int, error) {
	return s.repo.ListInvoices(ctx, actor, filter)
}

// UpdateStatus moves an invoice along its lifecycle. Paying an invoice
// linked to a sale marks the sale paid in the same transaction.
func (s *Service) UpdateStatus(ctx context.Context, actor int64, id uuid.UUID, to Status) (Invoice, error) {
	var (
		inv  Invoice
		from Status
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = LockWithSale(ctx, tx, id)
		if err != nil {
			return err
		}
		if inv.OwnerID != actor {
			return fmt.Errorf("%w: invoice %s", shared.ErrForbidden, id)
		}
		from = inv.Status
		if err := SetStatus(&inv, to, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		if to == StatusPaid && inv.SaleID != nil {
			return tx.MarkSalePaid(ctx, *inv.SaleID, inv.UpdatedAt)
		}
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	if s.metrics != nil {
		s.metrics.ObserveTransition("invoice", string(from), string(to))
	}
	s.recordAudit(ctx, actor, "invoice.status", id.String(), map[string]any{"from": string(from), "to": string(to)})
	return inv, nil
}

// SetMode toggles GST mode and recomputes every line.
func (s *Service) SetMode(ctx context.Context, actor int64, id uuid.UUID, mode pricing.Mode) (Invoice, error) {
	if !mode.Valid() {
		return Invoice{}, shared.NewValidationError("mode", "must be gst or non_gst")
	}
	var inv Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = s.lock(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if inv.Status != StatusDraft && inv.Status != StatusUnpaid {
			return fmt.Errorf("%w: cannot change mode of a %s invoice", shared.ErrInvalidTransition, inv.Status)
		}
		inv.Reprice(mode)
		inv.UpdatedAt = s.now()
		return tx.UpdateInvoice(ctx, inv)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, actor, "invoice.mode", id.String(), map[string]any{"mode": string(mode), "total": inv.Total})
	return inv, nil
}

// SetStatus applies a transition to inv, stamping paid and void times.
func SetStatus(inv *Invoice, to Status, at time.Time) error {
	if !CanTransition(inv.Status, to) {
		return fmt.Errorf("%w: invoice %s to %s", shared.ErrInvalidTransition, inv.Status, to)
	}
	inv.Status = to
	inv.UpdatedAt = at
	switch to {
	case StatusPaid:
		inv.PaidAt = &at
	case StatusVoid:
		inv.VoidedAt = &at
	}
	return nil
}

// LockWithSale locks the invoice's linked sale, then the invoice. A link
// that changed between the two locks is reported as a conflict.
func LockWithSale(ctx context.Context, tx TxRepository, id uuid.UUID) (Invoice, error) {
	saleID, err := tx.LockLinkedSale(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	inv, err := tx.GetInvoiceForUpdate(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if inv.SaleID != nil && (saleID == nil || *saleID != *inv.SaleID) {
		return Invoice{}, fmt.Errorf("%w: invoice %s was linked to another sale, retry", shared.ErrConflict, inv.Number)
	}
	return inv, nil
}

func (s *Service) lock(ctx context.Context, tx TxRepository, actor int64, id uuid.UUID) (Invoice, error) {
	inv, err := tx.GetInvoiceForUpdate(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if inv.OwnerID != actor {
		return Invoice{}, fmt.Errorf("%w: invoice %s", shared.ErrForbidden, id)
	}
	return inv, nil
}

func (s *Service) recordAudit(ctx context.Context, actor int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actor, Action: action, Entity: "invoice", EntityID: entityID, Meta: meta, At: s.now()}); err != nil {
		s.logger.Warn("invoicing: audit", slog.String("action", action), slog.Any("error", err))
	}
}
