package invoicing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgerdesk/ledgerdesk/internal/pricing"
	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

type memoryRepo struct {
	invoices  map[uuid.UUID]Invoice
	sequences map[int]int64
	paidSales map[uuid.UUID]time.Time
	locks     []string
}

type memoryTx struct {
	repo      *memoryRepo
	invoices  map[uuid.UUID]Invoice
	sequences map[int]int64
	paidSales map[uuid.UUID]time.Time
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		invoices:  make(map[uuid.UUID]Invoice),
		sequences: make(map[int]int64),
		paidSales: make(map[uuid.UUID]time.Time),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{
		repo:      r,
		invoices:  make(map[uuid.UUID]Invoice, len(r.invoices)),
		sequences: make(map[int]int64, len(r.sequences)),
		paidSales: make(map[uuid.UUID]time.Time, len(r.paidSales)),
	}
	for k, v := range r.invoices {
		v.Items = append([]Item(nil), v.Items...)
		tx.invoices[k] = v
	}
	for k, v := range r.sequences {
		tx.sequences[k] = v
	}
	for k, v := range r.paidSales {
		tx.paidSales[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.invoices, r.sequences, r.paidSales = tx.invoices, tx.sequences, tx.paidSales
	return nil
}

func (r *memoryRepo) GetInvoice(ctx context.Context, id uuid.UUID) (Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (r *memoryRepo) ListInvoices(ctx context.Context, ownerID int64, filter ListFilter) ([]Invoice, int, error) {
	var out []Invoice
	for _, inv := range r.invoices {
		if inv.OwnerID == ownerID && (filter.Status == "" || inv.Status == filter.Status) {
			out = append(out, inv)
		}
	}
	return out, len(out), nil
}

func (tx *memoryTx) LockLinkedSale(ctx context.Context, invoiceID uuid.UUID) (*uuid.UUID, error) {
	inv, ok := tx.invoices[invoiceID]
	if !ok || inv.SaleID == nil {
		return nil, nil
	}
	tx.repo.locks = append(tx.repo.locks, "sale")
	id := *inv.SaleID
	return &id, nil
}

func (tx *memoryTx) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (Invoice, error) {
	inv, ok := tx.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	tx.repo.locks = append(tx.repo.locks, "invoice")
	return inv, nil
}

func (tx *memoryTx) NextNumber(ctx context.Context, ownerID int64, year int) (int64, error) {
	tx.sequences[year]++
	return tx.sequences[year], nil
}

func (tx *memoryTx) InsertInvoice(ctx context.Context, inv Invoice) error {
	tx.invoices[inv.ID] = inv
	return nil
}

func (tx *memoryTx) UpdateInvoice(ctx context.Context, inv Invoice) error {
	if _, ok := tx.invoices[inv.ID]; !ok {
		return ErrInvoiceNotFound
	}
	tx.invoices[inv.ID] = inv
	return nil
}

func (tx *memoryTx) MarkSalePaid(ctx context.Context, saleID uuid.UUID, at time.Time) error {
	tx.paidSales[saleID] = at
	return nil
}

type stubCustomers map[uuid.UUID]string

func (c stubCustomers) CustomerName(ctx context.Context, actor int64, id uuid.UUID) (string, error) {
	name, ok := c[id]
	if !ok {
		return "", shared.ErrNotFound
	}
	return name, nil
}

type transitionCounter map[string]int

func (c transitionCounter) ObserveTransition(entity, from, to string) {
	c[entity+":"+from+">"+to]++
}

const owner int64 = 7

func newTestService(t *testing.T) (*Service, *memoryRepo, uuid.UUID, transitionCounter) {
	t.Helper()
	repo := newMemoryRepo()
	customerID := uuid.New()
	metrics := transitionCounter{}
	svc := NewService(repo, stubCustomers{customerID: "Acme Traders"}, nil, metrics, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) }
	return svc, repo, customerID, metrics
}

func TestCreateNumbersSequentially(t *testing.T) {
	svc, _, customerID, _ := newTestService(t)
	ctx := context.Background()
	input := CreateInput{
		CustomerID: customerID,
		Items:      []ItemInput{{Description: "Widget", Quantity: 2, SellingPrice: 118, TaxRate: 18}},
	}

	first, err := svc.Create(ctx, owner, input)
	require.NoError(t, err)
	second, err := svc.Create(ctx, owner, input)
	require.NoError(t, err)

	require.Equal(t, "INV-2026-0001", first.Number)
	require.Equal(t, "INV-2026-0002", second.Number)
	require.Equal(t, "Acme Traders", first.CustomerName)
	require.Equal(t, StatusUnpaid, first.Status)
	require.Equal(t, pricing.ModeGST, first.Mode)
	require.InDelta(t, 200, first.Subtotal, 1e-9)
	require.InDelta(t, 36, first.TaxTotal, 1e-9)
	require.InDelta(t, 236, first.Total, 1e-9)
}

func TestCreateUnknownCustomer(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.Create(context.Background(), owner, CreateInput{
		CustomerID: uuid.New(),
		Items:      []ItemInput{{Description: "Widget", Quantity: 1, SellingPrice: 10}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSetModeRecomputesLines(t *testing.T) {
	svc, _, customerID, _ := newTestService(t)
	ctx := context.Background()
	inv, err := svc.Create(ctx, owner, CreateInput{
		CustomerID: customerID,
		Items:      []ItemInput{{Description: "Widget", Quantity: 1, SellingPrice: 118, TaxRate: 18}},
	})
	require.NoError(t, err)

	updated, err := svc.SetMode(ctx, owner, inv.ID, pricing.ModeNonGST)
	require.NoError(t, err)
	require.Equal(t, pricing.ModeNonGST, updated.Mode)
	require.InDelta(t, 0, updated.TaxTotal, 1e-9)
	require.InDelta(t, 118, updated.Total, 1e-9)
	require.InDelta(t, 118, updated.Items[0].Price, 1e-9)

	back, err := svc.SetMode(ctx, owner, inv.ID, pricing.ModeGST)
	require.NoError(t, err)
	require.InDelta(t, 100, back.Items[0].Price, 1e-9)
	require.InDelta(t, 18, back.TaxTotal, 1e-9)
}

func TestSetModeRefusedOncePaid(t *testing.T) {
	svc, _, customerID, _ := newTestService(t)
	ctx := context.Background()
	inv, err := svc.Create(ctx, owner, CreateInput{
		CustomerID: customerID,
		Items:      []ItemInput{{Description: "Widget", Quantity: 1, SellingPrice: 50}},
	})
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, owner, inv.ID, StatusPaid)
	require.NoError(t, err)

	_, err = svc.SetMode(ctx, owner, inv.ID, pricing.ModeNonGST)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestUpdateStatusPropagatesPaymentToSale(t *testing.T) {
	svc, repo, _, metrics := newTestService(t)
	ctx := context.Background()
	saleID := uuid.New()
	inv := FromSale(SaleSource{
		OwnerID:    owner,
		SaleID:     saleID,
		CustomerID: uuid.New(),
		Lines:      []SaleLine{{ProductID: uuid.New(), ProductName: "Widget", Quantity: 1, Price: 100, TaxRate: 18, TaxAmount: 18, Total: 118}},
		Subtotal:   100,
		TaxTotal:   18,
		Total:      118,
	}, svc.now())
	inv.Number = FormatNumber(2026, 1)
	repo.invoices[inv.ID] = inv

	paid, err := svc.UpdateStatus(ctx, owner, inv.ID, StatusPaid)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	require.Contains(t, repo.paidSales, saleID)
	require.Equal(t, 1, metrics["invoice:unpaid>paid"])
	require.Equal(t, []string{"sale", "invoice"}, repo.locks)
}

type relinkedTx struct {
	*memoryTx
}

func (tx relinkedTx) LockLinkedSale(ctx context.Context, invoiceID uuid.UUID) (*uuid.UUID, error) {
	return nil, nil
}

func TestLockWithSaleDetectsRelink(t *testing.T) {
	repo := newMemoryRepo()
	saleID := uuid.New()
	inv := Invoice{ID: uuid.New(), OwnerID: owner, Number: FormatNumber(2026, 4), SaleID: &saleID, Status: StatusUnpaid}
	repo.invoices[inv.ID] = inv
	ctx := context.Background()

	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := LockWithSale(ctx, relinkedTx{tx.(*memoryTx)}, inv.ID)
		return err
	})
	require.ErrorIs(t, err, shared.ErrConflict)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := LockWithSale(ctx, tx, inv.ID)
		require.Equal(t, inv.ID, locked.ID)
		return err
	})
	require.NoError(t, err)
}

func TestUpdateStatusGuards(t *testing.T) {
	svc, repo, customerID, _ := newTestService(t)
	ctx := context.Background()
	inv, err := svc.Create(ctx, owner, CreateInput{
		CustomerID: customerID,
		Items:      []ItemInput{{Description: "Widget", Quantity: 1, SellingPrice: 50}},
	})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, owner, inv.ID, StatusDraft)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.UpdateStatus(ctx, owner+1, inv.ID, StatusVoid)
	require.ErrorIs(t, err, shared.ErrForbidden)

	voided, err := svc.UpdateStatus(ctx, owner, inv.ID, StatusVoid)
	require.NoError(t, err)
	require.NotNil(t, voided.VoidedAt)

	_, err = svc.UpdateStatus(ctx, owner, inv.ID, StatusPaid)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Equal(t, StatusVoid, repo.invoices[inv.ID].Status)
}

func TestGetForeignInvoiceForbidden(t *testing.T) {
	svc, _, customerID, _ := newTestService(t)
	ctx := context.Background()
	inv, err := svc.Create(ctx, owner, CreateInput{
		CustomerID: customerID,
		Items:      []ItemInput{{Description: "Widget", Quantity: 1, SellingPrice: 50}},
	})
	require.NoError(t, err)

	_, err = svc.Get(ctx, owner+1, inv.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Get(ctx, owner, uuid.New())
	require.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestParseStatusAcceptsPendingAlias(t *testing.T) {
	status, err := ParseStatus("pending")
	require.NoError(t, err)
	require.Equal(t, StatusUnpaid, status)
	_, err = ParseStatus("settled")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestFromSaleMirrorsAmounts(t *testing.T) {
	at := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	inv := FromSale(SaleSource{
		OwnerID:  owner,
		SaleID:   uuid.New(),
		Lines:    []SaleLine{{ProductID: uuid.New(), ProductName: "Widget", Quantity: 2, Price: 100, TaxRate: 18, TaxAmount: 36, Total: 236}},
		Subtotal: 200,
		TaxTotal: 36,
		Total:    236,
		Paid:     true,
	}, at)
	require.Equal(t, StatusPaid, inv.Status)
	require.NotNil(t, inv.PaidAt)
	require.InDelta(t, 118, inv.Items[0].SellingPrice, 1e-9)
	require.InDelta(t, 236, inv.Total, 1e-9)
}
