package refunds

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgerdesk/ledgerdesk/internal/inventory"
	"github.com/ledgerdesk/ledgerdesk/internal/inventory/inventorytest"
	"github.com/ledgerdesk/ledgerdesk/internal/invoicing"
	"github.com/ledgerdesk/ledgerdesk/internal/invoicing/invoicingtest"
	"github.com/ledgerdesk/ledgerdesk/internal/pricing"
	"github.com/ledgerdesk/ledgerdesk/internal/sales"
	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

type memoryState struct {
	refunds map[uuid.UUID]Refund
	sales   map[uuid.UUID]sales.Sale
	ledger  *inventorytest.Store
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		refunds: make(map[uuid.UUID]Refund, len(s.refunds)),
		sales:   make(map[uuid.UUID]sales.Sale, len(s.sales)),
		ledger:  s.ledger.Clone(),
	}
	for k, v := range s.refunds {
		v.Items = append([]Item(nil), v.Items...)
		out.refunds[k] = v
	}
	for k, v := range s.sales {
		v.Items = append([]sales.Item(nil), v.Items...)
		out.sales[k] = v
	}
	return out
}

type memoryRepo struct {
	state memoryState
}

type memoryTx struct {
	state *memoryState
}

type memorySalesTx struct {
	state *memoryState
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	working := r.state.clone()
	if err := fn(ctx, &memoryTx{state: &working}); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (r *memoryRepo) GetRefund(ctx context.Context, id uuid.UUID) (Refund, error) {
	rf, ok := r.state.refunds[id]
	if !ok {
		return Refund{}, ErrRefundNotFound
	}
	return rf, nil
}

func (r *memoryRepo) ListRefunds(ctx context.Context, ownerID int64, filter ListFilter) ([]Refund, int, error) {
	var out []Refund
	for _, rf := range r.state.refunds {
		if rf.OwnerID != ownerID {
			continue
		}
		if filter.SaleID != nil && rf.SaleID != *filter.SaleID {
			continue
		}
		out = append(out, rf)
	}
	return out, len(out), nil
}

func (tx *memoryTx) GetRefundForUpdate(ctx context.Context, id uuid.UUID) (Refund, error) {
	rf, ok := tx.state.refunds[id]
	if !ok {
		return Refund{}, ErrRefundNotFound
	}
	return rf, nil
}

func (tx *memoryTx) InsertRefund(ctx context.Context, rf Refund) error {
	tx.state.refunds[rf.ID] = rf
	return nil
}

func (tx *memoryTx) UpdateRefundStatus(ctx context.Context, rf Refund) error {
	tx.state.refunds[rf.ID] = rf
	return nil
}

func (tx *memoryTx) PendingQuantities(ctx context.Context, saleID uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int)
	for _, rf := range tx.state.refunds {
		if rf.SaleID != saleID || !rf.Open() {
			continue
		}
		for _, it := range rf.Items {
			out[it.ProductID] += it.Quantity
		}
	}
	return out, nil
}

func (tx *memoryTx) Sales() sales.TxRepository { return &memorySalesTx{state: tx.state} }

func (tx *memorySalesTx) GetSaleForUpdate(ctx context.Context, id uuid.UUID) (sales.Sale, error) {
	s, ok := tx.state.sales[id]
	if !ok {
		return sales.Sale{}, sales.ErrSaleNotFound
	}
	s.Items = append([]sales.Item(nil), s.Items...)
	return s, nil
}

func (tx *memorySalesTx) InsertSale(ctx context.Context, s sales.Sale) error {
	tx.state.sales[s.ID] = s
	return nil
}

func (tx *memorySalesTx) UpdateSale(ctx context.Context, s sales.Sale) error {
	tx.state.sales[s.ID] = s
	return nil
}

func (tx *memorySalesTx) DeleteSale(ctx context.Context, id uuid.UUID) error {
	delete(tx.state.sales, id)
	return nil
}

func (tx *memorySalesTx) GetCustomer(ctx context.Context, id uuid.UUID) (sales.Customer, error) {
	return sales.Customer{}, sales.ErrCustomerNotFound
}

func (tx *memorySalesTx) Ledger() inventory.TxRepository   { return tx.state.ledger }
func (tx *memorySalesTx) Invoices() invoicing.TxRepository { return invoicingtest.NewStore() }

const seller int64 = 5

type fixture struct {
	svc     *Service
	repo    *memoryRepo
	product inventory.Product
	sale    sales.Sale
}

func newFixture(t *testing.T, status sales.Status) *fixture {
	t.Helper()
	repo := &memoryRepo{state: memoryState{
		refunds: make(map[uuid.UUID]Refund),
		sales:   make(map[uuid.UUID]sales.Sale),
		ledger:  inventorytest.NewStore(),
	}}
	product := repo.state.ledger.Seed(inventory.Product{OwnerID: seller, Name: "Lamp", Quantity: 10, SellingPrice: 118, TaxRate: 18})
	sale := sales.Sale{
		ID:      uuid.New(),
		OwnerID: seller,
		Status:  status,
		Items: []sales.Item{{
			ID: uuid.New(), ProductID: product.ID, ProductName: "Lamp",
			Quantity: 5, Price: 100, TaxRate: 18, TaxAmount: 90, Total: 590,
		}},
		Subtotal: 500, TaxTotal: 90, Total: 590,
	}
	repo.state.sales[sale.ID] = sale
	svc := NewService(repo, inventory.NewService(nil, nil, nil, nil, nil), nil, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	return &fixture{svc: svc, repo: repo, product: product, sale: sale}
}

func (f *fixture) request(qty int) CreateInput {
	return CreateInput{SaleID: f.sale.ID, Reason: " damaged ", Items: []ItemInput{{ProductID: f.product.ID, Quantity: qty}}}
}

func TestCreatePricesFromSaleLine(t *testing.T) {
	f := newFixture(t, sales.StatusCompleted)

	refund, err := f.svc.Create(context.Background(), seller, f.request(2))
	require.NoError(t, err)
	require.Equal(t, StatusPending, refund.Status)
	require.Equal(t, "damaged", refund.Reason)
	require.InDelta(t, 200, refund.Subtotal, 1e-9)
	require.InDelta(t, 36, refund.TaxTotal, 1e-9)
	require.InDelta(t, 236, refund.Total, 1e-9)
	require.Len(t, refund.Items, 1)
	require.InDelta(t, 100, refund.Items[0].Price, 1e-9)

	require.Equal(t, 10, f.repo.state.ledger.Quantity(f.product.ID))
}

func TestCreateRequiresConsumedSale(t *testing.T) {
	f := newFixture(t, sales.StatusPending)
	_, err := f.svc.Create(context.Background(), seller, f.request(1))
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestCreateBoundsQuantityByPendingRefunds(t *testing.T) {
	f := newFixture(t, sales.StatusReceived)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, seller, f.request(3))
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, seller, f.request(3))
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Create(ctx, seller, f.request(2))
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, seller, CreateInput{SaleID: f.sale.ID, Items: []ItemInput{{ProductID: uuid.New(), Quantity: 1}}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestApprovalRestocksAndBooksRefund(t *testing.T) {
	f := newFixture(t, sales.StatusCompleted)
	ctx := context.Background()
	refund, err := f.svc.Create(ctx, seller, f.request(2))
	require.NoError(t, err)

	approved, err := f.svc.UpdateStatus(ctx, seller, refund.ID, StatusApproved)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)

	require.Equal(t, 12, f.repo.state.ledger.Quantity(f.product.ID))
	movements := f.repo.state.ledger.MovementsFor(f.product.ID)
	last := movements[len(movements)-1]
	require.Equal(t, inventory.ReasonRefunds, last.Reason)
	require.Equal(t, 2, last.Delta)

	sale := f.repo.state.sales[f.sale.ID]
	require.Equal(t, 2, sale.Items[0].RefundedQuantity)
	require.InDelta(t, 236, sale.RefundedTotal, 1e-9)

	_, err = f.svc.Create(ctx, seller, f.request(4))
	require.ErrorIs(t, err, shared.ErrValidation)

	completed, err := f.svc.UpdateStatus(ctx, seller, refund.ID, StatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, completed.CompletedAt)
}

func TestApprovalFailsOnceSaleCancelled(t *testing.T) {
	f := newFixture(t, sales.StatusCompleted)
	ctx := context.Background()
	refund, err := f.svc.Create(ctx, seller, f.request(1))
	require.NoError(t, err)

	sale := f.repo.state.sales[f.sale.ID]
	sale.Status = sales.StatusCancelled
	f.repo.state.sales[f.sale.ID] = sale

	_, err = f.svc.UpdateStatus(ctx, seller, refund.ID, StatusApproved)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Equal(t, 10, f.repo.state.ledger.Quantity(f.product.ID))
	require.Equal(t, StatusPending, f.repo.state.refunds[refund.ID].Status)
}

func TestRejectedRefundReleasesQuantity(t *testing.T) {
	f := newFixture(t, sales.StatusCompleted)
	ctx := context.Background()
	refund, err := f.svc.Create(ctx, seller, f.request(5))
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, seller, refund.ID, StatusRejected)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, seller, refund.ID, StatusApproved)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = f.svc.Create(ctx, seller, f.request(5))
	require.NoError(t, err)
}

func TestCompleteRequiresApproval(t *testing.T) {
	f := newFixture(t, sales.StatusCompleted)
	refund, err := f.svc.Create(context.Background(), seller, f.request(1))
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(context.Background(), seller, refund.ID, StatusCompleted)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestForeignRefundIsForbidden(t *testing.T) {
	f := newFixture(t, sales.StatusCompleted)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, seller+1, f.request(1))
	require.ErrorIs(t, err, shared.ErrForbidden)

	refund, err := f.svc.Create(ctx, seller, f.request(1))
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, seller+1, refund.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = f.svc.UpdateStatus(ctx, seller+1, refund.ID, StatusApproved)
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.svc.Get(ctx, seller, uuid.New())
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListFiltersBySale(t *testing.T) {
	f := newFixture(t, sales.StatusCompleted)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, seller, f.request(1))
	require.NoError(t, err)

	other := uuid.New()
	items, total, err := f.svc.List(ctx, seller, ListFilter{SaleID: &other})
	require.NoError(t, err)
	require.Empty(t, items)
	require.Zero(t, total)

	items, total, err = f.svc.List(ctx, seller, ListFilter{SaleID: &f.sale.ID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 1, total)
}

func TestFullRefundNeverExceedsChargedAmount(t *testing.T) {
	f := newFixture(t, sales.StatusCompleted)
	ctx := context.Background()

	line := pricing.ComputeLine(pricing.PreTaxPrice(100, 18), 1000, 18)
	totals := pricing.Summarize([]pricing.Line{line}, 0)
	sale := f.repo.state.sales[f.sale.ID]
	sale.Items[0].Quantity = 1000
	sale.Items[0].Price = line.UnitPrice
	sale.Items[0].TaxAmount = line.TaxAmount
	sale.Items[0].Total = line.Total
	sale.Subtotal, sale.TaxTotal, sale.Total = totals.Subtotal, totals.TaxTotal, totals.Total
	f.repo.state.sales[f.sale.ID] = sale

	var subtotal, total []float64
	for _, qty := range []int{333, 333, 334} {
		refund, err := f.svc.Create(ctx, seller, f.request(qty))
		require.NoError(t, err)
		subtotal = append(subtotal, refund.Subtotal)
		total = append(total, refund.Total)
		_, err = f.svc.UpdateStatus(ctx, seller, refund.ID, StatusApproved)
		require.NoError(t, err)
	}

	require.InDelta(t, line.Subtotal, pricing.Sum(subtotal...), 1e-9)
	require.InDelta(t, line.Total, pricing.Sum(total...), 1e-9)
	booked := f.repo.state.sales[f.sale.ID]
	require.Equal(t, 1000, booked.Items[0].RefundedQuantity)
	require.InDelta(t, 100000, booked.RefundedTotal, 1e-9)
	require.LessOrEqual(t, booked.RefundedTotal, booked.Total)
}
