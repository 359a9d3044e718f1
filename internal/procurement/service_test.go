package procurement

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgerdesk/ledgerdesk/internal/inventory"
	"github.com/ledgerdesk/ledgerdesk/internal/inventory/inventorytest"
	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

type memoryProcRepo struct {
	purchases map[uuid.UUID]PurchaseOrder
	sequences map[int]int64
	ledger    *inventorytest.Store
}

type memoryProcTx struct {
	purchases map[uuid.UUID]PurchaseOrder
	sequences map[int]int64
	ledger    *inventorytest.Store
}

func newMemoryProcRepo() *memoryProcRepo {
	return &memoryProcRepo{
		purchases: make(map[uuid.UUID]PurchaseOrder),
		sequences: make(map[int]int64),
		ledger:    inventorytest.NewStore(),
	}
}

func (r *memoryProcRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryProcTx{
		purchases: make(map[uuid.UUID]PurchaseOrder, len(r.purchases)),
		sequences: make(map[int]int64, len(r.sequences)),
		ledger:    r.ledger.Clone(),
	}
	for k, v := range r.purchases {
		v.Items = append([]Item(nil), v.Items...)
		tx.purchases[k] = v
	}
	for k, v := range r.sequences {
		tx.sequences[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.purchases, r.sequences, r.ledger = tx.purchases, tx.sequences, tx.ledger
	return nil
}

func (r *memoryProcRepo) GetPurchase(ctx context.Context, id uuid.UUID) (PurchaseOrder, error) {
	po, ok := r.purchases[id]
	if !ok {
		return PurchaseOrder{}, ErrPurchaseNotFound
	}
	return po, nil
}

func (r *memoryProcRepo) ListPurchases(ctx context.Context, ownerID int64, filter ListFilter) ([]PurchaseOrder, int, error) {
	var out []PurchaseOrder
	for _, po := range r.purchases {
		if po.OwnerID == ownerID {
			out = append(out, po)
		}
	}
	return out, len(out), nil
}

func (tx *memoryProcTx) GetPurchaseForUpdate(ctx context.Context, id uuid.UUID) (PurchaseOrder, error) {
	po, ok := tx.purchases[id]
	if !ok {
		return PurchaseOrder{}, ErrPurchaseNotFound
	}
	po.Items = append([]Item(nil), po.Items...)
	return po, nil
}

func (tx *memoryProcTx) NextNumber(ctx context.Context, ownerID int64, year int) (int64, error) {
	tx.sequences[year]++
	return tx.sequences[year], nil
}

func (tx *memoryProcTx) InsertPurchase(ctx context.Context, po PurchaseOrder) error {
	tx.purchases[po.ID] = po
	return nil
}

func (tx *memoryProcTx) UpdatePurchase(ctx context.Context, po PurchaseOrder) error {
	if _, ok := tx.purchases[po.ID]; !ok {
		return ErrPurchaseNotFound
	}
	tx.purchases[po.ID] = po
	return nil
}

func (tx *memoryProcTx) DeletePurchase(ctx context.Context, id uuid.UUID) error {
	delete(tx.purchases, id)
	return nil
}

func (tx *memoryProcTx) Ledger() inventory.TxRepository { return tx.ledger }

const buyer int64 = 9

func newProcService(t *testing.T) (*Service, *memoryProcRepo, inventory.Product) {
	t.Helper()
	repo := newMemoryProcRepo()
	product := repo.ledger.Seed(inventory.Product{OwnerID: buyer, Name: "Bolt", Cost: 40, PurchasePrice: 40, SellingPrice: 60})
	ledger := inventory.NewService(nil, nil, nil, nil, nil)
	svc := NewService(repo, ledger, nil, nil, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC) }
	return svc, repo, product
}

func orderInput(productID uuid.UUID, qty int, status string) CreateInput {
	return CreateInput{
		SupplierName: "Steel Co",
		Status:       status,
		Items:        []ItemInput{{ProductID: productID, Quantity: qty, UnitPrice: 50, TaxRate: 18}},
	}
}

func TestCreateNumbersAndTotals(t *testing.T) {
	svc, _, product := newProcService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, buyer, orderInput(product.ID, 10, "Ordered"))
	require.NoError(t, err)
	second, err := svc.Create(ctx, buyer, orderInput(product.ID, 1, ""))
	require.NoError(t, err)

	require.Equal(t, "PO-2026-0001", first.PONumber)
	require.Equal(t, "PO-2026-0002", second.PONumber)
	require.Equal(t, StatusOrdered, first.Status)
	require.Equal(t, StatusDraft, second.Status)
	require.Equal(t, PaymentUnpaid, first.PaymentStatus)
	require.InDelta(t, 590, first.TotalAmount, 1e-9)
	require.Equal(t, "Bolt", first.Items[0].ProductName)
}

func TestDuplicateLinesMergeOnlyWhenPricedAlike(t *testing.T) {
	svc, _, product := newProcService(t)
	ctx := context.Background()

	input := orderInput(product.ID, 2, "Ordered")
	input.Items = append(input.Items, ItemInput{ProductID: product.ID, Quantity: 3, UnitPrice: 50, TaxRate: 18})
	po, err := svc.Create(ctx, buyer, input)
	require.NoError(t, err)
	require.Len(t, po.Items, 1)
	require.Equal(t, 5, po.Items[0].Quantity)
	require.InDelta(t, 295, po.TotalAmount, 1e-9)

	input = orderInput(product.ID, 2, "Ordered")
	input.Items = append(input.Items, ItemInput{ProductID: product.ID, Quantity: 3, UnitPrice: 45, TaxRate: 18})
	_, err = svc.Create(ctx, buyer, input)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "items")

	input.Items[1].UnitPrice = 50
	input.Items[1].TaxRate = 5
	_, err = svc.Create(ctx, buyer, input)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPartialThenFullReceiptRepricesProduct(t *testing.T) {
	svc, repo, product := newProcService(t)
	ctx := context.Background()
	po, err := svc.Create(ctx, buyer, orderInput(product.ID, 10, "Ordered"))
	require.NoError(t, err)

	po, err = svc.Receive(ctx, buyer, po.ID, ReceiveInput{Lines: []ReceiptLine{{ProductID: product.ID, Quantity: 4}}})
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyReceived, po.Status)
	require.Equal(t, 4, po.Items[0].ReceivedQuantity)
	require.Equal(t, 4, repo.ledger.Quantity(product.ID))

	p := repo.ledger.Product(product.ID)
	require.InDelta(t, 50, p.Cost, 1e-9)
	require.InDelta(t, 50, p.PurchasePrice, 1e-9)
	require.InDelta(t, 70, p.SellingPrice, 1e-9)
	require.Equal(t, inventory.ReasonPurchases, p.LastModifiedFrom)

	po, err = svc.Receive(ctx, buyer, po.ID, ReceiveInput{})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, po.Status)
	require.NotNil(t, po.ReceivedAt)
	require.Equal(t, 10, repo.ledger.Quantity(product.ID))
}

func TestOverReceiptIsRefused(t *testing.T) {
	svc, repo, product := newProcService(t)
	ctx := context.Background()
	po, err := svc.Create(ctx, buyer, orderInput(product.ID, 3, "Ordered"))
	require.NoError(t, err)

	_, err = svc.Receive(ctx, buyer, po.ID, ReceiveInput{Lines: []ReceiptLine{{ProductID: product.ID, Quantity: 4}}})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, 0, repo.ledger.Quantity(product.ID))

	_, err = svc.Receive(ctx, buyer, po.ID, ReceiveInput{Lines: []ReceiptLine{{ProductID: uuid.New(), Quantity: 1}}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReceiveDraftIsRefused(t *testing.T) {
	svc, _, product := newProcService(t)
	ctx := context.Background()
	po, err := svc.Create(ctx, buyer, orderInput(product.ID, 3, "Draft"))
	require.NoError(t, err)

	_, err = svc.Receive(ctx, buyer, po.ID, ReceiveInput{})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	po, err = svc.SetStatus(ctx, buyer, po.ID, StatusOrdered)
	require.NoError(t, err)
	require.Equal(t, StatusOrdered, po.Status)
}

func TestCreateReceivedAddsStock(t *testing.T) {
	svc, repo, product := newProcService(t)
	po, err := svc.Create(context.Background(), buyer, orderInput(product.ID, 6, "received"))
	require.NoError(t, err)
	require.Equal(t, StatusReceived, po.Status)
	require.Equal(t, 6, po.Items[0].ReceivedQuantity)
	require.Equal(t, 6, repo.ledger.Quantity(product.ID))
}

func TestCancelReversesReceivedStock(t *testing.T) {
	svc, repo, product := newProcService(t)
	ctx := context.Background()
	po, err := svc.Create(ctx, buyer, orderInput(product.ID, 6, "Received"))
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, buyer, po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, 0, repo.ledger.Quantity(product.ID))
	require.Equal(t, inventory.ReasonPurchasesCancellation, repo.ledger.Product(product.ID).LastModifiedFrom)

	_, err = svc.Cancel(ctx, buyer, po.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestCancelFailsWhenStockAlreadySold(t *testing.T) {
	svc, repo, product := newProcService(t)
	ctx := context.Background()
	po, err := svc.Create(ctx, buyer, orderInput(product.ID, 6, "Received"))
	require.NoError(t, err)

	p := repo.ledger.Products[product.ID]
	p.Quantity = 2
	repo.ledger.Products[product.ID] = p

	_, err = svc.Cancel(ctx, buyer, po.ID)
	require.ErrorIs(t, err, shared.ErrNegativeStock)
	require.Equal(t, 2, repo.ledger.Quantity(product.ID))
	require.Equal(t, StatusReceived, repo.purchases[po.ID].Status)
}

func TestPaymentProgression(t *testing.T) {
	svc, _, product := newProcService(t)
	ctx := context.Background()
	po, err := svc.Create(ctx, buyer, orderInput(product.ID, 10, "Ordered"))
	require.NoError(t, err)

	po, err = svc.RecordPayment(ctx, buyer, po.ID, 90)
	require.NoError(t, err)
	require.Equal(t, PaymentPartiallyPaid, po.PaymentStatus)

	_, err = svc.RecordPayment(ctx, buyer, po.ID, 600)
	require.ErrorIs(t, err, shared.ErrValidation)

	po, err = svc.RecordPayment(ctx, buyer, po.ID, 500)
	require.NoError(t, err)
	require.Equal(t, PaymentPaid, po.PaymentStatus)
	require.InDelta(t, 590, po.PaidAmount, 1e-9)

	_, err = svc.Cancel(ctx, buyer, po.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = svc.RecordPayment(ctx, buyer, po.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestEditAndDeleteOnlyBeforeReceipt(t *testing.T) {
	svc, repo, product := newProcService(t)
	ctx := context.Background()
	po, err := svc.Create(ctx, buyer, orderInput(product.ID, 10, "Ordered"))
	require.NoError(t, err)

	updated, err := svc.Update(ctx, buyer, po.ID, UpdateInput{
		SupplierName: "Steel Co",
		Items:        []ItemInput{{ProductID: product.ID, Quantity: 2, UnitPrice: 100}},
	})
	require.NoError(t, err)
	require.InDelta(t, 200, updated.TotalAmount, 1e-9)

	_, err = svc.Receive(ctx, buyer, po.ID, ReceiveInput{Lines: []ReceiptLine{{ProductID: product.ID, Quantity: 1}}})
	require.NoError(t, err)

	_, err = svc.Update(ctx, buyer, po.ID, UpdateInput{SupplierName: "x", Items: []ItemInput{{ProductID: product.ID, Quantity: 1}}})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.ErrorIs(t, svc.Delete(ctx, buyer, po.ID), shared.ErrInvalidTransition)

	draft, err := svc.Create(ctx, buyer, orderInput(product.ID, 1, "Draft"))
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, buyer, draft.ID))
	require.NotContains(t, repo.purchases, draft.ID)
}

func TestForeignPurchaseIsForbidden(t *testing.T) {
	svc, _, product := newProcService(t)
	ctx := context.Background()
	po, err := svc.Create(ctx, buyer, orderInput(product.ID, 1, "Ordered"))
	require.NoError(t, err)

	_, err = svc.Get(ctx, buyer+1, po.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Receive(ctx, buyer+1, po.ID, ReceiveInput{})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestParseStatusNormalisesInput(t *testing.T) {
	s, err := ParseStatus("partially_received")
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyReceived, s)
	_, err = ParseStatus("lost")
	require.ErrorIs(t, err, shared.ErrValidation)
}
