package procurement

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerdesk/ledgerdesk/internal/inventory"
	"github.com/ledgerdesk/ledgerdesk/internal/platform/db"
)

const purchaseColumns = `id, owner_id, po_number, supplier_id, supplier_name, status, payment_status, total_amount,
	paid_amount, expected_date, notes, received_at, cancelled_at, created_at, updated_at`

const sequenceScope = "purchase"

type txRepository struct {
	q      db.DBTX
	ledger inventory.TxRepository
}

// NewTxRepository binds purchase and ledger writes to an open transaction.
func NewTxRepository(q db.DBTX) TxRepository {
	return &txRepository{q: q, ledger: inventory.NewTxRepository(q)}
}

func (r *txRepository) Ledger() inventory.TxRepository { return r.ledger }

func (r *txRepository) GetPurchaseForUpdate(ctx context.Context, id uuid.UUID) (PurchaseOrder, error) {
	return getPurchase(ctx, r.q, id, true)
}

func (r *txRepository) NextNumber(ctx context.Context, ownerID int64, year int) (int64, error) {
	return db.NextSequence(ctx, r.q, sequenceScope, ownerID, year)
}

func (r *txRepository) InsertPurchase(ctx context.Context, po PurchaseOrder) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO purchases (id, owner_id, po_number, supplier_id, supplier_name, status, payment_status,
			total_amount, paid_amount, expected_date, notes, received_at, cancelled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		po.ID, po.OwnerID, po.PONumber, po.SupplierID, po.SupplierName, string(po.Status), string(po.PaymentStatus),
		po.TotalAmount, po.PaidAmount, po.ExpectedDate, po.Notes, po.ReceivedAt, po.CancelledAt, po.CreatedAt, po.UpdatedAt)
	if err != nil {
		return err
	}
	return r.insertItems(ctx, po.ID, po.Items)
}

func (r *txRepository) UpdatePurchase(ctx context.Context, po PurchaseOrder) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE purchases SET supplier_id = $2, supplier_name = $3, status = $4, payment_status = $5,
			total_amount = $6, paid_amount = $7, expected_date = $8, notes = $9, received_at = $10,
			cancelled_at = $11, updated_at = $12
		WHERE id = $1`,
		po.ID, po.SupplierID, po.SupplierName, string(po.Status), string(po.PaymentStatus), po.TotalAmount,
		po.PaidAmount, po.ExpectedDate, po.Notes, po.ReceivedAt, po.CancelledAt, po.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPurchaseNotFound
	}
	if _, err := r.q.Exec(ctx, `DELETE FROM purchase_items WHERE purchase_id = $1`, po.ID); err != nil {
		return err
	}
	return r.insertItems(ctx, po.ID, po.Items)
}

func (r *txRepository) DeletePurchase(ctx context.Context, id uuid.UUID) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM purchase_items WHERE purchase_id = $1`, id); err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, `DELETE FROM purchases WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPurchaseNotFound
	}
	return nil
}

func (r *txRepository) insertItems(ctx context.Context, purchaseID uuid.UUID, items []Item) error {
	for i, it := range items {
		if _, err := r.q.Exec(ctx, `
			INSERT INTO purchase_items (id, purchase_id, line_no, product_id, product_name, quantity,
				received_quantity, unit_price, tax_rate, total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			it.ID, purchaseID, i+1, it.ProductID, it.ProductName, it.Quantity, it.ReceivedQuantity,
			it.UnitPrice, it.TaxRate, it.Total); err != nil {
			return err
		}
	}
	return nil
}

func getPurchase(ctx context.Context, q db.DBTX, id uuid.UUID, forUpdate bool) (PurchaseOrder, error) {
	query := "SELECT " + purchaseColumns + " FROM purchases WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	po, err := scanPurchase(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrPurchaseNotFound
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	rows, err := q.Query(ctx, `
		SELECT id, product_id, product_name, quantity, received_quantity, unit_price, tax_rate, total
		FROM purchase_items WHERE purchase_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ProductID, &it.ProductName, &it.Quantity, &it.ReceivedQuantity,
			&it.UnitPrice, &it.TaxRate, &it.Total); err != nil {
			return PurchaseOrder{}, err
		}
		po.Items = append(po.Items, it)
	}
	return po, rows.Err()
}

func scanPurchase(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status, payment string
	err := row.Scan(&po.ID, &po.OwnerID, &po.PONumber, &po.SupplierID, &po.SupplierName, &status, &payment,
		&po.TotalAmount, &po.PaidAmount, &po.ExpectedDate, &po.Notes, &po.ReceivedAt, &po.CancelledAt,
		&po.CreatedAt, &po.UpdatedAt)
	po.Status = Status(status)
	po.PaymentStatus = PaymentStatus(payment)
	return po, err
}
