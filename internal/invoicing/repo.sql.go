package invoicing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerdesk/ledgerdesk/internal/platform/db"
	"github.com/ledgerdesk/ledgerdesk/internal/pricing"
)

const invoiceColumns = `id, owner_id, number, customer_id, customer_name, sale_id, mode, subtotal, tax_total,
	discount, round_off, total, status, due_date, paid_at, voided_at, created_at, updated_at`

const sequenceScope = "invoice"

type txRepository struct {
	q db.DBTX
}

// NewTxRepository binds invoice writes to an open transaction.
func NewTxRepository(q db.DBTX) TxRepository {
	return &txRepository{q: q}
}

// LockLinkedSale locks the sale an invoice points at, leaving the invoice row
// itself unlocked. Writers touching both rows take the sale first.
func (r *txRepository) LockLinkedSale(ctx context.Context, invoiceID uuid.UUID) (*uuid.UUID, error) {
	var saleID uuid.UUID
	err := r.q.QueryRow(ctx, `
		SELECT s.id FROM invoices i JOIN sales s ON s.id = i.sale_id
		WHERE i.id = $1
		FOR UPDATE OF s`, invoiceID).Scan(&saleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &saleID, nil
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (Invoice, error) {
	return getInvoice(ctx, r.q, id, true)
}

func (r *txRepository) NextNumber(ctx context.Context, ownerID int64, year int) (int64, error) {
	return db.NextSequence(ctx, r.q, sequenceScope, ownerID, year)
}

func (r *txRepository) InsertInvoice(ctx context.Context, inv Invoice) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO invoices (id, owner_id, number, customer_id, customer_name, sale_id, mode, subtotal, tax_total,
			discount, round_off, total, status, due_date, paid_at, voided_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		inv.ID, inv.OwnerID, inv.Number, inv.CustomerID, inv.CustomerName, inv.SaleID, string(inv.Mode),
		inv.Subtotal, inv.TaxTotal, inv.Discount, inv.RoundOff, inv.Total, string(inv.Status),
		inv.DueDate, inv.PaidAt, inv.VoidedAt, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return err
	}
	return r.insertItems(ctx, inv.ID, inv.Items)
}

func (r *txRepository) UpdateInvoice(ctx context.Context, inv Invoice) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE invoices SET sale_id = $2, mode = $3, subtotal = $4, tax_total = $5, discount = $6,
			round_off = $7, total = $8, status = $9, paid_at = $10, voided_at = $11, updated_at = $12
		WHERE id = $1`,
		inv.ID, inv.SaleID, string(inv.Mode), inv.Subtotal, inv.TaxTotal, inv.Discount, inv.RoundOff,
		inv.Total, string(inv.Status), inv.PaidAt, inv.VoidedAt, inv.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	if _, err := r.q.Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, inv.ID); err != nil {
		return err
	}
	return r.insertItems(ctx, inv.ID, inv.Items)
}

func (r *txRepository) MarkSalePaid(ctx context.Context, saleID uuid.UUID, at time.Time) error {
	_, err := r.q.Exec(ctx, `UPDATE sales SET payment_status = 'Paid', updated_at = $2 WHERE id = $1`, saleID, at)
	return err
}

func (r *txRepository) insertItems(ctx context.Context, invoiceID uuid.UUID, items []Item) error {
	for i, it := range items {
		if _, err := r.q.Exec(ctx, `
			INSERT INTO invoice_items (id, invoice_id, line_no, product_id, description, quantity, selling_price,
				price, tax_rate, tax_amount, total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			it.ID, invoiceID, i+1, it.ProductID, it.Description, it.Quantity, it.SellingPrice,
			it.Price, it.TaxRate, it.TaxAmount, it.Total); err != nil {
			return err
		}
	}
	return nil
}

func getInvoice(ctx context.Context, q db.DBTX, id uuid.UUID, forUpdate bool) (Invoice, error) {
	query := "SELECT " + invoiceColumns + " FROM invoices WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	inv, err := scanInvoice(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, err
	}
	rows, err := q.Query(ctx, `
		SELECT id, product_id, description, quantity, selling_price, price, tax_rate, tax_amount, total
		FROM invoice_items WHERE invoice_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return Invoice{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ProductID, &it.Description, &it.Quantity, &it.SellingPrice,
			&it.Price, &it.TaxRate, &it.TaxAmount, &it.Total); err != nil {
			return Invoice{}, err
		}
		inv.Items = append(inv.Items, it)
	}
	return inv, rows.Err()
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var mode, status string
	err := row.Scan(&inv.ID, &inv.OwnerID, &inv.Number, &inv.CustomerID, &inv.CustomerName, &inv.SaleID, &mode,
		&inv.Subtotal, &inv.TaxTotal, &inv.Discount, &inv.RoundOff, &inv.Total, &status,
		&inv.DueDate, &inv.PaidAt, &inv.VoidedAt, &inv.CreatedAt, &inv.UpdatedAt)
	inv.Mode = pricing.Mode(mode)
	inv.Status = Status(status)
	return inv, err
}
