package sales

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerdesk/ledgerdesk/internal/inventory"
	"github.com/ledgerdesk/ledgerdesk/internal/invoicing"
	"github.com/ledgerdesk/ledgerdesk/internal/platform/db"
)

const customerColumns = `id, owner_id, name, email, phone, address, created_at`

const saleColumns = `id, owner_id, customer_id, customer_name, subtotal, tax_total, discount, round_off, total,
	refunded_total, status, payment_status, invoice_id, notes, completed_at, cancelled_at, created_at, updated_at`

type txRepository struct {
	q        db.DBTX
	ledger   inventory.TxRepository
	invoices invoicing.TxRepository
}

// NewTxRepository binds sale writes, and the ledger and invoice writes they
// drive, to an open transaction.
func NewTxRepository(q db.DBTX) TxRepository {
	return &txRepository{q: q, ledger: inventory.NewTxRepository(q), invoices: invoicing.NewTxRepository(q)}
}

func (r *txRepository) Ledger() inventory.TxRepository   { return r.ledger }
func (r *txRepository) Invoices() invoicing.TxRepository { return r.invoices }

func (r *txRepository) GetSaleForUpdate(ctx context.Context, id uuid.UUID) (Sale, error) {
	return getSale(ctx, r.q, id, true)
}

func (r *txRepository) GetCustomer(ctx context.Context, id uuid.UUID) (Customer, error) {
	return getCustomer(ctx, r.q, id)
}

func (r *txRepository) InsertSale(ctx context.Context, s Sale) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO sales (id, owner_id, customer_id, customer_name, subtotal, tax_total, discount, round_off, total,
			refunded_total, status, payment_status, invoice_id, notes, completed_at, cancelled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		s.ID, s.OwnerID, s.CustomerID, s.CustomerName, s.Subtotal, s.TaxTotal, s.Discount, s.RoundOff, s.Total,
		s.RefundedTotal, string(s.Status), string(s.PaymentStatus), s.InvoiceID, s.Notes,
		s.CompletedAt, s.CancelledAt, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return err
	}
	return r.insertItems(ctx, s.ID, s.Items)
}

func (r *txRepository) UpdateSale(ctx context.Context, s Sale) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE sales SET customer_id = $2, customer_name = $3, subtotal = $4, tax_total = $5, discount = $6,
			round_off = $7, total = $8, refunded_total = $9, status = $10, payment_status = $11, invoice_id = $12,
			notes = $13, completed_at = $14, cancelled_at = $15, updated_at = $16
		WHERE id = $1`,
		s.ID, s.CustomerID, s.CustomerName, s.Subtotal, s.TaxTotal, s.Discount, s.RoundOff, s.Total,
		s.RefundedTotal, string(s.Status), string(s.PaymentStatus), s.InvoiceID, s.Notes,
		s.CompletedAt, s.CancelledAt, s.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSaleNotFound
	}
	if _, err := r.q.Exec(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, s.ID); err != nil {
		return err
	}
	return r.insertItems(ctx, s.ID, s.Items)
}

func (r *txRepository) DeleteSale(ctx context.Context, id uuid.UUID) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, id); err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSaleNotFound
	}
	return nil
}

func (r *txRepository) insertItems(ctx context.Context, saleID uuid.UUID, items []Item) error {
	for i, it := range items {
		if _, err := r.q.Exec(ctx, `
			INSERT INTO sale_items (id, sale_id, line_no, product_id, product_name, quantity, price, tax_rate,
				tax_amount, total, refunded_quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			it.ID, saleID, i+1, it.ProductID, it.ProductName, it.Quantity, it.Price, it.TaxRate,
			it.TaxAmount, it.Total, it.RefundedQuantity); err != nil {
			return err
		}
	}
	return nil
}

func getSale(ctx context.Context, q db.DBTX, id uuid.UUID, forUpdate bool) (Sale, error) {
	query := "SELECT " + saleColumns + " FROM sales WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	sale, err := scanSale(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrSaleNotFound
	}
	if err != nil {
		return Sale{}, err
	}
	rows, err := q.Query(ctx, `
		SELECT id, product_id, product_name, quantity, price, tax_rate, tax_amount, total, refunded_quantity
		FROM sale_items WHERE sale_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return Sale{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ProductID, &it.ProductName, &it.Quantity, &it.Price, &it.TaxRate,
			&it.TaxAmount, &it.Total, &it.RefundedQuantity); err != nil {
			return Sale{}, err
		}
		sale.Items = append(sale.Items, it)
	}
	return sale, rows.Err()
}

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	var status, payment string
	err := row.Scan(&s.ID, &s.OwnerID, &s.CustomerID, &s.CustomerName, &s.Subtotal, &s.TaxTotal, &s.Discount,
		&s.RoundOff, &s.Total, &s.RefundedTotal, &status, &payment, &s.InvoiceID, &s.Notes,
		&s.CompletedAt, &s.CancelledAt, &s.CreatedAt, &s.UpdatedAt)
	s.Status = Status(status)
	s.PaymentStatus = PaymentStatus(payment)
	return s, err
}

func getCustomer(ctx context.Context, q db.DBTX, id uuid.UUID) (Customer, error) {
	c, err := scanCustomer(q.QueryRow(ctx, "SELECT "+customerColumns+" FROM customers WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrCustomerNotFound
	}
	return c, err
}

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt)
	return c, err
}
