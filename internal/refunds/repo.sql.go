package refunds

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerdesk/ledgerdesk/internal/platform/db"
	"github.com/ledgerdesk/ledgerdesk/internal/sales"
)

const refundColumns = `id, owner_id, sale_id, subtotal, tax_total, total, reason, status, approved_at,
	completed_at, created_at, updated_at`

type txRepository struct {
	q     db.DBTX
	sales sales.TxRepository
}

// NewTxRepository binds refund writes, and the sale and ledger writes an
// approval drives, to an open transaction.
func NewTxRepository(q db.DBTX) TxRepository {
	return &txRepository{q: q, sales: sales.NewTxRepository(q)}
}

func (r *txRepository) Sales() sales.TxRepository { return r.sales }

func (r *txRepository) GetRefundForUpdate(ctx context.Context, id uuid.UUID) (Refund, error) {
	return getRefund(ctx, r.q, id, true)
}

func (r *txRepository) InsertRefund(ctx context.Context, rf Refund) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO refunds (id, owner_id, sale_id, subtotal, tax_total, total, reason, status, approved_at,
			completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rf.ID, rf.OwnerID, rf.SaleID, rf.Subtotal, rf.TaxTotal, rf.Total, rf.Reason, string(rf.Status),
		rf.ApprovedAt, rf.CompletedAt, rf.CreatedAt, rf.UpdatedAt)
	if err != nil {
		return err
	}
	for i, it := range rf.Items {
		if _, err := r.q.Exec(ctx, `
			INSERT INTO refund_items (id, refund_id, line_no, product_id, product_name, quantity, price,
				tax_rate, tax_amount, total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			it.ID, rf.ID, i+1, it.ProductID, it.ProductName, it.Quantity, it.Price, it.TaxRate,
			it.TaxAmount, it.Total); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) UpdateRefundStatus(ctx context.Context, rf Refund) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE refunds SET status = $2, approved_at = $3, completed_at = $4, updated_at = $5
		WHERE id = $1`,
		rf.ID, string(rf.Status), rf.ApprovedAt, rf.CompletedAt, rf.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRefundNotFound
	}
	return nil
}

func (r *txRepository) PendingQuantities(ctx context.Context, saleID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.q.Query(ctx, `
		SELECT ri.product_id, SUM(ri.quantity)
		FROM refund_items ri JOIN refunds rf ON rf.id = ri.refund_id
		WHERE rf.sale_id = $1 AND rf.status = $2
		GROUP BY ri.product_id`, saleID, string(StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		out[id] = qty
	}
	return out, rows.Err()
}

func getRefund(ctx context.Context, q db.DBTX, id uuid.UUID, forUpdate bool) (Refund, error) {
	query := "SELECT " + refundColumns + " FROM refunds WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	rf, err := scanRefund(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Refund{}, ErrRefundNotFound
	}
	if err != nil {
		return Refund{}, err
	}
	rows, err := q.Query(ctx, `
		SELECT id, product_id, product_name, quantity, price, tax_rate, tax_amount, total
		FROM refund_items WHERE refund_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return Refund{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ProductID, &it.ProductName, &it.Quantity, &it.Price, &it.TaxRate,
			&it.TaxAmount, &it.Total); err != nil {
			return Refund{}, err
		}
		rf.Items = append(rf.Items, it)
	}
	return rf, rows.Err()
}

func scanRefund(row pgx.Row) (Refund, error) {
	var rf Refund
	var status string
	err := row.Scan(&rf.ID, &rf.OwnerID, &rf.SaleID, &rf.Subtotal, &rf.TaxTotal, &rf.Total, &rf.Reason, &status,
		&rf.ApprovedAt, &rf.CompletedAt, &rf.CreatedAt, &rf.UpdatedAt)
	rf.Status = Status(status)
	return rf, err
}
