package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerdesk/ledgerdesk/internal/platform/db"
	"github.com/ledgerdesk/ledgerdesk/internal/sales"
)

// Repository persists refunds.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Sales, and through it the
// ledger, share the transaction so approval commits as one unit.
type TxRepository interface {
	GetRefundForUpdate(ctx context.Context, id uuid.UUID) (Refund, error)
	InsertRefund(ctx context.Context, refund Refund) error
	UpdateRefundStatus(ctx context.Context, refund Refund) error
	// PendingQuantities sums the quantities of open refunds per product.
	PendingQuantities(ctx context.Context, saleID uuid.UUID) (map[uuid.UUID]int, error)

	Sales() sales.TxRepository
}

// WithTx runs fn within a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("refunds repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// GetRefund loads a refund with its items.
func (r *Repository) GetRefund(ctx context.Context, id uuid.UUID) (Refund, error) {
	return getRefund(ctx, r.pool, id, false)
}

// ListRefunds returns the owner's refunds, newest first.
func (r *Repository) ListRefunds(ctx context.Context, ownerID int64, filter ListFilter) ([]Refund, int, error) {
	where := []string{"owner_id = $1"}
	args := []any{ownerID}
	if filter.SaleID != nil {
		args = append(args, *filter.SaleID)
		where = append(where, fmt.Sprintf("sale_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM refunds WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)
	rows, err := r.pool.Query(ctx, "SELECT "+refundColumns+" FROM refunds WHERE "+clause+
		fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Refund
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rf)
	}
	return out, total, rows.Err()
}
