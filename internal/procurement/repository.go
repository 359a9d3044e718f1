package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerdesk/ledgerdesk/internal/inventory"
	"github.com/ledgerdesk/ledgerdesk/internal/platform/db"
)

// Repository provides persistence for purchase orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Ledger writes join the
// same transaction.
type TxRepository interface {
	GetPurchaseForUpdate(ctx context.Context, id uuid.UUID) (PurchaseOrder, error)
	NextNumber(ctx context.Context, ownerID int64, year int) (int64, error)
	InsertPurchase(ctx context.Context, po PurchaseOrder) error
	UpdatePurchase(ctx context.Context, po PurchaseOrder) error
	DeletePurchase(ctx context.Context, id uuid.UUID) error

	Ledger() inventory.TxRepository
}

// WithTx runs fn within a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// GetPurchase loads a purchase order with its items.
func (r *Repository) GetPurchase(ctx context.Context, id uuid.UUID) (PurchaseOrder, error) {
	return getPurchase(ctx, r.pool, id, false)
}

// ListPurchases returns the owner's purchase orders, newest first.
func (r *Repository) ListPurchases(ctx context.Context, ownerID int64, filter ListFilter) ([]PurchaseOrder, int, error) {
	where := []string{"owner_id = $1"}
	args := []any{ownerID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.PaymentStatus != "" {
		args = append(args, string(filter.PaymentStatus))
		where = append(where, fmt.Sprintf("payment_status = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM purchases WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)
	rows, err := r.pool.Query(ctx, "SELECT "+purchaseColumns+" FROM purchases WHERE "+clause+
		fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []PurchaseOrder
	for rows.Next() {
		po, err := scanPurchase(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, po)
	}
	return out, total, rows.Err()
}
