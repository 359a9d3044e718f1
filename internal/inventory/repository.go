package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerdesk/ledgerdesk/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the ledger operations that must run inside the
// caller's transaction.
type TxRepository interface {
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	GetProductForUpdate(ctx context.Context, id uuid.UUID) (Product, error)
	// ApplyDelta adds delta to the product quantity only if the result stays
	// non-negative. When the condition fails it returns the current product
	// and applied=false.
	ApplyDelta(ctx context.Context, id uuid.UUID, delta int, reason Reason, at time.Time) (Product, bool, error)
	InsertMovement(ctx context.Context, m Movement) error
	UpdatePricing(ctx context.Context, id uuid.UUID, cost, purchasePrice, sellingPrice float64, at time.Time) error
	InsertProduct(ctx context.Context, p Product) error
	UpdateProductDetails(ctx context.Context, p Product) error
}

// WithTx executes the callback inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// GetProduct loads a product by id.
func (r *Repository) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	return getProduct(ctx, r.pool, id, false)
}

// ListProducts returns an owner's products and the unpaged total.
func (r *Repository) ListProducts(ctx context.Context, ownerID int64, filter ListFilter) ([]Product, int, error) {
	where := []string{"owner_id = $1"}
	args := []any{ownerID}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		where = append(where, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(sku) LIKE $%d)", len(args), len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.LowStock {
		where = append(where, "reorder_level > 0 AND quantity <= reorder_level")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM products WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + productColumns + " FROM products WHERE " + clause + " ORDER BY name, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

// ListMovements returns the newest movements of a product.
func (r *Repository) ListMovements(ctx context.Context, productID uuid.UUID, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, product_id, owner_id, delta, reason, reference, balance, actor_id, created_at
		FROM inventory_movements
		WHERE product_id = $1
		ORDER BY id DESC
		LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		var reason string
		if err := rows.Scan(&m.ID, &m.ProductID, &m.OwnerID, &m.Delta, &reason, &m.Reference, &m.Balance, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Reason = Reason(reason)
		out = append(out, m)
	}
	return out, rows.Err()
}

// LedgerSums returns the net movement per product for an owner.
func (r *Repository) LedgerSums(ctx context.Context, ownerID int64) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT product_id, COALESCE(SUM(delta), 0)
		FROM inventory_movements
		WHERE owner_id = $1
		GROUP BY product_id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sums := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var sum int
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		sums[id] = sum
	}
	return sums, rows.Err()
}

// ListOwners returns every user id that owns products.
func (r *Repository) ListOwners(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT owner_id FROM products ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var owners []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}
