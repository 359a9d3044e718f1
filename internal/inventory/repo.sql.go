package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ledgerdesk/ledgerdesk/internal/platform/db"
)

const productColumns = `id, owner_id, name, sku, category, quantity, cost, selling_price, purchase_price,
	tax_rate, reorder_level, supplier_id, last_modified, last_modified_from, created_at`

type txRepository struct {
	q db.DBTX
}

// NewTxRepository binds ledger operations to an open transaction so other
// modules can include inventory deltas in their own transaction.
func NewTxRepository(q db.DBTX) TxRepository {
	return &txRepository{q: q}
}

func (r *txRepository) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	return getProduct(ctx, r.q, id, false)
}

func (r *txRepository) GetProductForUpdate(ctx context.Context, id uuid.UUID) (Product, error) {
	return getProduct(ctx, r.q, id, true)
}

func (r *txRepository) ApplyDelta(ctx context.Context, id uuid.UUID, delta int, reason Reason, at time.Time) (Product, bool, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE products
		SET quantity = quantity + $2, last_modified = $3, last_modified_from = $4
		WHERE id = $1 AND quantity + $2 >= 0
		RETURNING `+productColumns, id, delta, at, string(reason))
	p, err := scanProduct(row)
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Product{}, false, err
	}
	current, err := getProduct(ctx, r.q, id, false)
	if err != nil {
		return Product{}, false, err
	}
	return current, false, nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO inventory_movements (product_id, owner_id, delta, reason, reference, balance, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ProductID, m.OwnerID, m.Delta, string(m.Reason), m.Reference, m.Balance, m.ActorID, m.CreatedAt)
	return err
}

func (r *txRepository) UpdatePricing(ctx context.Context, id uuid.UUID, cost, purchasePrice, sellingPrice float64, at time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE products SET cost = $2, purchase_price = $3, selling_price = $4, last_modified = $5
		WHERE id = $1`, id, cost, purchasePrice, sellingPrice, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *txRepository) InsertProduct(ctx context.Context, p Product) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO products (id, owner_id, name, sku, category, quantity, cost, selling_price, purchase_price,
			tax_rate, reorder_level, supplier_id, last_modified, last_modified_from, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		p.ID, p.OwnerID, p.Name, p.SKU, p.Category, p.Quantity, p.Cost, p.SellingPrice, p.PurchasePrice,
		p.TaxRate, p.ReorderLevel, p.SupplierID, p.LastModified, string(p.LastModifiedFrom), p.CreatedAt)
	return mapUniqueViolation(err)
}

// UpdateProductDetails writes every column except quantity and its audit tag.
func (r *txRepository) UpdateProductDetails(ctx context.Context, p Product) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE products SET name = $2, sku = $3, category = $4, cost = $5, selling_price = $6,
			purchase_price = $7, tax_rate = $8, reorder_level = $9, supplier_id = $10
		WHERE id = $1`,
		p.ID, p.Name, p.SKU, p.Category, p.Cost, p.SellingPrice, p.PurchasePrice, p.TaxRate, p.ReorderLevel, p.SupplierID)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func getProduct(ctx context.Context, q db.DBTX, id uuid.UUID, forUpdate bool) (Product, error) {
	query := "SELECT " + productColumns + " FROM products WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	p, err := scanProduct(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	var reason string
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.SKU, &p.Category, &p.Quantity, &p.Cost, &p.SellingPrice,
		&p.PurchasePrice, &p.TaxRate, &p.ReorderLevel, &p.SupplierID, &p.LastModified, &reason, &p.CreatedAt)
	p.LastModifiedFrom = Reason(reason)
	return p, err
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateSKU
	}
	return err
}
