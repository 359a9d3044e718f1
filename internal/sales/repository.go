package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerdesk/ledgerdesk/internal/inventory"
	"github.com/ledgerdesk/ledgerdesk/internal/invoicing"
	"github.com/ledgerdesk/ledgerdesk/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for sales operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Ledger and Invoices share
// the same transaction so a transition commits or rolls back as one.
type TxRepository interface {
	GetSaleForUpdate(ctx context.Context, id uuid.UUID) (Sale, error)
	InsertSale(ctx context.Context, sale Sale) error
	UpdateSale(ctx context.Context, sale Sale) error
	DeleteSale(ctx context.Context, id uuid.UUID) error
	GetCustomer(ctx context.Context, id uuid.UUID) (Customer, error)

	Ledger() inventory.TxRepository
	Invoices() invoicing.TxRepository
}

// WithTx wraps callback in a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("sales repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// ============================================================================
// CUSTOMER OPERATIONS
// ============================================================================

// InsertCustomer stores a new customer.
func (r *Repository) InsertCustomer(ctx context.Context, c Customer) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO customers (id, owner_id, name, email, phone, address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.OwnerID, c.Name, c.Email, c.Phone, c.Address, c.CreatedAt)
	return err
}

// GetCustomer retrieves a customer by ID.
func (r *Repository) GetCustomer(ctx context.Context, id uuid.UUID) (Customer, error) {
	return getCustomer(ctx, r.pool, id)
}

// ListCustomers returns the owner's customers ordered by name.
func (r *Repository) ListCustomers(ctx context.Context, ownerID int64, filter CustomerFilter) ([]Customer, int, error) {
	where := "owner_id = $1"
	args := []any{ownerID}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		where += " AND (LOWER(name) LIKE $2 OR LOWER(email) LIKE $2)"
	}
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM customers WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)
	rows, err := r.pool.Query(ctx, "SELECT "+customerColumns+" FROM customers WHERE "+where+
		fmt.Sprintf(" ORDER BY name, id LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// ============================================================================
// SALE OPERATIONS
// ============================================================================

// GetSale loads a sale with its items.
func (r *Repository) GetSale(ctx context.Context, id uuid.UUID) (Sale, error) {
	return getSale(ctx, r.pool, id, false)
}

// ListSales returns the owner's sales, newest first, without items.
func (r *Repository) ListSales(ctx context.Context, ownerID int64, filter ListFilter) ([]Sale, int, error) {
	where := []string{"owner_id = $1"}
	args := []any{ownerID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sales WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)
	rows, err := r.pool.Query(ctx, "SELECT "+saleColumns+" FROM sales WHERE "+clause+
		fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}
