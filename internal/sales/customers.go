package sales

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

// CreateCustomer creates a new customer.
func (s *Service) CreateCustomer(ctx context.Context, actor int64, input CustomerInput) (Customer, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Customer{}, shared.NewValidationError("name", "is required")
	}
	customer := Customer{
		ID:        uuid.New(),
		OwnerID:   actor,
		Name:      name,
		Email:     strings.TrimSpace(input.Email),
		Phone:     strings.TrimSpace(input.Phone),
		Address:   strings.TrimSpace(input.Address),
		CreatedAt: s.now(),
	}
	if err := s.repo.InsertCustomer(ctx, customer); err != nil {
		return Customer{}, fmt.Errorf("create customer: %w", err)
	}
	return customer, nil
}

// GetCustomer retrieves a customer owned by actor.
func (s *Service) GetCustomer(ctx context.Context, actor int64, id uuid.UUID) (Customer, error) {
	c, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return Customer{}, err
	}
	if c.OwnerID != actor {
		return Customer{}, fmt.Errorf("%w: customer %s", shared.ErrForbidden, id)
	}
	return c, nil
}

// ListCustomers returns a paginated list of customers.
func (s *Service) ListCustomers(ctx context.Context, actor int64, filter CustomerFilter) ([]Customer, int, error) {
	return s.repo.ListCustomers(ctx, actor, filter)
}

// CustomerName resolves the display name of a customer owned by actor.
func (s *Service) CustomerName(ctx context.Context, actor int64, id uuid.UUID) (string, error) {
	c, err := s.GetCustomer(ctx, actor, id)
	if err != nil {
		return "", err
	}
	return c.Name, nil
}
