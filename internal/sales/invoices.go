package sales

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ledgerdesk/ledgerdesk/internal/invoicing"
	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

// CreateInvoiceFromSale issues an invoice for a sale and links it. When the
// sale already has a live invoice that invoice is returned with created
// false. A void invoice is only replaced when regenerate is set.
func (s *Service) CreateInvoiceFromSale(ctx context.Context, actor int64, saleID uuid.UUID, regenerate bool) (invoicing.Invoice, bool, error) {
	var (
		inv     invoicing.Invoice
		created bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := s.lock(ctx, tx, actor, saleID)
		if err != nil {
			return err
		}
		if sale.Status == StatusCancelled {
			return fmt.Errorf("%w: cannot invoice a cancelled sale", shared.ErrInvalidTransition)
		}
		if sale.InvoiceID != nil {
			existing, err := tx.Invoices().GetInvoiceForUpdate(ctx, *sale.InvoiceID)
			switch {
			case errors.Is(err, shared.ErrNotFound):
			case err != nil:
				return err
			case existing.Status != invoicing.StatusVoid:
				inv = existing
				return nil
			case !regenerate:
				return fmt.Errorf("%w: linked invoice %s is void; set regenerate to issue a new one", shared.ErrConflict, existing.Number)
			}
		}

		now := s.now()
		inv = invoicing.FromSale(saleSource(sale), now)
		if err := invoicing.AssignNumber(ctx, tx.Invoices(), &inv); err != nil {
			return err
		}
		if err := tx.Invoices().InsertInvoice(ctx, inv); err != nil {
			return err
		}
		sale.InvoiceID = &inv.ID
		sale.UpdatedAt = now
		created = true
		return tx.UpdateSale(ctx, sale)
	})
	if err != nil {
		return invoicing.Invoice{}, false, err
	}
	if created {
		s.recordAudit(ctx, actor, "sale.invoice", saleID, map[string]any{"invoice": inv.Number, "regenerated": regenerate})
	}
	return inv, created, nil
}

// CreateFromInvoice opens a Pending sale mirroring an invoice and links the
// two. An invoice already linked to a sale returns that sale with created
// false.
func (s *Service) CreateFromInvoice(ctx context.Context, actor int64, invoiceID uuid.UUID) (Sale, bool, error) {
	var (
		sale    Sale
		created bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := invoicing.LockWithSale(ctx, tx.Invoices(), invoiceID)
		if err != nil {
			return err
		}
		if inv.OwnerID != actor {
			return fmt.Errorf("%w: invoice %s", shared.ErrForbidden, invoiceID)
		}
		if inv.Status == invoicing.StatusVoid {
			return fmt.Errorf("%w: invoice %s is void", shared.ErrInvalidTransition, inv.Number)
		}
		if inv.SaleID != nil {
			existing, err := tx.GetSaleForUpdate(ctx, *inv.SaleID)
			if err == nil {
				sale = existing
				return nil
			}
			if !errors.Is(err, shared.ErrNotFound) {
				return err
			}
		}

		now := s.now()
		sale = Sale{
			ID:            uuid.New(),
			OwnerID:       actor,
			CustomerID:    inv.CustomerID,
			CustomerName:  inv.CustomerName,
			Subtotal:      inv.Subtotal,
			TaxTotal:      inv.TaxTotal,
			Discount:      inv.Discount,
			RoundOff:      inv.RoundOff,
			Total:         inv.Total,
			Status:        StatusPending,
			PaymentStatus: PaymentUnpaid,
			InvoiceID:     &inv.ID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if inv.Status == invoicing.StatusPaid {
			sale.PaymentStatus = PaymentPaid
		}
		for _, it := range inv.Items {
			if it.ProductID == nil {
				return shared.NewValidationError("items", fmt.Sprintf("line %q has no product", it.Description))
			}
			product, err := tx.Ledger().GetProduct(ctx, *it.ProductID)
			if err != nil {
				return err
			}
			if product.OwnerID != actor {
				return fmt.Errorf("%w: product %s", shared.ErrForbidden, product.ID)
			}
			sale.Items = append(sale.Items, Item{
				ID:          uuid.New(),
				ProductID:   product.ID,
				ProductName: it.Description,
				Quantity:    it.Quantity,
				Price:       it.Price,
				TaxRate:     it.TaxRate,
				TaxAmount:   it.TaxAmount,
				Total:       it.Total,
			})
		}
		if len(sale.Items) == 0 {
			return shared.NewValidationError("items", "invoice has no lines")
		}
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		inv.SaleID = &sale.ID
		inv.UpdatedAt = now
		created = true
		return tx.Invoices().UpdateInvoice(ctx, inv)
	})
	if err != nil {
		return Sale{}, false, err
	}
	if created {
		s.observe("none", StatusPending)
		s.recordAudit(ctx, actor, "sale.from_invoice", sale.ID, map[string]any{"invoice": invoiceID.String()})
	}
	return sale, created, nil
}

func saleSource(sale Sale) invoicing.SaleSource {
	src := invoicing.SaleSource{
		OwnerID:      sale.OwnerID,
		SaleID:       sale.ID,
		CustomerID:   sale.CustomerID,
		CustomerName: sale.CustomerName,
		Subtotal:     sale.Subtotal,
		TaxTotal:     sale.TaxTotal,
		Discount:     sale.Discount,
		RoundOff:     sale.RoundOff,
		Total:        sale.Total,
		Paid:         sale.PaymentStatus == PaymentPaid,
	}
	for _, it := range sale.Items {
		src.Lines = append(src.Lines, invoicing.SaleLine{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       it.Price,
			TaxRate:     it.TaxRate,
			TaxAmount:   it.TaxAmount,
			Total:       it.Total,
		})
	}
	return src
}
