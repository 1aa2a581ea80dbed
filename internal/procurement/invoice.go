package procurement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/procurepro/procurepro/internal/shared"
)

// CreateInvoice records a Pending invoice against a purchase order.
func (s *Service) CreateInvoice(ctx context.Context, actor shared.Actor, purchaseOrderID uuid.UUID, amount decimal.Decimal) (Invoice, error) {
	if amount.IsNegative() {
		return Invoice{}, validationf("amount must not be negative")
	}
	if err := checkAmount("amount", amount); err != nil {
		return Invoice{}, err
	}
	var created Invoice
	err := s.commit(ctx, actor, func(ctx context.Context, tx TxRepository, events *[]Event) error {
		po, err := tx.LockPurchaseOrder(ctx, purchaseOrderID)
		if err != nil {
			return err
		}
		if scope := vendorScope(actor); scope != uuid.Nil && scope != po.VendorID {
			return fmt.Errorf("%w: purchase order belongs to another vendor", ErrForbidden)
		}
		// A cancelled order takes no further invoices.
		if po.Status == PurchaseOrderCancelled {
			return invalidStatef("purchase order %s is %s", po.Number, po.Status)
		}
		now := s.now()
		inv := Invoice{
			ID:              uuid.New(),
			PurchaseOrderID: po.ID,
			Amount:          amount,
			PaymentStatus:   PaymentPending,
			SubmittedAt:     now,
		}
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		*events = append(*events, Event{
			Kind:      EventInvoiceCreated,
			ID:        inv.ID,
			Number:    po.Number,
			At:        now,
			VendorIDs: []uuid.UUID{po.VendorID},
			Meta:      map[string]any{"purchase_order_id": po.ID.String(), "amount": amount.String()},
		})
		created = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	return created, nil
}

// SetInvoicePaymentStatus overwrites the payment flag. Any status may follow any other.
func (s *Service) SetInvoicePaymentStatus(ctx context.Context, actor shared.Actor, id uuid.UUID, status PaymentStatus) (Invoice, error) {
	if !status.Valid() {
		return Invoice{}, validationf("unknown payment status %q", status)
	}
	var updated Invoice
	err := s.commit(ctx, actor, func(ctx context.Context, tx TxRepository, events *[]Event) error {
		inv, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		previous := inv.PaymentStatus
		inv.PaymentStatus = status
		if err := tx.UpdateInvoicePaymentStatus(ctx, inv); err != nil {
			return err
		}
		*events = append(*events, Event{
			Kind: EventInvoicePaymentStatus,
			ID:   inv.ID,
			At:   s.now(),
			Meta: map[string]any{"from": string(previous), "to": string(status)},
		})
		updated = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	return updated, nil
}

// GetInvoice returns an invoice.
func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoicesForPurchaseOrder lists invoices of a purchase order, oldest first.
func (s *Service) ListInvoicesForPurchaseOrder(ctx context.Context, purchaseOrderID uuid.UUID) ([]Invoice, error) {
	if _, err := s.repo.GetPurchaseOrder(ctx, purchaseOrderID); err != nil {
		return nil, err
	}
	return s.repo.ListInvoices(ctx, purchaseOrderID)
}
