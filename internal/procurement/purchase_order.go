package procurement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/procurepro/procurepro/internal/shared"
)

// IssuePurchaseOrder creates the single purchase order allowed for a quotation.
func (s *Service) IssuePurchaseOrder(ctx context.Context, actor shared.Actor, quotationID uuid.UUID, amendments string) (PurchaseOrder, error) {
	var issued PurchaseOrder
	err := s.commit(ctx, actor, func(ctx context.Context, tx TxRepository, events *[]Event) error {
		q, err := tx.GetQuotation(ctx, quotationID)
		if err != nil {
			return err
		}
		exists, err := tx.PurchaseOrderExists(ctx, q.ID)
		if err != nil {
			return err
		}
		if exists {
			return ErrPurchaseOrderExists
		}
		number, err := s.refs.Generate(ctx, tx, PrefixPurchaseOrder)
		if err != nil {
			return err
		}
		now := s.now()
		po := PurchaseOrder{
			ID:                uuid.New(),
			Number:            number,
			VendorQuotationID: q.ID,
			VendorID:          q.VendorID,
			Status:            PurchaseOrderIssued,
			Amendments:        strings.TrimSpace(amendments),
			CreatedAt:         now,
		}
		// The unique index on vendor_quotation_id turns a racing second insert
		// into ErrConflict.
		if err := tx.InsertPurchaseOrder(ctx, po); err != nil {
			return err
		}
		evt := purchaseOrderEvent(EventPurchaseOrderIssued, po, now)
		evt.Meta["quotation_id"] = q.ID.String()
		evt.Meta["total"] = q.TotalAmount.String()
		evt.Meta["currency"] = q.Currency
		*events = append(*events, evt)
		issued = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return issued, nil
}

// AcknowledgePurchaseOrder records the vendor's acceptance of an Issued order.
func (s *Service) AcknowledgePurchaseOrder(ctx context.Context, actor shared.Actor, id uuid.UUID) (PurchaseOrder, error) {
	return s.transitionPurchaseOrder(ctx, actor, id, EventPurchaseOrderAcknowledged, func(po *PurchaseOrder, now time.Time) error {
		if scope := vendorScope(actor); scope != uuid.Nil && scope != po.VendorID {
			return fmt.Errorf("%w: purchase order belongs to another vendor", ErrForbidden)
		}
		if po.Status != PurchaseOrderIssued {
			return invalidStatef("purchase order %s is %s", po.Number, po.Status)
		}
		po.Status = PurchaseOrderAcknowledged
		po.AcknowledgedAt = &now
		return nil
	})
}

// CompletePurchaseOrder closes an Acknowledged order.
func (s *Service) CompletePurchaseOrder(ctx context.Context, actor shared.Actor, id uuid.UUID) (PurchaseOrder, error) {
	return s.transitionPurchaseOrder(ctx, actor, id, EventPurchaseOrderCompleted, func(po *PurchaseOrder, now time.Time) error {
		// Completion requires vendor acknowledgement first.
		if po.Status != PurchaseOrderAcknowledged {
			return invalidStatef("purchase order %s is %s", po.Number, po.Status)
		}
		po.Status = PurchaseOrderCompleted
		po.CompletedAt = &now
		return nil
	})
}

// CancelPurchaseOrder cancels an order that is not yet completed.
func (s *Service) CancelPurchaseOrder(ctx context.Context, actor shared.Actor, id uuid.UUID) (PurchaseOrder, error) {
	return s.transitionPurchaseOrder(ctx, actor, id, EventPurchaseOrderCancelled, func(po *PurchaseOrder, now time.Time) error {
		if po.Status != PurchaseOrderIssued && po.Status != PurchaseOrderAcknowledged {
			return invalidStatef("purchase order %s is %s", po.Number, po.Status)
		}
		po.Status = PurchaseOrderCancelled
		po.CancelledAt = &now
		return nil
	})
}

func (s *Service) transitionPurchaseOrder(ctx context.Context, actor shared.Actor, id uuid.UUID, kind EventKind, apply func(*PurchaseOrder, time.Time) error) (PurchaseOrder, error) {
	var updated PurchaseOrder
	err := s.commit(ctx, actor, func(ctx context.Context, tx TxRepository, events *[]Event) error {
		po, err := tx.LockPurchaseOrder(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if err := apply(&po, now); err != nil {
			return err
		}
		if err := tx.UpdatePurchaseOrderStatus(ctx, po); err != nil {
			return err
		}
		*events = append(*events, purchaseOrderEvent(kind, po, now))
		updated = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return updated, nil
}

// GetPurchaseOrder returns an order with its quotation lines and totals.
// Vendors only see their own orders.
func (s *Service) GetPurchaseOrder(ctx context.Context, actor shared.Actor, id uuid.UUID) (PurchaseOrderDetail, error) {
	po, err := s.repo.GetPurchaseOrder(ctx, id)
	if err != nil {
		return PurchaseOrderDetail{}, err
	}
	if scope := vendorScope(actor); scope != uuid.Nil && scope != po.VendorID {
		return PurchaseOrderDetail{}, notFound("purchase order", id)
	}
	return po, nil
}

// ListPurchaseOrders lists orders, restricted to the caller's vendor for
// vendor actors.
func (s *Service) ListPurchaseOrders(ctx context.Context, actor shared.Actor, filter ListFilter) ([]PurchaseOrder, int, error) {
	if scope := vendorScope(actor); scope != uuid.Nil {
		filter.VendorID = scope
	}
	return s.repo.ListPurchaseOrders(ctx, filter)
}

// ListReadyToIssue lists quotations that have no purchase order yet, newest first.
func (s *Service) ListReadyToIssue(ctx context.Context) ([]QuotationSummary, error) {
	return s.repo.ListReadyToIssue(ctx)
}

func purchaseOrderEvent(kind EventKind, po PurchaseOrder, at time.Time) Event {
	return Event{
		Kind:      kind,
		ID:        po.ID,
		Number:    po.Number,
		At:        at,
		VendorIDs: []uuid.UUID{po.VendorID},
		Meta:      map[string]any{"status": string(po.Status)},
	}
}
