package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/procurepro/procurepro/internal/shared"
	"github.com/procurepro/procurepro/internal/vendors"
)

// RFQInput carries the editable content of an RFQ.
type RFQInput struct {
	Title       string
	Terms       string
	DueDate     time.Time
	Items       []RFQItemInput
	Attachments []AttachmentInput
	Vendors     []VendorInviteInput
}

// CreateRFQInput describes a manually created RFQ.
type CreateRFQInput struct {
	RFQInput
	RequisitionID *uuid.UUID
}

// RFQItemInput describes a line to quote.
type RFQItemInput struct {
	Description   string
	Specification string
	Quantity      int
	Unit          string
}

// VendorInviteInput names an invited vendor.
type VendorInviteInput struct {
	VendorID uuid.UUID
	Notes    string
}

// ConvertRequisitionInput describes an RFQ built from an approved requisition.
type ConvertRequisitionInput struct {
	RequisitionID uuid.UUID
	Title         string
	Terms         string
	DueDate       time.Time
	Attachments   []AttachmentInput
	Vendors       []VendorInviteInput
}

// CreateRFQ stores a Draft RFQ with Pending invitations.
func (s *Service) CreateRFQ(ctx context.Context, actor shared.Actor, input CreateRFQInput) (RFQ, error) {
	if strings.TrimSpace(input.Title) == "" {
		return RFQ{}, validationf("title is required")
	}
	items, err := buildRFQItems(input.Items)
	if err != nil {
		return RFQ{}, err
	}
	now := s.now()
	rfq, err := s.buildRFQ(ctx, actor, input.RFQInput, now)
	if err != nil {
		return RFQ{}, err
	}
	rfq.Items = items
	rfq.RequisitionID = input.RequisitionID

	err = s.commit(ctx, actor, func(ctx context.Context, tx TxRepository, events *[]Event) error {
		if rfq.RequisitionID != nil {
			pr, err := tx.LockRequisition(ctx, *rfq.RequisitionID)
			if err != nil {
				return err
			}
			if pr.Status != RequisitionApproved {
				return invalidStatef("requisition %s is %s", pr.Number, pr.Status)
			}
		}
		return s.insertRFQ(ctx, tx, &rfq, events)
	})
	if err != nil {
		return RFQ{}, err
	}
	return rfq, nil
}

// ConvertRequisitionToRFQ creates a Draft RFQ whose items are copied from an
// Approved requisition.
func (s *Service) ConvertRequisitionToRFQ(ctx context.Context, actor shared.Actor, input ConvertRequisitionInput) (RFQ, error) {
	now := s.now()
	base := RFQInput{
		Title:       input.Title,
		Terms:       input.Terms,
		DueDate:     input.DueDate,
		Attachments: input.Attachments,
		Vendors:     input.Vendors,
	}
	rfq, err := s.buildRFQ(ctx, actor, base, now)
	if err != nil {
		return RFQ{}, err
	}
	requisitionID := input.RequisitionID
	rfq.RequisitionID = &requisitionID

	err = s.commit(ctx, actor, func(ctx context.Context, tx TxRepository, events *[]Event) error {
		pr, err := tx.LockRequisition(ctx, input.RequisitionID)
		if err != nil {
			return err
		}
		if pr.Status != RequisitionApproved {
			return invalidStatef("requisition %s is %s", pr.Number, pr.Status)
		}
		if strings.TrimSpace(input.Title) == "" {
			rfq.Title = pr.Title
		}
		rfq.Items = make([]RFQItem, 0, len(pr.Items))
		for _, item := range pr.Items {
			rfq.Items = append(rfq.Items, RFQItem{
				ID:            uuid.New(),
				Description:   item.Name,
				Specification: item.Specification,
				Quantity:      item.Quantity,
				Unit:          item.UnitOfMeasure,
			})
		}
		if len(rfq.Items) == 0 {
			return validationf("requisition %s has no items", pr.Number)
		}
		return s.insertRFQ(ctx, tx, &rfq, events)
	})
	if err != nil {
		return RFQ{}, err
	}
	return rfq, nil
}

// UpdateRFQ replaces the content of a Draft RFQ. Items referenced by an
// existing quotation cannot be removed and surface as ErrConflict.
func (s *Service) UpdateRFQ(ctx context.Context, actor shared.Actor, id uuid.UUID, input RFQInput) (RFQ, error) {
	if strings.TrimSpace(input.Title) == "" {
		return RFQ{}, validationf("title is required")
	}
	items, err := buildRFQItems(input.Items)
	if err != nil {
		return RFQ{}, err
	}
	now := s.now()
	draft, err := s.buildRFQ(ctx, actor, input, now)
	if err != nil {
		return RFQ{}, err
	}
	var updated RFQ
	err = s.commit(ctx, actor, func(ctx context.Context, tx TxRepository, events *[]Event) error {
		rfq, err := tx.LockRFQ(ctx, id)
		if err != nil {
			return err
		}
		if rfq.Status != RFQDraft {
			return invalidStatef("rfq %s is %s", rfq.Number, rfq.Status)
		}
		rfq.Title = draft.Title
		rfq.Terms = draft.Terms
		rfq.DueDate = draft.DueDate
		rfq.Items = items
		rfq.Attachments = draft.Attachments
		rfq.Invitations = draft.Invitations
		for i := range rfq.Invitations {
			rfq.Invitations[i].RFQID = rfq.ID
		}
		if err := tx.UpdateRFQHeader(ctx, rfq); err != nil {
			return err
		}
		if err := tx.ReplaceRFQContent(ctx, rfq); err != nil {
			return err
		}
		*events = append(*events, rfqEvent(EventRFQUpdated, rfq, now, nil))
		updated = rfq
		return nil
	})
	if err != nil {
		return RFQ{}, err
	}
	return updated, nil
}

// PublishRFQ publishes a Draft RFQ and marks the targeted invitations as sent.
// An empty vendorIDs targets every invited vendor.
func (s *Service) PublishRFQ(ctx context.Context, actor shared.Actor, id uuid.UUID, vendorIDs []uuid.UUID) (RFQ, error) {
	var updated RFQ
	err := s.commit(ctx, actor, func(ctx context.Context, tx TxRepository, events *[]Event) error {
		rfq, err := tx.LockRFQ(ctx, id)
		if err != nil {
			return err
		}
		if rfq.Status != RFQDraft {
			return invalidStatef("rfq %s is %s", rfq.Number, rfq.Status)
		}
		targets, err := targetInvitations(&rfq, vendorIDs)
		if err != nil {
			return err
		}
		now := s.now()
		rfq.Status = RFQPublished
		rfq.PublishedAt = &now
		if err := tx.UpdateRFQHeader(ctx, rfq); err != nil {
			return err
		}
		sent := make([]uuid.UUID, 0, len(targets))
		for _, inv := range targets {
			inv.Status = InvitationSent
			inv.InvitationSentAt = &now
			if err := tx.UpdateInvitation(ctx, *inv); err != nil {
				return err
			}
			sent = append(sent, inv.VendorID)
		}
		*events = append(*events, rfqEvent(EventRFQPublished, rfq, now, sent))
		updated = rfq
		return nil
	})
	if err != nil {
		return RFQ{}, err
	}
	return updated, nil
}

// ResendInvitations re-stamps the targeted invitations of a Published RFQ.
// Statuses never move backwards and no invitation is created.
func (s *Service) ResendInvitations(ctx context.Context, actor shared.Actor, id uuid.UUID, vendorIDs []uuid.UUID) (RFQ, error) {
	var updated RFQ
	err := s.commit(ctx, actor, func(ctx context.Context, tx TxRepository, events *[]Event) error {
		rfq, err := tx.LockRFQ(ctx, id)
		if err != nil {
			return err
		}
		if rfq.Status != RFQPublished {
			return invalidStatef("rfq %s is %s", rfq.Number, rfq.Status)
		}
		targets, err := targetInvitations(&rfq, vendorIDs)
		if err != nil {
			return err
		}
		now := s.now()
		resent := make([]uuid.UUID, 0, len(targets))
		for _, inv := range targets {
			if inv.Status.rank() <= InvitationSent.rank() {
				inv.Status = InvitationSent
			}
			inv.InvitationSentAt = &now
			inv.LastReminderSentAt = &now
			if err := tx.UpdateInvitation(ctx, *inv); err != nil {
				return err
			}
			resent = append(resent, inv.VendorID)
		}
		*events = append(*events, rfqEvent(EventRFQInvitationsResent, rfq, now, resent))
		updated = rfq
		return nil
	})
	if err != nil {
		return RFQ{}, err
	}
	return updated, nil
}

// CloseRFQ stops accepting quotations.
func (s *Service) CloseRFQ(ctx context.Context, actor shared.Actor, id uuid.UUID) (RFQ, error) {
	var updated RFQ
	err := s.commit(ctx, actor, func(ctx context.Context, tx TxRepository, events *[]Event) error {
		rfq, err := tx.LockRFQ(ctx, id)
		if err != nil {
			return err
		}
		if rfq.Status != RFQPublished {
			return invalidStatef("rfq %s is %s", rfq.Number, rfq.Status)
		}
		now := s.now()
		rfq.Status = RFQClosed
		rfq.ClosedAt = &now
		if err := tx.UpdateRFQHeader(ctx, rfq); err != nil {
			return err
		}
		*events = append(*events, rfqEvent(EventRFQClosed, rfq, now, nil))
		updated = rfq
		return nil
	})
	if err != nil {
		return RFQ{}, err
	}
	return updated, nil
}

// VendorAcknowledge records a vendor accepting or declining an invitation.
// It is not gated by RFQ status, but an invitation that already carries a
// quotation cannot be acknowledged again.
func (s *Service) VendorAcknowledge(ctx context.Context, actor shared.Actor, rfqID, vendorID uuid.UUID, accepted bool, notes string) (VendorInvitation, error) {
	if scope := vendorScope(actor); scope != uuid.Nil && scope != vendorID {
		return VendorInvitation{}, fmt.Errorf("%w: vendor mismatch", ErrForbidden)
	}
	var updated VendorInvitation
	err := s.commit(ctx, actor, func(ctx context.Context, tx TxRepository, events *[]Event) error {
		rfq, err := tx.LockRFQ(ctx, rfqID)
		if err != nil {
			return err
		}
		inv, ok := rfq.Invitation(vendorID)
		if !ok {
			return notFound("invitation for vendor", vendorID)
		}
		next := InvitationAcknowledged
		if !accepted {
			next = InvitationDeclined
		}
		if next.rank() < inv.Status.rank() {
			return invalidStatef("invitation is %s", inv.Status)
		}
		now := s.now()
		inv.Status = next
		inv.AcknowledgedAt = &now
		inv.Notes = notes
		if err := tx.UpdateInvitation(ctx, *inv); err != nil {
			return err
		}
		evt := rfqEvent(EventRFQVendorAcknowledged, rfq, now, []uuid.UUID{vendorID})
		evt.Meta["accepted"] = accepted
		*events = append(*events, evt)
		updated = *inv
		return nil
	})
	if err != nil {
		return VendorInvitation{}, err
	}
	return updated, nil
}

// GetRFQ returns an RFQ. Vendor actors only see RFQs they are invited to.
func (s *Service) GetRFQ(ctx context.Context, actor shared.Actor, id uuid.UUID) (RFQ, error) {
	rfq, err := s.repo.GetRFQ(ctx, id)
	if err != nil {
		return RFQ{}, err
	}
	if scope := vendorScope(actor); scope != uuid.Nil {
		if _, ok := rfq.Invitation(scope); !ok {
			return RFQ{}, notFound("rfq", id)
		}
	}
	return rfq, nil
}

// GetVendorRFQ returns the vendor portal view of an RFQ, hiding other
// vendors' invitations.
func (s *Service) GetVendorRFQ(ctx context.Context, actor shared.Actor, id uuid.UUID) (VendorRFQ, error) {
	if !actor.IsVendor() {
		return VendorRFQ{}, fmt.Errorf("%w: vendor account required", ErrForbidden)
	}
	rfq, err := s.repo.GetRFQ(ctx, id)
	if err != nil {
		return VendorRFQ{}, err
	}
	inv, ok := rfq.Invitation(actor.VendorID)
	if !ok {
		return VendorRFQ{}, notFound("rfq", id)
	}
	view := VendorRFQ{RFQ: rfq, Invitation: *inv, QuoteSubmitted: inv.Status == InvitationQuoteSubmitted}
	view.Invitations = nil
	return view, nil
}

// ListRFQs lists RFQs for staff.
func (s *Service) ListRFQs(ctx context.Context, filter ListFilter) ([]RFQ, int, error) {
	return s.repo.ListRFQs(ctx, filter)
}

// ListVendorRFQs lists the RFQs the vendor actor is invited to.
func (s *Service) ListVendorRFQs(ctx context.Context, actor shared.Actor) ([]VendorRFQ, error) {
	if !actor.IsVendor() {
		return nil, fmt.Errorf("%w: vendor account required", ErrForbidden)
	}
	return s.repo.ListVendorRFQs(ctx, actor.VendorID)
}

// buildRFQ validates the shared RFQ content and resolves invited vendors.
// Items and the title are checked by the callers.
func (s *Service) buildRFQ(ctx context.Context, actor shared.Actor, input RFQInput, now time.Time) (RFQ, error) {
	if input.DueDate.IsZero() {
		return RFQ{}, validationf("due date is required")
	}
	if len(input.Vendors) == 0 {
		return RFQ{}, validationf("at least one vendor is required")
	}
	rfq := RFQ{
		ID:        uuid.New(),
		Title:     strings.TrimSpace(input.Title),
		Terms:     input.Terms,
		DueDate:   input.DueDate.UTC(),
		Status:    RFQDraft,
		CreatedAt: now,
	}
	seen := make(map[uuid.UUID]struct{}, len(input.Vendors))
	ids := make([]uuid.UUID, 0, len(input.Vendors))
	for _, v := range input.Vendors {
		if v.VendorID == uuid.Nil {
			return RFQ{}, validationf("vendor id is required")
		}
		if _, dup := seen[v.VendorID]; dup {
			continue
		}
		seen[v.VendorID] = struct{}{}
		ids = append(ids, v.VendorID)
		rfq.Invitations = append(rfq.Invitations, VendorInvitation{
			ID:       uuid.New(),
			RFQID:    rfq.ID,
			VendorID: v.VendorID,
			Status:   InvitationPending,
			Notes:    v.Notes,
		})
	}
	if _, err := s.vendors.ResolveVendors(ctx, ids); err != nil {
		var unknown *vendors.UnknownVendorsError
		if errors.As(err, &unknown) {
			return RFQ{}, fmt.Errorf("%w: unknown vendors %v", ErrNotFound, unknown.IDs)
		}
		return RFQ{}, err
	}
	attachments, err := buildAttachments(input.Attachments, actor.UserID, now)
	if err != nil {
		return RFQ{}, err
	}
	rfq.Attachments = attachments
	return rfq, nil
}

func (s *Service) insertRFQ(ctx context.Context, tx TxRepository, rfq *RFQ, events *[]Event) error {
	number, err := s.refs.Generate(ctx, tx, PrefixRFQ)
	if err != nil {
		return err
	}
	rfq.Number = number
	if err := tx.InsertRFQ(ctx, *rfq); err != nil {
		return err
	}
	*events = append(*events, rfqEvent(EventRFQCreated, *rfq, rfq.CreatedAt, nil))
	return nil
}

func buildRFQItems(inputs []RFQItemInput) ([]RFQItem, error) {
	if len(inputs) == 0 {
		return nil, validationf("at least one item is required")
	}
	items := make([]RFQItem, 0, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(in.Description) == "" {
			return nil, validationf("item %d: description is required", i+1)
		}
		if in.Quantity <= 0 {
			return nil, validationf("item %d: quantity must be positive", i+1)
		}
		items = append(items, RFQItem{
			ID:            uuid.New(),
			Description:   strings.TrimSpace(in.Description),
			Specification: in.Specification,
			Quantity:      in.Quantity,
			Unit:          in.Unit,
		})
	}
	return items, nil
}

// targetInvitations selects the invitations named by vendorIDs, or all of
// them when vendorIDs is empty.
func targetInvitations(rfq *RFQ, vendorIDs []uuid.UUID) ([]*VendorInvitation, error) {
	if len(vendorIDs) == 0 {
		out := make([]*VendorInvitation, 0, len(rfq.Invitations))
		for i := range rfq.Invitations {
			out = append(out, &rfq.Invitations[i])
		}
		return out, nil
	}
	seen := make(map[uuid.UUID]struct{}, len(vendorIDs))
	out := make([]*VendorInvitation, 0, len(vendorIDs))
	for _, id := range vendorIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		inv, ok := rfq.Invitation(id)
		if !ok {
			return nil, validationf("vendor %s is not invited to rfq %s", id, rfq.Number)
		}
		out = append(out, inv)
	}
	return out, nil
}

func rfqEvent(kind EventKind, rfq RFQ, at time.Time, vendorIDs []uuid.UUID) Event {
	due := rfq.DueDate
	return Event{
		Kind:      kind,
		ID:        rfq.ID,
		Number:    rfq.Number,
		Title:     rfq.Title,
		At:        at,
		VendorIDs: vendorIDs,
		DueDate:   &due,
		Meta:      map[string]any{"status": string(rfq.Status)},
	}
}
