package procurement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/procurepro/procurepro/internal/shared"
)

// publish fans committed events out to metrics, audit, approval history and
// notifications. It never fails; delivery problems are logged.
func (s *Service) publish(ctx context.Context, actor shared.Actor, events []Event) {
	if len(events) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, evt := range events {
		if s.metrics != nil {
			s.metrics.RecordTransition(evt.Kind.Entity(), evt.Kind.Action())
		}
		s.recordAudit(ctx, actor, evt)
		s.recordApproval(ctx, actor, evt)
		if err := s.notify(ctx, evt); err != nil {
			s.logger.Warn("procurement notify",
				slog.String("event", string(evt.Kind)),
				slog.String("id", evt.ID.String()),
				slog.Int("failures", len(multierr.Errors(err))),
				slog.Any("error", err))
		}
	}
}

func (s *Service) notify(ctx context.Context, evt Event) error {
	if s.notifier == nil {
		return nil
	}
	switch evt.Kind {
	case EventRequisitionSubmitted, EventRequisitionStepApproved:
		subject := fmt.Sprintf("Approval required: %s", evt.Number)
		body := fmt.Sprintf("Purchase requisition %s %q is awaiting your approval.", evt.Number, evt.Title)
		return s.notifyUser(ctx, evt.ApproverID, subject, body, true)
	case EventRequisitionApproved:
		return s.notifyUser(ctx, evt.RequesterID, fmt.Sprintf("Requisition %s approved", evt.Number),
			fmt.Sprintf("Purchase requisition %s %q completed its approval chain.", evt.Number, evt.Title), false)
	case EventRequisitionRejected:
		body := fmt.Sprintf("Purchase requisition %s %q was rejected.", evt.Number, evt.Title)
		if evt.Comments != "" {
			body += " Comments: " + evt.Comments
		}
		return s.notifyUser(ctx, evt.RequesterID, fmt.Sprintf("Requisition %s rejected", evt.Number), body, false)
	case EventRFQPublished, EventRFQInvitationsResent:
		subject := fmt.Sprintf("Request for quotation %s", evt.Number)
		if evt.Kind == EventRFQInvitationsResent {
			subject = "Reminder: " + subject
		}
		body := fmt.Sprintf("You are invited to quote on %q.", evt.Title)
		if evt.DueDate != nil {
			body += fmt.Sprintf(" Quotations are due by %s.", evt.DueDate.Format("2006-01-02"))
		}
		return s.notifyVendors(ctx, evt.VendorIDs, subject, body, false)
	case EventQuotationSubmitted:
		return s.notifyRole(ctx, shared.RoleProcurementManager, fmt.Sprintf("Quotation received for %s", evt.Number),
			fmt.Sprintf("A vendor submitted a quotation for %s %q.", evt.Number, evt.Title))
	case EventPurchaseOrderIssued:
		return s.notifyVendors(ctx, evt.VendorIDs, fmt.Sprintf("Purchase order %s issued", evt.Number),
			fmt.Sprintf("Purchase order %s has been issued to you. Please acknowledge it in the vendor portal.", evt.Number), true)
	case EventPurchaseOrderAcknowledged:
		return s.notifyRole(ctx, shared.RoleProcurementManager, fmt.Sprintf("Purchase order %s acknowledged", evt.Number),
			fmt.Sprintf("The vendor acknowledged purchase order %s.", evt.Number))
	case EventPurchaseOrderCompleted:
		return s.notifyVendors(ctx, evt.VendorIDs, fmt.Sprintf("Purchase order %s completed", evt.Number),
			fmt.Sprintf("Purchase order %s has been marked completed.", evt.Number), false)
	case EventPurchaseOrderCancelled:
		return s.notifyVendors(ctx, evt.VendorIDs, fmt.Sprintf("Purchase order %s cancelled", evt.Number),
			fmt.Sprintf("Purchase order %s has been cancelled.", evt.Number), false)
	case EventInvoiceCreated:
		return s.notifyRole(ctx, shared.RoleProcurementManager, "Invoice received",
			fmt.Sprintf("An invoice was submitted against purchase order %s.", evt.Number))
	}
	return nil
}

// notifyUser emails the user and, when web is set, also posts a web notification.
func (s *Service) notifyUser(ctx context.Context, userID, subject, body string, web bool) error {
	if userID == "" {
		return nil
	}
	user, err := s.identities.LookupUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", userID, err)
	}
	var errs error
	if user.Email != "" {
		errs = multierr.Append(errs, s.notifier.SendEmail(ctx, user.Email, subject, body))
	}
	if web {
		errs = multierr.Append(errs, s.notifier.SendWebNotification(ctx, user.ID, subject, body))
	}
	return errs
}

func (s *Service) notifyRole(ctx context.Context, role, title, message string) error {
	members, err := s.identities.UsersWithRole(ctx, role)
	if err != nil {
		return fmt.Errorf("list %s users: %w", role, err)
	}
	var errs error
	for _, u := range members {
		errs = multierr.Append(errs, s.notifier.SendWebNotification(ctx, u.ID, title, message))
	}
	return errs
}

// notifyVendors emails each vendor's contact address and optionally posts web
// notifications to the vendor's portal users.
func (s *Service) notifyVendors(ctx context.Context, vendorIDs []uuid.UUID, subject, body string, web bool) error {
	var errs error
	for _, id := range vendorIDs {
		vendor, err := s.vendors.GetVendor(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("lookup vendor %s: %w", id, err))
			continue
		}
		errs = multierr.Append(errs, s.notifier.SendEmail(ctx, vendor.Email, subject, body))
		if !web {
			continue
		}
		portalUsers, err := s.identities.UsersForVendor(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("list vendor users %s: %w", id, err))
			continue
		}
		for _, u := range portalUsers {
			errs = multierr.Append(errs, s.notifier.SendWebNotification(ctx, u.ID, subject, body))
		}
	}
	return errs
}
