package procurement

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventKind names a committed workflow transition as "<entity>.<action>".
type EventKind string

const (
	EventRequisitionCreated      EventKind = "requisition.created"
	EventRequisitionSubmitted    EventKind = "requisition.submitted"
	EventRequisitionStepApproved EventKind = "requisition.step_approved"
	EventRequisitionApproved     EventKind = "requisition.approved"
	EventRequisitionRejected     EventKind = "requisition.rejected"

	EventRFQCreated            EventKind = "rfq.created"
	EventRFQUpdated            EventKind = "rfq.updated"
	EventRFQPublished          EventKind = "rfq.published"
	EventRFQInvitationsResent  EventKind = "rfq.invitations_resent"
	EventRFQClosed             EventKind = "rfq.closed"
	EventRFQVendorAcknowledged EventKind = "rfq.vendor_acknowledged"

	EventQuotationSubmitted EventKind = "quotation.submitted"

	EventPurchaseOrderIssued       EventKind = "purchase_order.issued"
	EventPurchaseOrderAcknowledged EventKind = "purchase_order.acknowledged"
	EventPurchaseOrderCompleted    EventKind = "purchase_order.completed"
	EventPurchaseOrderCancelled    EventKind = "purchase_order.cancelled"

	EventInvoiceCreated       EventKind = "invoice.created"
	EventInvoicePaymentStatus EventKind = "invoice.payment_status"
)

// Entity returns the entity part of the kind.
func (k EventKind) Entity() string {
	entity, _, _ := strings.Cut(string(k), ".")
	return entity
}

// Action returns the action part of the kind.
func (k EventKind) Action() string {
	_, action, _ := strings.Cut(string(k), ".")
	return action
}

// Event describes a committed transition and who should hear about it.
type Event struct {
	Kind   EventKind
	ID     uuid.UUID
	Number string
	Title  string
	At     time.Time

	// RequesterID is the requisition owner.
	RequesterID string
	// ApproverID is the approver who now holds the Pending step.
	ApproverID string
	Comments   string
	VendorIDs  []uuid.UUID
	DueDate    *time.Time
	Meta       map[string]any
}
