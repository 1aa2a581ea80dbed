package procurement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/procurepro/procurepro/internal/shared"
)

// RequisitionStatus tracks the purchase requisition lifecycle.
type RequisitionStatus string

const (
	RequisitionDraft           RequisitionStatus = "Draft"
	RequisitionPendingApproval RequisitionStatus = "PendingApproval"
	RequisitionApproved        RequisitionStatus = "Approved"
	RequisitionRejected        RequisitionStatus = "Rejected"
)

// Urgency of a requisition.
type Urgency string

const (
	UrgencyLow      Urgency = "Low"
	UrgencyMedium   Urgency = "Medium"
	UrgencyHigh     Urgency = "High"
	UrgencyCritical Urgency = "Critical"
)

// Valid reports whether u is a known urgency.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

// ApprovalStatus tracks a single approval step.
type ApprovalStatus string

const (
	ApprovalNotStarted ApprovalStatus = "NotStarted"
	ApprovalPending    ApprovalStatus = "Pending"
	ApprovalApproved   ApprovalStatus = "Approved"
	ApprovalRejected   ApprovalStatus = "Rejected"
	ApprovalSkipped    ApprovalStatus = "Skipped"
)

// RFQStatus tracks the request-for-quotation lifecycle.
type RFQStatus string

const (
	RFQDraft     RFQStatus = "Draft"
	RFQPublished RFQStatus = "Published"
	RFQClosed    RFQStatus = "Closed"
	// RFQAwarded is reserved; no operation currently reaches it.
	RFQAwarded RFQStatus = "Awarded"
)

// InvitationStatus tracks a vendor's participation in an RFQ.
type InvitationStatus string

const (
	InvitationPending        InvitationStatus = "Pending"
	InvitationSent           InvitationStatus = "InvitationSent"
	InvitationAcknowledged   InvitationStatus = "Acknowledged"
	InvitationQuoteSubmitted InvitationStatus = "QuoteSubmitted"
	InvitationDeclined       InvitationStatus = "Declined"
)

// rank orders invitation statuses; a transition must never lower it.
func (s InvitationStatus) rank() int {
	switch s {
	case InvitationPending:
		return 0
	case InvitationSent:
		return 1
	case InvitationAcknowledged, InvitationDeclined:
		return 2
	case InvitationQuoteSubmitted:
		return 3
	}
	return -1
}

// PurchaseOrderStatus tracks the purchase order lifecycle.
type PurchaseOrderStatus string

const (
	PurchaseOrderIssued       PurchaseOrderStatus = "Issued"
	PurchaseOrderAcknowledged PurchaseOrderStatus = "Acknowledged"
	PurchaseOrderCompleted    PurchaseOrderStatus = "Completed"
	PurchaseOrderCancelled    PurchaseOrderStatus = "Cancelled"
)

// PaymentStatus is the invoice payment flag.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "Pending"
	PaymentPartiallyPaid PaymentStatus = "PartiallyPaid"
	PaymentPaid          PaymentStatus = "Paid"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPartiallyPaid, PaymentPaid:
		return true
	}
	return false
}

// Attachment is a file reference owned by a requisition, RFQ or quotation.
type Attachment struct {
	ID         uuid.UUID `json:"id"`
	FileName   string    `json:"file_name"`
	StorageURL string    `json:"storage_url"`
	UploadedBy string    `json:"uploaded_by,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Requisition is a purchase requisition with its items and approval chain.
type Requisition struct {
	ID          uuid.UUID         `json:"id"`
	Number      string            `json:"number"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	CostCenter  string            `json:"cost_center"`
	Department  string            `json:"department"`
	Urgency     Urgency           `json:"urgency"`
	NeededBy    *time.Time        `json:"needed_by,omitempty"`
	Status      RequisitionStatus `json:"status"`
	RequestedBy string            `json:"requested_by"`
	CreatedAt   time.Time         `json:"created_at"`
	SubmittedAt *time.Time        `json:"submitted_at,omitempty"`
	ApprovedAt  *time.Time        `json:"approved_at,omitempty"`
	Items       []RequisitionItem `json:"items"`
	Attachments []Attachment      `json:"attachments"`
	Approvals   ApprovalChain     `json:"approvals"`
}

// RequisitionItem is a requested line.
type RequisitionItem struct {
	ID                uuid.UUID        `json:"id"`
	Name              string           `json:"name"`
	Specification     string           `json:"specification"`
	Quantity          int              `json:"quantity"`
	UnitOfMeasure     string           `json:"unit_of_measure"`
	EstimatedUnitCost *decimal.Decimal `json:"estimated_unit_cost,omitempty"`
}

// ApprovalStep is one position in a requisition's approval chain.
type ApprovalStep struct {
	ID            uuid.UUID      `json:"id"`
	RequisitionID uuid.UUID      `json:"requisition_id"`
	Sequence      int            `json:"sequence"`
	ApproverID    string         `json:"approver_id"`
	Status        ApprovalStatus `json:"status"`
	ActionedAt    *time.Time     `json:"actioned_at,omitempty"`
	Comments      string         `json:"comments,omitempty"`
}

// RFQ is a request for quotation sent to a set of vendors.
type RFQ struct {
	ID            uuid.UUID          `json:"id"`
	Number        string             `json:"number"`
	RequisitionID *uuid.UUID         `json:"requisition_id,omitempty"`
	Title         string             `json:"title"`
	Terms         string             `json:"terms"`
	DueDate       time.Time          `json:"due_date"`
	Status        RFQStatus          `json:"status"`
	CreatedAt     time.Time          `json:"created_at"`
	PublishedAt   *time.Time         `json:"published_at,omitempty"`
	ClosedAt      *time.Time         `json:"closed_at,omitempty"`
	Items         []RFQItem          `json:"items"`
	Attachments   []Attachment       `json:"attachments"`
	Invitations   []VendorInvitation `json:"invitations"`
}

// RFQItem is a line vendors quote against.
type RFQItem struct {
	ID            uuid.UUID `json:"id"`
	Description   string    `json:"description"`
	Specification string    `json:"specification"`
	Quantity      int       `json:"quantity"`
	Unit          string    `json:"unit"`
}

// VendorInvitation tracks one vendor's participation in an RFQ.
type VendorInvitation struct {
	ID                 uuid.UUID        `json:"id"`
	RFQID              uuid.UUID        `json:"rfq_id"`
	VendorID           uuid.UUID        `json:"vendor_id"`
	Status             InvitationStatus `json:"status"`
	InvitationSentAt   *time.Time       `json:"invitation_sent_at,omitempty"`
	AcknowledgedAt     *time.Time       `json:"acknowledged_at,omitempty"`
	LastReminderSentAt *time.Time       `json:"last_reminder_sent_at,omitempty"`
	QuoteSubmittedAt   *time.Time       `json:"quote_submitted_at,omitempty"`
	Notes              string           `json:"notes,omitempty"`
}

// Invitation returns the invitation for vendorID.
func (r *RFQ) Invitation(vendorID uuid.UUID) (*VendorInvitation, bool) {
	for i := range r.Invitations {
		if r.Invitations[i].VendorID == vendorID {
			return &r.Invitations[i], true
		}
	}
	return nil, false
}

// Item returns the RFQ item with id.
func (r *RFQ) Item(id uuid.UUID) (RFQItem, bool) {
	for _, item := range r.Items {
		if item.ID == id {
			return item, true
		}
	}
	return RFQItem{}, false
}

// VendorRFQ is the vendor portal view of an RFQ.
type VendorRFQ struct {
	RFQ
	Invitation     VendorInvitation `json:"invitation"`
	QuoteSubmitted bool             `json:"quote_submitted"`
}

// Quotation is a vendor's priced response to an RFQ.
type Quotation struct {
	ID                   uuid.UUID       `json:"id"`
	RFQID                uuid.UUID       `json:"rfq_id"`
	VendorID             uuid.UUID       `json:"vendor_id"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	TaxAmount            decimal.Decimal `json:"tax_amount"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	Currency             string          `json:"currency"`
	ExpectedDeliveryDate *time.Time      `json:"expected_delivery_date,omitempty"`
	DeliveryTerms        string          `json:"delivery_terms"`
	Remarks              string          `json:"remarks"`
	SubmittedByAdmin     bool            `json:"submitted_by_admin"`
	AdminNote            string          `json:"admin_note,omitempty"`
	SubmittedAt          time.Time       `json:"submitted_at"`
	Items                []QuotationItem `json:"items"`
	Attachments          []Attachment    `json:"attachments"`
}

// QuotationItem prices one RFQ item.
type QuotationItem struct {
	ID        uuid.UUID       `json:"id"`
	RFQItemID uuid.UUID       `json:"rfq_item_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
	Notes     string          `json:"notes,omitempty"`
}

// QuotationSummary is a quotation row used in listings.
type QuotationSummary struct {
	ID          uuid.UUID       `json:"id"`
	RFQID       uuid.UUID       `json:"rfq_id"`
	RFQNumber   string          `json:"rfq_number"`
	VendorID    uuid.UUID       `json:"vendor_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Score       decimal.Decimal `json:"score"`
}

// PurchaseOrder is issued from exactly one quotation. Lines and totals are
// read through the quotation.
type PurchaseOrder struct {
	ID                uuid.UUID           `json:"id"`
	Number            string              `json:"number"`
	VendorQuotationID uuid.UUID           `json:"vendor_quotation_id"`
	VendorID          uuid.UUID           `json:"vendor_id"`
	Status            PurchaseOrderStatus `json:"status"`
	Amendments        string              `json:"amendments,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	AcknowledgedAt    *time.Time          `json:"acknowledged_at,omitempty"`
	CompletedAt       *time.Time          `json:"completed_at,omitempty"`
	CancelledAt       *time.Time          `json:"cancelled_at,omitempty"`
}

// PurchaseOrderDetail joins a purchase order with its quotation.
type PurchaseOrderDetail struct {
	PurchaseOrder
	RFQID       uuid.UUID       `json:"rfq_id"`
	Currency    string          `json:"currency"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []QuotationItem `json:"items"`
}

// Invoice is a vendor invoice against a purchase order.
type Invoice struct {
	ID              uuid.UUID       `json:"id"`
	PurchaseOrderID uuid.UUID       `json:"purchase_order_id"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	SubmittedAt     time.Time       `json:"submitted_at"`
}

// ListFilter narrows list queries.
type ListFilter struct {
	Status string
	// Participant restricts requisitions to those the user requested or approves.
	Participant string
	VendorID    uuid.UUID
	Limit       int
	Offset      int
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("procurement: %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("procurement: %w", shared.ErrValidation)
	// ErrInvalidState occurs when action violates status workflow.
	ErrInvalidState = fmt.Errorf("procurement: %w", shared.ErrInvalidState)
	// ErrForbidden indicates the caller may not act on the record.
	ErrForbidden = fmt.Errorf("procurement: %w", shared.ErrForbidden)
	// ErrConflict indicates a uniqueness or concurrency conflict.
	ErrConflict = fmt.Errorf("procurement: %w", shared.ErrConflict)

	ErrNotCurrentApprover  = fmt.Errorf("%w: not the current approver", ErrForbidden)
	ErrEmptyApprovalChain  = fmt.Errorf("%w: at least one approver is required", ErrValidation)
	ErrVendorNotInvited    = fmt.Errorf("%w: vendor is not invited to this rfq", ErrValidation)
	ErrPurchaseOrderExists = fmt.Errorf("%w: purchase order already issued for quotation", ErrConflict)
)

// AmountScale is the number of decimal places stored for quotation
// quantities and money. Amounts must stay below amountLimit.
const AmountScale = 4

var amountLimit = decimal.New(1, 14)

// checkAmount rejects values that NUMERIC(18,4) columns cannot hold exactly.
func checkAmount(field string, d decimal.Decimal) error {
	if !d.Equal(d.Round(AmountScale)) {
		return validationf("%s allows at most %d decimal places", field, AmountScale)
	}
	if d.Abs().GreaterThanOrEqual(amountLimit) {
		return validationf("%s is too large", field)
	}
	return nil
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func invalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

func notFound(entity string, id any) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, entity, id)
}
