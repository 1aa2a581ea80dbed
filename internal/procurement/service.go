package procurement

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/procurepro/procurepro/internal/shared"
	"github.com/procurepro/procurepro/internal/users"
	"github.com/procurepro/procurepro/internal/vendors"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRequisition(ctx context.Context, id uuid.UUID) (Requisition, error)
	ListRequisitions(ctx context.Context, filter ListFilter) ([]Requisition, int, error)
	GetRFQ(ctx context.Context, id uuid.UUID) (RFQ, error)
	ListRFQs(ctx context.Context, filter ListFilter) ([]RFQ, int, error)
	ListVendorRFQs(ctx context.Context, vendorID uuid.UUID) ([]VendorRFQ, error)
	GetQuotation(ctx context.Context, id uuid.UUID) (Quotation, error)
	GetQuotationByVendor(ctx context.Context, rfqID, vendorID uuid.UUID) (Quotation, error)
	ListQuotations(ctx context.Context, rfqID uuid.UUID) ([]QuotationSummary, error)
	ListReadyToIssue(ctx context.Context) ([]QuotationSummary, error)
	GetPurchaseOrder(ctx context.Context, id uuid.UUID) (PurchaseOrderDetail, error)
	ListPurchaseOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (Invoice, error)
	ListInvoices(ctx context.Context, purchaseOrderID uuid.UUID) ([]Invoice, error)
}

// TxRepository exposes transactional operations. Lock* methods take a row
// lock held until the transaction ends.
type TxRepository interface {
	ReferenceChecker

	InsertRequisition(ctx context.Context, pr Requisition) error
	LockRequisition(ctx context.Context, id uuid.UUID) (Requisition, error)
	UpdateRequisitionStatus(ctx context.Context, pr Requisition) error
	ReplaceApprovalChain(ctx context.Context, requisitionID uuid.UUID, chain ApprovalChain) error
	// UpdateApprovalStep writes step only if its stored status still equals
	// from; otherwise it returns ErrConflict.
	UpdateApprovalStep(ctx context.Context, step ApprovalStep, from ApprovalStatus) error

	InsertRFQ(ctx context.Context, rfq RFQ) error
	LockRFQ(ctx context.Context, id uuid.UUID) (RFQ, error)
	UpdateRFQHeader(ctx context.Context, rfq RFQ) error
	ReplaceRFQContent(ctx context.Context, rfq RFQ) error
	UpdateInvitation(ctx context.Context, inv VendorInvitation) error

	FindQuotation(ctx context.Context, rfqID, vendorID uuid.UUID) (Quotation, error)
	GetQuotation(ctx context.Context, id uuid.UUID) (Quotation, error)
	SaveQuotation(ctx context.Context, q Quotation, isNew bool) error

	PurchaseOrderExists(ctx context.Context, quotationID uuid.UUID) (bool, error)
	InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) error
	LockPurchaseOrder(ctx context.Context, id uuid.UUID) (PurchaseOrder, error)
	UpdatePurchaseOrderStatus(ctx context.Context, po PurchaseOrder) error

	InsertInvoice(ctx context.Context, inv Invoice) error
	LockInvoice(ctx context.Context, id uuid.UUID) (Invoice, error)
	UpdateInvoicePaymentStatus(ctx context.Context, inv Invoice) error
}

// IdentityLookup resolves user identities.
type IdentityLookup interface {
	LookupUser(ctx context.Context, id string) (users.User, error)
	ResolveUsers(ctx context.Context, ids []string) ([]users.User, error)
	UsersWithRole(ctx context.Context, role string) ([]users.User, error)
	UsersForVendor(ctx context.Context, vendorID uuid.UUID) ([]users.User, error)
}

// VendorDirectory resolves vendors.
type VendorDirectory interface {
	GetVendor(ctx context.Context, id uuid.UUID) (vendors.Vendor, error)
	ResolveVendors(ctx context.Context, ids []uuid.UUID) ([]vendors.Vendor, error)
}

// Notifier delivers notifications. Calls happen after commit and failures
// never affect the workflow outcome.
type Notifier interface {
	SendEmail(ctx context.Context, to, subject, body string) error
	SendWebNotification(ctx context.Context, userID, title, message string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalHistoryPort appends approval history entries.
type ApprovalHistoryPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// MetricsPort counts committed workflow transitions.
type MetricsPort interface {
	RecordTransition(entity, action string)
}

// Service orchestrates procurement flows.
type Service struct {
	repo       RepositoryPort
	identities IdentityLookup
	vendors    VendorDirectory
	notifier   Notifier
	audit      AuditPort
	approvals  ApprovalHistoryPort
	metrics    MetricsPort
	refs       *ReferenceGenerator
	logger     *slog.Logger
	clock      func() time.Time
}

// Option customises Service.
type Option func(*Service)

// WithAudit records audit entries for every committed transition.
func WithAudit(audit AuditPort) Option {
	return func(s *Service) { s.audit = audit }
}

// WithApprovalHistory appends submit/approve/reject entries to history.
func WithApprovalHistory(h ApprovalHistoryPort) Option {
	return func(s *Service) { s.approvals = h }
}

// WithMetrics counts transitions.
func WithMetrics(m MetricsPort) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.clock = now }
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, identities IdentityLookup, vendorDir VendorDirectory, notifier Notifier, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:       repo,
		identities: identities,
		vendors:    vendorDir,
		notifier:   notifier,
		logger:     logger,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.refs = NewReferenceGenerator(s.clock)
	return s
}

// now returns UTC time truncated to the storage precision.
func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// commit runs fn in a transaction and, once committed, publishes the events
// fn collected.
func (s *Service) commit(ctx context.Context, actor shared.Actor, fn func(ctx context.Context, tx TxRepository, events *[]Event) error) error {
	var events []Event
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		events = events[:0]
		return fn(ctx, tx, &events)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, actor, events)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, evt Event) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{"number": evt.Number}
	for k, v := range evt.Meta {
		meta[k] = v
	}
	entry := shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   string(evt.Kind),
		Entity:   evt.Kind.Entity(),
		EntityID: evt.ID.String(),
		Meta:     meta,
		At:       evt.At,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("procurement audit", slog.String("action", entry.Action), slog.Any("error", err))
	}
}

func (s *Service) recordApproval(ctx context.Context, actor shared.Actor, evt Event) {
	if s.approvals == nil {
		return
	}
	var action shared.ApprovalAction
	switch evt.Kind {
	case EventRequisitionSubmitted:
		action = shared.ApprovalSubmit
	case EventRequisitionStepApproved, EventRequisitionApproved:
		action = shared.ApprovalApprove
	case EventRequisitionRejected:
		action = shared.ApprovalReject
	default:
		return
	}
	entry := shared.ApprovalLog{Module: "requisition", RefID: evt.ID, ActorID: actor.UserID, Action: action, Note: evt.Comments, At: evt.At}
	if err := s.approvals.Record(ctx, entry); err != nil {
		s.logger.Warn("procurement approval history", slog.Any("error", err))
	}
}

func canActOnRequisition(actor shared.Actor, pr Requisition) bool {
	return actor.IsStaff() || actor.UserID == pr.RequestedBy
}

func canViewRequisition(actor shared.Actor, pr Requisition) bool {
	if canActOnRequisition(actor, pr) {
		return true
	}
	for _, step := range pr.Approvals {
		if step.ApproverID == actor.UserID {
			return true
		}
	}
	return false
}

// vendorScope returns the vendor the actor is restricted to, or uuid.Nil for staff.
func vendorScope(actor shared.Actor) uuid.UUID {
	if actor.IsVendor() && !actor.IsStaff() {
		return actor.VendorID
	}
	return uuid.Nil
}
