package procurement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/procurepro/procurepro/internal/shared"
	"github.com/procurepro/procurepro/internal/users"
	"github.com/procurepro/procurepro/internal/vendors"
)

// memoryStore is an in-memory RepositoryPort. WithTx restores a snapshot when
// the callback fails, so partial writes never survive an error.
type memoryStore struct {
	mu           sync.Mutex
	requisitions map[uuid.UUID]Requisition
	rfqs         map[uuid.UUID]RFQ
	quotations   map[uuid.UUID]Quotation
	orders       map[uuid.UUID]PurchaseOrder
	invoices     map[uuid.UUID]Invoice
	txCount      int
	// wrapTx, when set, replaces the transaction handed to callbacks.
	wrapTx func(*memoryTx) TxRepository
}

type memoryTx struct {
	store *memoryStore
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		requisitions: make(map[uuid.UUID]Requisition),
		rfqs:         make(map[uuid.UUID]RFQ),
		quotations:   make(map[uuid.UUID]Quotation),
		orders:       make(map[uuid.UUID]PurchaseOrder),
		invoices:     make(map[uuid.UUID]Invoice),
	}
}

func cloneRequisition(pr Requisition) Requisition {
	pr.Items = append([]RequisitionItem(nil), pr.Items...)
	pr.Attachments = append([]Attachment(nil), pr.Attachments...)
	pr.Approvals = append(ApprovalChain(nil), pr.Approvals...)
	return pr
}

func cloneRFQ(rfq RFQ) RFQ {
	rfq.Items = append([]RFQItem(nil), rfq.Items...)
	rfq.Attachments = append([]Attachment(nil), rfq.Attachments...)
	rfq.Invitations = append([]VendorInvitation(nil), rfq.Invitations...)
	return rfq
}

func cloneQuotation(q Quotation) Quotation {
	q.Items = append([]QuotationItem(nil), q.Items...)
	q.Attachments = append([]Attachment(nil), q.Attachments...)
	return q
}

func cloneMap[K comparable, V any](in map[K]V, clone func(V) V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		if clone != nil {
			v = clone(v)
		}
		out[k] = v
	}
	return out
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++
	requisitions := cloneMap(m.requisitions, cloneRequisition)
	rfqs := cloneMap(m.rfqs, cloneRFQ)
	quotations := cloneMap(m.quotations, cloneQuotation)
	orders := cloneMap(m.orders, nil)
	invoices := cloneMap(m.invoices, nil)
	var tx TxRepository = &memoryTx{store: m}
	if m.wrapTx != nil {
		tx = m.wrapTx(&memoryTx{store: m})
	}
	if err := fn(ctx, tx); err != nil {
		m.requisitions, m.rfqs, m.quotations, m.orders, m.invoices = requisitions, rfqs, quotations, orders, invoices
		return err
	}
	return nil
}

func (m *memoryStore) GetRequisition(_ context.Context, id uuid.UUID) (Requisition, error) {
	pr, ok := m.requisitions[id]
	if !ok {
		return Requisition{}, notFound("requisition", id)
	}
	return cloneRequisition(pr), nil
}

func (m *memoryStore) ListRequisitions(_ context.Context, filter ListFilter) ([]Requisition, int, error) {
	var out []Requisition
	for _, pr := range m.requisitions {
		if filter.Status != "" && string(pr.Status) != filter.Status {
			continue
		}
		if filter.Participant != "" && !canViewRequisition(shared.Actor{UserID: filter.Participant}, pr) {
			continue
		}
		out = append(out, cloneRequisition(pr))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out, len(out), nil
}

func (m *memoryStore) GetRFQ(_ context.Context, id uuid.UUID) (RFQ, error) {
	rfq, ok := m.rfqs[id]
	if !ok {
		return RFQ{}, notFound("rfq", id)
	}
	return cloneRFQ(rfq), nil
}

func (m *memoryStore) ListRFQs(_ context.Context, filter ListFilter) ([]RFQ, int, error) {
	var out []RFQ
	for _, rfq := range m.rfqs {
		if filter.Status != "" && string(rfq.Status) != filter.Status {
			continue
		}
		out = append(out, cloneRFQ(rfq))
	}
	return out, len(out), nil
}

func (m *memoryStore) ListVendorRFQs(_ context.Context, vendorID uuid.UUID) ([]VendorRFQ, error) {
	var out []VendorRFQ
	for _, rfq := range m.rfqs {
		if rfq.Status == RFQDraft {
			continue
		}
		rfq := cloneRFQ(rfq)
		inv, ok := rfq.Invitation(vendorID)
		if !ok {
			continue
		}
		view := VendorRFQ{RFQ: rfq, Invitation: *inv, QuoteSubmitted: inv.Status == InvitationQuoteSubmitted}
		view.Invitations = nil
		out = append(out, view)
	}
	return out, nil
}

func (m *memoryStore) GetQuotation(_ context.Context, id uuid.UUID) (Quotation, error) {
	q, ok := m.quotations[id]
	if !ok {
		return Quotation{}, notFound("quotation", id)
	}
	return cloneQuotation(q), nil
}

func (m *memoryStore) GetQuotationByVendor(_ context.Context, rfqID, vendorID uuid.UUID) (Quotation, error) {
	for _, q := range m.quotations {
		if q.RFQID == rfqID && q.VendorID == vendorID {
			return cloneQuotation(q), nil
		}
	}
	return Quotation{}, notFound("quotation for rfq", rfqID)
}

func (m *memoryStore) summary(q Quotation) QuotationSummary {
	return QuotationSummary{
		ID:          q.ID,
		RFQID:       q.RFQID,
		RFQNumber:   m.rfqs[q.RFQID].Number,
		VendorID:    q.VendorID,
		TotalAmount: q.TotalAmount,
		Currency:    q.Currency,
		SubmittedAt: q.SubmittedAt,
	}
}

func (m *memoryStore) ListQuotations(_ context.Context, rfqID uuid.UUID) ([]QuotationSummary, error) {
	var out []QuotationSummary
	for _, q := range m.quotations {
		if q.RFQID == rfqID {
			out = append(out, m.summary(q))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalAmount.LessThan(out[j].TotalAmount) })
	return out, nil
}

func (m *memoryStore) ListReadyToIssue(_ context.Context) ([]QuotationSummary, error) {
	var out []QuotationSummary
	for _, q := range m.quotations {
		if !m.hasOrder(q.ID) {
			out = append(out, m.summary(q))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, nil
}

func (m *memoryStore) hasOrder(quotationID uuid.UUID) bool {
	for _, po := range m.orders {
		if po.VendorQuotationID == quotationID {
			return true
		}
	}
	return false
}

func (m *memoryStore) GetPurchaseOrder(_ context.Context, id uuid.UUID) (PurchaseOrderDetail, error) {
	po, ok := m.orders[id]
	if !ok {
		return PurchaseOrderDetail{}, notFound("purchase order", id)
	}
	q := m.quotations[po.VendorQuotationID]
	return PurchaseOrderDetail{
		PurchaseOrder: po,
		RFQID:         q.RFQID,
		Currency:      q.Currency,
		Subtotal:      q.Subtotal,
		TaxAmount:     q.TaxAmount,
		TotalAmount:   q.TotalAmount,
		Items:         append([]QuotationItem(nil), q.Items...),
	}, nil
}

func (m *memoryStore) ListPurchaseOrders(_ context.Context, filter ListFilter) ([]PurchaseOrder, int, error) {
	var out []PurchaseOrder
	for _, po := range m.orders {
		if filter.Status != "" && string(po.Status) != filter.Status {
			continue
		}
		if filter.VendorID != uuid.Nil && po.VendorID != filter.VendorID {
			continue
		}
		out = append(out, po)
	}
	return out, len(out), nil
}

func (m *memoryStore) GetInvoice(_ context.Context, id uuid.UUID) (Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return Invoice{}, notFound("invoice", id)
	}
	return inv, nil
}

func (m *memoryStore) ListInvoices(_ context.Context, purchaseOrderID uuid.UUID) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range m.invoices {
		if inv.PurchaseOrderID == purchaseOrderID {
			out = append(out, inv)
		}
	}
	return out, nil
}

// ---- transactional side ----

func (t *memoryTx) ReferenceExists(_ context.Context, prefix, number string) (bool, error) {
	s := t.store
	switch prefix {
	case PrefixRequisition:
		for _, pr := range s.requisitions {
			if pr.Number == number {
				return true, nil
			}
		}
	case PrefixRFQ:
		for _, rfq := range s.rfqs {
			if rfq.Number == number {
				return true, nil
			}
		}
	case PrefixPurchaseOrder:
		for _, po := range s.orders {
			if po.Number == number {
				return true, nil
			}
		}
	default:
		return false, fmt.Errorf("unknown prefix %q", prefix)
	}
	return false, nil
}

func (t *memoryTx) InsertRequisition(ctx context.Context, pr Requisition) error {
	if taken, _ := t.ReferenceExists(ctx, PrefixRequisition, pr.Number); taken {
		return fmt.Errorf("%w: duplicate number", ErrConflict)
	}
	t.store.requisitions[pr.ID] = cloneRequisition(pr)
	return nil
}

func (t *memoryTx) LockRequisition(ctx context.Context, id uuid.UUID) (Requisition, error) {
	return t.store.GetRequisition(ctx, id)
}

func (t *memoryTx) UpdateRequisitionStatus(_ context.Context, pr Requisition) error {
	stored, ok := t.store.requisitions[pr.ID]
	if !ok {
		return notFound("requisition", pr.ID)
	}
	stored.Status = pr.Status
	stored.SubmittedAt = pr.SubmittedAt
	stored.ApprovedAt = pr.ApprovedAt
	t.store.requisitions[pr.ID] = stored
	return nil
}

func (t *memoryTx) ReplaceApprovalChain(_ context.Context, requisitionID uuid.UUID, chain ApprovalChain) error {
	stored := t.store.requisitions[requisitionID]
	stored.Approvals = append(ApprovalChain(nil), chain...)
	t.store.requisitions[requisitionID] = stored
	return nil
}

func (t *memoryTx) UpdateApprovalStep(_ context.Context, step ApprovalStep, from ApprovalStatus) error {
	stored := t.store.requisitions[step.RequisitionID]
	for i := range stored.Approvals {
		if stored.Approvals[i].ID != step.ID {
			continue
		}
		if stored.Approvals[i].Status != from {
			return fmt.Errorf("%w: approval step changed", ErrConflict)
		}
		stored.Approvals[i] = step
		t.store.requisitions[step.RequisitionID] = stored
		return nil
	}
	return notFound("approval step", step.ID)
}

func (t *memoryTx) InsertRFQ(_ context.Context, rfq RFQ) error {
	t.store.rfqs[rfq.ID] = cloneRFQ(rfq)
	return nil
}

func (t *memoryTx) LockRFQ(ctx context.Context, id uuid.UUID) (RFQ, error) {
	return t.store.GetRFQ(ctx, id)
}

func (t *memoryTx) UpdateRFQHeader(_ context.Context, rfq RFQ) error {
	stored, ok := t.store.rfqs[rfq.ID]
	if !ok {
		return notFound("rfq", rfq.ID)
	}
	stored.Title, stored.Terms, stored.DueDate = rfq.Title, rfq.Terms, rfq.DueDate
	stored.Status, stored.PublishedAt, stored.ClosedAt = rfq.Status, rfq.PublishedAt, rfq.ClosedAt
	t.store.rfqs[rfq.ID] = stored
	return nil
}

func (t *memoryTx) ReplaceRFQContent(_ context.Context, rfq RFQ) error {
	stored := t.store.rfqs[rfq.ID]
	for _, old := range stored.Items {
		if _, kept := rfq.Item(old.ID); kept {
			continue
		}
		for _, q := range t.store.quotations {
			for _, line := range q.Items {
				if line.RFQItemID == old.ID {
					return fmt.Errorf("%w: rfq item still quoted", ErrConflict)
				}
			}
		}
	}
	stored.Items = append([]RFQItem(nil), rfq.Items...)
	stored.Attachments = append([]Attachment(nil), rfq.Attachments...)
	stored.Invitations = append([]VendorInvitation(nil), rfq.Invitations...)
	t.store.rfqs[rfq.ID] = stored
	return nil
}

func (t *memoryTx) UpdateInvitation(_ context.Context, inv VendorInvitation) error {
	stored := t.store.rfqs[inv.RFQID]
	for i := range stored.Invitations {
		if stored.Invitations[i].ID == inv.ID {
			stored.Invitations[i] = inv
			t.store.rfqs[inv.RFQID] = stored
			return nil
		}
	}
	return notFound("invitation", inv.ID)
}

func (t *memoryTx) FindQuotation(ctx context.Context, rfqID, vendorID uuid.UUID) (Quotation, error) {
	return t.store.GetQuotationByVendor(ctx, rfqID, vendorID)
}

func (t *memoryTx) GetQuotation(ctx context.Context, id uuid.UUID) (Quotation, error) {
	return t.store.GetQuotation(ctx, id)
}

func (t *memoryTx) SaveQuotation(ctx context.Context, q Quotation, isNew bool) error {
	if isNew {
		if _, err := t.store.GetQuotationByVendor(ctx, q.RFQID, q.VendorID); err == nil {
			return fmt.Errorf("%w: duplicate quotation", ErrConflict)
		}
	}
	t.store.quotations[q.ID] = cloneQuotation(q)
	return nil
}

func (t *memoryTx) PurchaseOrderExists(_ context.Context, quotationID uuid.UUID) (bool, error) {
	return t.store.hasOrder(quotationID), nil
}

func (t *memoryTx) InsertPurchaseOrder(_ context.Context, po PurchaseOrder) error {
	if t.store.hasOrder(po.VendorQuotationID) {
		return fmt.Errorf("%w: duplicate ux_purchase_orders_quotation", ErrConflict)
	}
	t.store.orders[po.ID] = po
	return nil
}

func (t *memoryTx) LockPurchaseOrder(_ context.Context, id uuid.UUID) (PurchaseOrder, error) {
	po, ok := t.store.orders[id]
	if !ok {
		return PurchaseOrder{}, notFound("purchase order", id)
	}
	return po, nil
}

func (t *memoryTx) UpdatePurchaseOrderStatus(_ context.Context, po PurchaseOrder) error {
	t.store.orders[po.ID] = po
	return nil
}

func (t *memoryTx) InsertInvoice(_ context.Context, inv Invoice) error {
	t.store.invoices[inv.ID] = inv
	return nil
}

func (t *memoryTx) LockInvoice(ctx context.Context, id uuid.UUID) (Invoice, error) {
	return t.store.GetInvoice(ctx, id)
}

func (t *memoryTx) UpdateInvoicePaymentStatus(_ context.Context, inv Invoice) error {
	t.store.invoices[inv.ID] = inv
	return nil
}

// ---- collaborators ----

type fakeIdentities struct {
	users map[string]users.User
}

func (f *fakeIdentities) LookupUser(_ context.Context, id string) (users.User, error) {
	u, ok := f.users[id]
	if !ok {
		return users.User{}, &users.UnknownUsersError{IDs: []string{id}}
	}
	return u, nil
}

func (f *fakeIdentities) ResolveUsers(_ context.Context, ids []string) ([]users.User, error) {
	var (
		out     []users.User
		missing []string
	)
	for _, id := range ids {
		u, ok := f.users[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		out = append(out, u)
	}
	if len(missing) > 0 {
		return nil, &users.UnknownUsersError{IDs: missing}
	}
	return out, nil
}

func (f *fakeIdentities) UsersWithRole(_ context.Context, role string) ([]users.User, error) {
	var out []users.User
	for _, u := range f.users {
		if u.Actor().HasRole(role) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeIdentities) UsersForVendor(_ context.Context, vendorID uuid.UUID) ([]users.User, error) {
	var out []users.User
	for _, u := range f.users {
		if u.VendorID != nil && *u.VendorID == vendorID {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeVendors struct {
	vendors map[uuid.UUID]vendors.Vendor
}

func (f *fakeVendors) GetVendor(_ context.Context, id uuid.UUID) (vendors.Vendor, error) {
	v, ok := f.vendors[id]
	if !ok {
		return vendors.Vendor{}, &vendors.UnknownVendorsError{IDs: []uuid.UUID{id}}
	}
	return v, nil
}

func (f *fakeVendors) ResolveVendors(_ context.Context, ids []uuid.UUID) ([]vendors.Vendor, error) {
	var (
		out     []vendors.Vendor
		missing []uuid.UUID
	)
	for _, id := range ids {
		v, ok := f.vendors[id]
		if !ok || !v.IsActive {
			missing = append(missing, id)
			continue
		}
		out = append(out, v)
	}
	if len(missing) > 0 {
		return nil, &vendors.UnknownVendorsError{IDs: missing}
	}
	return out, nil
}

type sentMessage struct {
	Channel string
	To      string
	Subject string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	fail bool
}

var errDeliveryDown = errors.New("delivery down")

func (n *recordingNotifier) SendEmail(_ context.Context, to, subject, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errDeliveryDown
	}
	n.sent = append(n.sent, sentMessage{Channel: "email", To: to, Subject: subject})
	return nil
}

func (n *recordingNotifier) SendWebNotification(_ context.Context, userID, title, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errDeliveryDown
	}
	n.sent = append(n.sent, sentMessage{Channel: "web", To: userID, Subject: title})
	return nil
}

func (n *recordingNotifier) to(recipient string) []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentMessage
	for _, m := range n.sent {
		if m.To == recipient {
			out = append(out, m)
		}
	}
	return out
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingMetrics) RecordTransition(entity, action string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[entity+"."+action]++
}

type memoryAudit struct {
	mu      sync.Mutex
	entries []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return nil
}

type memoryApprovalHistory struct {
	mu      sync.Mutex
	entries []shared.ApprovalLog
}

func (h *memoryApprovalHistory) Record(_ context.Context, log shared.ApprovalLog) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, log)
	return nil
}
