package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/procurepro/procurepro/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// mapErr converts storage errors, naming the missing record on ErrNoRows.
func mapErr(err error, entity string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(entity, id)
	}
	return db.MapError(err)
}

func forUpdate(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

// ---- requisitions ----

const requisitionColumns = `id, number, title, description, cost_center, department, urgency, needed_by,
	status, requested_by, created_at, submitted_at, approved_at`

func scanRequisition(row pgx.Row) (Requisition, error) {
	var pr Requisition
	err := row.Scan(&pr.ID, &pr.Number, &pr.Title, &pr.Description, &pr.CostCenter, &pr.Department,
		&pr.Urgency, &pr.NeededBy, &pr.Status, &pr.RequestedBy, &pr.CreatedAt, &pr.SubmittedAt, &pr.ApprovedAt)
	return pr, err
}

func loadRequisition(ctx context.Context, q querier, id uuid.UUID, lock bool) (Requisition, error) {
	pr, err := scanRequisition(q.QueryRow(ctx,
		`SELECT `+requisitionColumns+` FROM purchase_requisitions WHERE id = $1`+forUpdate(lock), id))
	if err != nil {
		return Requisition{}, mapErr(err, "requisition", id)
	}
	if err := loadRequisitionChildren(ctx, q, &pr); err != nil {
		return Requisition{}, err
	}
	return pr, nil
}

func loadRequisitionChildren(ctx context.Context, q querier, pr *Requisition) error {
	rows, err := q.Query(ctx, `SELECT id, name, specification, quantity, unit_of_measure, estimated_unit_cost
		FROM requisition_items WHERE requisition_id = $1 ORDER BY line_no`, pr.ID)
	if err != nil {
		return db.MapError(err)
	}
	pr.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (RequisitionItem, error) {
		var item RequisitionItem
		var cost decimal.NullDecimal
		if err := row.Scan(&item.ID, &item.Name, &item.Specification, &item.Quantity, &item.UnitOfMeasure, &cost); err != nil {
			return item, err
		}
		if cost.Valid {
			item.EstimatedUnitCost = &cost.Decimal
		}
		return item, nil
	})
	if err != nil {
		return db.MapError(err)
	}
	if pr.Attachments, err = loadAttachments(ctx, q, "requisition_attachments", "requisition_id", pr.ID); err != nil {
		return err
	}
	rows, err = q.Query(ctx, `SELECT id, requisition_id, sequence, approver_id, status, actioned_at, comments
		FROM approval_steps WHERE requisition_id = $1 ORDER BY sequence`, pr.ID)
	if err != nil {
		return db.MapError(err)
	}
	steps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ApprovalStep, error) {
		var step ApprovalStep
		err := row.Scan(&step.ID, &step.RequisitionID, &step.Sequence, &step.ApproverID, &step.Status, &step.ActionedAt, &step.Comments)
		return step, err
	})
	if err != nil {
		return db.MapError(err)
	}
	pr.Approvals = ApprovalChain(steps)
	return nil
}

// GetRequisition returns a requisition with items, attachments and approvals.
func (r *Repository) GetRequisition(ctx context.Context, id uuid.UUID) (Requisition, error) {
	return loadRequisition(ctx, r.pool, id, false)
}

// ListRequisitions returns a page of requisitions and the total match count.
func (r *Repository) ListRequisitions(ctx context.Context, filter ListFilter) ([]Requisition, int, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Participant != "" {
		args = append(args, filter.Participant)
		clauses = append(clauses, fmt.Sprintf(`(requested_by = $%d OR EXISTS (
			SELECT 1 FROM approval_steps s WHERE s.requisition_id = purchase_requisitions.id AND s.approver_id = $%d))`, len(args), len(args)))
	}
	where := whereClause(clauses)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_requisitions`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.MapError(err)
	}
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT `+requisitionColumns+` FROM purchase_requisitions%s
		ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, db.MapError(err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Requisition, error) {
		return scanRequisition(row)
	})
	if err != nil {
		return nil, 0, db.MapError(err)
	}
	for i := range list {
		if err := loadRequisitionChildren(ctx, r.pool, &list[i]); err != nil {
			return nil, 0, err
		}
	}
	return list, total, nil
}

func (t *txRepo) InsertRequisition(ctx context.Context, pr Requisition) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO purchase_requisitions (id, number, title, description, cost_center, department,
		urgency, needed_by, status, requested_by, created_at, submitted_at, approved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		pr.ID, pr.Number, pr.Title, pr.Description, pr.CostCenter, pr.Department, pr.Urgency, pr.NeededBy,
		pr.Status, pr.RequestedBy, pr.CreatedAt, pr.SubmittedAt, pr.ApprovedAt)
	if err != nil {
		return db.MapError(err)
	}
	for i, item := range pr.Items {
		cost := decimal.NullDecimal{}
		if item.EstimatedUnitCost != nil {
			cost = decimal.NewNullDecimal(*item.EstimatedUnitCost)
		}
		if _, err := t.tx.Exec(ctx, `INSERT INTO requisition_items (id, requisition_id, line_no, name, specification,
			quantity, unit_of_measure, estimated_unit_cost) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			item.ID, pr.ID, i+1, item.Name, item.Specification, item.Quantity, item.UnitOfMeasure, cost); err != nil {
			return db.MapError(err)
		}
	}
	if err := insertAttachments(ctx, t.tx, "requisition_attachments", "requisition_id", pr.ID, pr.Attachments); err != nil {
		return err
	}
	return insertApprovalSteps(ctx, t.tx, pr.Approvals)
}

func (t *txRepo) LockRequisition(ctx context.Context, id uuid.UUID) (Requisition, error) {
	return loadRequisition(ctx, t.tx, id, true)
}

func (t *txRepo) UpdateRequisitionStatus(ctx context.Context, pr Requisition) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_requisitions SET status = $2, submitted_at = $3, approved_at = $4 WHERE id = $1`,
		pr.ID, pr.Status, pr.SubmittedAt, pr.ApprovedAt)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("requisition", pr.ID)
	}
	return nil
}

func (t *txRepo) ReplaceApprovalChain(ctx context.Context, requisitionID uuid.UUID, chain ApprovalChain) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM approval_steps WHERE requisition_id = $1`, requisitionID); err != nil {
		return db.MapError(err)
	}
	return insertApprovalSteps(ctx, t.tx, chain)
}

func (t *txRepo) UpdateApprovalStep(ctx context.Context, step ApprovalStep, from ApprovalStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE approval_steps SET status = $2, actioned_at = $3, comments = $4
		WHERE id = $1 AND status = $5`, step.ID, step.Status, step.ActionedAt, step.Comments, from)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: approval step %d changed concurrently", ErrConflict, step.Sequence)
	}
	return nil
}

func insertApprovalSteps(ctx context.Context, tx pgx.Tx, chain ApprovalChain) error {
	for _, step := range chain {
		if _, err := tx.Exec(ctx, `INSERT INTO approval_steps (id, requisition_id, sequence, approver_id, status, actioned_at, comments)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			step.ID, step.RequisitionID, step.Sequence, step.ApproverID, step.Status, step.ActionedAt, step.Comments); err != nil {
			return db.MapError(err)
		}
	}
	return nil
}

// ---- reference numbers ----

var referenceTables = map[string]string{
	PrefixRequisition:   "purchase_requisitions",
	PrefixRFQ:           "rfqs",
	PrefixPurchaseOrder: "purchase_orders",
}

func (t *txRepo) ReferenceExists(ctx context.Context, prefix, number string) (bool, error) {
	table, ok := referenceTables[prefix]
	if !ok {
		return false, fmt.Errorf("procurement: unknown reference prefix %q", prefix)
	}
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE number = $1)`, number).Scan(&exists)
	return exists, db.MapError(err)
}

// ---- RFQs ----

const rfqColumns = `id, number, requisition_id, title, terms, due_date, status, created_at, published_at, closed_at`

func scanRFQ(row pgx.Row) (RFQ, error) {
	var rfq RFQ
	err := row.Scan(&rfq.ID, &rfq.Number, &rfq.RequisitionID, &rfq.Title, &rfq.Terms, &rfq.DueDate,
		&rfq.Status, &rfq.CreatedAt, &rfq.PublishedAt, &rfq.ClosedAt)
	return rfq, err
}

func loadRFQ(ctx context.Context, q querier, id uuid.UUID, lock bool) (RFQ, error) {
	rfq, err := scanRFQ(q.QueryRow(ctx, `SELECT `+rfqColumns+` FROM rfqs WHERE id = $1`+forUpdate(lock), id))
	if err != nil {
		return RFQ{}, mapErr(err, "rfq", id)
	}
	if err := loadRFQChildren(ctx, q, &rfq); err != nil {
		return RFQ{}, err
	}
	return rfq, nil
}

func loadRFQChildren(ctx context.Context, q querier, rfq *RFQ) error {
	rows, err := q.Query(ctx, `SELECT id, description, specification, quantity, unit
		FROM rfq_items WHERE rfq_id = $1 ORDER BY line_no`, rfq.ID)
	if err != nil {
		return db.MapError(err)
	}
	rfq.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (RFQItem, error) {
		var item RFQItem
		err := row.Scan(&item.ID, &item.Description, &item.Specification, &item.Quantity, &item.Unit)
		return item, err
	})
	if err != nil {
		return db.MapError(err)
	}
	if rfq.Attachments, err = loadAttachments(ctx, q, "rfq_attachments", "rfq_id", rfq.ID); err != nil {
		return err
	}
	rows, err = q.Query(ctx, `SELECT `+invitationColumns+` FROM rfq_vendor_invitations
		WHERE rfq_id = $1 ORDER BY vendor_id`, rfq.ID)
	if err != nil {
		return db.MapError(err)
	}
	rfq.Invitations, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (VendorInvitation, error) {
		return scanInvitation(row)
	})
	return db.MapError(err)
}

const invitationColumns = `id, rfq_id, vendor_id, status, invitation_sent_at, acknowledged_at,
	last_reminder_sent_at, quote_submitted_at, notes`

func scanInvitation(row pgx.Row) (VendorInvitation, error) {
	var inv VendorInvitation
	err := row.Scan(&inv.ID, &inv.RFQID, &inv.VendorID, &inv.Status, &inv.InvitationSentAt, &inv.AcknowledgedAt,
		&inv.LastReminderSentAt, &inv.QuoteSubmittedAt, &inv.Notes)
	return inv, err
}

// GetRFQ returns an RFQ with items, attachments and invitations.
func (r *Repository) GetRFQ(ctx context.Context, id uuid.UUID) (RFQ, error) {
	return loadRFQ(ctx, r.pool, id, false)
}

// ListRFQs returns a page of RFQs and the total match count.
func (r *Repository) ListRFQs(ctx context.Context, filter ListFilter) ([]RFQ, int, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	where := whereClause(clauses)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rfqs`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.MapError(err)
	}
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT `+rfqColumns+` FROM rfqs%s
		ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, db.MapError(err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RFQ, error) {
		return scanRFQ(row)
	})
	if err != nil {
		return nil, 0, db.MapError(err)
	}
	for i := range list {
		if err := loadRFQChildren(ctx, r.pool, &list[i]); err != nil {
			return nil, 0, err
		}
	}
	return list, total, nil
}

// ListVendorRFQs lists the non-draft RFQs a vendor is invited to, newest first.
func (r *Repository) ListVendorRFQs(ctx context.Context, vendorID uuid.UUID) ([]VendorRFQ, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.id, r.number, r.requisition_id, r.title, r.terms, r.due_date, r.status,
			r.created_at, r.published_at, r.closed_at,
			i.id, i.rfq_id, i.vendor_id, i.status, i.invitation_sent_at, i.acknowledged_at,
			i.last_reminder_sent_at, i.quote_submitted_at, i.notes
		FROM rfqs r
		JOIN rfq_vendor_invitations i ON i.rfq_id = r.id
		WHERE i.vendor_id = $1 AND r.status <> $2
		ORDER BY r.due_date, r.id`, vendorID, RFQDraft)
	if err != nil {
		return nil, db.MapError(err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (VendorRFQ, error) {
		var v VendorRFQ
		inv := &v.Invitation
		err := row.Scan(&v.ID, &v.Number, &v.RequisitionID, &v.Title, &v.Terms, &v.DueDate, &v.Status,
			&v.CreatedAt, &v.PublishedAt, &v.ClosedAt,
			&inv.ID, &inv.RFQID, &inv.VendorID, &inv.Status, &inv.InvitationSentAt, &inv.AcknowledgedAt,
			&inv.LastReminderSentAt, &inv.QuoteSubmittedAt, &inv.Notes)
		v.QuoteSubmitted = inv.Status == InvitationQuoteSubmitted
		return v, err
	})
	return list, db.MapError(err)
}

func (t *txRepo) InsertRFQ(ctx context.Context, rfq RFQ) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO rfqs (id, number, requisition_id, title, terms, due_date, status,
		created_at, published_at, closed_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rfq.ID, rfq.Number, rfq.RequisitionID, rfq.Title, rfq.Terms, rfq.DueDate, rfq.Status,
		rfq.CreatedAt, rfq.PublishedAt, rfq.ClosedAt)
	if err != nil {
		return db.MapError(err)
	}
	return t.insertRFQContent(ctx, rfq)
}

func (t *txRepo) LockRFQ(ctx context.Context, id uuid.UUID) (RFQ, error) {
	return loadRFQ(ctx, t.tx, id, true)
}

func (t *txRepo) UpdateRFQHeader(ctx context.Context, rfq RFQ) error {
	tag, err := t.tx.Exec(ctx, `UPDATE rfqs SET title = $2, terms = $3, due_date = $4, status = $5,
		published_at = $6, closed_at = $7 WHERE id = $1`,
		rfq.ID, rfq.Title, rfq.Terms, rfq.DueDate, rfq.Status, rfq.PublishedAt, rfq.ClosedAt)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("rfq", rfq.ID)
	}
	return nil
}

// ReplaceRFQContent deletes and re-inserts items, attachments and
// invitations. Items still referenced by quotation lines fail the delete.
func (t *txRepo) ReplaceRFQContent(ctx context.Context, rfq RFQ) error {
	for _, table := range []string{"rfq_vendor_invitations", "rfq_attachments", "rfq_items"} {
		if _, err := t.tx.Exec(ctx, `DELETE FROM `+table+` WHERE rfq_id = $1`, rfq.ID); err != nil {
			return db.MapError(err)
		}
	}
	return t.insertRFQContent(ctx, rfq)
}

func (t *txRepo) insertRFQContent(ctx context.Context, rfq RFQ) error {
	for i, item := range rfq.Items {
		if _, err := t.tx.Exec(ctx, `INSERT INTO rfq_items (id, rfq_id, line_no, description, specification, quantity, unit)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			item.ID, rfq.ID, i+1, item.Description, item.Specification, item.Quantity, item.Unit); err != nil {
			return db.MapError(err)
		}
	}
	if err := insertAttachments(ctx, t.tx, "rfq_attachments", "rfq_id", rfq.ID, rfq.Attachments); err != nil {
		return err
	}
	for _, inv := range rfq.Invitations {
		if _, err := t.tx.Exec(ctx, `INSERT INTO rfq_vendor_invitations (`+invitationColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			inv.ID, rfq.ID, inv.VendorID, inv.Status, inv.InvitationSentAt, inv.AcknowledgedAt,
			inv.LastReminderSentAt, inv.QuoteSubmittedAt, inv.Notes); err != nil {
			return db.MapError(err)
		}
	}
	return nil
}

func (t *txRepo) UpdateInvitation(ctx context.Context, inv VendorInvitation) error {
	tag, err := t.tx.Exec(ctx, `UPDATE rfq_vendor_invitations SET status = $2, invitation_sent_at = $3,
		acknowledged_at = $4, last_reminder_sent_at = $5, quote_submitted_at = $6, notes = $7 WHERE id = $1`,
		inv.ID, inv.Status, inv.InvitationSentAt, inv.AcknowledgedAt, inv.LastReminderSentAt, inv.QuoteSubmittedAt, inv.Notes)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("invitation", inv.ID)
	}
	return nil
}

// ---- quotations ----

const quotationColumns = `id, rfq_id, vendor_id, subtotal, tax_amount, total_amount, currency,
	expected_delivery_date, delivery_terms, remarks, submitted_by_admin, admin_note, submitted_at`

func loadQuotation(ctx context.Context, q querier, where string, args ...any) (Quotation, error) {
	var quote Quotation
	err := q.QueryRow(ctx, `SELECT `+quotationColumns+` FROM vendor_quotations WHERE `+where, args...).Scan(
		&quote.ID, &quote.RFQID, &quote.VendorID, &quote.Subtotal, &quote.TaxAmount, &quote.TotalAmount, &quote.Currency,
		&quote.ExpectedDeliveryDate, &quote.DeliveryTerms, &quote.Remarks, &quote.SubmittedByAdmin, &quote.AdminNote,
		&quote.SubmittedAt)
	if err != nil {
		return Quotation{}, err
	}
	quote.Currency = strings.TrimSpace(quote.Currency)
	if quote.Items, err = loadQuotationItems(ctx, q, quote.ID); err != nil {
		return Quotation{}, err
	}
	if quote.Attachments, err = loadAttachments(ctx, q, "quotation_attachments", "quotation_id", quote.ID); err != nil {
		return Quotation{}, err
	}
	return quote, nil
}

func loadQuotationItems(ctx context.Context, q querier, quotationID uuid.UUID) ([]QuotationItem, error) {
	rows, err := q.Query(ctx, `SELECT qi.id, qi.rfq_item_id, qi.quantity, qi.unit_price, qi.line_total, qi.notes
		FROM quotation_items qi
		JOIN rfq_items ri ON ri.id = qi.rfq_item_id
		WHERE qi.quotation_id = $1 ORDER BY ri.line_no`, quotationID)
	if err != nil {
		return nil, db.MapError(err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (QuotationItem, error) {
		var item QuotationItem
		err := row.Scan(&item.ID, &item.RFQItemID, &item.Quantity, &item.UnitPrice, &item.LineTotal, &item.Notes)
		return item, err
	})
	return items, db.MapError(err)
}

// GetQuotation returns a quotation with its lines.
func (r *Repository) GetQuotation(ctx context.Context, id uuid.UUID) (Quotation, error) {
	q, err := loadQuotation(ctx, r.pool, `id = $1`, id)
	if err != nil {
		return Quotation{}, mapErr(err, "quotation", id)
	}
	return q, nil
}

// GetQuotationByVendor returns the quotation of vendorID for rfqID.
func (r *Repository) GetQuotationByVendor(ctx context.Context, rfqID, vendorID uuid.UUID) (Quotation, error) {
	q, err := loadQuotation(ctx, r.pool, `rfq_id = $1 AND vendor_id = $2`, rfqID, vendorID)
	if err != nil {
		return Quotation{}, mapErr(err, "quotation for rfq", rfqID)
	}
	return q, nil
}

const quotationSummarySelect = `SELECT q.id, q.rfq_id, r.number, q.vendor_id, q.total_amount, q.currency, q.submitted_at
	FROM vendor_quotations q JOIN rfqs r ON r.id = q.rfq_id`

func collectQuotationSummaries(rows pgx.Rows) ([]QuotationSummary, error) {
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (QuotationSummary, error) {
		var s QuotationSummary
		err := row.Scan(&s.ID, &s.RFQID, &s.RFQNumber, &s.VendorID, &s.TotalAmount, &s.Currency, &s.SubmittedAt)
		s.Currency = strings.TrimSpace(s.Currency)
		return s, err
	})
	return list, db.MapError(err)
}

// ListQuotations lists quotations of an RFQ, cheapest first.
func (r *Repository) ListQuotations(ctx context.Context, rfqID uuid.UUID) ([]QuotationSummary, error) {
	rows, err := r.pool.Query(ctx, quotationSummarySelect+` WHERE q.rfq_id = $1 ORDER BY q.total_amount, q.submitted_at`, rfqID)
	if err != nil {
		return nil, db.MapError(err)
	}
	return collectQuotationSummaries(rows)
}

// ListReadyToIssue lists quotations without a purchase order, newest first.
func (r *Repository) ListReadyToIssue(ctx context.Context) ([]QuotationSummary, error) {
	rows, err := r.pool.Query(ctx, quotationSummarySelect+`
		WHERE NOT EXISTS (SELECT 1 FROM purchase_orders po WHERE po.vendor_quotation_id = q.id)
		ORDER BY q.submitted_at DESC`)
	if err != nil {
		return nil, db.MapError(err)
	}
	return collectQuotationSummaries(rows)
}

func (t *txRepo) FindQuotation(ctx context.Context, rfqID, vendorID uuid.UUID) (Quotation, error) {
	q, err := loadQuotation(ctx, t.tx, `rfq_id = $1 AND vendor_id = $2 FOR UPDATE`, rfqID, vendorID)
	if err != nil {
		return Quotation{}, mapErr(err, "quotation for rfq", rfqID)
	}
	return q, nil
}

func (t *txRepo) GetQuotation(ctx context.Context, id uuid.UUID) (Quotation, error) {
	q, err := loadQuotation(ctx, t.tx, `id = $1`, id)
	if err != nil {
		return Quotation{}, mapErr(err, "quotation", id)
	}
	return q, nil
}

// SaveQuotation upserts the header and replaces lines and attachments.
func (t *txRepo) SaveQuotation(ctx context.Context, q Quotation, isNew bool) error {
	var err error
	if isNew {
		_, err = t.tx.Exec(ctx, `INSERT INTO vendor_quotations (`+quotationColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			q.ID, q.RFQID, q.VendorID, q.Subtotal, q.TaxAmount, q.TotalAmount, q.Currency,
			q.ExpectedDeliveryDate, q.DeliveryTerms, q.Remarks, q.SubmittedByAdmin, q.AdminNote, q.SubmittedAt)
	} else {
		_, err = t.tx.Exec(ctx, `UPDATE vendor_quotations SET subtotal = $2, tax_amount = $3, total_amount = $4,
			currency = $5, expected_delivery_date = $6, delivery_terms = $7, remarks = $8,
			submitted_by_admin = $9, admin_note = $10, submitted_at = $11 WHERE id = $1`,
			q.ID, q.Subtotal, q.TaxAmount, q.TotalAmount, q.Currency, q.ExpectedDeliveryDate,
			q.DeliveryTerms, q.Remarks, q.SubmittedByAdmin, q.AdminNote, q.SubmittedAt)
	}
	if err != nil {
		return db.MapError(err)
	}
	for _, table := range []string{"quotation_items", "quotation_attachments"} {
		if _, err := t.tx.Exec(ctx, `DELETE FROM `+table+` WHERE quotation_id = $1`, q.ID); err != nil {
			return db.MapError(err)
		}
	}
	for _, item := range q.Items {
		if _, err := t.tx.Exec(ctx, `INSERT INTO quotation_items (id, quotation_id, rfq_item_id, quantity, unit_price, line_total, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			item.ID, q.ID, item.RFQItemID, item.Quantity, item.UnitPrice, item.LineTotal, item.Notes); err != nil {
			return db.MapError(err)
		}
	}
	return insertAttachments(ctx, t.tx, "quotation_attachments", "quotation_id", q.ID, q.Attachments)
}

// ---- purchase orders ----

const purchaseOrderColumns = `id, number, vendor_quotation_id, vendor_id, status, amendments,
	created_at, acknowledged_at, completed_at, cancelled_at`

func scanPurchaseOrder(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.Number, &po.VendorQuotationID, &po.VendorID, &po.Status, &po.Amendments,
		&po.CreatedAt, &po.AcknowledgedAt, &po.CompletedAt, &po.CancelledAt)
	return po, err
}

// GetPurchaseOrder returns an order with totals and lines read through its quotation.
func (r *Repository) GetPurchaseOrder(ctx context.Context, id uuid.UUID) (PurchaseOrderDetail, error) {
	var d PurchaseOrderDetail
	po := &d.PurchaseOrder
	err := r.pool.QueryRow(ctx, `SELECT po.id, po.number, po.vendor_quotation_id, po.vendor_id, po.status, po.amendments,
			po.created_at, po.acknowledged_at, po.completed_at, po.cancelled_at,
			q.rfq_id, q.currency, q.subtotal, q.tax_amount, q.total_amount
		FROM purchase_orders po
		JOIN vendor_quotations q ON q.id = po.vendor_quotation_id
		WHERE po.id = $1`, id).Scan(
		&po.ID, &po.Number, &po.VendorQuotationID, &po.VendorID, &po.Status, &po.Amendments,
		&po.CreatedAt, &po.AcknowledgedAt, &po.CompletedAt, &po.CancelledAt,
		&d.RFQID, &d.Currency, &d.Subtotal, &d.TaxAmount, &d.TotalAmount)
	if err != nil {
		return PurchaseOrderDetail{}, mapErr(err, "purchase order", id)
	}
	d.Currency = strings.TrimSpace(d.Currency)
	if d.Items, err = loadQuotationItems(ctx, r.pool, po.VendorQuotationID); err != nil {
		return PurchaseOrderDetail{}, err
	}
	return d, nil
}

// ListPurchaseOrders returns a page of orders and the total match count.
func (r *Repository) ListPurchaseOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.VendorID != uuid.Nil {
		args = append(args, filter.VendorID)
		clauses = append(clauses, fmt.Sprintf("vendor_id = $%d", len(args)))
	}
	where := whereClause(clauses)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.MapError(err)
	}
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT `+purchaseOrderColumns+` FROM purchase_orders%s
		ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, db.MapError(err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PurchaseOrder, error) {
		return scanPurchaseOrder(row)
	})
	if err != nil {
		return nil, 0, db.MapError(err)
	}
	return list, total, nil
}

func (t *txRepo) PurchaseOrderExists(ctx context.Context, quotationID uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM purchase_orders WHERE vendor_quotation_id = $1)`, quotationID).Scan(&exists)
	return exists, db.MapError(err)
}

func (t *txRepo) InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO purchase_orders (`+purchaseOrderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		po.ID, po.Number, po.VendorQuotationID, po.VendorID, po.Status, po.Amendments,
		po.CreatedAt, po.AcknowledgedAt, po.CompletedAt, po.CancelledAt)
	return db.MapError(err)
}

func (t *txRepo) LockPurchaseOrder(ctx context.Context, id uuid.UUID) (PurchaseOrder, error) {
	po, err := scanPurchaseOrder(t.tx.QueryRow(ctx, `SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return PurchaseOrder{}, mapErr(err, "purchase order", id)
	}
	return po, nil
}

func (t *txRepo) UpdatePurchaseOrderStatus(ctx context.Context, po PurchaseOrder) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status = $2, acknowledged_at = $3, completed_at = $4,
		cancelled_at = $5 WHERE id = $1`, po.ID, po.Status, po.AcknowledgedAt, po.CompletedAt, po.CancelledAt)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("purchase order", po.ID)
	}
	return nil
}

// ---- invoices ----

const invoiceColumns = `id, purchase_order_id, amount, payment_status, submitted_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.PurchaseOrderID, &inv.Amount, &inv.PaymentStatus, &inv.SubmittedAt)
	return inv, err
}

// GetInvoice returns an invoice.
func (r *Repository) GetInvoice(ctx context.Context, id uuid.UUID) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		return Invoice{}, mapErr(err, "invoice", id)
	}
	return inv, nil
}

// ListInvoices lists invoices of a purchase order, oldest first.
func (r *Repository) ListInvoices(ctx context.Context, purchaseOrderID uuid.UUID) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE purchase_order_id = $1
		ORDER BY submitted_at, id`, purchaseOrderID)
	if err != nil {
		return nil, db.MapError(err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Invoice, error) {
		return scanInvoice(row)
	})
	return list, db.MapError(err)
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO invoices (`+invoiceColumns+`) VALUES ($1,$2,$3,$4,$5)`,
		inv.ID, inv.PurchaseOrderID, inv.Amount, inv.PaymentStatus, inv.SubmittedAt)
	return db.MapError(err)
}

func (t *txRepo) LockInvoice(ctx context.Context, id uuid.UUID) (Invoice, error) {
	inv, err := scanInvoice(t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Invoice{}, mapErr(err, "invoice", id)
	}
	return inv, nil
}

func (t *txRepo) UpdateInvoicePaymentStatus(ctx context.Context, inv Invoice) error {
	_, err := t.tx.Exec(ctx, `UPDATE invoices SET payment_status = $2 WHERE id = $1`, inv.ID, inv.PaymentStatus)
	return db.MapError(err)
}

// ---- shared helpers ----

func loadAttachments(ctx context.Context, q querier, table, ownerColumn string, ownerID uuid.UUID) ([]Attachment, error) {
	rows, err := q.Query(ctx, `SELECT id, file_name, storage_url, uploaded_by, uploaded_at FROM `+table+`
		WHERE `+ownerColumn+` = $1 ORDER BY uploaded_at, id`, ownerID)
	if err != nil {
		return nil, db.MapError(err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Attachment, error) {
		var a Attachment
		err := row.Scan(&a.ID, &a.FileName, &a.StorageURL, &a.UploadedBy, &a.UploadedAt)
		return a, err
	})
	return list, db.MapError(err)
}

func insertAttachments(ctx context.Context, tx pgx.Tx, table, ownerColumn string, ownerID uuid.UUID, attachments []Attachment) error {
	for _, a := range attachments {
		if _, err := tx.Exec(ctx, `INSERT INTO `+table+` (id, `+ownerColumn+`, file_name, storage_url, uploaded_by, uploaded_at)
			VALUES ($1,$2,$3,$4,$5,$6)`, a.ID, ownerID, a.FileName, a.StorageURL, a.UploadedBy, a.UploadedAt); err != nil {
			return db.MapError(err)
		}
	}
	return nil
}

func whereClause(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
