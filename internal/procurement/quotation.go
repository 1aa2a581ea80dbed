package procurement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/procurepro/procurepro/internal/shared"
)

// DefaultCurrency applies to new quotations submitted without a currency.
const DefaultCurrency = "USD"

// SubmitQuotationInput is a vendor's priced answer to an RFQ.
type SubmitQuotationInput struct {
	RFQID                uuid.UUID
	VendorID             uuid.UUID
	Items                []QuotationItemInput
	TaxAmount            decimal.Decimal
	Currency             string
	ExpectedDeliveryDate *time.Time
	DeliveryTerms        string
	Remarks              string
	Attachments          []AttachmentInput
	AdminNote            string
}

// QuotationItemInput prices one RFQ item.
type QuotationItemInput struct {
	RFQItemID uuid.UUID
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Notes     string
}

// SubmitQuotation creates or replaces the quotation of a vendor for an RFQ.
// Vendor actors submit for themselves; staff submit on a vendor's behalf and
// the quotation is flagged SubmittedByAdmin.
func (s *Service) SubmitQuotation(ctx context.Context, actor shared.Actor, input SubmitQuotationInput) (Quotation, error) {
	byAdmin, err := quotationAuthority(actor, input.VendorID)
	if err != nil {
		return Quotation{}, err
	}
	if !byAdmin {
		input.AdminNote = ""
	}
	if len(input.Items) == 0 {
		return Quotation{}, validationf("at least one item is required")
	}
	if input.TaxAmount.IsNegative() {
		return Quotation{}, validationf("tax amount must not be negative")
	}
	if err := checkAmount("tax amount", input.TaxAmount); err != nil {
		return Quotation{}, err
	}
	code, err := normalizeCurrency(input.Currency)
	if err != nil {
		return Quotation{}, err
	}
	for i, item := range input.Items {
		if !item.Quantity.IsPositive() {
			return Quotation{}, validationf("item %d: quantity must be positive", i+1)
		}
		if item.UnitPrice.IsNegative() {
			return Quotation{}, validationf("item %d: unit price must not be negative", i+1)
		}
		if err := checkAmount(fmt.Sprintf("item %d: quantity", i+1), item.Quantity); err != nil {
			return Quotation{}, err
		}
		if err := checkAmount(fmt.Sprintf("item %d: unit price", i+1), item.UnitPrice); err != nil {
			return Quotation{}, err
		}
	}
	items := buildQuotationItems(input.Items)
	subtotal, tax, total := QuotationTotals(items, input.TaxAmount)
	if err := checkAmount("total amount", total); err != nil {
		return Quotation{}, err
	}

	var saved Quotation
	err = s.commit(ctx, actor, func(ctx context.Context, tx TxRepository, events *[]Event) error {
		rfq, err := tx.LockRFQ(ctx, input.RFQID)
		if err != nil {
			return err
		}
		inv, ok := rfq.Invitation(input.VendorID)
		if !ok {
			return ErrVendorNotInvited
		}
		// Quotations against a closed or awarded RFQ are refused.
		if rfq.Status == RFQClosed || rfq.Status == RFQAwarded {
			return invalidStatef("rfq %s is %s", rfq.Number, rfq.Status)
		}
		for i, item := range input.Items {
			if _, ok := rfq.Item(item.RFQItemID); !ok {
				return validationf("item %d: rfq item %s does not belong to rfq %s", i+1, item.RFQItemID, rfq.Number)
			}
		}

		q, err := tx.FindQuotation(ctx, rfq.ID, input.VendorID)
		isNew := errors.Is(err, shared.ErrNotFound)
		if err != nil && !isNew {
			return err
		}
		now := s.now()
		if isNew {
			q = Quotation{ID: uuid.New(), RFQID: rfq.ID, VendorID: input.VendorID, Currency: DefaultCurrency}
		}
		if code != "" {
			q.Currency = code
		}
		q.ExpectedDeliveryDate = input.ExpectedDeliveryDate
		q.DeliveryTerms = input.DeliveryTerms
		q.Remarks = input.Remarks
		q.SubmittedByAdmin = byAdmin
		q.AdminNote = input.AdminNote
		q.SubmittedAt = now
		q.Items = items
		q.Subtotal, q.TaxAmount, q.TotalAmount = subtotal, tax, total
		q.Attachments, err = buildAttachments(input.Attachments, actor.UserID, now)
		if err != nil {
			return err
		}
		if err := tx.SaveQuotation(ctx, q, isNew); err != nil {
			return err
		}

		inv.Status = InvitationQuoteSubmitted
		inv.QuoteSubmittedAt = &now
		if inv.AcknowledgedAt == nil {
			inv.AcknowledgedAt = &now
		}
		if err := tx.UpdateInvitation(ctx, *inv); err != nil {
			return err
		}

		evt := rfqEvent(EventQuotationSubmitted, rfq, now, []uuid.UUID{input.VendorID})
		evt.Meta["quotation_id"] = q.ID.String()
		evt.Meta["total"] = q.TotalAmount.String()
		evt.Meta["by_admin"] = byAdmin
		*events = append(*events, evt)
		saved = q
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	return saved, nil
}

// QuotationTotals returns subtotal, tax and total where subtotal is the sum
// of line totals and total = subtotal + tax. Line totals are already rounded
// to AmountScale, so the sum matches the stored lines exactly.
func QuotationTotals(items []QuotationItem, tax decimal.Decimal) (subtotal, taxAmount, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal)
	}
	return subtotal, tax, subtotal.Add(tax)
}

func buildQuotationItems(inputs []QuotationItemInput) []QuotationItem {
	items := make([]QuotationItem, 0, len(inputs))
	for _, in := range inputs {
		items = append(items, QuotationItem{
			ID:        uuid.New(),
			RFQItemID: in.RFQItemID,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			LineTotal: in.Quantity.Mul(in.UnitPrice).Round(AmountScale),
			Notes:     in.Notes,
		})
	}
	return items
}

// quotationAuthority reports whether the submission is made on the vendor's
// behalf by staff.
func quotationAuthority(actor shared.Actor, vendorID uuid.UUID) (bool, error) {
	if vendorID == uuid.Nil {
		return false, validationf("vendor id is required")
	}
	if actor.IsStaff() {
		return true, nil
	}
	if actor.IsVendor() {
		if actor.VendorID != vendorID {
			return false, fmt.Errorf("%w: vendor mismatch", ErrForbidden)
		}
		return false, nil
	}
	return false, fmt.Errorf("%w: only vendors or procurement staff may submit quotations", ErrForbidden)
}

// normalizeCurrency validates an ISO 4217 code. Blank input returns "".
func normalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", nil
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", validationf("unknown currency %q", code)
	}
	return unit.String(), nil
}

// GetQuotation returns a quotation. Vendors may only read their own.
func (s *Service) GetQuotation(ctx context.Context, actor shared.Actor, id uuid.UUID) (Quotation, error) {
	q, err := s.repo.GetQuotation(ctx, id)
	if err != nil {
		return Quotation{}, err
	}
	if scope := vendorScope(actor); scope != uuid.Nil && scope != q.VendorID {
		return Quotation{}, notFound("quotation", id)
	}
	return q, nil
}

// GetVendorQuotation returns the quotation a vendor submitted for an RFQ.
func (s *Service) GetVendorQuotation(ctx context.Context, actor shared.Actor, rfqID uuid.UUID) (Quotation, error) {
	if !actor.IsVendor() {
		return Quotation{}, fmt.Errorf("%w: vendor account required", ErrForbidden)
	}
	return s.repo.GetQuotationByVendor(ctx, rfqID, actor.VendorID)
}

var (
	maxQuotationScore = decimal.NewFromInt(100)
	scoreNumerator    = decimal.NewFromInt(100000)
)

// QuotationScore ranks a quotation by price: 100000 / total, capped at 100
// and rounded to two places. Non-positive totals score 0. Totals are compared
// as plain numbers regardless of currency.
func QuotationScore(total decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	score := scoreNumerator.DivRound(total, 2)
	if score.GreaterThan(maxQuotationScore) {
		return maxQuotationScore
	}
	return score
}

// ListQuotations lists the quotations received for an RFQ, best score first.
// Equal scores keep submission order.
func (s *Service) ListQuotations(ctx context.Context, rfqID uuid.UUID) ([]QuotationSummary, error) {
	items, err := s.repo.ListQuotations(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Score = QuotationScore(items[i].TotalAmount)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Score.Equal(items[j].Score) {
			return items[i].Score.GreaterThan(items[j].Score)
		}
		return items[i].SubmittedAt.Before(items[j].SubmittedAt)
	})
	return items, nil
}

// QuotationEvaluation is the score of one quotation.
type QuotationEvaluation struct {
	QuotationID uuid.UUID       `json:"quotation_id"`
	RFQID       uuid.UUID       `json:"rfq_id"`
	VendorID    uuid.UUID       `json:"vendor_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	Score       decimal.Decimal `json:"score"`
}

// EvaluateQuotation scores a single quotation from its current total.
func (s *Service) EvaluateQuotation(ctx context.Context, actor shared.Actor, id uuid.UUID) (QuotationEvaluation, error) {
	q, err := s.GetQuotation(ctx, actor, id)
	if err != nil {
		return QuotationEvaluation{}, err
	}
	return QuotationEvaluation{
		QuotationID: q.ID,
		RFQID:       q.RFQID,
		VendorID:    q.VendorID,
		TotalAmount: q.TotalAmount,
		Currency:    q.Currency,
		Score:       QuotationScore(q.TotalAmount),
	}, nil
}
