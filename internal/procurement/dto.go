package procurement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type attachmentRequest struct {
	FileName   string `json:"file_name" validate:"required,max=255"`
	StorageURL string `json:"storage_url" validate:"required,url"`
}

func toAttachmentInputs(in []attachmentRequest) []AttachmentInput {
	out := make([]AttachmentInput, 0, len(in))
	for _, a := range in {
		out = append(out, AttachmentInput{FileName: a.FileName, StorageURL: a.StorageURL})
	}
	return out
}

type requisitionItemRequest struct {
	Name              string           `json:"name" validate:"required,max=200"`
	Specification     string           `json:"specification"`
	Quantity          int              `json:"quantity" validate:"gt=0"`
	UnitOfMeasure     string           `json:"unit_of_measure" validate:"max=32"`
	EstimatedUnitCost *decimal.Decimal `json:"estimated_unit_cost"`
}

type createRequisitionRequest struct {
	Title       string                   `json:"title" validate:"required,max=200"`
	Description string                   `json:"description"`
	CostCenter  string                   `json:"cost_center" validate:"max=64"`
	Department  string                   `json:"department" validate:"max=64"`
	Urgency     string                   `json:"urgency" validate:"omitempty,oneof=Low Medium High Critical"`
	NeededBy    *time.Time               `json:"needed_by"`
	Items       []requisitionItemRequest `json:"items" validate:"required,min=1,dive"`
	Attachments []attachmentRequest      `json:"attachments" validate:"dive"`
	ApproverIDs []string                 `json:"approver_ids" validate:"required,min=1,dive,required"`
}

func (r createRequisitionRequest) toInput() CreateRequisitionInput {
	items := make([]RequisitionItemInput, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, RequisitionItemInput{
			Name:              it.Name,
			Specification:     it.Specification,
			Quantity:          it.Quantity,
			UnitOfMeasure:     it.UnitOfMeasure,
			EstimatedUnitCost: it.EstimatedUnitCost,
		})
	}
	return CreateRequisitionInput{
		Title:       r.Title,
		Description: r.Description,
		CostCenter:  r.CostCenter,
		Department:  r.Department,
		Urgency:     Urgency(r.Urgency),
		NeededBy:    r.NeededBy,
		Items:       items,
		Attachments: toAttachmentInputs(r.Attachments),
		ApproverIDs: r.ApproverIDs,
	}
}

type submitRequisitionRequest struct {
	ApproverIDs []string `json:"approver_ids" validate:"dive,required"`
}

type decisionRequest struct {
	Comments string `json:"comments" validate:"max=2000"`
}

type rfqItemRequest struct {
	Description   string `json:"description" validate:"required,max=500"`
	Specification string `json:"specification"`
	Quantity      int    `json:"quantity" validate:"gt=0"`
	Unit          string `json:"unit" validate:"max=32"`
}

type vendorInviteRequest struct {
	VendorID uuid.UUID `json:"vendor_id" validate:"required"`
	Notes    string    `json:"notes"`
}

func toVendorInvites(in []vendorInviteRequest) []VendorInviteInput {
	out := make([]VendorInviteInput, 0, len(in))
	for _, v := range in {
		out = append(out, VendorInviteInput{VendorID: v.VendorID, Notes: v.Notes})
	}
	return out
}

type rfqRequest struct {
	Title       string                `json:"title" validate:"required,max=200"`
	Terms       string                `json:"terms"`
	DueDate     time.Time             `json:"due_date" validate:"required"`
	Items       []rfqItemRequest      `json:"items" validate:"required,min=1,dive"`
	Attachments []attachmentRequest   `json:"attachments" validate:"dive"`
	Vendors     []vendorInviteRequest `json:"vendors" validate:"required,min=1,dive"`
}

func (r rfqRequest) toInput() RFQInput {
	items := make([]RFQItemInput, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, RFQItemInput{
			Description:   it.Description,
			Specification: it.Specification,
			Quantity:      it.Quantity,
			Unit:          it.Unit,
		})
	}
	return RFQInput{
		Title:       r.Title,
		Terms:       r.Terms,
		DueDate:     r.DueDate,
		Items:       items,
		Attachments: toAttachmentInputs(r.Attachments),
		Vendors:     toVendorInvites(r.Vendors),
	}
}

type createRFQRequest struct {
	rfqRequest
	RequisitionID *uuid.UUID `json:"requisition_id"`
}

type convertRequisitionRequest struct {
	Title       string                `json:"title" validate:"max=200"`
	Terms       string                `json:"terms"`
	DueDate     time.Time             `json:"due_date" validate:"required"`
	Attachments []attachmentRequest   `json:"attachments" validate:"dive"`
	Vendors     []vendorInviteRequest `json:"vendors" validate:"required,min=1,dive"`
}

func (r convertRequisitionRequest) toInput(requisitionID uuid.UUID) ConvertRequisitionInput {
	return ConvertRequisitionInput{
		RequisitionID: requisitionID,
		Title:         r.Title,
		Terms:         r.Terms,
		DueDate:       r.DueDate,
		Attachments:   toAttachmentInputs(r.Attachments),
		Vendors:       toVendorInvites(r.Vendors),
	}
}

type vendorSubsetRequest struct {
	VendorIDs []uuid.UUID `json:"vendor_ids"`
}

type acknowledgeRFQRequest struct {
	Accepted *bool  `json:"accepted" validate:"required"`
	Notes    string `json:"notes" validate:"max=2000"`
}

type quotationItemRequest struct {
	RFQItemID uuid.UUID       `json:"rfq_item_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Notes     string          `json:"notes"`
}

type quotationRequest struct {
	Items                []quotationItemRequest `json:"items" validate:"required,min=1,dive"`
	TaxAmount            decimal.Decimal        `json:"tax_amount"`
	Currency             string                 `json:"currency" validate:"omitempty,len=3"`
	ExpectedDeliveryDate *time.Time             `json:"expected_delivery_date"`
	DeliveryTerms        string                 `json:"delivery_terms"`
	Remarks              string                 `json:"remarks"`
	Attachments          []attachmentRequest    `json:"attachments" validate:"dive"`
	AdminNote            string                 `json:"admin_note"`
}

func (r quotationRequest) toInput(rfqID, vendorID uuid.UUID) SubmitQuotationInput {
	items := make([]QuotationItemInput, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, QuotationItemInput{
			RFQItemID: it.RFQItemID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Notes:     it.Notes,
		})
	}
	return SubmitQuotationInput{
		RFQID:                rfqID,
		VendorID:             vendorID,
		Items:                items,
		TaxAmount:            r.TaxAmount,
		Currency:             r.Currency,
		ExpectedDeliveryDate: r.ExpectedDeliveryDate,
		DeliveryTerms:        r.DeliveryTerms,
		Remarks:              r.Remarks,
		Attachments:          toAttachmentInputs(r.Attachments),
		AdminNote:            r.AdminNote,
	}
}

type issuePurchaseOrderRequest struct {
	QuotationID uuid.UUID `json:"quotation_id" validate:"required"`
	Amendments  string    `json:"amendments" validate:"max=4000"`
}

type createInvoiceRequest struct {
	PurchaseOrderID uuid.UUID       `json:"purchase_order_id" validate:"required"`
	Amount          decimal.Decimal `json:"amount"`
}

type paymentStatusRequest struct {
	PaymentStatus string `json:"payment_status" validate:"required,oneof=Pending PartiallyPaid Paid"`
}
