package procurement

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/procurepro/procurepro/internal/platform/httpx"
	"github.com/procurepro/procurepro/internal/rbac"
	"github.com/procurepro/procurepro/internal/shared"
)

// Handler manages procurement endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validate: validator.New()}
}

// MountRoutes registers staff procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.RoleAdmin, shared.RoleProcurementManager, shared.RoleApprover))
		r.Post("/requisitions", h.createRequisition)
		r.Get("/requisitions", h.listRequisitions)
		r.Get("/requisitions/{id}", h.showRequisition)
		r.Post("/requisitions/{id}/submit", h.submitRequisition)
		r.Post("/requisitions/{id}/approve", h.approveRequisition)
		r.Post("/requisitions/{id}/reject", h.rejectRequisition)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.RoleAdmin, shared.RoleProcurementManager))
		r.Post("/requisitions/{id}/rfq", h.convertRequisition)

		r.Post("/rfqs", h.createRFQ)
		r.Get("/rfqs", h.listRFQs)
		r.Get("/rfqs/{id}", h.showRFQ)
		r.Put("/rfqs/{id}", h.updateRFQ)
		r.Post("/rfqs/{id}/publish", h.publishRFQ)
		r.Post("/rfqs/{id}/invitations/resend", h.resendInvitations)
		r.Post("/rfqs/{id}/close", h.closeRFQ)
		r.Get("/rfqs/{id}/quotations", h.listQuotations)
		r.Post("/rfqs/{id}/vendors/{vendorID}/quotation", h.submitQuotationOnBehalf)
		r.Get("/quotations/{id}", h.showQuotation)
		r.Get("/quotations/{id}/score", h.scoreQuotation)

		r.Get("/purchase-orders", h.listPurchaseOrders)
		r.Get("/purchase-orders/ready-to-issue", h.listReadyToIssue)
		r.Post("/purchase-orders", h.issuePurchaseOrder)
		r.Get("/purchase-orders/{id}", h.showPurchaseOrder)
		r.Post("/purchase-orders/{id}/complete", h.completePurchaseOrder)
		r.Post("/purchase-orders/{id}/cancel", h.cancelPurchaseOrder)
		r.Get("/purchase-orders/{id}/invoices", h.listInvoices)

		r.Post("/invoices", h.createInvoice)
		r.Get("/invoices/{id}", h.showInvoice)
		r.Post("/invoices/{id}/payment-status", h.setPaymentStatus)
	})
}

// MountVendorPortal registers the vendor self-service routes.
func (h *Handler) MountVendorPortal(r chi.Router) {
	r.Use(h.rbac.RequireVendor())
	r.Get("/rfqs", h.listVendorRFQs)
	r.Get("/rfqs/{id}", h.showVendorRFQ)
	r.Post("/rfqs/{id}/acknowledge", h.acknowledgeRFQ)
	r.Get("/rfqs/{id}/quotation", h.showVendorQuotation)
	r.Post("/rfqs/{id}/quotation", h.submitVendorQuotation)
	r.Get("/purchase-orders", h.listPurchaseOrders)
	r.Get("/purchase-orders/{id}", h.showPurchaseOrder)
	r.Post("/purchase-orders/{id}/acknowledge", h.acknowledgePurchaseOrder)
	r.Post("/invoices", h.createInvoice)
}

type page[T any] struct {
	Data       []T               `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

type list[T any] struct {
	Data []T `json:"data"`
}

// ---- requisitions ----

func (h *Handler) createRequisition(w http.ResponseWriter, r *http.Request) {
	var req createRequisitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	pr, err := h.service.CreateRequisition(r.Context(), actorFrom(r), req.toInput())
	if err != nil {
		h.fail(w, "create requisition", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, pr)
}

func (h *Handler) listRequisitions(w http.ResponseWriter, r *http.Request) {
	filter, pageNo, perPage := listFilterFrom(r)
	items, total, err := h.service.ListRequisitions(r.Context(), actorFrom(r), filter)
	if err != nil {
		h.fail(w, "list requisitions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, page[Requisition]{Data: items, Pagination: shared.NewPagination(pageNo, perPage, total)})
}

func (h *Handler) showRequisition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	pr, err := h.service.GetRequisition(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, "get requisition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) submitRequisition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req submitRequisitionRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	pr, err := h.service.SubmitRequisition(r.Context(), actorFrom(r), id, req.ApproverIDs)
	if err != nil {
		h.fail(w, "submit requisition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) approveRequisition(w http.ResponseWriter, r *http.Request) {
	h.decideRequisition(w, r, h.service.ApproveRequisition)
}

func (h *Handler) rejectRequisition(w http.ResponseWriter, r *http.Request) {
	h.decideRequisition(w, r, h.service.RejectRequisition)
}

func (h *Handler) decideRequisition(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, actor shared.Actor, id uuid.UUID, comments string) (Requisition, error)) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req decisionRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	pr, err := decide(r.Context(), actorFrom(r), id, req.Comments)
	if err != nil {
		h.fail(w, "requisition decision", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) convertRequisition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req convertRequisitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	rfq, err := h.service.ConvertRequisitionToRFQ(r.Context(), actorFrom(r), req.toInput(id))
	if err != nil {
		h.fail(w, "convert requisition", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rfq)
}

// ---- RFQs ----

func (h *Handler) createRFQ(w http.ResponseWriter, r *http.Request) {
	var req createRFQRequest
	if !h.decode(w, r, &req) {
		return
	}
	rfq, err := h.service.CreateRFQ(r.Context(), actorFrom(r), CreateRFQInput{RFQInput: req.toInput(), RequisitionID: req.RequisitionID})
	if err != nil {
		h.fail(w, "create rfq", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rfq)
}

func (h *Handler) listRFQs(w http.ResponseWriter, r *http.Request) {
	filter, pageNo, perPage := listFilterFrom(r)
	items, total, err := h.service.ListRFQs(r.Context(), filter)
	if err != nil {
		h.fail(w, "list rfqs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, page[RFQ]{Data: items, Pagination: shared.NewPagination(pageNo, perPage, total)})
}

func (h *Handler) showRFQ(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rfq, err := h.service.GetRFQ(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, "get rfq", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rfq)
}

func (h *Handler) updateRFQ(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req rfqRequest
	if !h.decode(w, r, &req) {
		return
	}
	rfq, err := h.service.UpdateRFQ(r.Context(), actorFrom(r), id, req.toInput())
	if err != nil {
		h.fail(w, "update rfq", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rfq)
}

func (h *Handler) publishRFQ(w http.ResponseWriter, r *http.Request) {
	h.sendInvitations(w, r, h.service.PublishRFQ)
}

func (h *Handler) resendInvitations(w http.ResponseWriter, r *http.Request) {
	h.sendInvitations(w, r, h.service.ResendInvitations)
}

func (h *Handler) sendInvitations(w http.ResponseWriter, r *http.Request, send func(ctx context.Context, actor shared.Actor, id uuid.UUID, vendorIDs []uuid.UUID) (RFQ, error)) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req vendorSubsetRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	rfq, err := send(r.Context(), actorFrom(r), id, req.VendorIDs)
	if err != nil {
		h.fail(w, "send rfq invitations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rfq)
}

func (h *Handler) closeRFQ(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rfq, err := h.service.CloseRFQ(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, "close rfq", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rfq)
}

// ---- quotations ----

func (h *Handler) listQuotations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	items, err := h.service.ListQuotations(r.Context(), id)
	if err != nil {
		h.fail(w, "list quotations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list[QuotationSummary]{Data: items})
}

func (h *Handler) scoreQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	eval, err := h.service.EvaluateQuotation(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, "score quotation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, eval)
}

func (h *Handler) showQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	q, err := h.service.GetQuotation(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, "get quotation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) submitQuotationOnBehalf(w http.ResponseWriter, r *http.Request) {
	rfqID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	vendorID, ok := pathID(w, r, "vendorID")
	if !ok {
		return
	}
	h.submitQuotation(w, r, rfqID, vendorID)
}

func (h *Handler) submitQuotation(w http.ResponseWriter, r *http.Request, rfqID, vendorID uuid.UUID) {
	var req quotationRequest
	if !h.decode(w, r, &req) {
		return
	}
	q, err := h.service.SubmitQuotation(r.Context(), actorFrom(r), req.toInput(rfqID, vendorID))
	if err != nil {
		h.fail(w, "submit quotation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

// ---- purchase orders ----

func (h *Handler) listPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	filter, pageNo, perPage := listFilterFrom(r)
	items, total, err := h.service.ListPurchaseOrders(r.Context(), actorFrom(r), filter)
	if err != nil {
		h.fail(w, "list purchase orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, page[PurchaseOrder]{Data: items, Pagination: shared.NewPagination(pageNo, perPage, total)})
}

func (h *Handler) listReadyToIssue(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListReadyToIssue(r.Context())
	if err != nil {
		h.fail(w, "list ready to issue", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list[QuotationSummary]{Data: items})
}

func (h *Handler) issuePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req issuePurchaseOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	po, err := h.service.IssuePurchaseOrder(r.Context(), actorFrom(r), req.QuotationID, req.Amendments)
	if err != nil {
		h.fail(w, "issue purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) showPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	po, err := h.service.GetPurchaseOrder(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, "get purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) acknowledgePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionPurchaseOrder(w, r, h.service.AcknowledgePurchaseOrder)
}

func (h *Handler) completePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionPurchaseOrder(w, r, h.service.CompletePurchaseOrder)
}

func (h *Handler) cancelPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionPurchaseOrder(w, r, h.service.CancelPurchaseOrder)
}

func (h *Handler) transitionPurchaseOrder(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, actor shared.Actor, id uuid.UUID) (PurchaseOrder, error)) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	po, err := apply(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, "purchase order transition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

// ---- invoices ----

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	inv, err := h.service.CreateInvoice(r.Context(), actorFrom(r), req.PurchaseOrderID, req.Amount)
	if err != nil {
		h.fail(w, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) showInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) setPaymentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req paymentStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	inv, err := h.service.SetInvoicePaymentStatus(r.Context(), actorFrom(r), id, PaymentStatus(req.PaymentStatus))
	if err != nil {
		h.fail(w, "set payment status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	items, err := h.service.ListInvoicesForPurchaseOrder(r.Context(), id)
	if err != nil {
		h.fail(w, "list invoices", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list[Invoice]{Data: items})
}

// ---- vendor portal ----

func (h *Handler) listVendorRFQs(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListVendorRFQs(r.Context(), actorFrom(r))
	if err != nil {
		h.fail(w, "list vendor rfqs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list[VendorRFQ]{Data: items})
}

func (h *Handler) showVendorRFQ(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.service.GetVendorRFQ(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, "get vendor rfq", err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) acknowledgeRFQ(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req acknowledgeRFQRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := actorFrom(r)
	inv, err := h.service.VendorAcknowledge(r.Context(), actor, id, actor.VendorID, *req.Accepted, req.Notes)
	if err != nil {
		h.fail(w, "acknowledge rfq", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) showVendorQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	q, err := h.service.GetVendorQuotation(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, "get vendor quotation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) submitVendorQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	h.submitQuotation(w, r, id, actorFrom(r).VendorID)
}

// ---- helpers ----

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := httpx.Validate(h.validate, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, target any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return h.decode(w, r, target)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if isClientError(err) {
		h.logger.Debug(op, slog.Any("error", err))
	} else {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func isClientError(err error) bool {
	for _, target := range []error{shared.ErrNotFound, shared.ErrValidation, shared.ErrInvalidState, shared.ErrForbidden, shared.ErrConflict} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func actorFrom(r *http.Request) shared.Actor {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

func listFilterFrom(r *http.Request) (ListFilter, int, int) {
	q := r.URL.Query()
	pageNo, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	limit, offset := shared.LimitOffset(pageNo, perPage)
	return ListFilter{Status: q.Get("status"), Limit: limit, Offset: offset}, pageNo, perPage
}
