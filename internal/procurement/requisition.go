package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/procurepro/procurepro/internal/shared"
	"github.com/procurepro/procurepro/internal/users"
)

// CreateRequisitionInput describes a new requisition.
type CreateRequisitionInput struct {
	Title       string
	Description string
	CostCenter  string
	Department  string
	Urgency     Urgency
	NeededBy    *time.Time
	Items       []RequisitionItemInput
	Attachments []AttachmentInput
	ApproverIDs []string
}

// RequisitionItemInput describes a requested line.
type RequisitionItemInput struct {
	Name              string
	Specification     string
	Quantity          int
	UnitOfMeasure     string
	EstimatedUnitCost *decimal.Decimal
}

// AttachmentInput references an uploaded file.
type AttachmentInput struct {
	FileName   string
	StorageURL string
}

// CreateRequisition stores a Draft requisition with a NotStarted approval chain.
func (s *Service) CreateRequisition(ctx context.Context, actor shared.Actor, input CreateRequisitionInput) (Requisition, error) {
	if strings.TrimSpace(input.Title) == "" {
		return Requisition{}, validationf("title is required")
	}
	if len(input.Items) == 0 {
		return Requisition{}, validationf("at least one item is required")
	}
	if input.Urgency == "" {
		input.Urgency = UrgencyMedium
	}
	if !input.Urgency.Valid() {
		return Requisition{}, validationf("unknown urgency %q", input.Urgency)
	}
	approvers := NormalizeApprovers(input.ApproverIDs)
	if len(approvers) == 0 {
		return Requisition{}, ErrEmptyApprovalChain
	}
	if err := s.resolveApprovers(ctx, approvers); err != nil {
		return Requisition{}, err
	}

	now := s.now()
	pr := Requisition{
		ID:          uuid.New(),
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		CostCenter:  input.CostCenter,
		Department:  input.Department,
		Urgency:     input.Urgency,
		NeededBy:    input.NeededBy,
		Status:      RequisitionDraft,
		RequestedBy: actor.UserID,
		CreatedAt:   now,
	}
	for i, item := range input.Items {
		if strings.TrimSpace(item.Name) == "" {
			return Requisition{}, validationf("item %d: name is required", i+1)
		}
		if item.Quantity <= 0 {
			return Requisition{}, validationf("item %d: quantity must be positive", i+1)
		}
		if item.EstimatedUnitCost != nil && item.EstimatedUnitCost.IsNegative() {
			return Requisition{}, validationf("item %d: estimated unit cost must not be negative", i+1)
		}
		if item.EstimatedUnitCost != nil {
			if err := checkAmount(fmt.Sprintf("item %d: estimated unit cost", i+1), *item.EstimatedUnitCost); err != nil {
				return Requisition{}, err
			}
		}
		pr.Items = append(pr.Items, RequisitionItem{
			ID:                uuid.New(),
			Name:              strings.TrimSpace(item.Name),
			Specification:     item.Specification,
			Quantity:          item.Quantity,
			UnitOfMeasure:     item.UnitOfMeasure,
			EstimatedUnitCost: item.EstimatedUnitCost,
		})
	}
	attachments, err := buildAttachments(input.Attachments, actor.UserID, now)
	if err != nil {
		return Requisition{}, err
	}
	pr.Attachments = attachments
	pr.Approvals = NewApprovalChain(pr.ID, approvers)

	err = s.commit(ctx, actor, func(ctx context.Context, tx TxRepository, events *[]Event) error {
		number, err := s.refs.Generate(ctx, tx, PrefixRequisition)
		if err != nil {
			return err
		}
		pr.Number = number
		if err := tx.InsertRequisition(ctx, pr); err != nil {
			return err
		}
		*events = append(*events, requisitionEvent(EventRequisitionCreated, pr, now))
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	return pr, nil
}

// SubmitRequisition moves a Draft requisition into PendingApproval and
// activates the first step. Non-empty approverIDs replace the whole chain.
func (s *Service) SubmitRequisition(ctx context.Context, actor shared.Actor, id uuid.UUID, approverIDs []string) (Requisition, error) {
	approvers := NormalizeApprovers(approverIDs)
	if len(approvers) > 0 {
		if err := s.resolveApprovers(ctx, approvers); err != nil {
			return Requisition{}, err
		}
	}
	var updated Requisition
	err := s.commit(ctx, actor, func(ctx context.Context, tx TxRepository, events *[]Event) error {
		pr, err := tx.LockRequisition(ctx, id)
		if err != nil {
			return err
		}
		if !canActOnRequisition(actor, pr) {
			return fmt.Errorf("%w: only the requester may submit", ErrForbidden)
		}
		if pr.Status != RequisitionDraft {
			return invalidStatef("requisition %s is %s", pr.Number, pr.Status)
		}
		if len(approvers) > 0 {
			pr.Approvals = NewApprovalChain(pr.ID, approvers)
			if err := tx.ReplaceApprovalChain(ctx, pr.ID, pr.Approvals); err != nil {
				return err
			}
		}
		if err := pr.Approvals.Start(); err != nil {
			return err
		}
		now := s.now()
		pr.Status = RequisitionPendingApproval
		pr.SubmittedAt = &now
		if err := tx.UpdateRequisitionStatus(ctx, pr); err != nil {
			return err
		}
		if err := tx.UpdateApprovalStep(ctx, pr.Approvals[0], ApprovalNotStarted); err != nil {
			return err
		}
		evt := requisitionEvent(EventRequisitionSubmitted, pr, now)
		evt.ApproverID = pr.Approvals[0].ApproverID
		*events = append(*events, evt)
		updated = pr
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	return updated, nil
}

// ApproveRequisition approves the caller's Pending step and either activates
// the next step or marks the requisition Approved.
func (s *Service) ApproveRequisition(ctx context.Context, actor shared.Actor, id uuid.UUID, comments string) (Requisition, error) {
	var updated Requisition
	err := s.commit(ctx, actor, func(ctx context.Context, tx TxRepository, events *[]Event) error {
		pr, idx, err := s.lockForDecision(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		now := s.now()
		next, completed, err := pr.Approvals.Approve(idx, now, comments)
		if err != nil {
			return err
		}
		if err := tx.UpdateApprovalStep(ctx, pr.Approvals[idx], ApprovalPending); err != nil {
			return err
		}
		evt := requisitionEvent(EventRequisitionStepApproved, pr, now)
		evt.Comments = comments
		if completed {
			pr.Status = RequisitionApproved
			pr.ApprovedAt = &now
			if err := tx.UpdateRequisitionStatus(ctx, pr); err != nil {
				return err
			}
			evt.Kind = EventRequisitionApproved
		} else {
			if err := tx.UpdateApprovalStep(ctx, pr.Approvals[next], ApprovalNotStarted); err != nil {
				return err
			}
			evt.ApproverID = pr.Approvals[next].ApproverID
		}
		evt.Meta["status"] = string(pr.Status)
		*events = append(*events, evt)
		updated = pr
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	return updated, nil
}

// RejectRequisition rejects the caller's Pending step. The requisition becomes
// Rejected, which is terminal.
func (s *Service) RejectRequisition(ctx context.Context, actor shared.Actor, id uuid.UUID, comments string) (Requisition, error) {
	var updated Requisition
	err := s.commit(ctx, actor, func(ctx context.Context, tx TxRepository, events *[]Event) error {
		pr, idx, err := s.lockForDecision(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		now := s.now()
		if err := pr.Approvals.Reject(idx, now, comments); err != nil {
			return err
		}
		if err := tx.UpdateApprovalStep(ctx, pr.Approvals[idx], ApprovalPending); err != nil {
			return err
		}
		pr.Status = RequisitionRejected
		if err := tx.UpdateRequisitionStatus(ctx, pr); err != nil {
			return err
		}
		evt := requisitionEvent(EventRequisitionRejected, pr, now)
		evt.Comments = comments
		*events = append(*events, evt)
		updated = pr
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	return updated, nil
}

func (s *Service) lockForDecision(ctx context.Context, tx TxRepository, actor shared.Actor, id uuid.UUID) (Requisition, int, error) {
	pr, err := tx.LockRequisition(ctx, id)
	if err != nil {
		return Requisition{}, -1, err
	}
	if pr.Status != RequisitionPendingApproval {
		return Requisition{}, -1, invalidStatef("requisition %s is %s", pr.Number, pr.Status)
	}
	idx, ok := pr.Approvals.PendingFor(actor.UserID)
	if !ok {
		return Requisition{}, -1, ErrNotCurrentApprover
	}
	return pr, idx, nil
}

// GetRequisition returns a requisition visible to the actor.
func (s *Service) GetRequisition(ctx context.Context, actor shared.Actor, id uuid.UUID) (Requisition, error) {
	pr, err := s.repo.GetRequisition(ctx, id)
	if err != nil {
		return Requisition{}, err
	}
	if !canViewRequisition(actor, pr) {
		return Requisition{}, notFound("requisition", id)
	}
	return pr, nil
}

// ListRequisitions lists requisitions; non-staff callers only see those they
// requested or approve.
func (s *Service) ListRequisitions(ctx context.Context, actor shared.Actor, filter ListFilter) ([]Requisition, int, error) {
	if !actor.IsStaff() {
		filter.Participant = actor.UserID
	}
	return s.repo.ListRequisitions(ctx, filter)
}

func (s *Service) resolveApprovers(ctx context.Context, ids []string) error {
	if _, err := s.identities.ResolveUsers(ctx, ids); err != nil {
		var unknown *users.UnknownUsersError
		if errors.As(err, &unknown) {
			return validationf("unknown approvers %s", strings.Join(unknown.IDs, ", "))
		}
		return err
	}
	return nil
}

func buildAttachments(inputs []AttachmentInput, uploadedBy string, at time.Time) ([]Attachment, error) {
	out := make([]Attachment, 0, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(in.FileName) == "" || strings.TrimSpace(in.StorageURL) == "" {
			return nil, validationf("attachment %d: file name and storage url are required", i+1)
		}
		out = append(out, Attachment{
			ID:         uuid.New(),
			FileName:   strings.TrimSpace(in.FileName),
			StorageURL: strings.TrimSpace(in.StorageURL),
			UploadedBy: uploadedBy,
			UploadedAt: at,
		})
	}
	return out, nil
}

func requisitionEvent(kind EventKind, pr Requisition, at time.Time) Event {
	return Event{
		Kind:        kind,
		ID:          pr.ID,
		Number:      pr.Number,
		Title:       pr.Title,
		At:          at,
		RequesterID: pr.RequestedBy,
		Meta:        map[string]any{"status": string(pr.Status)},
	}
}
