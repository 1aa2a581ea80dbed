package procurement

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ApprovalChain is the ordered list of approval steps of a requisition.
// The current step is derived from statuses; nothing else records it.
type ApprovalChain []ApprovalStep

// NormalizeApprovers trims blanks and removes duplicates, keeping the first
// occurrence of each approver.
func NormalizeApprovers(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// NewApprovalChain builds fresh NotStarted steps numbered from 1.
func NewApprovalChain(requisitionID uuid.UUID, approverIDs []string) ApprovalChain {
	chain := make(ApprovalChain, 0, len(approverIDs))
	for i, approver := range approverIDs {
		chain = append(chain, ApprovalStep{
			ID:            uuid.New(),
			RequisitionID: requisitionID,
			Sequence:      i + 1,
			ApproverID:    approver,
			Status:        ApprovalNotStarted,
		})
	}
	return chain
}

// Current returns the index of the Pending step.
func (c ApprovalChain) Current() (int, bool) {
	for i, step := range c {
		if step.Status == ApprovalPending {
			return i, true
		}
	}
	return -1, false
}

// PendingFor returns the index of the Pending step assigned to approverID.
// There is no fallback to other steps.
func (c ApprovalChain) PendingFor(approverID string) (int, bool) {
	idx, ok := c.Current()
	if !ok || c[idx].ApproverID != approverID {
		return -1, false
	}
	return idx, true
}

// Start activates the first step.
func (c ApprovalChain) Start() error {
	if len(c) == 0 {
		return ErrEmptyApprovalChain
	}
	for _, step := range c {
		if step.Status != ApprovalNotStarted {
			return invalidStatef("approval chain already started")
		}
	}
	c[0].Status = ApprovalPending
	return nil
}

// Approve marks step idx approved and activates the next NotStarted step.
// It returns the index of the newly Pending step, or completed=true when
// no step remains.
func (c ApprovalChain) Approve(idx int, at time.Time, comments string) (next int, completed bool, err error) {
	if err := c.checkPending(idx); err != nil {
		return -1, false, err
	}
	c[idx].Status = ApprovalApproved
	c[idx].ActionedAt = &at
	c[idx].Comments = comments
	for i := idx + 1; i < len(c); i++ {
		if c[i].Status == ApprovalNotStarted {
			c[i].Status = ApprovalPending
			return i, false, nil
		}
	}
	return -1, true, nil
}

// Reject marks step idx rejected. Later steps are left untouched.
func (c ApprovalChain) Reject(idx int, at time.Time, comments string) error {
	if err := c.checkPending(idx); err != nil {
		return err
	}
	c[idx].Status = ApprovalRejected
	c[idx].ActionedAt = &at
	c[idx].Comments = comments
	return nil
}

func (c ApprovalChain) checkPending(idx int) error {
	if idx < 0 || idx >= len(c) {
		return fmt.Errorf("%w: approval step %d", ErrNotFound, idx)
	}
	if c[idx].Status != ApprovalPending {
		return invalidStatef("approval step %d is %s", c[idx].Sequence, c[idx].Status)
	}
	return nil
}

// Validate checks the structural invariants of the chain: dense 1-based
// sequences, at most one Pending step, only Approved or Skipped steps before
// it, and nothing activated after a rejection.
func (c ApprovalChain) Validate() error {
	pending := -1
	rejected := -1
	for i, step := range c {
		if step.Sequence != i+1 {
			return fmt.Errorf("approval chain: step %d has sequence %d", i+1, step.Sequence)
		}
		switch step.Status {
		case ApprovalPending:
			if pending >= 0 {
				return fmt.Errorf("approval chain: steps %d and %d both pending", pending+1, i+1)
			}
			if rejected >= 0 {
				return fmt.Errorf("approval chain: step %d pending after rejection", i+1)
			}
			pending = i
		case ApprovalRejected:
			if rejected >= 0 {
				return fmt.Errorf("approval chain: more than one rejected step")
			}
			rejected = i
		case ApprovalApproved:
			if rejected >= 0 && i > rejected {
				return fmt.Errorf("approval chain: step %d approved after rejection", i+1)
			}
		}
	}
	if pending >= 0 {
		for i := 0; i < pending; i++ {
			if s := c[i].Status; s != ApprovalApproved && s != ApprovalSkipped {
				return fmt.Errorf("approval chain: step %d is %s before pending step", i+1, s)
			}
		}
	}
	return nil
}
