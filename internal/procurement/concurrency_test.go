package procurement

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/procurepro/procurepro/internal/shared"
)

// staleOrderCheck reports no purchase order for any quotation, as a
// transaction would whose check ran before a competing insert committed.
type staleOrderCheck struct {
	*memoryTx
}

func (staleOrderCheck) PurchaseOrderExists(context.Context, uuid.UUID) (bool, error) {
	return false, nil
}

// staleRequisitionLock returns the requisition as it was before a competing
// decision committed.
type staleRequisitionLock struct {
	*memoryTx
	snapshot Requisition
}

func (s staleRequisitionLock) LockRequisition(context.Context, uuid.UUID) (Requisition, error) {
	return cloneRequisition(s.snapshot), nil
}

// runConcurrently starts n calls of fn at once and returns their errors.
func runConcurrently(n int, fn func() error) []error {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func requireSingleWinner(t *testing.T, errs []error) {
	t.Helper()
	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, shared.ErrConflict)
	}
	require.Equal(t, 1, wins)
}

func TestConcurrentPurchaseOrderIssuance(t *testing.T) {
	f := newFixture(t)
	_, q := f.quotationWorth(t, "1000")

	errs := runConcurrently(8, func() error {
		_, err := f.svc.IssuePurchaseOrder(context.Background(), manager, q.ID, "")
		return err
	})
	requireSingleWinner(t, errs)
	require.Len(t, f.store.orders, 1)
}

func TestPurchaseOrderUniqueIndexResolvesStaleCheck(t *testing.T) {
	f := newFixture(t)
	_, q := f.quotationWorth(t, "1000")
	f.store.wrapTx = func(tx *memoryTx) TxRepository { return staleOrderCheck{tx} }

	errs := runConcurrently(2, func() error {
		_, err := f.svc.IssuePurchaseOrder(context.Background(), manager, q.ID, "")
		return err
	})
	requireSingleWinner(t, errs)
	for _, err := range errs {
		if err != nil {
			require.NotErrorIs(t, err, ErrPurchaseOrderExists)
			require.Contains(t, err.Error(), "ux_purchase_orders_quotation")
		}
	}
	require.Len(t, f.store.orders, 1)
	require.Equal(t, 1, f.metrics.counts["purchase_order.issued"])
}

func TestStaleApprovalDecisionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr := f.createRequisition(t, approverA.UserID, approverB.UserID)
	pr, err := f.svc.SubmitRequisition(ctx, requester, pr.ID, nil)
	require.NoError(t, err)
	snapshot := cloneRequisition(pr)

	_, err = f.svc.ApproveRequisition(ctx, approverA, pr.ID, "ok")
	require.NoError(t, err)

	f.store.wrapTx = func(tx *memoryTx) TxRepository {
		return staleRequisitionLock{memoryTx: tx, snapshot: snapshot}
	}
	_, err = f.svc.RejectRequisition(ctx, approverA, pr.ID, "changed my mind")
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = f.svc.ApproveRequisition(ctx, approverA, pr.ID, "again")
	require.ErrorIs(t, err, shared.ErrConflict)
	f.store.wrapTx = nil

	stored, err := f.store.GetRequisition(ctx, pr.ID)
	require.NoError(t, err)
	require.Equal(t, RequisitionPendingApproval, stored.Status)
	require.Equal(t, ApprovalApproved, stored.Approvals[0].Status)
	require.Equal(t, "ok", stored.Approvals[0].Comments)
	require.Equal(t, ApprovalPending, stored.Approvals[1].Status)
}

func TestConcurrentDecisionsOnOneStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr := f.createRequisition(t, approverA.UserID, approverB.UserID)
	pr, err := f.svc.SubmitRequisition(ctx, requester, pr.ID, nil)
	require.NoError(t, err)
	snapshot := cloneRequisition(pr)
	f.store.wrapTx = func(tx *memoryTx) TxRepository {
		return staleRequisitionLock{memoryTx: tx, snapshot: snapshot}
	}

	var mu sync.Mutex
	calls := 0
	errs := runConcurrently(2, func() error {
		mu.Lock()
		reject := calls%2 == 1
		calls++
		mu.Unlock()
		if reject {
			_, err := f.svc.RejectRequisition(ctx, approverA, pr.ID, "no")
			return err
		}
		_, err := f.svc.ApproveRequisition(ctx, approverA, pr.ID, "yes")
		return err
	})
	requireSingleWinner(t, errs)

	f.store.wrapTx = nil
	stored, err := f.store.GetRequisition(ctx, pr.ID)
	require.NoError(t, err)
	pending := 0
	for _, step := range stored.Approvals {
		if step.Status == ApprovalPending {
			pending++
		}
	}
	require.LessOrEqual(t, pending, 1)
	require.NotEqual(t, ApprovalPending, stored.Approvals[0].Status)
}
