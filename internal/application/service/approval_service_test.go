package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicworks/budget-backend/internal/application/port"
	"github.com/civicworks/budget-backend/internal/domain/apperr"
	"github.com/civicworks/budget-backend/internal/domain/entity"
	"github.com/civicworks/budget-backend/internal/domain/workflow"
	"github.com/civicworks/budget-backend/internal/infrastructure/persistence/memory"
)

var twoLevelChain = []LevelSpec{
	{Order: 1, RequiredRole: "PROJECT_MANAGER"},
	{Order: 2, RequiredRole: "FINANCE_OFFICER"},
}

func newApprovalService(notifier CompletionNotifier) (ApprovalService, *memory.Store) {
	store := memory.NewStore()
	svc := NewApprovalService(store.Approvals(), store.TxManager(), notifier, nopLogger{})
	return svc, store
}

func TestApprovalService_Submit_Validation(t *testing.T) {
	svc, _ := newApprovalService(nil)
	ctx := context.Background()

	tests := []struct {
		name       string
		entityType string
		entityID   int64
		requester  string
		levels     []LevelSpec
	}{
		{"unknown entity type", "INVOICE", 1, "user-1", twoLevelChain},
		{"non-positive entity id", entity.EntityTypeProject, 0, "user-1", twoLevelChain},
		{"blank requester", entity.EntityTypeProject, 1, "  ", twoLevelChain},
		{"no levels", entity.EntityTypeProject, 1, "user-1", nil},
		{"misordered levels", entity.EntityTypeProject, 1, "user-1", []LevelSpec{
			{Order: 2, RequiredRole: "A"}, {Order: 1, RequiredRole: "B"},
		}},
		{"level without role", entity.EntityTypeProject, 1, "user-1", []LevelSpec{
			{Order: 1, RequiredRole: "  "},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(ctx, tt.entityType, tt.entityID, tt.requester, tt.levels)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

// txScopeKey marks contexts handed out by the transaction manager, the way
// the SQLite manager injects its executor.
type txScopeKey struct{}

type markingTxManager struct{}

func (markingTxManager) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(context.WithValue(ctx, txScopeKey{}, true))
}

type txScopedApprovalRepo struct {
	port.ApprovalRepository
	createdInTx bool
}

func (r *txScopedApprovalRepo) Create(ctx context.Context, req *entity.ApprovalRequest) error {
	r.createdInTx, _ = ctx.Value(txScopeKey{}).(bool)
	return r.ApprovalRepository.Create(ctx, req)
}

// Submit issues one request insert plus N level inserts; they must share a
// transaction so a failed level insert can never leave an orphan request with
// a partial chain.
func TestApprovalService_SubmitWritesChainTransactionally(t *testing.T) {
	store := memory.NewStore()
	repo := &txScopedApprovalRepo{ApprovalRepository: store.Approvals()}
	svc := NewApprovalService(repo, markingTxManager{}, nil, nopLogger{})
	ctx := context.Background()

	req, err := svc.Submit(ctx, entity.EntityTypeProject, 1, "requester-1", twoLevelChain)
	require.NoError(t, err)
	assert.True(t, repo.createdInTx, "request and level chain must be written in one transaction")

	got, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, got.Levels, 2)
}

func TestApprovalService_FullChainApproval(t *testing.T) {
	svc, _ := newApprovalService(nil)
	ctx := context.Background()

	req, err := svc.Submit(ctx, entity.EntityTypePurchaseOrder, 7, "requester-1", twoLevelChain)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StatePending), req.Status)
	assert.Equal(t, 0, req.CurrentLevel)
	assert.NotEmpty(t, req.Reference)

	// Level 1 approval advances the chain but the request stays PENDING.
	req, err = svc.Approve(ctx, req.ID, "pm-1", []string{"PROJECT_MANAGER"}, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StatePending), req.Status)
	assert.Equal(t, 1, req.CurrentLevel)

	// Level 2 approval is terminal.
	req, err = svc.Approve(ctx, req.ID, "fin-1", []string{"FINANCE_OFFICER"}, "budget covered")
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateApproved), req.Status)
	require.Len(t, req.Decisions, 2)
	assert.Equal(t, "pm-1", req.Decisions[0].ApproverID)
	assert.Equal(t, "fin-1", req.Decisions[1].ApproverID)

	// No decision can follow a terminal state.
	_, err = svc.Approve(ctx, req.ID, "fin-1", []string{"FINANCE_OFFICER"}, "again")
	assert.ErrorIs(t, err, apperr.ErrAlreadyProcessed)
}

func TestApprovalService_OutOfOrderApproverRejected(t *testing.T) {
	svc, _ := newApprovalService(nil)
	ctx := context.Background()

	req, err := svc.Submit(ctx, entity.EntityTypeBudget, 3, "requester-1", twoLevelChain)
	require.NoError(t, err)

	// The level-2 approver cannot act while level 1 is still open.
	_, err = svc.Approve(ctx, req.ID, "fin-1", []string{"FINANCE_OFFICER"}, "")
	assert.ErrorIs(t, err, apperr.ErrUnauthorizedApprover)

	// A role the chain never mentions is refused too.
	_, err = svc.Approve(ctx, req.ID, "someone", []string{"INTERN"}, "")
	assert.ErrorIs(t, err, apperr.ErrUnauthorizedApprover)

	// The request is untouched.
	got, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentLevel)
	assert.Empty(t, got.Decisions)
}

func TestApprovalService_RejectAtAnyLevelIsTerminal(t *testing.T) {
	svc, _ := newApprovalService(nil)
	ctx := context.Background()

	req, err := svc.Submit(ctx, entity.EntityTypeProject, 5, "requester-1", twoLevelChain)
	require.NoError(t, err)

	req, err = svc.Approve(ctx, req.ID, "pm-1", []string{"PROJECT_MANAGER"}, "")
	require.NoError(t, err)

	// A rejection requires a comment.
	_, err = svc.Reject(ctx, req.ID, "fin-1", []string{"FINANCE_OFFICER"}, "  ")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	req, err = svc.Reject(ctx, req.ID, "fin-1", []string{"FINANCE_OFFICER"}, "over budget")
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateRejected), req.Status)

	// Terminal: no approval, rejection or cancellation can follow.
	_, err = svc.Approve(ctx, req.ID, "fin-1", []string{"FINANCE_OFFICER"}, "")
	assert.ErrorIs(t, err, apperr.ErrAlreadyProcessed)
	_, err = svc.Cancel(ctx, req.ID, "requester-1", "")
	assert.ErrorIs(t, err, apperr.ErrAlreadyProcessed)
}

func TestApprovalService_CancelRules(t *testing.T) {
	svc, _ := newApprovalService(nil)
	ctx := context.Background()

	req, err := svc.Submit(ctx, entity.EntityTypeProject, 9, "requester-1", twoLevelChain)
	require.NoError(t, err)

	// Only the requester may cancel.
	_, err = svc.Cancel(ctx, req.ID, "someone-else", "")
	assert.ErrorIs(t, err, apperr.ErrUnauthorizedCancel)

	cancelled, err := svc.Cancel(ctx, req.ID, "requester-1", "submitted by mistake")
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateCancelled), cancelled.Status)
}

func TestApprovalService_CancelAfterDecisionRefused(t *testing.T) {
	svc, _ := newApprovalService(nil)
	ctx := context.Background()

	req, err := svc.Submit(ctx, entity.EntityTypeProject, 9, "requester-1", twoLevelChain)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, req.ID, "pm-1", []string{"PROJECT_MANAGER"}, "")
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, req.ID, "requester-1", "changed my mind")
	assert.ErrorIs(t, err, apperr.ErrCannotCancel)
}

// A gated transaction stays PENDING through the chain and is folded into the
// ledger only by the final approval.
func TestApprovalService_LedgerBridge_Approved(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	bridge := NewLedgerBridge(f.transactions, nopLogger{})
	approvals := NewApprovalService(f.store.Approvals(), f.store.TxManager(), bridge, nopLogger{})

	line := f.allocate(t, "50000.00")
	tx, err := f.transactions.Record(ctx, line.ID, entity.TxTypeExpense, dec("20000.00"), "server hardware", nil, "requester-1")
	require.NoError(t, err)

	req, err := approvals.Submit(ctx, entity.EntityTypeTransaction, tx.ID, "requester-1", twoLevelChain)
	require.NoError(t, err)

	_, err = approvals.Approve(ctx, req.ID, "pm-1", []string{"PROJECT_MANAGER"}, "")
	require.NoError(t, err)

	// Mid-chain the transaction is still pending and nothing is spent.
	u, err := f.budgets.Utilization(ctx, line.ID)
	require.NoError(t, err)
	assert.True(t, u.Spent.IsZero())

	_, err = approvals.Approve(ctx, req.ID, "fin-1", []string{"FINANCE_OFFICER"}, "approved")
	require.NoError(t, err)

	got, err := f.transactions.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TxStatusApproved, got.Status)
	assert.Equal(t, "fin-1", got.ApprovedBy)

	u, err = f.budgets.Utilization(ctx, line.ID)
	require.NoError(t, err)
	assert.True(t, u.Spent.Equal(dec("20000.00")))
}

func TestApprovalService_LedgerBridge_Rejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	bridge := NewLedgerBridge(f.transactions, nopLogger{})
	approvals := NewApprovalService(f.store.Approvals(), f.store.TxManager(), bridge, nopLogger{})

	line := f.allocate(t, "50000.00")
	tx, err := f.transactions.Record(ctx, line.ID, entity.TxTypeExpense, dec("20000.00"), "server hardware", nil, "requester-1")
	require.NoError(t, err)

	req, err := approvals.Submit(ctx, entity.EntityTypeTransaction, tx.ID, "requester-1", twoLevelChain)
	require.NoError(t, err)

	_, err = approvals.Reject(ctx, req.ID, "pm-1", []string{"PROJECT_MANAGER"}, "wrong vendor")
	require.NoError(t, err)

	got, err := f.transactions.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TxStatusRejected, got.Status)

	// The rejection released the reservation.
	u, err := f.budgets.Utilization(ctx, line.ID)
	require.NoError(t, err)
	assert.True(t, u.Spent.IsZero())
	assert.True(t, u.Available.Equal(dec("50000.00")))
}

// A direct decide racing the workflow is tolerated: the bridge treats the
// already-terminal transaction as settled.
func TestApprovalService_LedgerBridge_ToleratesDirectDecision(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	bridge := NewLedgerBridge(f.transactions, nopLogger{})
	approvals := NewApprovalService(f.store.Approvals(), f.store.TxManager(), bridge, nopLogger{})

	line := f.allocate(t, "50000.00")
	tx, err := f.transactions.Record(ctx, line.ID, entity.TxTypeExpense, dec("20000.00"), "server hardware", nil, "requester-1")
	require.NoError(t, err)

	req, err := approvals.Submit(ctx, entity.EntityTypeTransaction, tx.ID, "requester-1",
		[]LevelSpec{{Order: 1, RequiredRole: "FINANCE_OFFICER"}})
	require.NoError(t, err)

	_, err = f.transactions.Decide(ctx, tx.ID, entity.TxStatusApproved, "direct-approver", "")
	require.NoError(t, err)

	// The chain still completes without error.
	final, err := approvals.Approve(ctx, req.ID, "fin-1", []string{"FINANCE_OFFICER"}, "")
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateApproved), final.Status)

	got, err := f.transactions.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "direct-approver", got.ApprovedBy)
}
