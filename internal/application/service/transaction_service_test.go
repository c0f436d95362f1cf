package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicworks/budget-backend/internal/domain/apperr"
	"github.com/civicworks/budget-backend/internal/domain/entity"
)

func TestTransactionService_Record_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	line := f.allocate(t, "1000.00")

	tests := []struct {
		name        string
		txType      string
		amount      string
		description string
		createdBy   string
	}{
		{"unknown type", "WIRE", "10.00", "desc", "user-1"},
		{"zero amount", entity.TxTypeExpense, "0", "desc", "user-1"},
		{"negative amount", entity.TxTypeExpense, "-1.00", "desc", "user-1"},
		{"blank description", entity.TxTypeExpense, "10.00", "   ", "user-1"},
		{"blank creator", entity.TxTypeExpense, "10.00", "desc", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.transactions.Record(ctx, line.ID, tt.txType, dec(tt.amount), tt.description, nil, tt.createdBy)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestTransactionService_Record_InsufficientBudget(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	line := f.allocate(t, "1000.00")

	_, err := f.transactions.Record(ctx, line.ID, entity.TxTypeExpense, dec("1000.01"), "too big", nil, "user-1")
	require.ErrorIs(t, err, apperr.ErrInsufficientBudget)

	var detail *apperr.InsufficientBudgetError
	require.ErrorAs(t, err, &detail)
	assert.Equal(t, line.ID, detail.LineID)
	assert.True(t, detail.Available.Equal(dec("1000.00")))
	assert.True(t, detail.Requested.Equal(dec("1000.01")))

	// An exact-balance debit is accepted.
	_, err = f.transactions.Record(ctx, line.ID, entity.TxTypeExpense, dec("1000.00"), "exact", nil, "user-1")
	assert.NoError(t, err)
}

func TestTransactionService_Record_PendingDebitsReserveBalance(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	line := f.allocate(t, "1000.00")

	// Still PENDING, but it reserves balance for admission control.
	_, err := f.transactions.Record(ctx, line.ID, entity.TxTypeExpense, dec("800.00"), "first", nil, "user-1")
	require.NoError(t, err)

	_, err = f.transactions.Record(ctx, line.ID, entity.TxTypeCommitment, dec("300.00"), "second", nil, "user-1")
	assert.ErrorIs(t, err, apperr.ErrInsufficientBudget)

	// Credits are never admission-checked.
	_, err = f.transactions.Record(ctx, line.ID, entity.TxTypeRefund, dec("300.00"), "refund", nil, "user-1")
	assert.NoError(t, err)
}

func TestTransactionService_Record_RejectionReleasesReservation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	line := f.allocate(t, "1000.00")

	tx, err := f.transactions.Record(ctx, line.ID, entity.TxTypeExpense, dec("800.00"), "first", nil, "user-1")
	require.NoError(t, err)

	_, err = f.transactions.Decide(ctx, tx.ID, entity.TxStatusRejected, "approver-1", "duplicate invoice")
	require.NoError(t, err)

	// The rejected debit no longer reserves balance.
	_, err = f.transactions.Record(ctx, line.ID, entity.TxTypeExpense, dec("900.00"), "second", nil, "user-1")
	assert.NoError(t, err)

	u, err := f.budgets.Utilization(ctx, line.ID)
	require.NoError(t, err)
	assert.True(t, u.Spent.IsZero(), "rejected and pending entries never count as spent")
}

func TestTransactionService_Decide_ExactlyOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	line := f.allocate(t, "1000.00")

	tx, err := f.transactions.Record(ctx, line.ID, entity.TxTypeExpense, dec("100.00"), "entry", nil, "user-1")
	require.NoError(t, err)

	decided, err := f.transactions.Decide(ctx, tx.ID, entity.TxStatusApproved, "approver-1", "ok")
	require.NoError(t, err)
	assert.Equal(t, entity.TxStatusApproved, decided.Status)
	assert.Equal(t, "approver-1", decided.ApprovedBy)
	assert.NotNil(t, decided.DecidedAt)

	_, err = f.transactions.Decide(ctx, tx.ID, entity.TxStatusRejected, "approver-2", "late")
	assert.ErrorIs(t, err, apperr.ErrAlreadyProcessed)

	// The first decision stands.
	got, err := f.transactions.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TxStatusApproved, got.Status)
	assert.Equal(t, "approver-1", got.ApprovedBy)
}

func TestTransactionService_Decide_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	line := f.allocate(t, "1000.00")
	tx, err := f.transactions.Record(ctx, line.ID, entity.TxTypeExpense, dec("100.00"), "entry", nil, "user-1")
	require.NoError(t, err)

	_, err = f.transactions.Decide(ctx, tx.ID, "MAYBE", "approver-1", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.transactions.Decide(ctx, tx.ID, entity.TxStatusApproved, "  ", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.transactions.Decide(ctx, 404, entity.TxStatusApproved, "approver-1", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// Concurrent debits against one line must never jointly exceed the available
// balance: with 1000.00 available and 40 concurrent 300.00 expenses, exactly
// 3 may be admitted.
func TestTransactionService_Record_ConcurrentOvercommit(t *testing.T) {
	f := newFixture()
	line := f.allocate(t, "1000.00")

	const workers = 40
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.transactions.Record(context.Background(), line.ID,
				entity.TxTypeExpense, dec("300.00"), "concurrent entry", nil, "user-1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	admitted, refused := 0, 0
	for err := range results {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, apperr.ErrInsufficientBudget):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 3, admitted)
	assert.Equal(t, workers-3, refused)
}

// Two goroutines racing to decide the same transaction: exactly one wins.
func TestTransactionService_Decide_ConcurrentDeciders(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	line := f.allocate(t, "1000.00")

	tx, err := f.transactions.Record(ctx, line.ID, entity.TxTypeExpense, dec("100.00"), "entry", nil, "user-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, decision := range []string{entity.TxStatusApproved, entity.TxStatusRejected} {
		wg.Add(1)
		go func(d string) {
			defer wg.Done()
			_, err := f.transactions.Decide(context.Background(), tx.ID, d, "approver", "race")
			results <- err
		}(decision)
	}
	wg.Wait()
	close(results)

	wins, losses := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, apperr.ErrAlreadyProcessed):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)
}

// A randomized record/decide sequence must leave the derived balances equal
// to what a full recompute over the transaction list yields, with the ledger
// never driven past its allocation.
func TestTransactionService_RandomizedSequenceStaysConsistent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	line := f.allocate(t, "10000.00")

	rng := rand.New(rand.NewSource(7))
	var pending []int64

	for i := 0; i < 300; i++ {
		if len(pending) > 0 && rng.Intn(3) == 0 {
			idx := rng.Intn(len(pending))
			id := pending[idx]
			pending = append(pending[:idx], pending[idx+1:]...)

			decision := entity.TxStatusApproved
			if rng.Intn(4) == 0 {
				decision = entity.TxStatusRejected
			}
			_, err := f.transactions.Decide(ctx, id, decision, "approver-1", "sequence")
			require.NoError(t, err)
			continue
		}

		txType := entity.TxTypeExpense
		switch rng.Intn(5) {
		case 0:
			txType = entity.TxTypeCommitment
		case 1:
			txType = entity.TxTypeRefund
		}
		amount := decimal.New(int64(rng.Intn(40000)+1), -2)

		tx, err := f.transactions.Record(ctx, line.ID, txType, amount, "sequence entry", nil, "user-1")
		if errors.Is(err, apperr.ErrInsufficientBudget) {
			continue
		}
		require.NoError(t, err)
		pending = append(pending, tx.ID)
	}

	txs, err := f.transactions.ListByLine(ctx, line.ID)
	require.NoError(t, err)

	spent := decimal.Zero
	committed := decimal.Zero
	for _, tx := range txs {
		if tx.Status != entity.TxStatusApproved {
			continue
		}
		switch tx.Type {
		case entity.TxTypeExpense:
			spent = spent.Add(tx.Amount)
		case entity.TxTypeCommitment:
			committed = committed.Add(tx.Amount)
		case entity.TxTypeRefund, entity.TxTypeAdjustment:
			spent = spent.Sub(tx.Amount)
		}
	}

	u, err := f.budgets.Utilization(ctx, line.ID)
	require.NoError(t, err)
	assert.True(t, u.Spent.Equal(spent), "spent %s != recomputed %s", u.Spent, spent)
	assert.True(t, u.Committed.Equal(committed), "committed %s != recomputed %s", u.Committed, committed)
	assert.True(t, u.Available.Equal(dec("10000.00").Sub(spent).Sub(committed)))
	assert.True(t, spent.Add(committed).LessThanOrEqual(dec("10000.00")),
		"approved debits exceeded the allocation")
}

func TestTransactionService_ListByLine(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	line := f.allocate(t, "1000.00")

	for i := 0; i < 3; i++ {
		_, err := f.transactions.Record(ctx, line.ID, entity.TxTypeExpense, dec("10.00"), "entry", nil, "user-1")
		require.NoError(t, err)
	}

	txs, err := f.transactions.ListByLine(ctx, line.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 3)

	_, err = f.transactions.ListByLine(ctx, 404)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
