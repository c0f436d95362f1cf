package service

import (
	"context"
	"errors"

	"github.com/civicworks/budget-backend/internal/domain/apperr"
	"github.com/civicworks/budget-backend/internal/domain/entity"
)

// LedgerBridge folds the terminal outcome of a TRANSACTION-typed approval
// request back into the ledger. Other entity types (projects, budgets,
// purchase orders) are gated by their own subsystems and need no action here.
type LedgerBridge struct {
	transactions TransactionService
	logger       Logger
}

// NewLedgerBridge creates the completion notifier wired between the approval
// workflow and the transaction processor.
func NewLedgerBridge(transactions TransactionService, logger Logger) *LedgerBridge {
	return &LedgerBridge{transactions: transactions, logger: logger}
}

// OnApproved folds an approved gated transaction into its budget line.
func (b *LedgerBridge) OnApproved(ctx context.Context, entityType string, entityID int64, approverID, comment string) error {
	if entityType != entity.EntityTypeTransaction {
		return nil
	}
	_, err := b.transactions.Decide(ctx, entityID, entity.TxStatusApproved, approverID, comment)
	if errors.Is(err, apperr.ErrAlreadyProcessed) {
		// A direct decide raced the workflow; the transaction is already
		// terminal and the approval stands on its own audit trail.
		b.logger.Info("Gated transaction was already decided", "transaction_id", entityID)
		return nil
	}
	return err
}

// OnRejected marks a gated transaction rejected; it never touches balances.
func (b *LedgerBridge) OnRejected(ctx context.Context, entityType string, entityID int64, approverID, comment string) error {
	if entityType != entity.EntityTypeTransaction {
		return nil
	}
	_, err := b.transactions.Decide(ctx, entityID, entity.TxStatusRejected, approverID, comment)
	if errors.Is(err, apperr.ErrAlreadyProcessed) {
		b.logger.Info("Gated transaction was already decided", "transaction_id", entityID)
		return nil
	}
	return err
}

var _ CompletionNotifier = (*LedgerBridge)(nil)
