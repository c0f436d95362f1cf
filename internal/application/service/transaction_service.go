package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/civicworks/budget-backend/internal/application/port"
	"github.com/civicworks/budget-backend/internal/domain/apperr"
	"github.com/civicworks/budget-backend/internal/domain/entity"
)

// TransactionService is the transaction processor: it validates and records
// ledger entries against a budget line and folds approved amounts into it.
type TransactionService interface {
	Record(ctx context.Context, lineID int64, txType string, amount decimal.Decimal, description string, vendorID *int64, createdBy string) (*entity.Transaction, error)
	Decide(ctx context.Context, txID int64, decision, approverID, comment string) (*entity.Transaction, error)
	Get(ctx context.Context, txID int64) (*entity.Transaction, error)
	ListByLine(ctx context.Context, lineID int64) ([]*entity.Transaction, error)
}

type transactionServiceImpl struct {
	lineRepo  port.BudgetLineRepository
	txRepo    port.TransactionRepository
	txManager port.TransactionManager
	lineLocks *keyedMutex
	logger    Logger
}

// NewTransactionService creates a new TransactionService
func NewTransactionService(
	lineRepo port.BudgetLineRepository,
	txRepo port.TransactionRepository,
	txManager port.TransactionManager,
	logger Logger,
) TransactionService {
	return &transactionServiceImpl{
		lineRepo:  lineRepo,
		txRepo:    txRepo,
		txManager: txManager,
		lineLocks: newKeyedMutex(),
		logger:    logger,
	}
}

// Record creates a PENDING transaction. For EXPENSE and COMMITMENT entries the
// balance check and the insert run under the line's lock: pending debits
// reserve balance, so two concurrent calls can never jointly overcommit a line.
func (s *transactionServiceImpl) Record(ctx context.Context, lineID int64, txType string, amount decimal.Decimal, description string, vendorID *int64, createdBy string) (*entity.Transaction, error) {
	if !entity.IsValidTxType(txType) {
		return nil, apperr.Validationf("invalid transaction type %q", txType)
	}
	if !amount.IsPositive() {
		return nil, apperr.Validationf("amount must be positive, got %s", amount.StringFixed(2))
	}
	if strings.TrimSpace(description) == "" {
		return nil, apperr.Validationf("description must not be empty")
	}
	if strings.TrimSpace(createdBy) == "" {
		return nil, apperr.Validationf("creator must not be empty")
	}

	line, err := s.lineRepo.GetByID(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, apperr.NotFoundf("budget line", lineID)
	}
	if !line.IsActive() {
		return nil, apperr.Conflictf("budget line %d is closed", lineID)
	}

	tx := &entity.Transaction{
		LineID:      lineID,
		Type:        txType,
		Amount:      amount.Round(2),
		Description: strings.TrimSpace(description),
		VendorID:    vendorID,
		Status:      entity.TxStatusPending,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now(),
	}

	if tx.IsDebit() {
		// Check-then-insert must be one unit per line.
		unlock := s.lineLocks.Lock(lineID)
		defer unlock()

		agg, err := s.txRepo.Aggregates(ctx, lineID)
		if err != nil {
			s.logger.Error("Failed to aggregate transactions", "error", err, "line_id", lineID)
			return nil, err
		}

		available := line.AllocatedAmount.
			Sub(agg.Spent()).
			Sub(agg.ApprovedCommitment).
			Sub(agg.PendingReserved)

		if tx.Amount.GreaterThan(available) {
			return nil, apperr.NewInsufficientBudget(lineID, available, tx.Amount)
		}

		if err := s.txRepo.Create(ctx, tx); err != nil {
			s.logger.Error("Failed to create transaction", "error", err, "line_id", lineID)
			return nil, err
		}
	} else {
		// REFUND / ADJUSTMENT entries never consume balance at creation.
		if err := s.txRepo.Create(ctx, tx); err != nil {
			s.logger.Error("Failed to create transaction", "error", err, "line_id", lineID)
			return nil, err
		}
	}

	s.logger.Info("Transaction recorded", "id", tx.ID, "line_id", lineID,
		"type", txType, "amount", tx.Amount.StringFixed(2))
	return tx, nil
}

// Decide moves a PENDING transaction to APPROVED or REJECTED, exactly once.
// Approval folds the amount into the line's spent or committed total; a
// rejection has no ledger effect.
func (s *transactionServiceImpl) Decide(ctx context.Context, txID int64, decision, approverID, comment string) (*entity.Transaction, error) {
	if decision != entity.TxStatusApproved && decision != entity.TxStatusRejected {
		return nil, apperr.Validationf("invalid decision %q", decision)
	}
	if strings.TrimSpace(approverID) == "" {
		return nil, apperr.Validationf("approver must not be empty")
	}

	tx, err := s.txRepo.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, apperr.NotFoundf("transaction", txID)
	}

	decidedAt := time.Now()
	ok, err := s.txRepo.Decide(ctx, txID, decision, approverID, comment, decidedAt)
	if err != nil {
		s.logger.Error("Failed to decide transaction", "error", err, "id", txID)
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: transaction %d is already %s", apperr.ErrAlreadyProcessed, txID, tx.Status)
	}

	tx.Status = decision
	tx.ApprovedBy = approverID
	tx.Comment = comment
	tx.DecidedAt = &decidedAt

	s.logger.Info("Transaction decided", "id", txID, "decision", decision, "approver", approverID)
	return tx, nil
}

// Get retrieves a transaction by ID
func (s *transactionServiceImpl) Get(ctx context.Context, txID int64) (*entity.Transaction, error) {
	tx, err := s.txRepo.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, apperr.NotFoundf("transaction", txID)
	}
	return tx, nil
}

// ListByLine retrieves all transactions recorded against a line.
func (s *transactionServiceImpl) ListByLine(ctx context.Context, lineID int64) ([]*entity.Transaction, error) {
	line, err := s.lineRepo.GetByID(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, apperr.NotFoundf("budget line", lineID)
	}
	return s.txRepo.GetByLineID(ctx, lineID)
}
