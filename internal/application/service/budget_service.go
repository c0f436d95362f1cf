package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/civicworks/budget-backend/internal/application/port"
	"github.com/civicworks/budget-backend/internal/domain/apperr"
	"github.com/civicworks/budget-backend/internal/domain/entity"
	"github.com/civicworks/budget-backend/pkg/utils"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

var oneHundred = decimal.NewFromInt(100)

// AmendBudgetCommand is the only mutation a budget amendment accepts.
// Unknown fields are rejected at the HTTP boundary; nothing dynamic reaches
// storage.
type AmendBudgetCommand struct {
	LineID             int64
	NewAllocatedAmount decimal.Decimal
}

// BudgetService is the budget ledger: it owns allocation amounts and derives
// spent/committed/available/utilization for a line on every read.
type BudgetService interface {
	Allocate(ctx context.Context, projectID int64, category string, amount decimal.Decimal, fiscalYear int, alertThresholdPercent int) (*entity.BudgetLine, error)
	Get(ctx context.Context, lineID int64) (*entity.BudgetLine, error)
	Utilization(ctx context.Context, lineID int64) (*entity.Utilization, error)
	Amend(ctx context.Context, cmd AmendBudgetCommand) (*entity.BudgetLine, error)
	Close(ctx context.Context, lineID int64) error
	List(ctx context.Context, projectID int64, fiscalYear int, limit, offset int) ([]*entity.BudgetLine, error)
}

type budgetServiceImpl struct {
	lineRepo  port.BudgetLineRepository
	txRepo    port.TransactionRepository
	txManager port.TransactionManager
	logger    Logger
}

// NewBudgetService creates a new BudgetService
func NewBudgetService(
	lineRepo port.BudgetLineRepository,
	txRepo port.TransactionRepository,
	txManager port.TransactionManager,
	logger Logger,
) BudgetService {
	return &budgetServiceImpl{
		lineRepo:  lineRepo,
		txRepo:    txRepo,
		txManager: txManager,
		logger:    logger,
	}
}

// Allocate creates a budget line for one (project, category, fiscal year).
func (s *budgetServiceImpl) Allocate(ctx context.Context, projectID int64, category string, amount decimal.Decimal, fiscalYear int, alertThresholdPercent int) (*entity.BudgetLine, error) {
	if projectID <= 0 {
		return nil, apperr.Validationf("project id must be positive")
	}
	if !entity.IsValidCategory(category) {
		return nil, apperr.Validationf("invalid category %q", category)
	}
	if !amount.IsPositive() {
		return nil, apperr.Validationf("allocated amount must be positive, got %s", amount.StringFixed(2))
	}
	if err := utils.ValidateFiscalYear(fiscalYear); err != nil {
		return nil, apperr.Validationf("%v", err)
	}
	if alertThresholdPercent <= 0 {
		alertThresholdPercent = entity.DefaultAlertThresholdPercent
	}
	if alertThresholdPercent > 100 {
		return nil, apperr.Validationf("alert threshold must be at most 100, got %d", alertThresholdPercent)
	}

	line := &entity.BudgetLine{
		ProjectID:             projectID,
		Category:              category,
		FiscalYear:            fiscalYear,
		AllocatedAmount:       amount.Round(2),
		AlertThresholdPercent: alertThresholdPercent,
		Status:                entity.BudgetLineActive,
		CreatedAt:             time.Now(),
		UpdatedAt:             time.Now(),
	}

	if err := s.lineRepo.Create(ctx, line); err != nil {
		s.logger.Error("Failed to allocate budget line", "error", err,
			"project_id", projectID, "category", category, "fiscal_year", fiscalYear)
		return nil, err
	}

	s.logger.Info("Budget line allocated", "id", line.ID, "project_id", projectID,
		"category", category, "fiscal_year", fiscalYear, "amount", amount.StringFixed(2))
	return line, nil
}

// Get retrieves a budget line by ID
func (s *budgetServiceImpl) Get(ctx context.Context, lineID int64) (*entity.BudgetLine, error) {
	line, err := s.lineRepo.GetByID(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, apperr.NotFoundf("budget line", lineID)
	}
	return line, nil
}

// Utilization recomputes the derived balances for a line from its transaction
// set. A line with zero allocation reports 0% utilization by definition.
func (s *budgetServiceImpl) Utilization(ctx context.Context, lineID int64) (*entity.Utilization, error) {
	line, err := s.Get(ctx, lineID)
	if err != nil {
		return nil, err
	}

	agg, err := s.txRepo.Aggregates(ctx, lineID)
	if err != nil {
		s.logger.Error("Failed to aggregate transactions", "error", err, "line_id", lineID)
		return nil, err
	}

	return DeriveUtilization(line, agg), nil
}

// Amend replaces the allocated amount. Shrinking below the outstanding debits
// (approved spend, approved commitments and pending reservations) is rejected:
// a shrink must never strand a reservation that could later settle past the
// allocation.
func (s *budgetServiceImpl) Amend(ctx context.Context, cmd AmendBudgetCommand) (*entity.BudgetLine, error) {
	if !cmd.NewAllocatedAmount.IsPositive() {
		return nil, apperr.Validationf("allocated amount must be positive, got %s", cmd.NewAllocatedAmount.StringFixed(2))
	}

	line, err := s.Get(ctx, cmd.LineID)
	if err != nil {
		return nil, err
	}

	newAmount := cmd.NewAllocatedAmount.Round(2)

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		agg, err := s.txRepo.Aggregates(txCtx, cmd.LineID)
		if err != nil {
			return fmt.Errorf("aggregate transactions: %w", err)
		}

		outstanding := agg.Spent().Add(agg.ApprovedCommitment).Add(agg.PendingReserved)
		if newAmount.LessThan(outstanding) {
			return apperr.Validationf("cannot reduce allocation to %s below outstanding debits %s",
				newAmount.StringFixed(2), outstanding.StringFixed(2))
		}

		if err := s.lineRepo.UpdateAllocated(txCtx, cmd.LineID, newAmount); err != nil {
			return fmt.Errorf("update allocation: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to amend budget line", "error", err, "line_id", cmd.LineID)
		return nil, err
	}

	line.AllocatedAmount = newAmount
	line.UpdatedAt = time.Now()

	s.logger.Info("Budget line amended", "line_id", cmd.LineID, "new_amount", newAmount.StringFixed(2))
	return line, nil
}

// Close soft-closes a line. Lines are never hard-deleted; a closed line keeps
// its transactions and drops out of alert scans.
func (s *budgetServiceImpl) Close(ctx context.Context, lineID int64) error {
	line, err := s.Get(ctx, lineID)
	if err != nil {
		return err
	}
	if !line.IsActive() {
		return fmt.Errorf("%w: budget line %d is already closed", apperr.ErrAlreadyProcessed, lineID)
	}

	if err := s.lineRepo.UpdateStatus(ctx, lineID, entity.BudgetLineClosed); err != nil {
		s.logger.Error("Failed to close budget line", "error", err, "line_id", lineID)
		return err
	}

	s.logger.Info("Budget line closed", "line_id", lineID)
	return nil
}

// List retrieves budget lines, optionally filtered by project and fiscal year.
func (s *budgetServiceImpl) List(ctx context.Context, projectID int64, fiscalYear int, limit, offset int) ([]*entity.BudgetLine, error) {
	return s.lineRepo.List(ctx, projectID, fiscalYear, limit, offset)
}

// DeriveUtilization computes the derived balance view for a line.
func DeriveUtilization(line *entity.BudgetLine, agg *entity.LineAggregates) *entity.Utilization {
	spent := agg.Spent()
	committed := agg.ApprovedCommitment
	available := line.AllocatedAmount.Sub(spent).Sub(committed)

	utilizationPct := percentOf(spent, line.AllocatedAmount)
	commitmentPct := percentOf(committed, line.AllocatedAmount)

	threshold := decimal.NewFromInt(int64(line.AlertThresholdPercent))

	return &entity.Utilization{
		LineID:             line.ID,
		Allocated:          line.AllocatedAmount,
		Spent:              spent,
		Committed:          committed,
		Available:          available,
		UtilizationPercent: utilizationPct,
		CommitmentPercent:  commitmentPct,
		IsOverThreshold:    utilizationPct.GreaterThanOrEqual(threshold),
	}
}

// percentOf returns 100 * part / whole rounded to 2 decimals, and 0 for a
// zero whole (defined edge case, not an error).
func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Mul(oneHundred).Div(whole).Round(2)
}
