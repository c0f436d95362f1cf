package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/civicworks/budget-backend/internal/application/port"
	"github.com/civicworks/budget-backend/internal/domain/apperr"
	"github.com/civicworks/budget-backend/internal/domain/entity"
)

var (
	bandWarning  = decimal.NewFromInt(75)
	bandHigh     = decimal.NewFromInt(90)
	bandCritical = decimal.NewFromInt(100)
)

// AlertService classifies budget lines against fixed utilization bands. It is
// a pure read of current ledger state: nothing is persisted and nothing is
// deduplicated, so a caller wanting at-most-once notification must track the
// thresholds it has already acted on itself.
type AlertService interface {
	Evaluate(ctx context.Context, lineID int64) ([]entity.Alert, error)
	EvaluateAll(ctx context.Context) ([]entity.Alert, error)
}

type alertServiceImpl struct {
	lineRepo port.BudgetLineRepository
	txRepo   port.TransactionRepository
	logger   Logger
}

// NewAlertService creates a new AlertService
func NewAlertService(lineRepo port.BudgetLineRepository, txRepo port.TransactionRepository, logger Logger) AlertService {
	return &alertServiceImpl{
		lineRepo: lineRepo,
		txRepo:   txRepo,
		logger:   logger,
	}
}

// Evaluate classifies a single line; the result is empty when the line sits
// below the warning band.
func (s *alertServiceImpl) Evaluate(ctx context.Context, lineID int64) ([]entity.Alert, error) {
	line, err := s.lineRepo.GetByID(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, apperr.NotFoundf("budget line", lineID)
	}
	return s.evaluateLines(ctx, []*entity.BudgetLine{line})
}

// EvaluateAll classifies every active line.
func (s *alertServiceImpl) EvaluateAll(ctx context.Context) ([]entity.Alert, error) {
	lines, err := s.lineRepo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return s.evaluateLines(ctx, lines)
}

func (s *alertServiceImpl) evaluateLines(ctx context.Context, lines []*entity.BudgetLine) ([]entity.Alert, error) {
	alerts := make([]entity.Alert, 0)
	for _, line := range lines {
		agg, err := s.txRepo.Aggregates(ctx, line.ID)
		if err != nil {
			s.logger.Error("Failed to aggregate transactions", "error", err, "line_id", line.ID)
			return nil, err
		}

		utilizationPct := percentOf(agg.Spent(), line.AllocatedAmount)
		severity := severityFor(utilizationPct)
		if severity == "" {
			continue
		}

		alerts = append(alerts, entity.Alert{
			LineID:             line.ID,
			ProjectID:          line.ProjectID,
			Category:           line.Category,
			UtilizationPercent: utilizationPct,
			Severity:           severity,
		})
	}
	return alerts, nil
}

// severityFor maps a utilization percentage to its band, or "" below WARNING.
func severityFor(utilizationPct decimal.Decimal) string {
	switch {
	case utilizationPct.GreaterThanOrEqual(bandCritical):
		return entity.SeverityCritical
	case utilizationPct.GreaterThanOrEqual(bandHigh):
		return entity.SeverityHigh
	case utilizationPct.GreaterThanOrEqual(bandWarning):
		return entity.SeverityWarning
	default:
		return ""
	}
}
