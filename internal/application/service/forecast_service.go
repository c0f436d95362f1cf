package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/civicworks/budget-backend/internal/application/port"
	"github.com/civicworks/budget-backend/internal/domain/apperr"
	"github.com/civicworks/budget-backend/internal/domain/entity"
)

// ForecastService projects end-of-period spend for a budget line from its
// historical monthly consumption. RiskLevel mirrors the alert bands against
// current utilization, not the projection.
type ForecastService interface {
	Forecast(ctx context.Context, lineID int64) (*entity.Forecast, error)
}

type forecastServiceImpl struct {
	lineRepo port.BudgetLineRepository
	txRepo   port.TransactionRepository
	logger   Logger
	now      func() time.Time
}

// NewForecastService creates a new ForecastService
func NewForecastService(lineRepo port.BudgetLineRepository, txRepo port.TransactionRepository, logger Logger) ForecastService {
	return &forecastServiceImpl{
		lineRepo: lineRepo,
		txRepo:   txRepo,
		logger:   logger,
		now:      time.Now,
	}
}

// Forecast computes the projection for one line. A line with no approved
// expense history reports a zero average and no overrun.
func (s *forecastServiceImpl) Forecast(ctx context.Context, lineID int64) (*entity.Forecast, error) {
	line, err := s.lineRepo.GetByID(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, apperr.NotFoundf("budget line", lineID)
	}

	agg, err := s.txRepo.Aggregates(ctx, lineID)
	if err != nil {
		s.logger.Error("Failed to aggregate transactions", "error", err, "line_id", lineID)
		return nil, err
	}

	txs, err := s.txRepo.GetByLineID(ctx, lineID)
	if err != nil {
		return nil, err
	}

	hasExpenseHistory := false
	for _, tx := range txs {
		if tx.Type == entity.TxTypeExpense && tx.Status == entity.TxStatusApproved {
			hasExpenseHistory = true
			break
		}
	}

	spent := agg.Spent()
	available := line.AllocatedAmount.Sub(spent).Sub(agg.ApprovedCommitment)
	utilizationPct := percentOf(spent, line.AllocatedAmount)

	forecast := &entity.Forecast{
		LineID:              lineID,
		AverageMonthlySpend: decimal.Zero,
		ProjectedTotal:      spent,
		ProjectedOverrun:    decimal.Zero,
		WillExceed:          false,
		RiskLevel:           riskLevelFor(utilizationPct),
	}

	if !hasExpenseHistory {
		return forecast, nil
	}

	months := monthsElapsed(line.CreatedAt, s.now())
	averageMonthly := spent.Div(decimal.NewFromInt(int64(months))).Round(2)
	forecast.AverageMonthlySpend = averageMonthly

	if averageMonthly.IsZero() || !averageMonthly.IsPositive() {
		// Net spend can be zero or negative after refunds; treat the runway
		// as undefined and report no overrun.
		return forecast, nil
	}

	monthsRemaining := available.Div(averageMonthly)
	projectedTotal := spent.Add(averageMonthly.Mul(monthsRemaining)).Round(2)
	overrun := projectedTotal.Sub(line.AllocatedAmount)

	forecast.ProjectedTotal = projectedTotal
	forecast.WillExceed = projectedTotal.GreaterThan(line.AllocatedAmount)
	if overrun.IsPositive() {
		forecast.ProjectedOverrun = overrun
	}

	return forecast, nil
}

// monthsElapsed counts calendar months from start to now, inclusive of the
// starting month and never below 1.
func monthsElapsed(start, now time.Time) int {
	months := (now.Year()-start.Year())*12 + int(now.Month()) - int(start.Month()) + 1
	if months < 1 {
		return 1
	}
	return months
}

// riskLevelFor mirrors the alert severity bands against current utilization.
func riskLevelFor(utilizationPct decimal.Decimal) string {
	if severity := severityFor(utilizationPct); severity != "" {
		return severity
	}
	return entity.RiskLevelLow
}
