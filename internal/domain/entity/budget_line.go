package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// BudgetLine is a scoped allocation of funds for one project, category and
// fiscal year. Allocated amounts are fixed at 2-decimal precision.
type BudgetLine struct {
	ID                    int64           `json:"id"`
	ProjectID             int64           `json:"project_id"`
	Category              string          `json:"category"`
	FiscalYear            int             `json:"fiscal_year"`
	AllocatedAmount       decimal.Decimal `json:"allocated_amount"`
	AlertThresholdPercent int             `json:"alert_threshold_percent"`
	Status                string          `json:"status"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// IsActive returns true if the line still accepts transactions.
func (b *BudgetLine) IsActive() bool {
	return b.Status == BudgetLineActive
}

// Utilization holds the derived balances for a budget line. Every field is
// recomputed from the transaction set on read; nothing here is cached.
type Utilization struct {
	LineID             int64           `json:"line_id"`
	Allocated          decimal.Decimal `json:"allocated"`
	Spent              decimal.Decimal `json:"spent"`
	Committed          decimal.Decimal `json:"committed"`
	Available          decimal.Decimal `json:"available"`
	UtilizationPercent decimal.Decimal `json:"utilization_percent"`
	CommitmentPercent  decimal.Decimal `json:"commitment_percent"`
	IsOverThreshold    bool            `json:"is_over_threshold"`
}

// Alert is a threshold classification for a single budget line. Alerts are
// pure reads of current ledger state; deduplication is the caller's job.
type Alert struct {
	LineID             int64           `json:"line_id"`
	ProjectID          int64           `json:"project_id"`
	Category           string          `json:"category"`
	UtilizationPercent decimal.Decimal `json:"utilization_percent"`
	Severity           string          `json:"severity"`
}

// Forecast projects end-of-period spend for a budget line from its historical
// monthly consumption. RiskLevel reflects the current utilization band, not
// the projected one.
type Forecast struct {
	LineID              int64           `json:"line_id"`
	AverageMonthlySpend decimal.Decimal `json:"average_monthly_spend"`
	ProjectedTotal      decimal.Decimal `json:"projected_total"`
	ProjectedOverrun    decimal.Decimal `json:"projected_overrun"`
	WillExceed          bool            `json:"will_exceed"`
	RiskLevel           string          `json:"risk_level"`
}
