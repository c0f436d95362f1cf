package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/civicworks/budget-backend/internal/application/port"
	"github.com/civicworks/budget-backend/internal/domain/apperr"
	"github.com/civicworks/budget-backend/internal/domain/entity"
)

// BudgetLineRepository implements port.BudgetLineRepository on SQLite.
type BudgetLineRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBudgetLineRepository creates a new budget line repository
func NewBudgetLineRepository(db *sql.DB, logger *zap.Logger) port.BudgetLineRepository {
	return &BudgetLineRepository{
		db:     db,
		logger: logger,
	}
}

const budgetLineColumns = `id, project_id, category, fiscal_year, allocated_cents,
	alert_threshold_percent, status, created_at, updated_at`

// Create inserts a budget line. The unique index over (project_id, category,
// fiscal_year) enforces the one-line-per-scope rule.
func (r *BudgetLineRepository) Create(ctx context.Context, line *entity.BudgetLine) error {
	query := `
		INSERT INTO budget_lines (
			project_id, category, fiscal_year, allocated_cents,
			alert_threshold_percent, status
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		line.ProjectID,
		line.Category,
		line.FiscalYear,
		toCents(line.AllocatedAmount),
		line.AlertThresholdPercent,
		line.Status,
	)
	if err != nil {
		if mapped := mapSQLiteError(err); mapped == apperr.ErrConflict {
			return apperr.Conflictf("budget line already exists for project %d, category %s, fiscal year %d",
				line.ProjectID, line.Category, line.FiscalYear)
		}
		r.logger.Error("Failed to create budget line", zap.Error(err))
		return fmt.Errorf("failed to create budget line: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	line.ID = id
	return nil
}

// GetByID retrieves a budget line by ID
func (r *BudgetLineRepository) GetByID(ctx context.Context, id int64) (*entity.BudgetLine, error) {
	query := `SELECT ` + budgetLineColumns + ` FROM budget_lines WHERE id = ?`

	line, err := scanBudgetLine(getExecutor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get budget line", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get budget line: %w", err)
	}
	return line, nil
}

// UpdateAllocated replaces the allocated amount of a line.
func (r *BudgetLineRepository) UpdateAllocated(ctx context.Context, id int64, amount decimal.Decimal) error {
	query := `UPDATE budget_lines SET allocated_cents = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, toCents(amount), id)
	if err != nil {
		r.logger.Error("Failed to update allocation", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update allocation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return apperr.NotFoundf("budget line", id)
	}
	return nil
}

// UpdateStatus updates the budget line status
func (r *BudgetLineRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE budget_lines SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, status, id)
	if err != nil {
		r.logger.Error("Failed to update budget line status", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update budget line status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return apperr.NotFoundf("budget line", id)
	}
	return nil
}

// List retrieves budget lines, optionally filtered by project and fiscal year.
// Zero values skip the corresponding filter.
func (r *BudgetLineRepository) List(ctx context.Context, projectID int64, fiscalYear int, limit, offset int) ([]*entity.BudgetLine, error) {
	query := `SELECT ` + budgetLineColumns + `
		FROM budget_lines
		WHERE (? = 0 OR project_id = ?)
		  AND (? = 0 OR fiscal_year = ?)
		ORDER BY id
		LIMIT ? OFFSET ?`

	if limit <= 0 {
		limit = 50
	}

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query,
		projectID, projectID, fiscalYear, fiscalYear, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list budget lines", zap.Error(err))
		return nil, fmt.Errorf("failed to list budget lines: %w", err)
	}
	defer rows.Close()

	return collectBudgetLines(rows)
}

// ListActive retrieves every ACTIVE budget line.
func (r *BudgetLineRepository) ListActive(ctx context.Context) ([]*entity.BudgetLine, error) {
	query := `SELECT ` + budgetLineColumns + ` FROM budget_lines WHERE status = ? ORDER BY id`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, entity.BudgetLineActive)
	if err != nil {
		r.logger.Error("Failed to list active budget lines", zap.Error(err))
		return nil, fmt.Errorf("failed to list active budget lines: %w", err)
	}
	defer rows.Close()

	return collectBudgetLines(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBudgetLine(row rowScanner) (*entity.BudgetLine, error) {
	var line entity.BudgetLine
	var allocatedCents int64

	err := row.Scan(
		&line.ID,
		&line.ProjectID,
		&line.Category,
		&line.FiscalYear,
		&allocatedCents,
		&line.AlertThresholdPercent,
		&line.Status,
		&line.CreatedAt,
		&line.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	line.AllocatedAmount = fromCents(allocatedCents)
	return &line, nil
}

func collectBudgetLines(rows *sql.Rows) ([]*entity.BudgetLine, error) {
	var lines []*entity.BudgetLine
	for rows.Next() {
		line, err := scanBudgetLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// Verify interface compliance
var _ port.BudgetLineRepository = (*BudgetLineRepository)(nil)
