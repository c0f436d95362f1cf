package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/civicworks/budget-backend/internal/application/port"
	"github.com/civicworks/budget-backend/internal/domain/entity"
)

// TransactionRepository implements port.TransactionRepository on SQLite.
type TransactionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *sql.DB, logger *zap.Logger) port.TransactionRepository {
	return &TransactionRepository{
		db:     db,
		logger: logger,
	}
}

const transactionColumns = `id, line_id, type, amount_cents, description, vendor_id,
	status, created_by, approved_by, comment, decided_at, created_at`

// Create inserts a PENDING transaction.
func (r *TransactionRepository) Create(ctx context.Context, tx *entity.Transaction) error {
	query := `
		INSERT INTO transactions (
			line_id, type, amount_cents, description, vendor_id,
			status, created_by
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		tx.LineID,
		tx.Type,
		toCents(tx.Amount),
		tx.Description,
		tx.VendorID,
		tx.Status,
		tx.CreatedBy,
	)
	if err != nil {
		if mapped := mapSQLiteError(err); mapped != nil {
			return fmt.Errorf("%w: create transaction", mapped)
		}
		r.logger.Error("Failed to create transaction", zap.Error(err))
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	tx.ID = id
	return nil
}

// GetByID retrieves a transaction by ID
func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*entity.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	tx, err := scanTransaction(getExecutor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get transaction", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// GetByLineID retrieves all transactions for a budget line
func (r *TransactionRepository) GetByLineID(ctx context.Context, lineID int64) ([]*entity.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE line_id = ? ORDER BY id`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, lineID)
	if err != nil {
		r.logger.Error("Failed to get transactions by line", zap.Int64("line_id", lineID), zap.Error(err))
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var txs []*entity.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// Aggregates recomputes the per-line transaction sums in a single read, so a
// ledger derivation never mixes figures from different points in time.
func (r *TransactionRepository) Aggregates(ctx context.Context, lineID int64) (*entity.LineAggregates, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'APPROVED' AND type = 'EXPENSE' THEN amount_cents END), 0),
			COALESCE(SUM(CASE WHEN status = 'APPROVED' AND type = 'COMMITMENT' THEN amount_cents END), 0),
			COALESCE(SUM(CASE WHEN status = 'APPROVED' AND type IN ('REFUND', 'ADJUSTMENT') THEN amount_cents END), 0),
			COALESCE(SUM(CASE WHEN status = 'PENDING' AND type IN ('EXPENSE', 'COMMITMENT') THEN amount_cents END), 0)
		FROM transactions
		WHERE line_id = ?
	`

	var expenseCents, commitmentCents, creditCents, pendingCents int64
	err := getExecutor(ctx, r.db).QueryRowContext(ctx, query, lineID).Scan(
		&expenseCents,
		&commitmentCents,
		&creditCents,
		&pendingCents,
	)
	if err != nil {
		r.logger.Error("Failed to aggregate transactions", zap.Int64("line_id", lineID), zap.Error(err))
		return nil, fmt.Errorf("failed to aggregate transactions: %w", err)
	}

	return &entity.LineAggregates{
		ApprovedExpense:    fromCents(expenseCents),
		ApprovedCommitment: fromCents(commitmentCents),
		ApprovedCredit:     fromCents(creditCents),
		PendingReserved:    fromCents(pendingCents),
	}, nil
}

// Decide moves a PENDING transaction to a terminal status. The WHERE clause
// guards the current status, so of two concurrent deciders exactly one sees
// a row affected.
func (r *TransactionRepository) Decide(ctx context.Context, id int64, status, approverID, comment string, decidedAt time.Time) (bool, error) {
	query := `
		UPDATE transactions
		SET status = ?, approved_by = ?, comment = ?, decided_at = ?
		WHERE id = ? AND status = 'PENDING'
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, status, approverID, comment, decidedAt, id)
	if err != nil {
		if mapped := mapSQLiteError(err); mapped != nil {
			return false, fmt.Errorf("%w: decide transaction", mapped)
		}
		r.logger.Error("Failed to decide transaction", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to decide transaction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}

func scanTransaction(row rowScanner) (*entity.Transaction, error) {
	var tx entity.Transaction
	var amountCents int64
	var vendorID sql.NullInt64
	var approvedBy, comment sql.NullString
	var decidedAt sql.NullTime

	err := row.Scan(
		&tx.ID,
		&tx.LineID,
		&tx.Type,
		&amountCents,
		&tx.Description,
		&vendorID,
		&tx.Status,
		&tx.CreatedBy,
		&approvedBy,
		&comment,
		&decidedAt,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Amount = fromCents(amountCents)
	if vendorID.Valid {
		tx.VendorID = &vendorID.Int64
	}
	if approvedBy.Valid {
		tx.ApprovedBy = approvedBy.String
	}
	if comment.Valid {
		tx.Comment = comment.String
	}
	if decidedAt.Valid {
		tx.DecidedAt = &decidedAt.Time
	}

	return &tx, nil
}

// Verify interface compliance
var _ port.TransactionRepository = (*TransactionRepository)(nil)
