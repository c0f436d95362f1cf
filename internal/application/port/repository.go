package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/civicworks/budget-backend/internal/domain/entity"
)

// BudgetLineRepository defines persistence operations for BudgetLine.
// Get operations return (nil, nil) when no row matches.
type BudgetLineRepository interface {
	Create(ctx context.Context, line *entity.BudgetLine) error
	GetByID(ctx context.Context, id int64) (*entity.BudgetLine, error)
	UpdateAllocated(ctx context.Context, id int64, amount decimal.Decimal) error
	UpdateStatus(ctx context.Context, id int64, status string) error
	List(ctx context.Context, projectID int64, fiscalYear int, limit, offset int) ([]*entity.BudgetLine, error)
	ListActive(ctx context.Context) ([]*entity.BudgetLine, error)
}

// TransactionRepository defines persistence operations for Transaction.
type TransactionRepository interface {
	Create(ctx context.Context, tx *entity.Transaction) error
	GetByID(ctx context.Context, id int64) (*entity.Transaction, error)
	GetByLineID(ctx context.Context, lineID int64) ([]*entity.Transaction, error)

	// Aggregates recomputes the transaction sums for a line in one read.
	Aggregates(ctx context.Context, lineID int64) (*entity.LineAggregates, error)

	// Decide moves a PENDING transaction to a terminal status. The update is
	// guarded on the current status; it returns false (and no error) when the
	// transaction was already decided, so concurrent deciders cannot both win.
	Decide(ctx context.Context, id int64, status, approverID, comment string, decidedAt time.Time) (bool, error)
}

// ApprovalRepository defines persistence operations for ApprovalRequest.
// Requests are append-only audit records; there is no delete.
type ApprovalRepository interface {
	Create(ctx context.Context, req *entity.ApprovalRequest) error
	GetByID(ctx context.Context, id int64) (*entity.ApprovalRequest, error)
	AddDecision(ctx context.Context, decision *entity.ApprovalDecision) error

	// UpdateState advances or terminates a request. The update is guarded on
	// status PENDING and returns false when the request was already terminal.
	UpdateState(ctx context.Context, id int64, status string, currentLevel int) (bool, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
