// Package memory provides in-memory implementations of the persistence ports.
// They honor the same guarded-update contract as the SQLite repositories, so
// unit and concurrency tests run deterministically without a database file.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/civicworks/budget-backend/internal/application/port"
	"github.com/civicworks/budget-backend/internal/domain/apperr"
	"github.com/civicworks/budget-backend/internal/domain/entity"
)

// Store holds all in-memory tables behind one lock.
type Store struct {
	mu sync.RWMutex

	lines        map[int64]*entity.BudgetLine
	transactions map[int64]*entity.Transaction
	requests     map[int64]*entity.ApprovalRequest

	nextLineID     int64
	nextTxID       int64
	nextRequestID  int64
	nextLevelID    int64
	nextDecisionID int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		lines:        make(map[int64]*entity.BudgetLine),
		transactions: make(map[int64]*entity.Transaction),
		requests:     make(map[int64]*entity.ApprovalRequest),
	}
}

// BudgetLines returns the budget line repository view of the store.
func (s *Store) BudgetLines() port.BudgetLineRepository { return (*budgetLineRepo)(s) }

// Transactions returns the transaction repository view of the store.
func (s *Store) Transactions() port.TransactionRepository { return (*transactionRepo)(s) }

// Approvals returns the approval repository view of the store.
func (s *Store) Approvals() port.ApprovalRepository { return (*approvalRepo)(s) }

// TxManager returns a pass-through transaction manager. The store's single
// lock already serializes each repository call.
func (s *Store) TxManager() port.TransactionManager { return noopTxManager{} }

type noopTxManager struct{}

func (noopTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// ---- budget lines ----

type budgetLineRepo Store

func (r *budgetLineRepo) Create(ctx context.Context, line *entity.BudgetLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.lines {
		if existing.ProjectID == line.ProjectID &&
			existing.Category == line.Category &&
			existing.FiscalYear == line.FiscalYear {
			return apperr.Conflictf("budget line already exists for project %d, category %s, fiscal year %d",
				line.ProjectID, line.Category, line.FiscalYear)
		}
	}

	r.nextLineID++
	line.ID = r.nextLineID
	clone := *line
	r.lines[line.ID] = &clone
	return nil
}

func (r *budgetLineRepo) GetByID(ctx context.Context, id int64) (*entity.BudgetLine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	line, ok := r.lines[id]
	if !ok {
		return nil, nil
	}
	clone := *line
	return &clone, nil
}

func (r *budgetLineRepo) UpdateAllocated(ctx context.Context, id int64, amount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	line, ok := r.lines[id]
	if !ok {
		return apperr.NotFoundf("budget line", id)
	}
	line.AllocatedAmount = amount
	line.UpdatedAt = time.Now()
	return nil
}

func (r *budgetLineRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	line, ok := r.lines[id]
	if !ok {
		return apperr.NotFoundf("budget line", id)
	}
	line.Status = status
	line.UpdatedAt = time.Now()
	return nil
}

func (r *budgetLineRepo) List(ctx context.Context, projectID int64, fiscalYear int, limit, offset int) ([]*entity.BudgetLine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var lines []*entity.BudgetLine
	for _, line := range r.lines {
		if projectID != 0 && line.ProjectID != projectID {
			continue
		}
		if fiscalYear != 0 && line.FiscalYear != fiscalYear {
			continue
		}
		clone := *line
		lines = append(lines, &clone)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })

	return paginate(lines, limit, offset), nil
}

func (r *budgetLineRepo) ListActive(ctx context.Context) ([]*entity.BudgetLine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var lines []*entity.BudgetLine
	for _, line := range r.lines {
		if line.Status != entity.BudgetLineActive {
			continue
		}
		clone := *line
		lines = append(lines, &clone)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines, nil
}

// ---- transactions ----

type transactionRepo Store

func (r *transactionRepo) Create(ctx context.Context, tx *entity.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextTxID++
	tx.ID = r.nextTxID
	clone := *tx
	r.transactions[tx.ID] = &clone
	return nil
}

func (r *transactionRepo) GetByID(ctx context.Context, id int64) (*entity.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, ok := r.transactions[id]
	if !ok {
		return nil, nil
	}
	clone := *tx
	return &clone, nil
}

func (r *transactionRepo) GetByLineID(ctx context.Context, lineID int64) ([]*entity.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var txs []*entity.Transaction
	for _, tx := range r.transactions {
		if tx.LineID != lineID {
			continue
		}
		clone := *tx
		txs = append(txs, &clone)
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].ID < txs[j].ID })
	return txs, nil
}

func (r *transactionRepo) Aggregates(ctx context.Context, lineID int64) (*entity.LineAggregates, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agg := &entity.LineAggregates{
		ApprovedExpense:    decimal.Zero,
		ApprovedCommitment: decimal.Zero,
		ApprovedCredit:     decimal.Zero,
		PendingReserved:    decimal.Zero,
	}

	for _, tx := range r.transactions {
		if tx.LineID != lineID {
			continue
		}
		switch tx.Status {
		case entity.TxStatusApproved:
			switch tx.Type {
			case entity.TxTypeExpense:
				agg.ApprovedExpense = agg.ApprovedExpense.Add(tx.Amount)
			case entity.TxTypeCommitment:
				agg.ApprovedCommitment = agg.ApprovedCommitment.Add(tx.Amount)
			case entity.TxTypeRefund, entity.TxTypeAdjustment:
				agg.ApprovedCredit = agg.ApprovedCredit.Add(tx.Amount)
			}
		case entity.TxStatusPending:
			if tx.Type == entity.TxTypeExpense || tx.Type == entity.TxTypeCommitment {
				agg.PendingReserved = agg.PendingReserved.Add(tx.Amount)
			}
		}
	}

	return agg, nil
}

func (r *transactionRepo) Decide(ctx context.Context, id int64, status, approverID, comment string, decidedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.transactions[id]
	if !ok {
		return false, apperr.NotFoundf("transaction", id)
	}
	if tx.Status != entity.TxStatusPending {
		return false, nil
	}

	tx.Status = status
	tx.ApprovedBy = approverID
	tx.Comment = comment
	tx.DecidedAt = &decidedAt
	return true, nil
}

// ---- approval requests ----

type approvalRepo Store

func (r *approvalRepo) Create(ctx context.Context, req *entity.ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextRequestID++
	req.ID = r.nextRequestID
	for i := range req.Levels {
		r.nextLevelID++
		req.Levels[i].ID = r.nextLevelID
		req.Levels[i].RequestID = req.ID
	}

	r.requests[req.ID] = cloneRequest(req)
	return nil
}

func (r *approvalRepo) GetByID(ctx context.Context, id int64) (*entity.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, nil
	}
	return cloneRequest(req), nil
}

func (r *approvalRepo) AddDecision(ctx context.Context, decision *entity.ApprovalDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[decision.RequestID]
	if !ok {
		return apperr.NotFoundf("approval request", decision.RequestID)
	}

	r.nextDecisionID++
	decision.ID = r.nextDecisionID
	req.Decisions = append(req.Decisions, *decision)
	return nil
}

func (r *approvalRepo) UpdateState(ctx context.Context, id int64, status string, currentLevel int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return false, apperr.NotFoundf("approval request", id)
	}
	if req.Status != "PENDING" {
		return false, nil
	}

	req.Status = status
	req.CurrentLevel = currentLevel
	req.UpdatedAt = time.Now()
	return true, nil
}

func cloneRequest(req *entity.ApprovalRequest) *entity.ApprovalRequest {
	clone := *req
	clone.Levels = append([]entity.ApprovalLevel(nil), req.Levels...)
	clone.Decisions = append([]entity.ApprovalDecision(nil), req.Decisions...)
	return &clone
}

func paginate(lines []*entity.BudgetLine, limit, offset int) []*entity.BudgetLine {
	if offset >= len(lines) {
		return []*entity.BudgetLine{}
	}
	lines = lines[offset:]
	if limit > 0 && limit < len(lines) {
		lines = lines[:limit]
	}
	return lines
}
