package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/civicworks/budget-backend/internal/application/port"
	"github.com/civicworks/budget-backend/internal/domain/entity"
)

// ApprovalRepository implements port.ApprovalRepository on SQLite. Requests,
// their levels and their decisions live in three tables; decisions are
// append-only.
type ApprovalRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db *sql.DB, logger *zap.Logger) port.ApprovalRepository {
	return &ApprovalRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a request together with its level chain. Callers run this
// inside a transaction so a request never exists without its levels.
func (r *ApprovalRepository) Create(ctx context.Context, req *entity.ApprovalRequest) error {
	query := `
		INSERT INTO approval_requests (
			reference, entity_type, entity_id, status, current_level, requester_id
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	exec := getExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, query,
		req.Reference,
		req.EntityType,
		req.EntityID,
		req.Status,
		req.CurrentLevel,
		req.RequesterID,
	)
	if err != nil {
		if mapped := mapSQLiteError(err); mapped != nil {
			return fmt.Errorf("%w: create approval request", mapped)
		}
		r.logger.Error("Failed to create approval request", zap.Error(err))
		return fmt.Errorf("failed to create approval request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	req.ID = id

	for i := range req.Levels {
		level := &req.Levels[i]
		level.RequestID = id

		levelResult, err := exec.ExecContext(ctx,
			`INSERT INTO approval_levels (request_id, level_order, required_role) VALUES (?, ?, ?)`,
			id, level.LevelOrder, level.RequiredRole,
		)
		if err != nil {
			r.logger.Error("Failed to create approval level",
				zap.Int64("request_id", id),
				zap.Int("level_order", level.LevelOrder),
				zap.Error(err))
			return fmt.Errorf("failed to create approval level: %w", err)
		}

		levelID, err := levelResult.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		level.ID = levelID
	}

	return nil
}

// GetByID retrieves a request with its full level chain and decision log.
func (r *ApprovalRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovalRequest, error) {
	query := `
		SELECT id, reference, entity_type, entity_id, status, current_level,
			requester_id, created_at, updated_at
		FROM approval_requests
		WHERE id = ?
	`

	exec := getExecutor(ctx, r.db)

	var req entity.ApprovalRequest
	err := exec.QueryRowContext(ctx, query, id).Scan(
		&req.ID,
		&req.Reference,
		&req.EntityType,
		&req.EntityID,
		&req.Status,
		&req.CurrentLevel,
		&req.RequesterID,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval request", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval request: %w", err)
	}

	if req.Levels, err = r.loadLevels(ctx, exec, id); err != nil {
		return nil, err
	}
	if req.Decisions, err = r.loadDecisions(ctx, exec, id); err != nil {
		return nil, err
	}

	return &req, nil
}

// AddDecision appends one decision to a request's audit log.
func (r *ApprovalRepository) AddDecision(ctx context.Context, decision *entity.ApprovalDecision) error {
	query := `
		INSERT INTO approval_decisions (request_id, level_order, approver_id, decision, comment, decided_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		decision.RequestID,
		decision.LevelOrder,
		decision.ApproverID,
		decision.Decision,
		decision.Comment,
		decision.DecidedAt,
	)
	if err != nil {
		if mapped := mapSQLiteError(err); mapped != nil {
			return fmt.Errorf("%w: add approval decision", mapped)
		}
		r.logger.Error("Failed to add approval decision",
			zap.Int64("request_id", decision.RequestID), zap.Error(err))
		return fmt.Errorf("failed to add approval decision: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	decision.ID = id
	return nil
}

// UpdateState advances or terminates a request. The WHERE clause guards the
// PENDING status, so a request already driven terminal by a concurrent caller
// reports false instead of being overwritten.
func (r *ApprovalRepository) UpdateState(ctx context.Context, id int64, status string, currentLevel int) (bool, error) {
	query := `
		UPDATE approval_requests
		SET status = ?, current_level = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'PENDING'
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, status, currentLevel, id)
	if err != nil {
		if mapped := mapSQLiteError(err); mapped != nil {
			return false, fmt.Errorf("%w: update approval state", mapped)
		}
		r.logger.Error("Failed to update approval state", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to update approval state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *ApprovalRepository) loadLevels(ctx context.Context, exec executor, requestID int64) ([]entity.ApprovalLevel, error) {
	rows, err := exec.QueryContext(ctx,
		`SELECT id, request_id, level_order, required_role
		 FROM approval_levels WHERE request_id = ? ORDER BY level_order`,
		requestID)
	if err != nil {
		r.logger.Error("Failed to load approval levels", zap.Int64("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to load approval levels: %w", err)
	}
	defer rows.Close()

	var levels []entity.ApprovalLevel
	for rows.Next() {
		var level entity.ApprovalLevel
		if err := rows.Scan(&level.ID, &level.RequestID, &level.LevelOrder, &level.RequiredRole); err != nil {
			return nil, fmt.Errorf("failed to scan approval level: %w", err)
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

func (r *ApprovalRepository) loadDecisions(ctx context.Context, exec executor, requestID int64) ([]entity.ApprovalDecision, error) {
	rows, err := exec.QueryContext(ctx,
		`SELECT id, request_id, level_order, approver_id, decision, comment, decided_at
		 FROM approval_decisions WHERE request_id = ? ORDER BY id`,
		requestID)
	if err != nil {
		r.logger.Error("Failed to load approval decisions", zap.Int64("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to load approval decisions: %w", err)
	}
	defer rows.Close()

	var decisions []entity.ApprovalDecision
	for rows.Next() {
		var d entity.ApprovalDecision
		if err := rows.Scan(&d.ID, &d.RequestID, &d.LevelOrder, &d.ApproverID, &d.Decision, &d.Comment, &d.DecidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan approval decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// Verify interface compliance
var _ port.ApprovalRepository = (*ApprovalRepository)(nil)
