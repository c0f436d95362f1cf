package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/civicworks/budget-backend/internal/application/port"
	"github.com/civicworks/budget-backend/internal/domain/apperr"
	"github.com/civicworks/budget-backend/internal/domain/entity"
	"github.com/civicworks/budget-backend/internal/domain/workflow"
)

// LevelSpec describes one required approval level at submission time.
type LevelSpec struct {
	Order        int    `json:"order"`
	RequiredRole string `json:"required_role"`
}

// CompletionNotifier receives the terminal outcome of an approval request so
// the originating subsystem can react, e.g. fold a gated transaction into the
// ledger.
type CompletionNotifier interface {
	OnApproved(ctx context.Context, entityType string, entityID int64, approverID, comment string) error
	OnRejected(ctx context.Context, entityType string, entityID int64, approverID, comment string) error
}

// NoopNotifier satisfies CompletionNotifier for entity types with no
// follow-up action.
type NoopNotifier struct{}

func (NoopNotifier) OnApproved(context.Context, string, int64, string, string) error { return nil }
func (NoopNotifier) OnRejected(context.Context, string, int64, string, string) error { return nil }

// ApprovalService runs the sequential, role-gated approval workflow shared by
// projects, budgets, purchase orders and transactions.
type ApprovalService interface {
	Submit(ctx context.Context, entityType string, entityID int64, requesterID string, levels []LevelSpec) (*entity.ApprovalRequest, error)
	Approve(ctx context.Context, requestID int64, approverID string, roles []string, comment string) (*entity.ApprovalRequest, error)
	Reject(ctx context.Context, requestID int64, approverID string, roles []string, comment string) (*entity.ApprovalRequest, error)
	Cancel(ctx context.Context, requestID int64, requesterID, reason string) (*entity.ApprovalRequest, error)
	Get(ctx context.Context, requestID int64) (*entity.ApprovalRequest, error)
}

type approvalServiceImpl struct {
	approvalRepo port.ApprovalRepository
	txManager    port.TransactionManager
	notifier     CompletionNotifier
	requestLocks *keyedMutex
	logger       Logger
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(
	approvalRepo port.ApprovalRepository,
	txManager port.TransactionManager,
	notifier CompletionNotifier,
	logger Logger,
) ApprovalService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &approvalServiceImpl{
		approvalRepo: approvalRepo,
		txManager:    txManager,
		notifier:     notifier,
		requestLocks: newKeyedMutex(),
		logger:       logger,
	}
}

// Submit creates a PENDING request at level 0. Levels must be ordered 1..N
// with a role bound to each.
func (s *approvalServiceImpl) Submit(ctx context.Context, entityType string, entityID int64, requesterID string, levels []LevelSpec) (*entity.ApprovalRequest, error) {
	if !entity.IsValidEntityType(entityType) {
		return nil, apperr.Validationf("invalid entity type %q", entityType)
	}
	if entityID <= 0 {
		return nil, apperr.Validationf("entity id must be positive")
	}
	if strings.TrimSpace(requesterID) == "" {
		return nil, apperr.Validationf("requester must not be empty")
	}
	if len(levels) == 0 {
		return nil, apperr.Validationf("at least one approval level is required")
	}
	for i, level := range levels {
		if level.Order != i+1 {
			return nil, apperr.Validationf("levels must be ordered 1..%d, got order %d at position %d", len(levels), level.Order, i)
		}
		if strings.TrimSpace(level.RequiredRole) == "" {
			return nil, apperr.Validationf("level %d has no required role", level.Order)
		}
	}

	req := &entity.ApprovalRequest{
		Reference:    uuid.NewString(),
		EntityType:   entityType,
		EntityID:     entityID,
		Status:       string(workflow.StatePending),
		CurrentLevel: 0,
		RequesterID:  requesterID,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	for _, level := range levels {
		req.Levels = append(req.Levels, entity.ApprovalLevel{
			LevelOrder:   level.Order,
			RequiredRole: level.RequiredRole,
		})
	}

	// The request row and its level chain are one unit; a partial chain must
	// never persist.
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.approvalRepo.Create(txCtx, req)
	})
	if err != nil {
		s.logger.Error("Failed to create approval request", "error", err,
			"entity_type", entityType, "entity_id", entityID)
		return nil, err
	}

	s.logger.Info("Approval request submitted", "id", req.ID, "reference", req.Reference,
		"entity_type", entityType, "entity_id", entityID, "levels", len(levels))
	return req, nil
}

// Approve records the current level's approval. The final level's approval
// makes the request terminal and notifies the originating subsystem; any
// earlier level advances the chain. Levels are strictly sequential: an
// approver for a later level cannot act until every prior level has approved.
func (s *approvalServiceImpl) Approve(ctx context.Context, requestID int64, approverID string, roles []string, comment string) (*entity.ApprovalRequest, error) {
	unlock := s.requestLocks.Lock(requestID)
	defer unlock()

	req, err := s.loadPending(ctx, requestID, approverID, roles)
	if err != nil {
		return nil, err
	}

	machine := workflow.NewApprovalMachine(workflow.State(req.Status))
	trigger := workflow.TriggerAdvance
	if req.IsFinalLevel() {
		trigger = workflow.TriggerApprove
	}
	if err := machine.Fire(ctx, trigger); err != nil {
		return nil, fmt.Errorf("%w: request %d", apperr.ErrAlreadyProcessed, requestID)
	}

	decision := &entity.ApprovalDecision{
		RequestID:  requestID,
		LevelOrder: req.Levels[req.CurrentLevel].LevelOrder,
		ApproverID: approverID,
		Decision:   entity.DecisionApproved,
		Comment:    comment,
		DecidedAt:  time.Now(),
	}

	nextLevel := req.CurrentLevel
	if trigger == workflow.TriggerAdvance {
		nextLevel = req.CurrentLevel + 1
	}
	newStatus := machine.State().String()

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.approvalRepo.AddDecision(txCtx, decision); err != nil {
			return fmt.Errorf("record decision: %w", err)
		}
		ok, err := s.approvalRepo.UpdateState(txCtx, requestID, newStatus, nextLevel)
		if err != nil {
			return fmt.Errorf("update request state: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: request %d", apperr.ErrAlreadyProcessed, requestID)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to approve request", "error", err, "request_id", requestID)
		return nil, err
	}

	req.Status = newStatus
	req.CurrentLevel = nextLevel
	req.Decisions = append(req.Decisions, *decision)
	req.UpdatedAt = decision.DecidedAt

	if newStatus == string(workflow.StateApproved) {
		if err := s.notifier.OnApproved(ctx, req.EntityType, req.EntityID, approverID, comment); err != nil {
			s.logger.Error("Completion notification failed", "error", err,
				"request_id", requestID, "entity_type", req.EntityType, "entity_id", req.EntityID)
			return nil, err
		}
	}

	s.logger.Info("Approval recorded", "request_id", requestID, "approver", approverID,
		"status", req.Status, "current_level", req.CurrentLevel)
	return req, nil
}

// Reject terminates the request from any level. A rejection comment is
// mandatory and there is no rollback to a prior level.
func (s *approvalServiceImpl) Reject(ctx context.Context, requestID int64, approverID string, roles []string, comment string) (*entity.ApprovalRequest, error) {
	if strings.TrimSpace(comment) == "" {
		return nil, apperr.Validationf("a rejection comment is required")
	}

	unlock := s.requestLocks.Lock(requestID)
	defer unlock()

	req, err := s.loadPending(ctx, requestID, approverID, roles)
	if err != nil {
		return nil, err
	}

	machine := workflow.NewApprovalMachine(workflow.State(req.Status))
	if err := machine.Fire(ctx, workflow.TriggerReject); err != nil {
		return nil, fmt.Errorf("%w: request %d", apperr.ErrAlreadyProcessed, requestID)
	}

	decision := &entity.ApprovalDecision{
		RequestID:  requestID,
		LevelOrder: req.Levels[req.CurrentLevel].LevelOrder,
		ApproverID: approverID,
		Decision:   entity.DecisionRejected,
		Comment:    comment,
		DecidedAt:  time.Now(),
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.approvalRepo.AddDecision(txCtx, decision); err != nil {
			return fmt.Errorf("record decision: %w", err)
		}
		ok, err := s.approvalRepo.UpdateState(txCtx, requestID, string(workflow.StateRejected), req.CurrentLevel)
		if err != nil {
			return fmt.Errorf("update request state: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: request %d", apperr.ErrAlreadyProcessed, requestID)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to reject request", "error", err, "request_id", requestID)
		return nil, err
	}

	req.Status = string(workflow.StateRejected)
	req.Decisions = append(req.Decisions, *decision)
	req.UpdatedAt = decision.DecidedAt

	if err := s.notifier.OnRejected(ctx, req.EntityType, req.EntityID, approverID, comment); err != nil {
		s.logger.Error("Completion notification failed", "error", err,
			"request_id", requestID, "entity_type", req.EntityType, "entity_id", req.EntityID)
		return nil, err
	}

	s.logger.Info("Approval request rejected", "request_id", requestID,
		"approver", approverID, "level", decision.LevelOrder)
	return req, nil
}

// Cancel withdraws a request. Only the original requester may cancel, and
// only while the request is PENDING with zero recorded decisions.
func (s *approvalServiceImpl) Cancel(ctx context.Context, requestID int64, requesterID, reason string) (*entity.ApprovalRequest, error) {
	unlock := s.requestLocks.Lock(requestID)
	defer unlock()

	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != string(workflow.StatePending) {
		return nil, fmt.Errorf("%w: request %d is %s", apperr.ErrAlreadyProcessed, requestID, req.Status)
	}
	if req.RequesterID != requesterID {
		return nil, fmt.Errorf("%w: request %d belongs to %s", apperr.ErrUnauthorizedCancel, requestID, req.RequesterID)
	}
	if len(req.Decisions) > 0 {
		return nil, fmt.Errorf("%w: request %d already has %d decision(s)", apperr.ErrCannotCancel, requestID, len(req.Decisions))
	}

	ok, err := s.approvalRepo.UpdateState(ctx, requestID, string(workflow.StateCancelled), req.CurrentLevel)
	if err != nil {
		s.logger.Error("Failed to cancel request", "error", err, "request_id", requestID)
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: request %d", apperr.ErrAlreadyProcessed, requestID)
	}

	req.Status = string(workflow.StateCancelled)
	req.UpdatedAt = time.Now()

	s.logger.Info("Approval request cancelled", "request_id", requestID,
		"requester", requesterID, "reason", reason)
	return req, nil
}

// Get retrieves a request with its levels and decision log.
func (s *approvalServiceImpl) Get(ctx context.Context, requestID int64) (*entity.ApprovalRequest, error) {
	req, err := s.approvalRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, apperr.NotFoundf("approval request", requestID)
	}
	return req, nil
}

// loadPending fetches a request and verifies it is decidable by the actor:
// still PENDING, and the actor holds the current level's required role.
func (s *approvalServiceImpl) loadPending(ctx context.Context, requestID int64, approverID string, roles []string) (*entity.ApprovalRequest, error) {
	if strings.TrimSpace(approverID) == "" {
		return nil, apperr.Validationf("approver must not be empty")
	}

	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != string(workflow.StatePending) {
		return nil, fmt.Errorf("%w: request %d is %s", apperr.ErrAlreadyProcessed, requestID, req.Status)
	}

	required := req.CurrentRequiredRole()
	if !hasRole(roles, required) {
		return nil, fmt.Errorf("%w: level %d requires role %s",
			apperr.ErrUnauthorizedApprover, req.Levels[req.CurrentLevel].LevelOrder, required)
	}

	return req, nil
}

func hasRole(roles []string, required string) bool {
	for _, role := range roles {
		if role == required {
			return true
		}
	}
	return false
}
