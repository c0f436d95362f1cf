package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/civicworks/budget-backend/internal/application/service"
	"github.com/civicworks/budget-backend/internal/domain/apperr"
	"github.com/civicworks/budget-backend/internal/domain/entity"
	"github.com/civicworks/budget-backend/pkg/utils"
)

// Actor identity is injected by an upstream gateway; this service trusts the
// headers and enforces only role and ownership rules.
const (
	headerUserID    = "X-User-ID"
	headerUserRoles = "X-User-Roles"

	ctxKeyUserID = "actor_user_id"
	ctxKeyRoles  = "actor_roles"
)

// actorMiddleware extracts the acting user and their roles from headers.
func actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxKeyUserID, strings.TrimSpace(c.GetHeader(headerUserID)))

		var roles []string
		for _, role := range strings.Split(c.GetHeader(headerUserRoles), ",") {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
		c.Set(ctxKeyRoles, roles)

		c.Next()
	}
}

func actorFrom(c *gin.Context) (string, []string) {
	userID := c.GetString(ctxKeyUserID)
	roles, _ := c.Get(ctxKeyRoles)
	actorRoles, _ := roles.([]string)
	return userID, actorRoles
}

// GatingConfig decides which transactions require a multi-level approval
// chain in addition to the direct decision path.
type GatingConfig struct {
	// Threshold is the amount at or above which a recorded debit is gated.
	// A zero threshold disables gating.
	Threshold decimal.Decimal

	// DefaultLevels is the chain submitted for gated transactions.
	DefaultLevels []service.LevelSpec
}

// UtilizationReporter exports a utilization workbook and returns its path.
type UtilizationReporter interface {
	ExportUtilization(ctx context.Context, projectID int64, fiscalYear int) (string, error)
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	budgetService      service.BudgetService
	transactionService service.TransactionService
	alertService       service.AlertService
	forecastService    service.ForecastService
	approvalService    service.ApprovalService
	reporter           UtilizationReporter
	gating             GatingConfig
	logger             Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	budgetService service.BudgetService,
	transactionService service.TransactionService,
	alertService service.AlertService,
	forecastService service.ForecastService,
	approvalService service.ApprovalService,
	reporter UtilizationReporter,
	gating GatingConfig,
	logger Logger,
) *Handlers {
	return &Handlers{
		budgetService:      budgetService,
		transactionService: transactionService,
		alertService:       alertService,
		forecastService:    forecastService,
		approvalService:    approvalService,
		reporter:           reporter,
		gating:             gating,
		logger:             logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// respondError translates the error taxonomy into HTTP status codes.
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, apperr.ErrUnauthorizedApprover), errors.Is(err, apperr.ErrUnauthorizedCancel):
		status = http.StatusForbidden
		message = err.Error()
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, apperr.ErrConflict),
		errors.Is(err, apperr.ErrAlreadyProcessed),
		errors.Is(err, apperr.ErrCannotCancel):
		status = http.StatusConflict
		message = err.Error()
	case errors.Is(err, apperr.ErrInsufficientBudget):
		status = http.StatusUnprocessableEntity
		message = err.Error()
	case errors.Is(err, apperr.ErrContention):
		status = http.StatusServiceUnavailable
		message = err.Error()
	default:
		h.logger.Error("Unhandled error", "error", err)
	}

	c.JSON(status, Response{Success: false, Error: message})
}

func (h *Handlers) respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

// bindAmount rejects amounts with sub-cent precision before they reach the
// integer-cents storage.
func bindAmount(c *gin.Context, amount decimal.Decimal) bool {
	if err := utils.ValidateAmountString(amount.String()); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "amount must have at most two decimal places"})
		return false
	}
	return true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid id"})
		return 0, false
	}
	return id, true
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	h.respondOK(c, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	})
}

// AllocateBudgetRequest is the payload for POST /api/v1/budgets
type AllocateBudgetRequest struct {
	ProjectID             int64           `json:"project_id"`
	Category              string          `json:"category"`
	AllocatedAmount       decimal.Decimal `json:"allocated_amount"`
	FiscalYear            int             `json:"fiscal_year"`
	AlertThresholdPercent int             `json:"alert_threshold_percent"`
}

// AllocateBudget handles POST /api/v1/budgets
func (h *Handlers) AllocateBudget(c *gin.Context) {
	var req AllocateBudgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	if !bindAmount(c, req.AllocatedAmount) {
		return
	}

	line, err := h.budgetService.Allocate(c.Request.Context(), req.ProjectID, req.Category,
		req.AllocatedAmount, req.FiscalYear, req.AlertThresholdPercent)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOK(c, http.StatusCreated, line)
}

// ListBudgetsRequest represents query parameters for listing budget lines
type ListBudgetsRequest struct {
	ProjectID  int64 `form:"project_id"`
	FiscalYear int   `form:"fiscal_year"`
	Limit      int   `form:"limit"`
	Offset     int   `form:"offset"`
}

// ListBudgets handles GET /api/v1/budgets
func (h *Handlers) ListBudgets(c *gin.Context) {
	var req ListBudgetsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid query parameters"})
		return
	}

	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	lines, err := h.budgetService.List(c.Request.Context(), req.ProjectID, req.FiscalYear, req.Limit, req.Offset)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOK(c, http.StatusOK, lines)
}

// BudgetLineResponse pairs the line metadata with its derived balances.
type BudgetLineResponse struct {
	Line        *entity.BudgetLine  `json:"line"`
	Utilization *entity.Utilization `json:"utilization"`
}

// GetBudget handles GET /api/v1/budgets/:id
func (h *Handlers) GetBudget(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	line, err := h.budgetService.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	utilization, err := h.budgetService.Utilization(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOK(c, http.StatusOK, BudgetLineResponse{Line: line, Utilization: utilization})
}

// AmendBudgetRequest is the payload for PUT /api/v1/budgets/:id. Only the
// allocated amount is amendable; unknown fields never reach storage.
type AmendBudgetRequest struct {
	AllocatedAmount decimal.Decimal `json:"allocated_amount"`
}

// AmendBudget handles PUT /api/v1/budgets/:id
func (h *Handlers) AmendBudget(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req AmendBudgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	if !bindAmount(c, req.AllocatedAmount) {
		return
	}

	line, err := h.budgetService.Amend(c.Request.Context(), service.AmendBudgetCommand{
		LineID:             id,
		NewAllocatedAmount: req.AllocatedAmount,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOK(c, http.StatusOK, line)
}

// CloseBudget handles POST /api/v1/budgets/:id/close
func (h *Handlers) CloseBudget(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.budgetService.Close(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOK(c, http.StatusOK, gin.H{"line_id": id, "status": entity.BudgetLineClosed})
}

// GetUtilization handles GET /api/v1/budgets/:id/utilization
func (h *Handlers) GetUtilization(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	utilization, err := h.budgetService.Utilization(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOK(c, http.StatusOK, utilization)
}

// GetForecast handles GET /api/v1/budgets/:id/forecast
func (h *Handlers) GetForecast(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	forecast, err := h.forecastService.Forecast(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOK(c, http.StatusOK, forecast)
}

// GetLineAlerts handles GET /api/v1/budgets/:id/alerts
func (h *Handlers) GetLineAlerts(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	alerts, err := h.alertService.Evaluate(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOK(c, http.StatusOK, alerts)
}

// ListLineTransactions handles GET /api/v1/budgets/:id/transactions
func (h *Handlers) ListLineTransactions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	txs, err := h.transactionService.ListByLine(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOK(c, http.StatusOK, txs)
}

// RecordTransactionRequest is the payload for POST /api/v1/budgets/:id/transactions
type RecordTransactionRequest struct {
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	VendorID    *int64          `json:"vendor_id,omitempty"`
}

// RecordTransactionResponse carries the recorded transaction plus, for gated
// amounts, the approval request that now guards it.
type RecordTransactionResponse struct {
	Transaction     *entity.Transaction     `json:"transaction"`
	ApprovalRequest *entity.ApprovalRequest `json:"approval_request,omitempty"`
}

// RecordTransaction handles POST /api/v1/budgets/:id/transactions. Debits at
// or above the gating threshold additionally get a multi-level approval
// request; the transaction stays PENDING until the chain resolves it.
func (h *Handlers) RecordTransaction(c *gin.Context) {
	lineID, ok := pathID(c)
	if !ok {
		return
	}

	var req RecordTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	if !bindAmount(c, req.Amount) {
		return
	}

	userID, _ := actorFrom(c)
	tx, err := h.transactionService.Record(c.Request.Context(), lineID, req.Type,
		req.Amount, utils.SanitizeString(req.Description), req.VendorID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := RecordTransactionResponse{Transaction: tx}

	if h.isGated(tx) {
		approval, err := h.approvalService.Submit(c.Request.Context(),
			entity.EntityTypeTransaction, tx.ID, userID, h.gating.DefaultLevels)
		if err != nil {
			h.logger.Error("Failed to submit gating approval", "error", err, "transaction_id", tx.ID)
			h.respondError(c, err)
			return
		}
		resp.ApprovalRequest = approval
	}

	h.respondOK(c, http.StatusCreated, resp)
}

func (h *Handlers) isGated(tx *entity.Transaction) bool {
	return tx.IsDebit() &&
		h.gating.Threshold.IsPositive() &&
		len(h.gating.DefaultLevels) > 0 &&
		tx.Amount.GreaterThanOrEqual(h.gating.Threshold)
}

// GetTransaction handles GET /api/v1/transactions/:id
func (h *Handlers) GetTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	tx, err := h.transactionService.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOK(c, http.StatusOK, tx)
}

// DecideTransactionRequest is the payload for POST /api/v1/transactions/:id/decide
type DecideTransactionRequest struct {
	Decision string `json:"decision"`
	Comment  string `json:"comment"`
}

// DecideTransaction handles POST /api/v1/transactions/:id/decide
func (h *Handlers) DecideTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req DecideTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	userID, _ := actorFrom(c)
	tx, err := h.transactionService.Decide(c.Request.Context(), id, req.Decision, userID, utils.SanitizeString(req.Comment))
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOK(c, http.StatusOK, tx)
}

// SubmitApprovalRequest is the payload for POST /api/v1/approvals
type SubmitApprovalRequest struct {
	EntityType string              `json:"entity_type"`
	EntityID   int64               `json:"entity_id"`
	Levels     []service.LevelSpec `json:"levels"`
}

// SubmitApproval handles POST /api/v1/approvals
func (h *Handlers) SubmitApproval(c *gin.Context) {
	var req SubmitApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	userID, _ := actorFrom(c)
	approval, err := h.approvalService.Submit(c.Request.Context(), req.EntityType, req.EntityID, userID, req.Levels)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOK(c, http.StatusCreated, approval)
}

// GetApproval handles GET /api/v1/approvals/:id
func (h *Handlers) GetApproval(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	approval, err := h.approvalService.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOK(c, http.StatusOK, approval)
}

// DecisionRequest is the payload for approve/reject/cancel actions.
type DecisionRequest struct {
	Comment string `json:"comment"`
}

// ApproveRequest handles POST /api/v1/approvals/:id/approve
func (h *Handlers) ApproveRequest(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	userID, roles := actorFrom(c)
	approval, err := h.approvalService.Approve(c.Request.Context(), id, userID, roles, utils.SanitizeString(req.Comment))
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOK(c, http.StatusOK, approval)
}

// RejectRequest handles POST /api/v1/approvals/:id/reject
func (h *Handlers) RejectRequest(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	userID, roles := actorFrom(c)
	approval, err := h.approvalService.Reject(c.Request.Context(), id, userID, roles, utils.SanitizeString(req.Comment))
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOK(c, http.StatusOK, approval)
}

// CancelRequest handles POST /api/v1/approvals/:id/cancel
func (h *Handlers) CancelRequest(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	userID, _ := actorFrom(c)
	approval, err := h.approvalService.Cancel(c.Request.Context(), id, userID, utils.SanitizeString(req.Comment))
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOK(c, http.StatusOK, approval)
}

// ListAlerts handles GET /api/v1/alerts
func (h *Handlers) ListAlerts(c *gin.Context) {
	alerts, err := h.alertService.EvaluateAll(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOK(c, http.StatusOK, alerts)
}

// ExportUtilizationReport handles GET /api/v1/reports/utilization
func (h *Handlers) ExportUtilizationReport(c *gin.Context) {
	var req ListBudgetsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid query parameters"})
		return
	}

	path, err := h.reporter.ExportUtilization(c.Request.Context(), req.ProjectID, req.FiscalYear)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOK(c, http.StatusOK, gin.H{"report_path": path})
}
