package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicworks/budget-backend/internal/application/service"
	"github.com/civicworks/budget-backend/internal/domain/entity"
	"github.com/civicworks/budget-backend/internal/infrastructure/persistence/memory"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type stubReporter struct{ path string }

func (s stubReporter) ExportUtilization(context.Context, int64, int) (string, error) {
	return s.path, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := memory.NewStore()
	logger := nopLogger{}

	budgets := service.NewBudgetService(store.BudgetLines(), store.Transactions(), store.TxManager(), logger)
	transactions := service.NewTransactionService(store.BudgetLines(), store.Transactions(), store.TxManager(), logger)
	alerts := service.NewAlertService(store.BudgetLines(), store.Transactions(), logger)
	forecasts := service.NewForecastService(store.BudgetLines(), store.Transactions(), logger)
	bridge := service.NewLedgerBridge(transactions, logger)
	approvals := service.NewApprovalService(store.Approvals(), store.TxManager(), bridge, logger)

	gating := GatingConfig{
		Threshold: decimal.NewFromInt(10000),
		DefaultLevels: []service.LevelSpec{
			{Order: 1, RequiredRole: "PROJECT_MANAGER"},
			{Order: 2, RequiredRole: "FINANCE_OFFICER"},
		},
	}

	return NewServer(DefaultServerConfig(), budgets, transactions, alerts, forecasts,
		approvals, stubReporter{path: "reports/utilization_test.xlsx"}, gating, logger)
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}, user string, roles string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(headerUserID, user)
	}
	if roles != "" {
		req.Header.Set(headerUserRoles, roles)
	}

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "body: %s", w.Body.String())
	require.True(t, resp.Success, "error: %s", resp.Error)
	if out != nil {
		require.NoError(t, json.Unmarshal(resp.Data, out))
	}
}

func allocateLine(t *testing.T, srv *Server, amount string) entity.BudgetLine {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/api/v1/budgets", map[string]interface{}{
		"project_id":       1,
		"category":         entity.CategoryEquipment,
		"allocated_amount": amount,
		"fiscal_year":      2026,
	}, "planner-1", "")
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

	var line entity.BudgetLine
	decodeData(t, w, &line)
	return line
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/health", nil, "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAllocateAndGetBudget(t *testing.T) {
	srv := newTestServer(t)
	line := allocateLine(t, srv, "10000.00")

	w := doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/budgets/%d", line.ID), nil, "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got BudgetLineResponse
	decodeData(t, w, &got)
	require.NotNil(t, got.Line)
	require.NotNil(t, got.Utilization)
	assert.Equal(t, line.ID, got.Line.ID)
	assert.Equal(t, entity.BudgetLineActive, got.Line.Status)
	assert.True(t, got.Utilization.Available.Equal(decimal.RequireFromString("10000.00")))
}

// Amount columns are integer cents; the boundary refuses sub-cent precision
// and strips control characters from free text before it reaches the core.
func TestRecordTransaction_InputHygiene(t *testing.T) {
	srv := newTestServer(t)
	line := allocateLine(t, srv, "10000.00")

	w := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/budgets/%d/transactions", line.ID),
		map[string]interface{}{
			"type":        entity.TxTypeExpense,
			"amount":      "10.999",
			"description": "sub-cent entry",
		}, "user-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "body: %s", w.Body.String())

	w = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/budgets/%d/transactions", line.ID),
		map[string]interface{}{
			"type":        entity.TxTypeExpense,
			"amount":      "10.99",
			"description": "server\x01 hardware",
		}, "user-1", "")
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

	var resp RecordTransactionResponse
	decodeData(t, w, &resp)
	assert.Equal(t, "server hardware", resp.Transaction.Description)
}

func TestAllocateBudget_StatusMapping(t *testing.T) {
	srv := newTestServer(t)
	allocateLine(t, srv, "10000.00")

	// Duplicate scope conflicts.
	w := doJSON(t, srv, http.MethodPost, "/api/v1/budgets", map[string]interface{}{
		"project_id":       1,
		"category":         entity.CategoryEquipment,
		"allocated_amount": "500.00",
		"fiscal_year":      2026,
	}, "planner-1", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// Bad category is a validation failure.
	w = doJSON(t, srv, http.MethodPost, "/api/v1/budgets", map[string]interface{}{
		"project_id":       1,
		"category":         "SNACKS",
		"allocated_amount": "500.00",
		"fiscal_year":      2026,
	}, "planner-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown line is 404.
	w = doJSON(t, srv, http.MethodGet, "/api/v1/budgets/999", nil, "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecordTransaction_InsufficientBudget(t *testing.T) {
	srv := newTestServer(t)
	line := allocateLine(t, srv, "1000.00")

	w := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/budgets/%d/transactions", line.ID),
		map[string]interface{}{
			"type":        entity.TxTypeExpense,
			"amount":      "1500.00",
			"description": "too big",
		}, "user-1", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRecordAndDecideTransaction(t *testing.T) {
	srv := newTestServer(t)
	line := allocateLine(t, srv, "1000.00")

	w := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/budgets/%d/transactions", line.ID),
		map[string]interface{}{
			"type":        entity.TxTypeExpense,
			"amount":      "400.00",
			"description": "field equipment",
		}, "user-1", "")
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

	var created RecordTransactionResponse
	decodeData(t, w, &created)
	require.NotNil(t, created.Transaction)
	assert.Equal(t, entity.TxStatusPending, created.Transaction.Status)
	assert.Equal(t, "user-1", created.Transaction.CreatedBy)
	assert.Nil(t, created.ApprovalRequest, "below the gating threshold")

	w = doJSON(t, srv, http.MethodPost,
		fmt.Sprintf("/api/v1/transactions/%d/decide", created.Transaction.ID),
		map[string]interface{}{"decision": entity.TxStatusApproved, "comment": "ok"},
		"approver-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	// Second decision conflicts.
	w = doJSON(t, srv, http.MethodPost,
		fmt.Sprintf("/api/v1/transactions/%d/decide", created.Transaction.ID),
		map[string]interface{}{"decision": entity.TxStatusRejected, "comment": "late"},
		"approver-2", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// Utilization reflects the approved spend.
	w = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/budgets/%d/utilization", line.ID), nil, "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var u entity.Utilization
	decodeData(t, w, &u)
	assert.True(t, u.Spent.Equal(decimal.RequireFromString("400.00")), "spent = %s", u.Spent)
}

func TestRecordTransaction_GatedAboveThreshold(t *testing.T) {
	srv := newTestServer(t)
	line := allocateLine(t, srv, "50000.00")

	w := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/budgets/%d/transactions", line.ID),
		map[string]interface{}{
			"type":        entity.TxTypeExpense,
			"amount":      "20000.00",
			"description": "server hardware",
		}, "requester-1", "")
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

	var created RecordTransactionResponse
	decodeData(t, w, &created)
	require.NotNil(t, created.ApprovalRequest, "at or above the gating threshold")
	assert.Equal(t, entity.EntityTypeTransaction, created.ApprovalRequest.EntityType)
	assert.Equal(t, created.Transaction.ID, created.ApprovalRequest.EntityID)

	reqID := created.ApprovalRequest.ID

	// Wrong-level approver is forbidden.
	w = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/approvals/%d/approve", reqID),
		map[string]interface{}{"comment": ""}, "fin-1", "FINANCE_OFFICER")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Walk the chain in order.
	w = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/approvals/%d/approve", reqID),
		map[string]interface{}{"comment": "approved"}, "pm-1", "PROJECT_MANAGER")
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	w = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/approvals/%d/approve", reqID),
		map[string]interface{}{"comment": "approved"}, "fin-1", "FINANCE_OFFICER,AUDITOR")
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	// The final approval folded the transaction into the ledger.
	w = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/transactions/%d", created.Transaction.ID), nil, "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var tx entity.Transaction
	decodeData(t, w, &tx)
	assert.Equal(t, entity.TxStatusApproved, tx.Status)
}

func TestRejectWithoutComment(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/approvals", map[string]interface{}{
		"entity_type": entity.EntityTypeProject,
		"entity_id":   1,
		"levels": []map[string]interface{}{
			{"order": 1, "required_role": "PROJECT_MANAGER"},
		},
	}, "requester-1", "")
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

	var req entity.ApprovalRequest
	decodeData(t, w, &req)

	w = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/approvals/%d/reject", req.ID),
		map[string]interface{}{"comment": ""}, "pm-1", "PROJECT_MANAGER")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelByNonRequesterForbidden(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/approvals", map[string]interface{}{
		"entity_type": entity.EntityTypeProject,
		"entity_id":   1,
		"levels": []map[string]interface{}{
			{"order": 1, "required_role": "PROJECT_MANAGER"},
		},
	}, "requester-1", "")
	require.Equal(t, http.StatusCreated, w.Code)

	var req entity.ApprovalRequest
	decodeData(t, w, &req)

	w = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/approvals/%d/cancel", req.ID),
		map[string]interface{}{"comment": "not mine"}, "someone-else", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/approvals/%d/cancel", req.ID),
		map[string]interface{}{"comment": "mistake"}, "requester-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAlertsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	line := allocateLine(t, srv, "1000.00")

	w := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/budgets/%d/transactions", line.ID),
		map[string]interface{}{
			"type":        entity.TxTypeExpense,
			"amount":      "950.00",
			"description": "almost everything",
		}, "user-1", "")
	require.Equal(t, http.StatusCreated, w.Code)

	var created RecordTransactionResponse
	decodeData(t, w, &created)

	w = doJSON(t, srv, http.MethodPost,
		fmt.Sprintf("/api/v1/transactions/%d/decide", created.Transaction.ID),
		map[string]interface{}{"decision": entity.TxStatusApproved}, "approver-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/alerts", nil, "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var alerts []entity.Alert
	decodeData(t, w, &alerts)
	require.Len(t, alerts, 1)
	assert.Equal(t, entity.SeverityHigh, alerts[0].Severity)
}

func TestExportUtilizationReport(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/reports/utilization?project_id=1", nil, "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var data map[string]string
	decodeData(t, w, &data)
	assert.Equal(t, "reports/utilization_test.xlsx", data["report_path"])
}

func TestInvalidIDPath(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/v1/budgets/abc", nil, "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
