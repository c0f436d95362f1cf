// Package http provides the HTTP adapter for the application layer. It is a
// thin translation layer: requests become service calls, service errors
// become status codes.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/civicworks/budget-backend/internal/application/service"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(
	config ServerConfig,
	budgetService service.BudgetService,
	transactionService service.TransactionService,
	alertService service.AlertService,
	forecastService service.ForecastService,
	approvalService service.ApprovalService,
	reporter UtilizationReporter,
	gating GatingConfig,
	logger Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	server := &Server{
		config: config,
		router: router,
		handlers: NewHandlers(budgetService, transactionService, alertService,
			forecastService, approvalService, reporter, gating, logger),
		logger: logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(actorMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := s.handlers

	// Health check
	s.router.GET("/health", h.HealthCheck)

	// API routes
	api := s.router.Group("/api/v1")
	{
		// Budget ledger
		api.POST("/budgets", h.AllocateBudget)
		api.GET("/budgets", h.ListBudgets)
		api.GET("/budgets/:id", h.GetBudget)
		api.PUT("/budgets/:id", h.AmendBudget)
		api.POST("/budgets/:id/close", h.CloseBudget)
		api.GET("/budgets/:id/utilization", h.GetUtilization)
		api.GET("/budgets/:id/forecast", h.GetForecast)
		api.GET("/budgets/:id/alerts", h.GetLineAlerts)

		// Transactions
		api.POST("/budgets/:id/transactions", h.RecordTransaction)
		api.GET("/budgets/:id/transactions", h.ListLineTransactions)
		api.GET("/transactions/:id", h.GetTransaction)
		api.POST("/transactions/:id/decide", h.DecideTransaction)

		// Approval workflow
		api.POST("/approvals", h.SubmitApproval)
		api.GET("/approvals/:id", h.GetApproval)
		api.POST("/approvals/:id/approve", h.ApproveRequest)
		api.POST("/approvals/:id/reject", h.RejectRequest)
		api.POST("/approvals/:id/cancel", h.CancelRequest)

		// Alerts and reporting
		api.GET("/alerts", h.ListAlerts)
		api.GET("/reports/utilization", h.ExportUtilizationReport)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
