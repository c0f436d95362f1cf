package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/civicworks/budget-backend/internal/application/service"
	"github.com/civicworks/budget-backend/internal/config"
	"github.com/civicworks/budget-backend/internal/infrastructure/persistence/repository"
	httpiface "github.com/civicworks/budget-backend/internal/interfaces/http"
	"github.com/civicworks/budget-backend/internal/report"
	"github.com/civicworks/budget-backend/pkg/database"
	"github.com/civicworks/budget-backend/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// Local .env overrides, ignored when absent
	_ = gotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting budget backend",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Repositories
	lineRepo := repository.NewBudgetLineRepository(db.DB, logger)
	txRepo := repository.NewTransactionRepository(db.DB, logger)
	approvalRepo := repository.NewApprovalRepository(db.DB, logger)

	// Services
	serviceLogger := utils.NewSugaredAdapter(logger)
	budgetService := service.NewBudgetService(lineRepo, txRepo, db, serviceLogger)
	transactionService := service.NewTransactionService(lineRepo, txRepo, db, serviceLogger)
	alertService := service.NewAlertService(lineRepo, txRepo, serviceLogger)
	forecastService := service.NewForecastService(lineRepo, txRepo, serviceLogger)

	// Approved TRANSACTION requests fold their target into the ledger.
	bridge := service.NewLedgerBridge(transactionService, serviceLogger)
	approvalService := service.NewApprovalService(approvalRepo, db, bridge, serviceLogger)

	exporter := report.NewExporter(lineRepo, txRepo, cfg.Report.OutputDir, logger)

	gating := httpiface.GatingConfig{
		Threshold:     decimal.NewFromFloat(cfg.Approval.GatingThreshold),
		DefaultLevels: defaultLevels(cfg.Approval.DefaultRoles),
	}

	server := httpiface.NewServer(
		httpiface.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		budgetService,
		transactionService,
		alertService,
		forecastService,
		approvalService,
		exporter,
		gating,
		serviceLogger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}

// defaultLevels turns the comma-separated role list from configuration into
// an ordered approval chain.
func defaultLevels(roles string) []service.LevelSpec {
	var levels []service.LevelSpec
	for _, role := range strings.Split(roles, ",") {
		if role = strings.TrimSpace(role); role != "" {
			levels = append(levels, service.LevelSpec{Order: len(levels) + 1, RequiredRole: role})
		}
	}
	return levels
}
