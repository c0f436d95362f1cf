// Package report exports budget utilization workbooks for finance review.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/civicworks/budget-backend/internal/application/port"
	"github.com/civicworks/budget-backend/internal/application/service"
)

// Exporter writes utilization reports as Excel workbooks.
type Exporter struct {
	lineRepo  port.BudgetLineRepository
	txRepo    port.TransactionRepository
	outputDir string
	logger    *zap.Logger
}

// NewExporter creates a new report exporter
func NewExporter(lineRepo port.BudgetLineRepository, txRepo port.TransactionRepository, outputDir string, logger *zap.Logger) *Exporter {
	return &Exporter{
		lineRepo:  lineRepo,
		txRepo:    txRepo,
		outputDir: outputDir,
		logger:    logger,
	}
}

var reportHeaders = []string{
	"Line ID", "Project ID", "Category", "Fiscal Year", "Status",
	"Allocated", "Spent", "Committed", "Available", "Utilization %",
}

// ExportUtilization writes one row per budget line matching the filter and
// returns the path of the generated workbook. Zero filter values mean "all".
func (e *Exporter) ExportUtilization(ctx context.Context, projectID int64, fiscalYear int) (string, error) {
	lines, err := e.lineRepo.List(ctx, projectID, fiscalYear, 10000, 0)
	if err != nil {
		return "", fmt.Errorf("list budget lines: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheetName = "Utilization"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	for col, header := range reportHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		e.setCell(f, sheetName, cell, header)
	}

	for row, line := range lines {
		agg, err := e.txRepo.Aggregates(ctx, line.ID)
		if err != nil {
			return "", fmt.Errorf("aggregate line %d: %w", line.ID, err)
		}

		u := service.DeriveUtilization(line, agg)
		values := []interface{}{
			line.ID,
			line.ProjectID,
			line.Category,
			line.FiscalYear,
			line.Status,
			u.Allocated.StringFixed(2),
			u.Spent.StringFixed(2),
			u.Committed.StringFixed(2),
			u.Available.StringFixed(2),
			u.UtilizationPercent.StringFixed(2),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			e.setCell(f, sheetName, cell, value)
		}
	}

	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	outputPath := filepath.Join(e.outputDir,
		fmt.Sprintf("utilization_%s.xlsx", time.Now().Format("20060102_150405")))
	if err := f.SaveAs(outputPath); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}

	e.logger.Info("Utilization report exported",
		zap.String("path", outputPath),
		zap.Int("lines", len(lines)))
	return outputPath, nil
}

func (e *Exporter) setCell(f *excelize.File, sheet, cell string, value interface{}) {
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		e.logger.Warn("Failed to set cell value",
			zap.String("sheet", sheet),
			zap.String("cell", cell),
			zap.Error(err))
	}
}
