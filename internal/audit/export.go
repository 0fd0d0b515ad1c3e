package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	decisionsSheet = "Decisions"
	summarySheet   = "Summary"
)

var exportColumns = []string{
	"Timestamp", "Symbol", "Producer", "Strategy", "Direction", "Outcome", "Reason",
	"Mode", "Regime", "Confidence", "Weighted Score", "Requested Qty", "Approved Qty",
	"Adjustments", "Warnings", "Order ID", "Latency (ms)",
}

// ExportXLSX writes records to an Excel workbook with a decisions sheet and an outcome summary
func ExportXLSX(records []Record, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	fx.SetSheetName(fx.GetSheetName(0), decisionsSheet)
	if _, err := fx.NewSheet(summarySheet); err != nil {
		return err
	}

	header, err := fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
	})
	if err != nil {
		return err
	}

	for i, name := range exportColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(decisionsSheet, cell, name)
	}
	last, _ := excelize.CoordinatesToCellName(len(exportColumns), 1)
	fx.SetCellStyle(decisionsSheet, "A1", last, header)

	counts := map[Outcome]int{}
	for r, rec := range records {
		counts[rec.Outcome]++
		row := []interface{}{
			rec.Timestamp.UTC().Format("2006-01-02 15:04:05.000"),
			rec.Symbol, rec.Producer, rec.Strategy, rec.Direction, string(rec.Outcome), rec.Reason,
			rec.Mode, rec.Regime, rec.Confidence, rec.WeightedScore, rec.RequestedQuantity, rec.ApprovedQuantity,
			strings.Join(rec.Adjustments, "; "), strings.Join(rec.Warnings, "; "), rec.OrderID, rec.LatencyMs,
		}
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := fx.SetSheetRow(decisionsSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", r+2, err)
		}
	}
	fx.SetPanes(decisionsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	fx.SetCellValue(summarySheet, "A1", "Outcome")
	fx.SetCellValue(summarySheet, "B1", "Count")
	fx.SetCellStyle(summarySheet, "A1", "B1", header)
	for i, o := range Outcomes {
		fx.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+2), string(o))
		fx.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+2), counts[o])
	}
	fx.SetCellValue(summarySheet, fmt.Sprintf("A%d", len(Outcomes)+2), "total")
	fx.SetCellValue(summarySheet, fmt.Sprintf("B%d", len(Outcomes)+2), len(records))

	return fx.SaveAs(path)
}
