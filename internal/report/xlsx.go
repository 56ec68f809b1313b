package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// Sheet names of the XLSX workbook.
const (
	SheetSummary   = "Summary"
	SheetFrequency = "Frequency"
	SheetDepth     = "Depth"
)

// XLSXWriter outputs reports as an Excel workbook with one sheet for the
// job summary, one for frequency rows and one for depth nodes.
type XLSXWriter struct {
	baseWriter
}

// NewXLSXWriter creates an XLSXWriter that outputs to the given writer.
func NewXLSXWriter(output io.Writer) *XLSXWriter {
	return &XLSXWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs the report as an XLSX workbook.
func (w *XLSXWriter) Write(report *Report) (int, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return 0, fmt.Errorf("failed to name summary sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return 0, fmt.Errorf("failed to create header style: %w", err)
	}

	summary := [][]any{
		{"Job", report.JobID},
		{"State", string(report.State)},
		{"Mode", string(report.Params.Mode)},
		{"Regions", joinInts(report.Regions)},
		{"Rows", len(report.Rows)},
		{"Nodes", len(report.Nodes)},
		{"Not crawled", report.PendingCount()},
		{"Error", report.Error},
	}
	if err := writeSheet(f, SheetSummary, []any{"Property", "Value"}, summary, bold); err != nil {
		return 0, err
	}

	freq := make([][]any, len(report.Rows))
	for i, r := range report.Rows {
		freq[i] = []any{r.Phrase, r.Region, r.WS, r.QWS, r.BWS, string(r.Status), r.AccountID}
	}
	if _, err := f.NewSheet(SheetFrequency); err != nil {
		return 0, fmt.Errorf("failed to add frequency sheet: %w", err)
	}
	if err := writeSheet(f, SheetFrequency,
		[]any{"Phrase", "Region", "WS", "QWS", "BWS", "Status", "Account"}, freq, bold); err != nil {
		return 0, err
	}

	if len(report.Nodes) > 0 {
		depth := make([][]any, len(report.Nodes))
		for i, n := range report.Nodes {
			depth[i] = []any{n.Seed, n.Region, n.Level, n.Parent, n.Phrase, n.Shows}
		}
		if _, err := f.NewSheet(SheetDepth); err != nil {
			return 0, fmt.Errorf("failed to add depth sheet: %w", err)
		}
		if err := writeSheet(f, SheetDepth,
			[]any{"Seed", "Region", "Level", "Parent", "Phrase", "Shows"}, depth, bold); err != nil {
			return 0, err
		}
	}

	n, err := f.WriteTo(w.output)
	if err != nil {
		return int(n), fmt.Errorf("failed to write workbook: %w", err)
	}
	return int(n), nil
}

func writeSheet(f *excelize.File, sheet string, header []any, rows [][]any, headerStyle int) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
		}
	}
	return f.SetColWidth(sheet, "A", "A", 40)
}
