package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// XLSXExporter renders datasets into a single-sheet workbook.
type XLSXExporter struct{}

// NewXLSXExporter constructs an Excel exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// Render writes headers in bold on the first row, then rows and the footer.
func (e *XLSXExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("xlsx requires at least one header")
	}
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	sheet := sheetName(data.Title)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	header := make([]interface{}, len(data.Headers))
	for i, h := range data.Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header row: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(data.Headers))
	if err != nil {
		return nil, fmt.Errorf("resolve column: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", lastCol+"1", bold); err != nil {
		return nil, fmt.Errorf("style header row: %w", err)
	}
	if err := f.SetColWidth(sheet, "A", lastCol, 18); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}

	for i, record := range data.records() {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("resolve cell: %w", err)
		}
		row := make([]interface{}, len(record))
		for j, v := range record {
			row[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// sheetName trims titles to the 31 characters Excel allows.
func sheetName(title string) string {
	if title == "" {
		return "Report"
	}
	runes := []rune(title)
	if len(runes) > 31 {
		runes = runes[:31]
	}
	return string(runes)
}
