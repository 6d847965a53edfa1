package export

import (
	"fmt"
	"io"
	"raid-attendance/internal/attendance"

	"github.com/xuri/excelize/v2"
)

const SheetName = "Attendance"

// leading columns before the per-day cells
var headers = []any{"Member", "Rank", "Attended", "Total", "Percentage"}

// CellCode is the one-letter rendering of a matrix cell. Days before a
// member's first appearance stay blank.
func CellCode(c attendance.Cell) string {
	switch c {
	case attendance.CellPresent:
		return "P"
	case attendance.CellBenched:
		return "B"
	case attendance.CellAbsent:
		return "A"
	default:
		return ""
	}
}

// WriteMatrix renders m as a single-sheet workbook: one row per member, one
// column per raid day.
func WriteMatrix[ID comparable](w io.Writer, m attendance.Matrix[ID]) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]any, 0, len(headers)+len(m.Columns))
	header = append(header, headers...)
	for _, col := range m.Columns {
		header = append(header, col.Date.String())
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return err
	}

	for i, row := range m.Rows {
		values := make([]any, 0, len(headers)+len(row.Cells))
		values = append(values, row.Member.Name, row.Member.Rank, row.Attended, row.Total, row.Percentage)
		for _, c := range row.Cells {
			values = append(values, CellCode(c))
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("failed to write row for %s: %w", row.Member.Name, err)
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		XSplit:      1,
		YSplit:      1,
		TopLeftCell: "B2",
		ActivePane:  "bottomRight",
	}); err != nil {
		return err
	}

	return f.Write(w)
}
