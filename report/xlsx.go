package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	calendarSheet = "Calendario"
	summarySheet  = "Resumo"
)

var calendarHeaders = []string{
	"Data", "Grupo", "OP", "Modelo", "Inicio", "Fim",
	"Planejado", "Realizado", "Perda", "Status", "Hora extra",
}

var summaryHeaders = []string{
	"Grupo", "Descricao", "Planejado", "Realizado", "Perda", "Horas", "Eficiencia %",
}

// WriteXLSX writes the report as a workbook with a calendar sheet and a
// per-group summary sheet.
func WriteXLSX(w io.Writer, r *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", calendarSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"E0E0E0"}, Pattern: 1},
		Border: []excelize.Border{{Type: "bottom", Color: "000000", Style: 2}},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := writeHeader(f, calendarSheet, calendarHeaders, headerStyle); err != nil {
		return err
	}
	for i, row := range r.Rows {
		n := i + 2
		extra := ""
		if row.NeedsApproval {
			extra = "sim"
		}
		values := []any{
			row.Date.String(), row.GroupDescription, row.OrderCode, row.ModelCode,
			row.Span.Start.String(), row.Span.End.String(),
			row.Planned, row.Actual, row.Loss, string(row.Status), extra,
		}
		for col, v := range values {
			if err := f.SetCellValue(calendarSheet, cellName(col+1, n), v); err != nil {
				return err
			}
		}
	}

	if err := writeHeader(f, summarySheet, summaryHeaders, headerStyle); err != nil {
		return err
	}
	for i, g := range r.Groups {
		n := i + 2
		hours, _ := g.Hours.Float64()
		eff, _ := g.Efficiency.Float64()
		values := []any{string(g.GroupID), g.Description, g.Planned, g.Actual, g.Loss, hours, eff}
		for col, v := range values {
			if err := f.SetCellValue(summarySheet, cellName(col+1, n), v); err != nil {
				return err
			}
		}
	}

	for _, sheet := range []string{calendarSheet, summarySheet} {
		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return fmt.Errorf("freeze header of %s: %w", sheet, err)
		}
		if err := f.SetColWidth(sheet, "A", "K", 14); err != nil {
			return fmt.Errorf("set column width of %s: %w", sheet, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	for i, name := range headers {
		if err := f.SetCellValue(sheet, cellName(i+1, 1), name); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(sheet, "A1", cellName(len(headers), 1), style); err != nil {
		return fmt.Errorf("style header of %s: %w", sheet, err)
	}
	return nil
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
