package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/luna-labs/accuracy.report/internal/db"
	"github.com/luna-labs/accuracy.report/internal/rollup"
)

var fixedColumns = []string{"Key", "Metric", "Updated"}

// WriteWorkbook writes one sheet per summary kind. Each payload's top-level
// fields become columns; nested objects are written as JSON text.
func WriteWorkbook(w io.Writer, summaries []db.Summary) error {
	byKind := make(map[string][]db.Summary)
	for _, s := range summaries {
		byKind[s.Kind] = append(byKind[s.Kind], s)
	}

	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, kind := range rollup.Kinds {
		sheet := string(kind)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return fmt.Errorf("failed to rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
		}
		if err := writeSheet(f, sheet, byKind[sheet], headerStyle); err != nil {
			return fmt.Errorf("sheet %s: %w", sheet, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, rows []db.Summary, headerStyle int) error {
	docs := make([]map[string]json.RawMessage, len(rows))
	fieldSet := make(map[string]bool)
	for i, s := range rows {
		if err := json.Unmarshal(s.Payload, &docs[i]); err != nil {
			return fmt.Errorf("summary %q: %w", s.Key, err)
		}
		for k := range docs[i] {
			fieldSet[k] = true
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for k := range fieldSet {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	header := append(append([]string(nil), fixedColumns...), fields...)
	if err := setRow(f, sheet, 1, toAny(header)); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return err
	}

	for i, s := range rows {
		values := []any{s.Key, s.Metric, s.UpdatedAt.UTC().Format("2006-01-02 15:04:05")}
		for _, k := range fields {
			values = append(values, cellValue(docs[i][k]))
		}
		if err := setRow(f, sheet, i+2, values); err != nil {
			return err
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// cellValue turns a JSON field into a spreadsheet value. Numbers stay
// numeric and null stays blank.
func cellValue(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	switch v := v.(type) {
	case nil:
		return nil
	case float64, string, bool:
		return v
	default:
		return string(raw)
	}
}
