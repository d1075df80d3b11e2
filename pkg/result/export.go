package result

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	auditSheet   = "Audit"
	summarySheet = "Summary"
)

var auditColumns = []any{
	"Time", "Source", "Action", "ID",
	"Kind", "Field", "Change", "Before", "After", "Error",
}

func changeDiff(c Change) string {
	switch {
	case c.Old == "" && c.New != "":
		return "added"
	case c.Old != "" && c.New == "":
		return "removed"
	default:
		return "modified"
	}
}

// ExportToExcel writes entries into an xlsx workbook: an Audit sheet with one
// row per change and a Summary sheet counting entries per action.
func ExportToExcel(w io.Writer, entries []AuditEntry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", auditSheet); err != nil {
		return err
	}
	if err := writeAuditSheet(f, entries); err != nil {
		return fmt.Errorf("failed to write audit sheet: %w", err)
	}
	if err := writeSummarySheet(f, entries); err != nil {
		return fmt.Errorf("failed to write summary sheet: %w", err)
	}

	_, err := f.WriteTo(w)
	return err
}

func writeAuditSheet(f *excelize.File, entries []AuditEntry) error {
	if err := f.SetSheetRow(auditSheet, "A1", &auditColumns); err != nil {
		return err
	}

	row := 2
	put := func(values []any) error {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		row++
		return f.SetSheetRow(auditSheet, cell, &values)
	}

	for _, e := range entries {
		errText := ""
		if e.Error != nil {
			errText = e.Error.Error()
		}
		ts := e.Timestamp.UTC().Format(time.RFC3339)

		if len(e.Changes) == 0 {
			if err := put([]any{ts, e.Source, string(e.Action), e.ID, "", "", "", "", "", errText}); err != nil {
				return err
			}
			continue
		}
		for _, c := range e.Changes {
			if err := put([]any{ts, e.Source, string(e.Action), e.ID, string(c.Kind), c.Field, changeDiff(c), c.Old, c.New, errText}); err != nil {
				return err
			}
		}
	}

	last, err := excelize.CoordinatesToCellName(len(auditColumns), 1)
	if err != nil {
		return err
	}
	if err := f.AutoFilter(auditSheet, "A1:"+last, nil); err != nil {
		return err
	}
	return f.SetPanes(auditSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeSummarySheet(f *excelize.File, entries []AuditEntry) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}

	order := []Action{ActionCreate, ActionUpdate, ActionDelete, ActionDisable, ActionSkip, ActionImport}
	counts := make(map[Action][2]int, len(order))
	for _, e := range entries {
		c := counts[e.Action]
		c[0]++
		if e.Error != nil {
			c[1]++
		}
		counts[e.Action] = c
	}

	header := []any{"Action", "Entries", "Errors"}
	if err := f.SetSheetRow(summarySheet, "A1", &header); err != nil {
		return err
	}
	for i, a := range order {
		c := counts[a]
		values := []any{string(a), c[0], c[1]}
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+2), &values); err != nil {
			return err
		}
	}
	return nil
}
