package xlsx

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

const (
	SheetSummary   = "Summary"
	SheetItems     = "Items"
	SheetConflicts = "Conflicts"
	SheetSources   = "Sources"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Write renders a response as a workbook with one sheet per section.
func Write(w io.Writer, query string, resp *domain.Response) error {
	if resp == nil {
		return fmt.Errorf("export workbook: nil response")
	}
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}
	for _, name := range []string{SheetItems, SheetConflicts, SheetSources} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	sheets := []struct {
		name string
		rows [][]any
	}{
		{SheetSummary, summaryRows(query, resp)},
		{SheetItems, itemRows(resp.Items)},
		{SheetConflicts, conflictRows(resp.Conflicts)},
		{SheetSources, sourceRows(resp.Sources)},
	}
	for _, sheet := range sheets {
		if err := writeRows(f, sheet.name, sheet.rows, header); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil
	}
	last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	return nil
}

func summaryRows(query string, resp *domain.Response) [][]any {
	rows := [][]any{
		{"Field", "Value"},
		{"Query", query},
		{"Strategy", string(resp.Strategy)},
		{"Strategy reason", resp.StrategyReason},
		{"Confidence", resp.Confidence},
		{"Provenance", joinOrigins(resp.Provenance)},
	}
	if b := resp.ConfidenceBreakdown; b != nil {
		rows = append(rows,
			[]any{"Relational hits", b.RelationalHits},
			[]any{"Semantic hits", b.SemanticHits},
			[]any{"Conflict penalty", b.ConflictPenalty},
		)
	}
	if resp.Fault != nil {
		rows = append(rows, []any{"Fault", resp.Fault.Kind + ": " + resp.Fault.Message})
	}
	for i, followup := range resp.Followups {
		rows = append(rows, []any{fmt.Sprintf("Follow-up %d", i+1), followup})
	}
	return rows
}

func itemRows(items []domain.Item) [][]any {
	rows := [][]any{{"Key", "Origins", "Title", "Fields", "Text", "Relevance", "Citations"}}
	for _, item := range items {
		relevance := any("")
		if item.RelevanceScore != nil {
			relevance = *item.RelevanceScore
		}
		rows = append(rows, []any{
			item.Key,
			joinOrigins(item.Origins),
			item.Title,
			formatFields(item.Fields),
			item.Text,
			relevance,
			joinCitations(item.Citations),
		})
	}
	return rows
}

func conflictRows(conflicts []domain.ConflictRecord) [][]any {
	rows := [][]any{{"Entity", "Field", "Relational value", "Semantic value", "Kept", "Severity", "Resolution"}}
	for _, c := range conflicts {
		rows = append(rows, []any{
			c.EntityKey,
			c.Field,
			fmt.Sprint(c.RelationalValue),
			fmt.Sprint(c.SemanticValue),
			string(c.KeptOrigin),
			string(c.Severity),
			c.Resolution,
		})
	}
	return rows
}

func sourceRows(reports []domain.SourceReport) [][]any {
	rows := [][]any{{"Origin", "Status", "Hits", "Duration ms", "Error"}}
	for _, r := range reports {
		rows = append(rows, []any{string(r.Origin), string(r.Status), r.Hits, r.DurationMS, r.Error})
	}
	return rows
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		raw, err := json.Marshal(fields[k])
		if err != nil {
			raw = []byte(fmt.Sprint(fields[k]))
		}
		parts = append(parts, k+"="+strings.Trim(string(raw), `"`))
	}
	return strings.Join(parts, "; ")
}

func joinOrigins(origins []domain.Origin) string {
	parts := make([]string, 0, len(origins))
	for _, o := range origins {
		parts = append(parts, string(o))
	}
	return strings.Join(parts, ", ")
}

func joinCitations(citations []domain.Citation) string {
	parts := make([]string, 0, len(citations))
	for _, c := range citations {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, "\n")
}
