package workflow

import (
	"fmt"
	"strings"
)

const (
	// InlineSampleRows is the number of rows shown for an inlined result.
	InlineSampleRows = 5
	// OffloadedSampleRows is the number of rows shown for an offloaded result.
	OffloadedSampleRows = 3
)

// SummarizeResults condenses executed query results into the text block fed
// to the report prompt. Truncation always keeps the first rows.
func SummarizeResults(results []QueryResult) string {
	if len(results) == 0 {
		return "No query results."
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Query %d (%d rows, %d columns)\n", r.QueryIndex+1, r.RowCount, r.ColumnCount)
		sb.WriteString("SQL: " + r.SQL + "\n")
		sb.WriteString("Columns: " + strings.Join(r.Columns, " | ") + "\n")

		var rows []map[string]any
		limit := InlineSampleRows
		if r.IsLargeResult {
			limit = OffloadedSampleRows
			sb.WriteString("Stored as: " + r.MemoryKey + "\n")
			if r.Summary != "" {
				sb.WriteString("Summary: " + r.Summary + "\n")
			}
			rows = r.SampleRows
		} else {
			rows = r.Data
		}

		shown := min(limit, len(rows))
		if shown == 0 {
			sb.WriteString("(no rows)\n")
			continue
		}
		sb.WriteString("Sample rows:\n")
		for _, row := range rows[:shown] {
			sb.WriteString("  " + FormatRow(r.Columns, row) + "\n")
		}
		if r.RowCount > shown {
			fmt.Fprintf(&sb, "  ... (%d rows total)\n", r.RowCount)
		}
	}

	return sb.String()
}

// FormatRow renders one row in column order, joined with " | ".
func FormatRow(columns []string, row map[string]any) string {
	values := make([]string, 0, len(columns))
	for _, col := range columns {
		values = append(values, FormatValue(row[col]))
	}
	return strings.Join(values, " | ")
}
