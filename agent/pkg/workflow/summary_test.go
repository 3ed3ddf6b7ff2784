package workflow

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func rowsOf(n int) []map[string]any {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{"id": i, "name": fmt.Sprintf("row-%d", i)}
	}
	return rows
}

func TestSummarizeResults_Inline(t *testing.T) {
	out := SummarizeResults([]QueryResult{{
		QueryIndex:  0,
		SQL:         "SELECT id, name FROM ds.t",
		RowCount:    8,
		ColumnCount: 2,
		Columns:     []string{"id", "name"},
		Data:        rowsOf(8),
	}})

	assert.Contains(t, out, "Query 1 (8 rows, 2 columns)")
	assert.Contains(t, out, "Columns: id | name")
	for i := range InlineSampleRows {
		assert.Contains(t, out, fmt.Sprintf("  %d | row-%d\n", i, i))
	}
	assert.NotContains(t, out, "row-5")
	assert.Contains(t, out, "... (8 rows total)")
}

func TestSummarizeResults_Offloaded(t *testing.T) {
	out := SummarizeResults([]QueryResult{{
		QueryIndex:    2,
		SQL:           "SELECT id, name FROM ds.t",
		RowCount:      5000,
		ColumnCount:   2,
		Columns:       []string{"id", "name"},
		IsLargeResult: true,
		MemoryKey:     "abcd1234_00ff00ff",
		Summary:       "Query 3 result: 5000 rows x 2 columns",
		SampleRows:    rowsOf(5),
	}})

	assert.Contains(t, out, "Query 3 (5000 rows, 2 columns)")
	assert.Contains(t, out, "Stored as: abcd1234_00ff00ff")
	assert.Contains(t, out, "Summary: Query 3 result: 5000 rows x 2 columns")
	assert.Contains(t, out, "row-2")
	assert.NotContains(t, out, "row-3")
	assert.Contains(t, out, "... (5000 rows total)")
}

func TestSummarizeResults_SmallAndEmpty(t *testing.T) {
	out := SummarizeResults([]QueryResult{
		{QueryIndex: 0, RowCount: 2, ColumnCount: 2, Columns: []string{"id", "name"}, Data: rowsOf(2)},
		{QueryIndex: 1, RowCount: 0, ColumnCount: 1, Columns: []string{"x"}},
	})

	assert.NotContains(t, out, "rows total")
	assert.Contains(t, out, "(no rows)")
	assert.Equal(t, 2, strings.Count(out, "Query "))
	assert.Equal(t, "No query results.", SummarizeResults(nil))
}

func TestFormatRow(t *testing.T) {
	row := map[string]any{"a": 1.0, "b": 2.3456, "c": nil}
	assert.Equal(t, "1 | 2.35 | ", FormatRow([]string{"a", "b", "c"}, row))
}
