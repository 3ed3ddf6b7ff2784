package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/analyst/agent/pkg/workflow"
)

func TestAnalysis_Prompts_Load(t *testing.T) {
	t.Parallel()

	p, err := LoadPrompts()
	require.NoError(t, err)
	assert.Contains(t, p.SafetyFilter, "is_safe")
	assert.Contains(t, p.GenerateQueries, "{{TABLE_SCHEMAS}}")
	assert.Contains(t, p.GenerateQueries, "{{PREVIOUS_FAILURES}}")
	assert.NotEmpty(t, p.Report)
	assert.Contains(t, p.ReportUser, "{{QUERY_RESULTS}}")
}

func TestAnalysis_Prompts_BuildGeneratePrompt(t *testing.T) {
	t.Parallel()

	p, err := LoadPrompts()
	require.NoError(t, err)

	out := p.BuildGeneratePrompt("sales", "SCHEMA-BLOCK", "")
	assert.Contains(t, out, "sales")
	assert.Contains(t, out, "SCHEMA-BLOCK")
	assert.Contains(t, out, "None.")
	assert.NotContains(t, out, "{{")

	out = p.BuildGeneratePrompt("sales", "SCHEMA-BLOCK", "Q1: SELECT 1\n   error: boom")
	assert.Contains(t, out, "error: boom")
	assert.NotContains(t, out, "None.")
}

func TestAnalysis_Prompts_BuildReportPrompt(t *testing.T) {
	t.Parallel()

	p, err := LoadPrompts()
	require.NoError(t, err)

	out := p.BuildReportPrompt("revenue by region", "", "Query 1 (2 rows, 2 columns)")
	assert.Contains(t, out, "revenue by region")
	assert.Contains(t, out, "Not stated.")
	assert.Contains(t, out, "Query 1 (2 rows, 2 columns)")
	assert.NotContains(t, out, "{{")
}

func TestAnalysis_Prompts_FormatPreviousFailures(t *testing.T) {
	t.Parallel()

	out := formatPreviousFailures([]workflow.TestResult{
		{QueryIndex: 0, SQL: "SELECT a FROM s.t", Error: "Unknown identifier a"},
		{QueryIndex: 1, SQL: "SELECT b FROM s.t", Success: true},
		{QueryIndex: 2, SQL: "SELECT c FROM s.t", Error: "timeout"},
	})
	assert.Equal(t, "Q1: SELECT a FROM s.t\n   error: Unknown identifier a\nQ3: SELECT c FROM s.t\n   error: timeout", out)
	assert.Empty(t, formatPreviousFailures(nil))
}
