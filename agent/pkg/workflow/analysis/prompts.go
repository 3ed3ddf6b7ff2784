package analysis

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/analyst/agent/pkg/workflow"
	"github.com/malbeclabs/analyst/agent/pkg/workflow/analysis/prompts"
)

// Prompts contains the analysis workflow prompts loaded from embedded files.
type Prompts struct {
	SafetyFilter    string // System prompt for the safety classifier
	GenerateQueries string // System prompt template for SQL generation
	Report          string // System prompt for report writing
	ReportUser      string // User prompt template for report writing
}

// LoadPrompts loads all prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.SafetyFilter, err = loadPrompt("SAFETY_FILTER.md"); err != nil {
		return nil, fmt.Errorf("failed to load SAFETY_FILTER: %w", err)
	}
	if p.GenerateQueries, err = loadPrompt("GENERATE_QUERIES.md"); err != nil {
		return nil, fmt.Errorf("failed to load GENERATE_QUERIES: %w", err)
	}
	if p.Report, err = loadPrompt("REPORT.md"); err != nil {
		return nil, fmt.Errorf("failed to load REPORT: %w", err)
	}
	if p.ReportUser, err = loadPrompt("REPORT_USER.md"); err != nil {
		return nil, fmt.Errorf("failed to load REPORT_USER: %w", err)
	}
	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.FS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// BuildGeneratePrompt fills the generation template with the schema block and
// the failures of the previous attempt.
func (p *Prompts) BuildGeneratePrompt(dataset, schema, previousFailures string) string {
	if previousFailures == "" {
		previousFailures = "None."
	}
	return strings.NewReplacer(
		"{{DATASET}}", dataset,
		"{{TABLE_SCHEMAS}}", schema,
		"{{PREVIOUS_FAILURES}}", previousFailures,
	).Replace(p.GenerateQueries)
}

// BuildReportPrompt fills the report user template.
func (p *Prompts) BuildReportPrompt(userTask, intent, results string) string {
	if intent == "" {
		intent = "Not stated."
	}
	return strings.NewReplacer(
		"{{USER_TASK}}", userTask,
		"{{ANALYSIS_INTENT}}", intent,
		"{{QUERY_RESULTS}}", results,
	).Replace(p.ReportUser)
}

// formatPreviousFailures lists the failed test executions of the last attempt.
func formatPreviousFailures(results []workflow.TestResult) string {
	var sb strings.Builder
	for _, tr := range results {
		if tr.Success {
			continue
		}
		fmt.Fprintf(&sb, "Q%d: %s\n   error: %s\n", tr.QueryIndex+1, tr.SQL, tr.Error)
	}
	return strings.TrimRight(sb.String(), "\n")
}
