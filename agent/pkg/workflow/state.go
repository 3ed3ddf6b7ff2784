package workflow

import (
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Step names a node of the analysis graph.
type Step string

const (
	StepWelcome         Step = "welcome"
	StepSelectDataset   Step = "select_dataset"
	StepShowTables      Step = "show_tables"
	StepGetUserTask     Step = "get_user_task"
	StepFilterTask      Step = "filter_task"
	StepReadSchemas     Step = "read_schemas"
	StepGenerateQueries Step = "generate_queries"
	StepTestQueries     Step = "test_queries"
	StepExecuteQueries  Step = "execute_queries"
	StepGenerateReport  Step = "generate_report"
	StepHandleError     Step = "handle_error"
	StepEnd             Step = "end"
)

// TestResult records the sampling execution of one generated query.
type TestResult struct {
	QueryIndex int              `json:"query_index"`
	SQL        string           `json:"sql"`
	Success    bool             `json:"success"`
	RowCount   int              `json:"row_count,omitempty"`
	Columns    []string         `json:"columns,omitempty"`
	SampleRows []map[string]any `json:"sample_rows,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// QueryResult records the full execution of one query that passed testing.
// Data is set for inlined results; MemoryKey and Summary for offloaded ones.
type QueryResult struct {
	QueryIndex    int              `json:"query_index"`
	SQL           string           `json:"sql"`
	RowCount      int              `json:"row_count"`
	ColumnCount   int              `json:"column_count"`
	Columns       []string         `json:"columns"`
	IsLargeResult bool             `json:"is_large_result"`
	Data          []map[string]any `json:"data,omitempty"`
	MemoryKey     string           `json:"memory_key,omitempty"`
	Summary       string           `json:"summary,omitempty"`
	SampleRows    []map[string]any `json:"sample_rows,omitempty"`
}

// State is the single record threaded through every step of a session.
type State struct {
	SessionID string `json:"session_id"`

	DatasetCatalog  []string            `json:"dataset_catalog"`
	SelectedDataset *string             `json:"selected_dataset,omitempty"`
	TablesInDataset []string            `json:"tables_in_dataset"`
	TableSchemas    map[string][]Column `json:"table_schemas"`

	UserTask     string  `json:"user_task"`
	FilteredTask *string `json:"filtered_task,omitempty"`

	AnalysisIntent   string       `json:"analysis_intent,omitempty"`
	GeneratedQueries []string     `json:"generated_queries"`
	QueryPurposes    []string     `json:"query_purposes,omitempty"`
	TestResults      []TestResult `json:"test_results"`

	QueryResults   []QueryResult `json:"query_results"`
	AnalysisReport *string       `json:"analysis_report,omitempty"`

	ErrorMessage string    `json:"error_message,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	RetryCount   int       `json:"retry_count"`
	StepCount    int       `json:"step_count"`
	CurrentStep  Step      `json:"current_step"`
	MemoryKeys   []string  `json:"memory_keys"`
}

// NewSessionID returns an opaque 8 hex char session identifier derived from a UUIDv4.
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewState returns an empty state for the given session.
func NewState(sessionID string) *State {
	return &State{
		SessionID:    sessionID,
		TableSchemas: make(map[string][]Column),
	}
}

// SetError records a step-local failure.
func (s *State) SetError(kind ErrorKind, msg string) {
	s.ErrorKind = kind
	s.ErrorMessage = msg
}

// ClearError removes any recorded failure.
func (s *State) ClearError() {
	s.ErrorKind = ErrorKindNone
	s.ErrorMessage = ""
}

// HasError reports whether a failure is recorded.
func (s *State) HasError() bool {
	return s.ErrorKind != ErrorKindNone || s.ErrorMessage != ""
}

// Dataset returns the selected dataset, or "" when none has been chosen.
func (s *State) Dataset() string {
	if s.SelectedDataset == nil {
		return ""
	}
	return *s.SelectedDataset
}

// Report returns the analysis report, or "" when the run has not succeeded.
func (s *State) Report() string {
	if s.AnalysisReport == nil {
		return ""
	}
	return *s.AnalysisReport
}

// Done reports whether the session reached a successful terminal state.
func (s *State) Done() bool {
	return s.AnalysisReport != nil
}

// HasSuccessfulTest reports whether at least one generated query passed testing.
func (s *State) HasSuccessfulTest() bool {
	for _, tr := range s.TestResults {
		if tr.Success {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices or maps with s. Row values are
// copied one level deep.
func (s *State) Clone() *State {
	c := *s
	c.DatasetCatalog = slices.Clone(s.DatasetCatalog)
	c.SelectedDataset = clonePtr(s.SelectedDataset)
	c.TablesInDataset = slices.Clone(s.TablesInDataset)
	if s.TableSchemas != nil {
		c.TableSchemas = make(map[string][]Column, len(s.TableSchemas))
		for t, cols := range s.TableSchemas {
			c.TableSchemas[t] = slices.Clone(cols)
		}
	}
	c.FilteredTask = clonePtr(s.FilteredTask)
	c.GeneratedQueries = slices.Clone(s.GeneratedQueries)
	c.QueryPurposes = slices.Clone(s.QueryPurposes)
	if s.TestResults != nil {
		c.TestResults = make([]TestResult, len(s.TestResults))
		for i, tr := range s.TestResults {
			tr.Columns = slices.Clone(tr.Columns)
			tr.SampleRows = cloneRows(tr.SampleRows)
			c.TestResults[i] = tr
		}
	}
	if s.QueryResults != nil {
		c.QueryResults = make([]QueryResult, len(s.QueryResults))
		for i, qr := range s.QueryResults {
			qr.Columns = slices.Clone(qr.Columns)
			qr.Data = cloneRows(qr.Data)
			qr.SampleRows = cloneRows(qr.SampleRows)
			c.QueryResults[i] = qr
		}
	}
	c.AnalysisReport = clonePtr(s.AnalysisReport)
	c.MemoryKeys = slices.Clone(s.MemoryKeys)
	return &c
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneRows(rows []map[string]any) []map[string]any {
	if rows == nil {
		return nil
	}
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = maps.Clone(r)
	}
	return out
}
