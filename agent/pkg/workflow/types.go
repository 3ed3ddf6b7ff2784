package workflow

import (
	"context"
	"log/slog"
	"time"
)

// Context keys for workflow tracing
type ctxKeySessionID struct{}
type ctxKeyStep struct{}

// ContextWithSession adds the session ID to a context for tracing.
func ContextWithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ctxKeySessionID{}, sessionID)
}

// ContextWithStep adds the executing step name to a context for tracing.
func ContextWithStep(ctx context.Context, step Step) context.Context {
	return context.WithValue(ctx, ctxKeyStep{}, step)
}

// SessionIDFromContext extracts the session ID from context, if present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeySessionID{}).(string)
	return id, ok
}

// StepFromContext extracts the step name from context, if present.
func StepFromContext(ctx context.Context) (Step, bool) {
	step, ok := ctx.Value(ctxKeyStep{}).(Step)
	return step, ok
}

// Defaults applied by the analysis workflow when the corresponding Config field is zero.
const (
	DefaultMaxRetries        = 3
	DefaultSampleRows        = 10
	DefaultSampleTimeout     = 30 * time.Second
	DefaultQueryTimeout      = 60 * time.Second
	DefaultQueryMaxRows      = 10000
	DefaultLLMTimeout        = 30 * time.Second
	DefaultOffloadThreshold  = 50000
	DefaultSchemaConcurrency = 4
	DefaultMaxSteps          = 100
)

// Config holds the configuration for the workflow.
type Config struct {
	Logger    *slog.Logger
	LLM       LLMClient
	Warehouse Warehouse
	Memory    MemoryStore
	Input     InputProvider

	MaxRetries        int           // Ceiling for the generate/test retry loop (default 3)
	SampleRows        int           // Row cap for test executions (default 10)
	SampleTimeout     time.Duration // Per-query timeout for test executions (default 30s)
	QueryTimeout      time.Duration // Per-query timeout for full executions (default 60s)
	QueryMaxRows      int           // Server-side row cap for full executions (default 10000)
	LLMTimeout        time.Duration // Per-call timeout for text generation (default 30s)
	OffloadThreshold  int           // Serialized result size in bytes above which results go to memory (default 50000)
	SchemaConcurrency int           // Concurrent schema lookups (default 4)
	MaxSteps          int           // Step executions allowed per run (default 100)

	OnProgress   ProgressCallback   // Optional
	OnCheckpoint CheckpointCallback // Optional
}

// CompleteOptions holds options for LLM completion.
type CompleteOptions struct {
	CacheSystemPrompt bool // Enable prompt caching for the system prompt
}

// CompleteOption is a functional option for Complete.
type CompleteOption func(*CompleteOptions)

// WithCacheControl enables prompt caching for the system prompt.
// This marks the system prompt as cacheable, reducing costs for
// repeated calls with the same system prompt prefix.
func WithCacheControl() CompleteOption {
	return func(o *CompleteOptions) {
		o.CacheSystemPrompt = true
	}
}

// LLMClient is the interface for interacting with an LLM.
type LLMClient interface {
	// Complete sends a prompt and returns the response text.
	// Options can be passed to control caching behavior.
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error)
}

// Column describes a single column of a warehouse table.
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Mode        string `json:"mode,omitempty"` // NULLABLE, REQUIRED or REPEATED
	Description string `json:"description,omitempty"`
}

// QueryOptions bounds a single warehouse execution.
type QueryOptions struct {
	Timeout time.Duration
	MaxRows int // 0 means no client-side cap
}

// TabularResult holds the columns and rows returned by a warehouse query.
type TabularResult struct {
	Columns []string
	Rows    []map[string]any
}

// RowCount returns the number of rows in the result.
func (r *TabularResult) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Warehouse is the data-warehouse catalog and query collaborator.
type Warehouse interface {
	// ListDatasets returns the available dataset identifiers in a stable order.
	ListDatasets(ctx context.Context) ([]string, error)

	// ListTables returns the tables of a dataset in a stable order.
	ListTables(ctx context.Context, dataset string) ([]string, error)

	// GetTableSchema returns the ordered columns of a table.
	GetTableSchema(ctx context.Context, dataset, table string) ([]Column, error)

	// ExecuteQuery runs a SQL statement. Failures are returned as *QueryError.
	ExecuteQuery(ctx context.Context, sql string, opts QueryOptions) (*TabularResult, error)
}

// MemoryStore persists oversized result payloads out of band.
type MemoryStore interface {
	// Store persists payload and returns a key that is unique within the session.
	Store(ctx context.Context, sessionID string, payload []byte, summary string) (string, error)

	// Retrieve returns the payload stored under key.
	Retrieve(ctx context.Context, key string) ([]byte, error)
}

// InputProvider collects user input for the interactive steps.
type InputProvider interface {
	// PromptChoice asks the user to pick one of options and returns a 1-based index.
	PromptChoice(ctx context.Context, prompt string, options []string) (int, error)

	// PromptText asks the user for free text.
	PromptText(ctx context.Context, prompt string) (string, error)
}

// ProgressStage represents a stage in the workflow execution.
type ProgressStage string

const (
	StageStepStarted   ProgressStage = "step_started"
	StageStepComplete  ProgressStage = "step_done"
	StageRouted        ProgressStage = "routed"
	StageQueryStarted  ProgressStage = "query_started"
	StageQueryComplete ProgressStage = "query_done"
	StageComplete      ProgressStage = "complete"
	StageError         ProgressStage = "error"
)

// Progress represents the current state of workflow execution.
type Progress struct {
	Stage ProgressStage
	Step  Step   // Step that emitted the event
	Route string // For StageRouted: the route label
	Next  Step   // For StageRouted: the step that runs next

	// Query fields, for StageQueryStarted/StageQueryComplete
	QueryIndex int
	SQL        string
	Rows       int
	QueryError string

	Error string // Set for StageError
}

// ProgressCallback is called at each stage of workflow execution.
type ProgressCallback func(Progress)

// CheckpointCallback receives a snapshot of the state after each step.
type CheckpointCallback func(*State)
