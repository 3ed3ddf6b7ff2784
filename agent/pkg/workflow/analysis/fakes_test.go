package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/analyst/agent/pkg/workflow"
)

const (
	safeVerdict = "```json\n{\"is_safe\": true, \"reason\": \"read only\", \"cleaned_task\": \"Total revenue by region\"}\n```"
	revenueSQL  = `{"analysis_intent": "Revenue by region", "sql_queries": [{"purpose": "totals", "sql": "SELECT region, sum(amount) AS revenue FROM orders GROUP BY region", "expected_result": "one row per region"}], "analysis_approach": "aggregate"}`
	reportText  = "## Executive Summary\nNorth leads revenue [Q1]."
)

type llmCall struct {
	kind   string // filter, generate or report
	system string
	user   string
}

// fakeLLM answers by prompt kind. Handlers may be replaced per test.
type fakeLLM struct {
	mu    sync.Mutex
	calls []llmCall

	filter   func(call int, user string) (string, error)
	generate func(call int, system, user string) (string, error)
	report   func(call int, user string) (string, error)
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		filter:   func(int, string) (string, error) { return safeVerdict, nil },
		generate: func(int, string, string) (string, error) { return revenueSQL, nil },
		report:   func(int, string) (string, error) { return reportText, nil },
	}
}

func promptKind(system string) string {
	switch {
	case strings.Contains(system, "is_safe"):
		return "filter"
	case strings.Contains(system, "sql_queries"):
		return "generate"
	default:
		return "report"
	}
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string, _ ...workflow.CompleteOption) (string, error) {
	kind := promptKind(system)
	f.mu.Lock()
	f.calls = append(f.calls, llmCall{kind: kind, system: system, user: user})
	n := f.countLocked(kind)
	f.mu.Unlock()

	switch kind {
	case "filter":
		return f.filter(n, user)
	case "generate":
		return f.generate(n, system, user)
	default:
		return f.report(n, user)
	}
}

func (f *fakeLLM) countLocked(kind string) int {
	n := 0
	for _, c := range f.calls {
		if c.kind == kind {
			n++
		}
	}
	return n
}

func (f *fakeLLM) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countLocked(kind)
}

func (f *fakeLLM) callsOf(kind string) []llmCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []llmCall
	for _, c := range f.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type execCall struct {
	sql  string
	opts workflow.QueryOptions
}

// fakeWarehouse serves a fixed catalog. exec handles every query.
type fakeWarehouse struct {
	mu sync.Mutex

	datasets    []string
	datasetsErr error
	tables      map[string][]string
	schemas     map[string][]workflow.Column // keyed by dataset.table
	schemaErr   map[string]error
	exec        func(sql string, opts workflow.QueryOptions) (*workflow.TabularResult, error)

	execCalls    []execCall
	schemaLookup []string
}

func newFakeWarehouse() *fakeWarehouse {
	return &fakeWarehouse{
		datasets: []string{"sales", "hr"},
		tables: map[string][]string{
			"sales": {"orders", "customers"},
			"hr":    {"employees"},
		},
		schemas: map[string][]workflow.Column{
			"sales.orders":    {{Name: "region", Type: "String"}, {Name: "amount", Type: "Float64"}},
			"sales.customers": {{Name: "id", Type: "UInt64"}, {Name: "name", Type: "String"}},
			"hr.employees":    {{Name: "id", Type: "UInt64"}},
		},
		exec: func(string, workflow.QueryOptions) (*workflow.TabularResult, error) {
			return &workflow.TabularResult{
				Columns: []string{"region", "revenue"},
				Rows: []map[string]any{
					{"region": "north", "revenue": 120.5},
					{"region": "south", "revenue": 80.25},
				},
			}, nil
		},
	}
}

func (f *fakeWarehouse) ListDatasets(ctx context.Context) ([]string, error) {
	if f.datasetsErr != nil {
		return nil, f.datasetsErr
	}
	return f.datasets, nil
}

func (f *fakeWarehouse) ListTables(ctx context.Context, dataset string) ([]string, error) {
	tables, ok := f.tables[dataset]
	if !ok {
		return nil, fmt.Errorf("dataset %s not found", dataset)
	}
	return tables, nil
}

func (f *fakeWarehouse) GetTableSchema(ctx context.Context, dataset, table string) ([]workflow.Column, error) {
	key := dataset + "." + table
	f.mu.Lock()
	f.schemaLookup = append(f.schemaLookup, key)
	f.mu.Unlock()
	if err := f.schemaErr[key]; err != nil {
		return nil, err
	}
	return f.schemas[key], nil
}

func (f *fakeWarehouse) ExecuteQuery(ctx context.Context, sql string, opts workflow.QueryOptions) (*workflow.TabularResult, error) {
	f.mu.Lock()
	f.execCalls = append(f.execCalls, execCall{sql: sql, opts: opts})
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, workflow.NewQueryError(sql, err)
	}
	return f.exec(sql, opts)
}

func (f *fakeWarehouse) execCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.execCalls)
}

// fakeMemory is an in-memory workflow.MemoryStore.
type fakeMemory struct {
	mu      sync.Mutex
	entries map[string][]byte
	summary map[string]string
	err     error
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{entries: make(map[string][]byte), summary: make(map[string]string)}
}

func (f *fakeMemory) Store(ctx context.Context, sessionID string, payload []byte, summary string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	key := fmt.Sprintf("%s_%08x", sessionID, len(f.entries)+1)
	f.entries[key] = append([]byte(nil), payload...)
	f.summary[key] = summary
	return key, nil
}

func (f *fakeMemory) Retrieve(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.entries[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

// fakeInput replays scripted answers and reports a closed input when it runs out.
type fakeInput struct {
	mu      sync.Mutex
	choices []int
	texts   []string

	choicePrompts []string
	textPrompts   []string
}

func (f *fakeInput) PromptChoice(ctx context.Context, prompt string, options []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.choicePrompts = append(f.choicePrompts, prompt)
	if len(f.choices) == 0 {
		return 0, workflow.ErrInputClosed
	}
	c := f.choices[0]
	f.choices = f.choices[1:]
	return c, nil
}

func (f *fakeInput) PromptText(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textPrompts = append(f.textPrompts, prompt)
	if len(f.texts) == 0 {
		return "", workflow.ErrInputClosed
	}
	t := f.texts[0]
	f.texts = f.texts[1:]
	return t, nil
}

type harness struct {
	wf        *Workflow
	cfg       *workflow.Config
	llm       *fakeLLM
	warehouse *fakeWarehouse
	memory    *fakeMemory
	input     *fakeInput

	mu          sync.Mutex
	progress    []workflow.Progress
	checkpoints []*workflow.State
}

func newHarness(t *testing.T, mutate ...func(*harness)) *harness {
	t.Helper()
	h := &harness{
		llm:       newFakeLLM(),
		warehouse: newFakeWarehouse(),
		memory:    newFakeMemory(),
		input:     &fakeInput{choices: []int{1}, texts: []string{"show me revenue by region"}},
	}
	h.cfg = &workflow.Config{
		LLM:       h.llm,
		Warehouse: h.warehouse,
		Memory:    h.memory,
		Input:     h.input,
		OnProgress: func(p workflow.Progress) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.progress = append(h.progress, p)
		},
		OnCheckpoint: func(st *workflow.State) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.checkpoints = append(h.checkpoints, st)
		},
	}
	for _, m := range mutate {
		m(h)
	}
	wf, err := New(h.cfg)
	require.NoError(t, err)
	h.wf = wf
	return h
}

// steps returns the executed steps in order.
func (h *harness) steps() []workflow.Step {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []workflow.Step
	for _, p := range h.progress {
		if p.Stage == workflow.StageStepStarted {
			out = append(out, p.Step)
		}
	}
	return out
}

// routes returns the routing decisions taken after from.
func (h *harness) routes(from workflow.Step) []Route {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Route
	for _, p := range h.progress {
		if p.Stage == workflow.StageRouted && p.Step == from {
			out = append(out, Route(p.Route))
		}
	}
	return out
}

func countSteps(steps []workflow.Step, step workflow.Step) int {
	n := 0
	for _, s := range steps {
		if s == step {
			n++
		}
	}
	return n
}
