package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/analyst/agent/pkg/workflow"
)

func TestAnalysis_Graph_Edges(t *testing.T) {
	t.Parallel()

	expected := []Edge{
		{workflow.StepWelcome, RouteContinue, workflow.StepSelectDataset},
		{workflow.StepWelcome, RouteError, workflow.StepHandleError},
		{workflow.StepSelectDataset, RouteContinue, workflow.StepShowTables},
		{workflow.StepSelectDataset, RouteError, workflow.StepHandleError},
		{workflow.StepShowTables, RouteContinue, workflow.StepGetUserTask},
		{workflow.StepShowTables, RouteRetryDataset, workflow.StepSelectDataset},
		{workflow.StepShowTables, RouteError, workflow.StepHandleError},
		{workflow.StepGetUserTask, RouteContinue, workflow.StepFilterTask},
		{workflow.StepGetUserTask, RouteError, workflow.StepHandleError},
		{workflow.StepFilterTask, RouteContinue, workflow.StepReadSchemas},
		{workflow.StepFilterTask, RouteRetry, workflow.StepGetUserTask},
		{workflow.StepFilterTask, RouteError, workflow.StepHandleError},
		{workflow.StepReadSchemas, RouteContinue, workflow.StepGenerateQueries},
		{workflow.StepReadSchemas, RouteError, workflow.StepHandleError},
		{workflow.StepGenerateQueries, RouteRetry, workflow.StepGetUserTask},
		{workflow.StepGenerateQueries, RouteTest, workflow.StepTestQueries},
		{workflow.StepGenerateQueries, RouteError, workflow.StepHandleError},
		{workflow.StepTestQueries, RouteRetry, workflow.StepGenerateQueries},
		{workflow.StepTestQueries, RouteExecute, workflow.StepExecuteQueries},
		{workflow.StepTestQueries, RouteError, workflow.StepHandleError},
		{workflow.StepExecuteQueries, RouteContinue, workflow.StepGenerateReport},
		{workflow.StepExecuteQueries, RouteError, workflow.StepHandleError},
		{workflow.StepGenerateReport, RouteContinue, workflow.StepEnd},
		{workflow.StepGenerateReport, RouteError, workflow.StepHandleError},
		{workflow.StepHandleError, RouteContinue, workflow.StepEnd},
	}
	require.Equal(t, expected, Edges())
}

func TestAnalysis_Graph_EveryStepReachesEnd(t *testing.T) {
	t.Parallel()

	reached := map[workflow.Step]bool{workflow.StepEnd: true}
	// Walk the edges backwards until nothing changes.
	for changed := true; changed; {
		changed = false
		for _, e := range Edges() {
			if reached[e.To] && !reached[e.From] {
				reached[e.From] = true
				changed = true
			}
		}
	}
	for _, step := range stepOrder {
		assert.True(t, reached[step], "step %s cannot reach end", step)
	}
}

func TestAnalysis_Graph_RouteAfterShowTables(t *testing.T) {
	t.Parallel()

	t.Run("tables present continues", func(t *testing.T) {
		t.Parallel()
		st := workflow.NewState("s")
		st.TablesInDataset = []string{"orders"}
		route, next := Next(workflow.StepShowTables, st, 3)
		assert.Equal(t, RouteContinue, route)
		assert.Equal(t, workflow.StepGetUserTask, next)
	})

	t.Run("no tables retries dataset and clears error", func(t *testing.T) {
		t.Parallel()
		st := workflow.NewState("s")
		st.SetError(workflow.ErrorKindNoTables, "no tables found in dataset sales")
		route, next := Next(workflow.StepShowTables, st, 3)
		assert.Equal(t, RouteRetryDataset, route)
		assert.Equal(t, workflow.StepSelectDataset, next)
		assert.False(t, st.HasError())
		assert.Empty(t, st.ErrorMessage)
	})

	t.Run("empty list without error retries dataset", func(t *testing.T) {
		t.Parallel()
		st := workflow.NewState("s")
		route, _ := Next(workflow.StepShowTables, st, 3)
		assert.Equal(t, RouteRetryDataset, route)
	})

	t.Run("upstream error goes to handler", func(t *testing.T) {
		t.Parallel()
		st := workflow.NewState("s")
		st.SetError(workflow.ErrorKindUpstream, "connection reset")
		route, next := Next(workflow.StepShowTables, st, 3)
		assert.Equal(t, RouteError, route)
		assert.Equal(t, workflow.StepHandleError, next)
		assert.Equal(t, "connection reset", st.ErrorMessage)
	})
}

func TestAnalysis_Graph_RouteAfterFilterTask(t *testing.T) {
	t.Parallel()

	task := "total revenue"
	empty := ""

	tests := []struct {
		name     string
		setup    func(st *workflow.State)
		route    Route
		next     workflow.Step
		wantKind workflow.ErrorKind
	}{
		{
			name:  "filtered task continues",
			setup: func(st *workflow.State) { st.FilteredTask = &task },
			route: RouteContinue,
			next:  workflow.StepReadSchemas,
		},
		{
			name:     "unsafe retries",
			setup:    func(st *workflow.State) { st.SetError(workflow.ErrorKindUnsafe, "unsafe task: writes data") },
			route:    RouteRetry,
			next:     workflow.StepGetUserTask,
			wantKind: workflow.ErrorKindUnsafe,
		},
		{
			name:     "missing filtered task retries with error",
			setup:    func(st *workflow.State) {},
			route:    RouteRetry,
			next:     workflow.StepGetUserTask,
			wantKind: workflow.ErrorKindEmptyFilteredTask,
		},
		{
			name:     "empty filtered task retries with error",
			setup:    func(st *workflow.State) { st.FilteredTask = &empty },
			route:    RouteRetry,
			next:     workflow.StepGetUserTask,
			wantKind: workflow.ErrorKindEmptyFilteredTask,
		},
		{
			name:     "parse error goes to handler",
			setup:    func(st *workflow.State) { st.SetError(workflow.ErrorKindParse, "safety filter: empty response") },
			route:    RouteError,
			next:     workflow.StepHandleError,
			wantKind: workflow.ErrorKindParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := workflow.NewState("s")
			tt.setup(st)
			route, next := Next(workflow.StepFilterTask, st, 3)
			assert.Equal(t, tt.route, route)
			assert.Equal(t, tt.next, next)
			assert.Equal(t, tt.wantKind, st.ErrorKind)
		})
	}
}

func TestAnalysis_Graph_RouteAfterGenerateQueries(t *testing.T) {
	t.Parallel()

	st := workflow.NewState("s")
	st.GeneratedQueries = []string{"SELECT 1"}
	route, next := Next(workflow.StepGenerateQueries, st, 3)
	assert.Equal(t, RouteTest, route)
	assert.Equal(t, workflow.StepTestQueries, next)

	st = workflow.NewState("s")
	route, next = Next(workflow.StepGenerateQueries, st, 3)
	assert.Equal(t, RouteRetry, route)
	assert.Equal(t, workflow.StepGetUserTask, next)

	st = workflow.NewState("s")
	st.SetError(workflow.ErrorKindParse, "query generation: empty response")
	route, _ = Next(workflow.StepGenerateQueries, st, 3)
	assert.Equal(t, RouteRetry, route)
	assert.Equal(t, workflow.ErrorKindParse, st.ErrorKind)
}

func TestAnalysis_Graph_RouteAfterTestQueries(t *testing.T) {
	t.Parallel()

	t.Run("any success executes", func(t *testing.T) {
		t.Parallel()
		st := workflow.NewState("s")
		st.TestResults = []workflow.TestResult{
			{QueryIndex: 0, Success: false, Error: "bad column"},
			{QueryIndex: 1, Success: true},
		}
		route, next := Next(workflow.StepTestQueries, st, 3)
		assert.Equal(t, RouteExecute, route)
		assert.Equal(t, workflow.StepExecuteQueries, next)
		assert.Equal(t, 0, st.RetryCount)
	})

	t.Run("retry count increments until exhausted", func(t *testing.T) {
		t.Parallel()
		st := workflow.NewState("s")
		for n := 1; n <= 3; n++ {
			st.TestResults = []workflow.TestResult{{QueryIndex: 0, Error: "bad column"}}
			route, next := Next(workflow.StepTestQueries, st, 3)
			assert.Equal(t, n, st.RetryCount)
			if n < 3 {
				assert.Equal(t, RouteRetry, route, "attempt %d", n)
				assert.Equal(t, workflow.StepGenerateQueries, next)
				assert.False(t, st.HasError())
				continue
			}
			assert.Equal(t, RouteError, route)
			assert.Equal(t, workflow.StepHandleError, next)
			assert.Equal(t, workflow.ErrorKindRetriesExhausted, st.ErrorKind)
			assert.NotEmpty(t, st.ErrorMessage)
		}
	})

	t.Run("custom ceiling", func(t *testing.T) {
		t.Parallel()
		st := workflow.NewState("s")
		route, _ := Next(workflow.StepTestQueries, st, 1)
		assert.Equal(t, RouteError, route)
		assert.Equal(t, 1, st.RetryCount)
	})

	t.Run("cancellation goes to handler without counting", func(t *testing.T) {
		t.Parallel()
		st := workflow.NewState("s")
		st.SetError(workflow.ErrorKindCancelled, "context canceled")
		route, _ := Next(workflow.StepTestQueries, st, 3)
		assert.Equal(t, RouteError, route)
		assert.Equal(t, 0, st.RetryCount)
	})
}

func TestAnalysis_Graph_CancellationOverridesRouters(t *testing.T) {
	t.Parallel()

	for _, kind := range []workflow.ErrorKind{workflow.ErrorKindCancelled, workflow.ErrorKindStepBudget} {
		for _, step := range stepOrder {
			if step == workflow.StepHandleError {
				continue
			}
			st := workflow.NewState("s")
			st.SetError(kind, "stop")
			route, next := Next(step, st, 3)
			assert.Equal(t, RouteError, route, "%s after %s", kind, step)
			assert.Equal(t, workflow.StepHandleError, next)
			assert.Equal(t, kind, st.ErrorKind, "router must not rewrite %s", kind)
		}
	}
}

func TestAnalysis_Graph_UnconditionalSteps(t *testing.T) {
	t.Parallel()

	for _, step := range []workflow.Step{
		workflow.StepWelcome,
		workflow.StepSelectDataset,
		workflow.StepGetUserTask,
		workflow.StepReadSchemas,
		workflow.StepExecuteQueries,
		workflow.StepGenerateReport,
	} {
		st := workflow.NewState("s")
		route, _ := Next(step, st, 3)
		assert.Equal(t, RouteContinue, route, step)

		st.SetError(workflow.ErrorKindUpstream, "boom")
		route, next := Next(step, st, 3)
		assert.Equal(t, RouteError, route, step)
		assert.Equal(t, workflow.StepHandleError, next)
	}

	st := workflow.NewState("s")
	st.SetError(workflow.ErrorKindInternal, "boom")
	route, next := Next(workflow.StepHandleError, st, 3)
	assert.Equal(t, RouteContinue, route)
	assert.Equal(t, workflow.StepEnd, next)
}
