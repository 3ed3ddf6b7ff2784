package analysis

import (
	"github.com/malbeclabs/analyst/agent/pkg/metrics"
	"github.com/malbeclabs/analyst/agent/pkg/workflow"
)

// Route labels a routing decision.
type Route string

const (
	RouteContinue     Route = "continue"
	RouteRetryDataset Route = "retry_dataset"
	RouteRetry        Route = "retry"
	RouteError        Route = "error"
	RouteTest         Route = "test"
	RouteExecute      Route = "execute"
)

// Edge is one labelled transition of the graph.
type Edge struct {
	From  workflow.Step
	Route Route
	To    workflow.Step
}

// transitions maps each step to its outgoing edges. Steps without a router
// always take RouteContinue unless they leave an error behind, in which case
// they take RouteError.
var transitions = map[workflow.Step]map[Route]workflow.Step{
	workflow.StepWelcome: {
		RouteContinue: workflow.StepSelectDataset,
		RouteError:    workflow.StepHandleError,
	},
	workflow.StepSelectDataset: {
		RouteContinue: workflow.StepShowTables,
		RouteError:    workflow.StepHandleError,
	},
	workflow.StepShowTables: {
		RouteContinue:     workflow.StepGetUserTask,
		RouteRetryDataset: workflow.StepSelectDataset,
		RouteError:        workflow.StepHandleError,
	},
	workflow.StepGetUserTask: {
		RouteContinue: workflow.StepFilterTask,
		RouteError:    workflow.StepHandleError,
	},
	workflow.StepFilterTask: {
		RouteContinue: workflow.StepReadSchemas,
		RouteRetry:    workflow.StepGetUserTask,
		RouteError:    workflow.StepHandleError,
	},
	workflow.StepReadSchemas: {
		RouteContinue: workflow.StepGenerateQueries,
		RouteError:    workflow.StepHandleError,
	},
	workflow.StepGenerateQueries: {
		RouteTest:  workflow.StepTestQueries,
		RouteRetry: workflow.StepGetUserTask,
		RouteError: workflow.StepHandleError,
	},
	workflow.StepTestQueries: {
		RouteExecute: workflow.StepExecuteQueries,
		RouteRetry:   workflow.StepGenerateQueries,
		RouteError:   workflow.StepHandleError,
	},
	workflow.StepExecuteQueries: {
		RouteContinue: workflow.StepGenerateReport,
		RouteError:    workflow.StepHandleError,
	},
	workflow.StepGenerateReport: {
		RouteContinue: workflow.StepEnd,
		RouteError:    workflow.StepHandleError,
	},
	workflow.StepHandleError: {
		RouteContinue: workflow.StepEnd,
	},
}

// router picks the outgoing route after a step. Routers may clear or set the
// state's error as part of the decision.
type router func(st *workflow.State, maxRetries int) Route

var routers = map[workflow.Step]router{
	workflow.StepShowTables:      RouteAfterShowTables,
	workflow.StepFilterTask:      RouteAfterFilterTask,
	workflow.StepGenerateQueries: RouteAfterGenerateQueries,
	workflow.StepTestQueries:     RouteAfterTestQueries,
}

// Edges returns the full transition table in step order.
func Edges() []Edge {
	var out []Edge
	for _, from := range stepOrder {
		for _, r := range routeOrder {
			if to, ok := transitions[from][r]; ok {
				out = append(out, Edge{From: from, Route: r, To: to})
			}
		}
	}
	return out
}

var stepOrder = []workflow.Step{
	workflow.StepWelcome,
	workflow.StepSelectDataset,
	workflow.StepShowTables,
	workflow.StepGetUserTask,
	workflow.StepFilterTask,
	workflow.StepReadSchemas,
	workflow.StepGenerateQueries,
	workflow.StepTestQueries,
	workflow.StepExecuteQueries,
	workflow.StepGenerateReport,
	workflow.StepHandleError,
}

var routeOrder = []Route{RouteContinue, RouteRetryDataset, RouteRetry, RouteTest, RouteExecute, RouteError}

// Next returns the route taken after step and the step it leads to.
func Next(step workflow.Step, st *workflow.State, maxRetries int) (Route, workflow.Step) {
	var route Route
	switch {
	case step == workflow.StepHandleError:
		route = RouteContinue
	case st.ErrorKind == workflow.ErrorKindCancelled || st.ErrorKind == workflow.ErrorKindStepBudget:
		// Nothing downstream can recover from these.
		route = RouteError
	case routers[step] != nil:
		route = routers[step](st, maxRetries)
	case st.HasError():
		route = RouteError
	default:
		route = RouteContinue
	}
	return route, transitions[step][route]
}

// RouteAfterShowTables sends the user back to dataset selection when the
// dataset has no tables.
func RouteAfterShowTables(st *workflow.State, _ int) Route {
	switch {
	case st.ErrorKind == workflow.ErrorKindNoTables:
		st.ClearError()
		return RouteRetryDataset
	case st.HasError():
		return RouteError
	case len(st.TablesInDataset) > 0:
		return RouteContinue
	default:
		return RouteRetryDataset
	}
}

// RouteAfterFilterTask asks for a new task when the filter rejected the
// request or produced nothing.
func RouteAfterFilterTask(st *workflow.State, _ int) Route {
	switch {
	case st.ErrorKind == workflow.ErrorKindUnsafe:
		return RouteRetry
	case st.HasError():
		return RouteError
	case st.FilteredTask != nil && *st.FilteredTask != "":
		return RouteContinue
	default:
		st.SetError(workflow.ErrorKindEmptyFilteredTask, "filtered task is empty")
		return RouteRetry
	}
}

// RouteAfterGenerateQueries returns to the task prompt when generation failed.
func RouteAfterGenerateQueries(st *workflow.State, _ int) Route {
	if st.HasError() || len(st.GeneratedQueries) == 0 {
		return RouteRetry
	}
	return RouteTest
}

// RouteAfterTestQueries counts a retry when no test execution succeeded and
// gives up once the count reaches maxRetries.
func RouteAfterTestQueries(st *workflow.State, maxRetries int) Route {
	switch {
	case st.HasError():
		return RouteError
	case st.HasSuccessfulTest():
		return RouteExecute
	}

	st.RetryCount++
	metrics.RecordRetry()
	if st.RetryCount >= maxRetries {
		st.SetError(workflow.ErrorKindRetriesExhausted, "query generation failed repeatedly")
		return RouteError
	}
	return RouteRetry
}
