// Package analysis runs the natural-language-to-SQL analysis workflow: a fixed
// graph of steps over a workflow.State, with routing after designated steps.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/malbeclabs/analyst/agent/pkg/metrics"
	"github.com/malbeclabs/analyst/agent/pkg/workflow"
)

// maxInputAttempts bounds re-prompting for invalid or empty user input.
const maxInputAttempts = 5

// Workflow orchestrates the analysis graph.
type Workflow struct {
	cfg     *workflow.Config
	prompts *Prompts
	steps   map[workflow.Step]stepFunc
}

type stepFunc func(ctx context.Context, st *workflow.State) error

// stepError carries the error kind a step assigns to its failure.
type stepError struct {
	kind workflow.ErrorKind
	err  error
}

func (e *stepError) Error() string { return e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func fail(kind workflow.ErrorKind, format string, args ...any) error {
	return &stepError{kind: kind, err: fmt.Errorf(format, args...)}
}

// logInfo logs an info message if a logger is configured.
func (w *Workflow) logInfo(msg string, args ...any) {
	if w.cfg.Logger != nil {
		w.cfg.Logger.Info(msg, args...)
	}
}

// logWarn logs a warning if a logger is configured.
func (w *Workflow) logWarn(msg string, args ...any) {
	if w.cfg.Logger != nil {
		w.cfg.Logger.Warn(msg, args...)
	}
}

// New creates a new analysis Workflow. Zero limits in cfg are replaced by defaults.
func New(cfg *workflow.Config) (*Workflow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.LLM == nil {
		return nil, fmt.Errorf("LLM client is required")
	}
	if cfg.Warehouse == nil {
		return nil, fmt.Errorf("warehouse is required")
	}
	if cfg.Memory == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if cfg.Input == nil {
		return nil, fmt.Errorf("input provider is required")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = workflow.DefaultMaxRetries
	}
	if cfg.SampleRows == 0 {
		cfg.SampleRows = workflow.DefaultSampleRows
	}
	if cfg.SampleTimeout == 0 {
		cfg.SampleTimeout = workflow.DefaultSampleTimeout
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = workflow.DefaultQueryTimeout
	}
	if cfg.QueryMaxRows == 0 {
		cfg.QueryMaxRows = workflow.DefaultQueryMaxRows
	}
	if cfg.LLMTimeout == 0 {
		cfg.LLMTimeout = workflow.DefaultLLMTimeout
	}
	if cfg.OffloadThreshold == 0 {
		cfg.OffloadThreshold = workflow.DefaultOffloadThreshold
	}
	if cfg.SchemaConcurrency == 0 {
		cfg.SchemaConcurrency = workflow.DefaultSchemaConcurrency
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = workflow.DefaultMaxSteps
	}

	prompts, err := LoadPrompts()
	if err != nil {
		return nil, err
	}

	w := &Workflow{cfg: cfg, prompts: prompts}
	w.steps = map[workflow.Step]stepFunc{
		workflow.StepWelcome:         w.welcome,
		workflow.StepSelectDataset:   w.selectDataset,
		workflow.StepShowTables:      w.showTables,
		workflow.StepGetUserTask:     w.getUserTask,
		workflow.StepFilterTask:      w.filterTask,
		workflow.StepReadSchemas:     w.readSchemas,
		workflow.StepGenerateQueries: w.generateQueries,
		workflow.StepTestQueries:     w.testQueries,
		workflow.StepExecuteQueries:  w.executeQueries,
		workflow.StepGenerateReport:  w.generateReport,
		workflow.StepHandleError:     w.handleError,
	}
	return w, nil
}

// Run starts a new session and walks the graph from the welcome step until it
// ends. Workflow failures are reported in the returned state's ErrorMessage.
func (w *Workflow) Run(ctx context.Context) (*workflow.State, error) {
	return w.RunFrom(ctx, workflow.NewState(workflow.NewSessionID()), workflow.StepWelcome)
}

// RunFrom resumes st at step. It is used to continue from a checkpoint.
func (w *Workflow) RunFrom(ctx context.Context, st *workflow.State, step workflow.Step) (*workflow.State, error) {
	if st == nil {
		return nil, fmt.Errorf("state is required")
	}
	if step != workflow.StepEnd && w.steps[step] == nil {
		return nil, fmt.Errorf("unknown step %q", step)
	}
	if st.SessionID == "" {
		st.SessionID = workflow.NewSessionID()
	}
	if st.TableSchemas == nil {
		st.TableSchemas = make(map[string][]workflow.Column)
	}

	ctx = workflow.ContextWithSession(ctx, st.SessionID)
	w.logInfo("workflow: starting", "session", st.SessionID, "step", step)

	for step != workflow.StepEnd {
		if step != workflow.StepHandleError {
			if err := ctx.Err(); err != nil {
				st.SetError(workflow.ErrorKindCancelled, fmt.Sprintf("cancelled before %s: %v", step, err))
				step = workflow.StepHandleError
			} else if st.StepCount >= w.cfg.MaxSteps {
				st.SetError(workflow.ErrorKindStepBudget, fmt.Sprintf("step budget of %d exhausted before %s", w.cfg.MaxSteps, step))
				step = workflow.StepHandleError
			}
		}

		w.runStep(ctx, step, st)

		route, next := Next(step, st, w.cfg.MaxRetries)
		metrics.RecordRoute(string(step), string(route))
		w.notify(workflow.Progress{Stage: workflow.StageRouted, Step: step, Route: string(route), Next: next})
		if w.cfg.Logger != nil {
			w.cfg.Logger.Debug("workflow: routed", "from", step, "route", route, "next", next)
		}
		step = next
	}

	w.finish(ctx, st)
	return st, nil
}

// runStep executes one step. Step errors and panics are recorded on st; they
// never escape.
func (w *Workflow) runStep(ctx context.Context, step workflow.Step, st *workflow.State) {
	st.StepCount++
	st.CurrentStep = step
	w.notify(workflow.Progress{Stage: workflow.StageStepStarted, Step: step})

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			st.SetError(workflow.ErrorKindInternal, fmt.Sprintf("internal error in %s: %v", step, r))
			if w.cfg.Logger != nil {
				w.cfg.Logger.Error("workflow: step panicked", "step", step, "panic", r, "stack", string(debug.Stack()))
			}
		}
		metrics.RecordStep(string(step), time.Since(start))
		w.notify(workflow.Progress{Stage: workflow.StageStepComplete, Step: step, Error: st.ErrorMessage})
		if w.cfg.OnCheckpoint != nil {
			w.cfg.OnCheckpoint(st.Clone())
		}
	}()

	if err := w.steps[step](workflow.ContextWithStep(ctx, step), st); err != nil {
		kind := classify(err)
		st.SetError(kind, err.Error())
		w.logWarn("workflow: step failed", "step", step, "kind", kind, "error", err)
	}
}

// classify picks the error kind for a step error.
func classify(err error) workflow.ErrorKind {
	var se *stepError
	switch {
	case errors.As(err, &se):
		return se.kind
	case workflow.IsCancellation(err):
		return workflow.ErrorKindCancelled
	default:
		return workflow.ErrorKindUpstream
	}
}

func (w *Workflow) finish(ctx context.Context, st *workflow.State) {
	if st.Done() {
		metrics.RecordRun("success")
		w.notify(workflow.Progress{Stage: workflow.StageComplete, Step: st.CurrentStep})
		w.logInfo("workflow: complete", "session", st.SessionID, "steps", st.StepCount, "queries", len(st.QueryResults))
		return
	}

	outcome := "error"
	if st.ErrorKind == workflow.ErrorKindCancelled {
		outcome = "cancelled"
	}
	metrics.RecordRun(outcome)
	w.notify(workflow.Progress{Stage: workflow.StageError, Step: st.CurrentStep, Error: st.ErrorMessage})

	if hub := sentry.GetHubFromContext(ctx); hub != nil && outcome == "error" {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("session_id", st.SessionID)
			scope.SetTag("error_kind", string(st.ErrorKind))
			hub.CaptureMessage("workflow: " + st.ErrorMessage)
		})
	}
}

func (w *Workflow) notify(p workflow.Progress) {
	if w.cfg.OnProgress != nil {
		w.cfg.OnProgress(p)
	}
}

// complete calls the LLM with the configured per-call timeout.
func (w *Workflow) complete(ctx context.Context, system, user string, opts ...workflow.CompleteOption) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.LLMTimeout)
	defer cancel()
	return w.cfg.LLM.Complete(ctx, system, user, opts...)
}
