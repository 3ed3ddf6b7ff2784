package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/analyst/agent/pkg/workflow"
)

const (
	// testSampleRows is the number of rows kept from each test execution.
	testSampleRows = 3
	// offloadedSampleRows is the number of rows kept alongside an offloaded result.
	offloadedSampleRows = 5
)

func (w *Workflow) welcome(ctx context.Context, st *workflow.State) error {
	datasets, err := w.cfg.Warehouse.ListDatasets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list datasets: %w", err)
	}
	if len(datasets) == 0 {
		return fail(workflow.ErrorKindUpstream, "no datasets available")
	}
	st.DatasetCatalog = datasets
	w.logInfo("workflow: loaded dataset catalog", "datasets", len(datasets))
	return nil
}

func (w *Workflow) selectDataset(ctx context.Context, st *workflow.State) error {
	if len(st.DatasetCatalog) == 0 {
		return fail(workflow.ErrorKindInternal, "dataset catalog is empty")
	}

	for attempt := 1; attempt <= maxInputAttempts; attempt++ {
		choice, err := w.cfg.Input.PromptChoice(ctx, "Select a dataset", st.DatasetCatalog)
		if errors.Is(err, workflow.ErrInvalidChoice) {
			w.logWarn("workflow: invalid dataset choice", "attempt", attempt)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read dataset choice: %w", err)
		}
		if choice < 1 || choice > len(st.DatasetCatalog) {
			w.logWarn("workflow: dataset choice out of range", "choice", choice, "datasets", len(st.DatasetCatalog), "attempt", attempt)
			continue
		}

		dataset := st.DatasetCatalog[choice-1]
		st.SelectedDataset = &dataset
		st.TablesInDataset = nil
		st.TableSchemas = make(map[string][]workflow.Column)
		w.logInfo("workflow: dataset selected", "dataset", dataset)
		return nil
	}
	return fail(workflow.ErrorKindCancelled, "no valid dataset chosen after %d attempts", maxInputAttempts)
}

func (w *Workflow) showTables(ctx context.Context, st *workflow.State) error {
	dataset := st.Dataset()
	if dataset == "" {
		return fail(workflow.ErrorKindInternal, "no dataset selected")
	}

	tables, err := w.cfg.Warehouse.ListTables(ctx, dataset)
	if err != nil {
		return fmt.Errorf("failed to list tables in %s: %w", dataset, err)
	}
	st.TablesInDataset = tables
	if len(tables) == 0 {
		return fail(workflow.ErrorKindNoTables, "no tables found in dataset %s", dataset)
	}
	w.logInfo("workflow: listed tables", "dataset", dataset, "tables", len(tables))
	return nil
}

func (w *Workflow) getUserTask(ctx context.Context, st *workflow.State) error {
	prompt := "Describe the analysis you want to run"
	if st.HasError() {
		prompt = fmt.Sprintf("Your previous request could not be used (%s). %s", st.ErrorMessage, prompt)
	}

	for attempt := 1; attempt <= maxInputAttempts; attempt++ {
		text, err := w.cfg.Input.PromptText(ctx, prompt)
		if err != nil {
			return fmt.Errorf("failed to read task: %w", err)
		}
		task := strings.TrimSpace(text)
		if task == "" {
			continue
		}

		st.UserTask = task
		st.FilteredTask = nil
		st.AnalysisIntent = ""
		st.GeneratedQueries = nil
		st.QueryPurposes = nil
		st.TestResults = nil
		st.QueryResults = nil
		st.RetryCount = 0
		st.ClearError()
		w.logInfo("workflow: task accepted", "length", len(task))
		return nil
	}
	return fail(workflow.ErrorKindCancelled, "no task entered after %d attempts", maxInputAttempts)
}

type safetyVerdict struct {
	IsSafe      *bool   `json:"is_safe"`
	Reason      string  `json:"reason"`
	CleanedTask *string `json:"cleaned_task"`
}

func (w *Workflow) filterTask(ctx context.Context, st *workflow.State) error {
	st.FilteredTask = nil

	response, err := w.complete(ctx, w.prompts.SafetyFilter, st.UserTask)
	if err != nil {
		return fmt.Errorf("safety filter failed: %w", err)
	}

	var verdict safetyVerdict
	if err := workflow.DecodeJSON(response, &verdict); err != nil {
		return fail(workflow.ErrorKindParse, "safety filter: %w", err)
	}
	if verdict.IsSafe == nil {
		return fail(workflow.ErrorKindParse, "safety filter: response has no is_safe field")
	}

	if !*verdict.IsSafe {
		reason := strings.TrimSpace(verdict.Reason)
		if reason == "" {
			reason = "no reason given"
		}
		w.logInfo("workflow: task rejected by safety filter", "reason", reason)
		return fail(workflow.ErrorKindUnsafe, "unsafe task: %s", reason)
	}

	// An omitted cleaned_task means the task is fine as written; an explicit
	// empty one is left for the router to reject.
	filtered := st.UserTask
	if verdict.CleanedTask != nil {
		filtered = strings.TrimSpace(*verdict.CleanedTask)
	}
	if filtered != "" {
		st.FilteredTask = &filtered
	}
	return nil
}

func (w *Workflow) readSchemas(ctx context.Context, st *workflow.State) error {
	dataset := st.Dataset()
	tables := st.TablesInDataset
	schemas := make([][]workflow.Column, len(tables))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.SchemaConcurrency)
	for i, table := range tables {
		g.Go(func() error {
			cols, err := w.cfg.Warehouse.GetTableSchema(gctx, dataset, table)
			if err != nil {
				if workflow.IsCancellation(err) {
					return err
				}
				w.logWarn("workflow: schema lookup failed", "dataset", dataset, "table", table, "error", err)
				cols = []workflow.Column{}
			}
			schemas[i] = cols
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to read schemas: %w", err)
	}

	st.TableSchemas = make(map[string][]workflow.Column, len(tables))
	for i, table := range tables {
		st.TableSchemas[table] = schemas[i]
	}
	w.logInfo("workflow: read schemas", "dataset", dataset, "tables", len(tables))
	return nil
}

type generatedQuery struct {
	Purpose        string `json:"purpose"`
	SQL            string `json:"sql"`
	ExpectedResult string `json:"expected_result"`
}

type generation struct {
	AnalysisIntent   string           `json:"analysis_intent"`
	SQLQueries       []generatedQuery `json:"sql_queries"`
	AnalysisApproach string           `json:"analysis_approach"`
}

func (w *Workflow) generateQueries(ctx context.Context, st *workflow.State) error {
	if st.FilteredTask == nil {
		return fail(workflow.ErrorKindInternal, "no filtered task to generate queries for")
	}
	dataset := st.Dataset()

	var previousFailures string
	if st.RetryCount > 0 {
		previousFailures = formatPreviousFailures(st.TestResults)
	}
	schema := workflow.FormatSchema(dataset, st.TablesInDataset, st.TableSchemas)
	system := w.prompts.BuildGeneratePrompt(dataset, schema, previousFailures)

	response, err := w.complete(ctx, system, *st.FilteredTask, workflow.WithCacheControl())
	if err != nil {
		return fmt.Errorf("query generation failed: %w", err)
	}

	var gen generation
	if err := workflow.DecodeJSON(response, &gen); err != nil {
		return fail(workflow.ErrorKindParse, "query generation: %w", err)
	}

	queries := make([]string, 0, len(gen.SQLQueries))
	purposes := make([]string, 0, len(gen.SQLQueries))
	for _, q := range gen.SQLQueries {
		sql := workflow.CleanSQL(q.SQL)
		if sql == "" {
			continue
		}
		queries = append(queries, workflow.QualifyTableNames(sql, dataset, st.TablesInDataset))
		purposes = append(purposes, q.Purpose)
	}

	st.AnalysisIntent = gen.AnalysisIntent
	st.GeneratedQueries = queries
	st.QueryPurposes = purposes
	st.TestResults = nil
	st.QueryResults = nil
	if len(queries) == 0 {
		return fail(workflow.ErrorKindParse, "query generation returned no SQL queries")
	}
	w.logInfo("workflow: generated queries", "count", len(queries), "attempt", st.RetryCount+1)
	return nil
}

func (w *Workflow) testQueries(ctx context.Context, st *workflow.State) error {
	results := make([]workflow.TestResult, 0, len(st.GeneratedQueries))
	for i, sql := range st.GeneratedQueries {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.notify(workflow.Progress{Stage: workflow.StageQueryStarted, Step: workflow.StepTestQueries, QueryIndex: i, SQL: sql})

		tr := workflow.TestResult{QueryIndex: i, SQL: sql}
		var res *workflow.TabularResult
		err := workflow.CheckReadOnly(sql)
		if err == nil {
			res, err = w.cfg.Warehouse.ExecuteQuery(ctx, workflow.AddLimit(sql, w.cfg.SampleRows), workflow.QueryOptions{
				Timeout: w.cfg.SampleTimeout,
				MaxRows: w.cfg.SampleRows,
			})
		}
		if err != nil {
			if workflow.IsCancellation(err) {
				return err
			}
			tr.Error = err.Error()
			w.logWarn("workflow: test query failed", "query", i+1, "error", err)
		} else {
			if res == nil {
				res = &workflow.TabularResult{}
			}
			tr.Success = true
			tr.RowCount = res.RowCount()
			tr.Columns = res.Columns
			tr.SampleRows = firstRows(res.Rows, testSampleRows)
		}
		results = append(results, tr)
		w.notify(workflow.Progress{Stage: workflow.StageQueryComplete, Step: workflow.StepTestQueries, QueryIndex: i, SQL: sql, Rows: tr.RowCount, QueryError: tr.Error})
	}
	st.TestResults = results
	return nil
}

func (w *Workflow) executeQueries(ctx context.Context, st *workflow.State) error {
	var results []workflow.QueryResult
	for _, tr := range st.TestResults {
		if !tr.Success {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		sql := st.GeneratedQueries[tr.QueryIndex]
		w.notify(workflow.Progress{Stage: workflow.StageQueryStarted, Step: workflow.StepExecuteQueries, QueryIndex: tr.QueryIndex, SQL: sql})

		qr, err := w.executeQuery(ctx, st, tr.QueryIndex, sql)
		if err != nil {
			if workflow.IsCancellation(err) {
				return err
			}
			w.logWarn("workflow: query execution failed", "query", tr.QueryIndex+1, "error", err)
			w.notify(workflow.Progress{Stage: workflow.StageQueryComplete, Step: workflow.StepExecuteQueries, QueryIndex: tr.QueryIndex, SQL: sql, QueryError: err.Error()})
			continue
		}
		results = append(results, *qr)
		w.notify(workflow.Progress{Stage: workflow.StageQueryComplete, Step: workflow.StepExecuteQueries, QueryIndex: tr.QueryIndex, SQL: sql, Rows: qr.RowCount})
	}

	st.QueryResults = results
	if len(results) == 0 {
		return fail(workflow.ErrorKindNoResults, "no queries executed successfully")
	}
	return nil
}

// executeQuery runs one query in full and offloads the rows to the memory
// store when their serialized form exceeds the threshold.
func (w *Workflow) executeQuery(ctx context.Context, st *workflow.State, index int, sql string) (*workflow.QueryResult, error) {
	res, err := w.cfg.Warehouse.ExecuteQuery(ctx, sql, workflow.QueryOptions{
		Timeout: w.cfg.QueryTimeout,
		MaxRows: w.cfg.QueryMaxRows,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &workflow.TabularResult{}
	}

	workflow.SanitizeRows(res.Rows)
	payload, err := workflow.MarshalRows(res.Rows)
	if err != nil {
		return nil, err
	}

	qr := &workflow.QueryResult{
		QueryIndex:  index,
		SQL:         sql,
		RowCount:    res.RowCount(),
		ColumnCount: len(res.Columns),
		Columns:     res.Columns,
	}
	if len(payload) <= w.cfg.OffloadThreshold {
		qr.Data = res.Rows
		return qr, nil
	}

	summary := fmt.Sprintf("Query %d result: %d rows x %d columns", index+1, qr.RowCount, qr.ColumnCount)
	key, err := w.cfg.Memory.Store(ctx, st.SessionID, payload, summary)
	if err != nil {
		return nil, fmt.Errorf("failed to store large result: %w", err)
	}
	qr.IsLargeResult = true
	qr.MemoryKey = key
	qr.Summary = summary
	qr.SampleRows = firstRows(res.Rows, offloadedSampleRows)
	st.MemoryKeys = append(st.MemoryKeys, key)
	w.logInfo("workflow: offloaded large result", "query", index+1, "bytes", len(payload), "key", key)
	return qr, nil
}

func (w *Workflow) generateReport(ctx context.Context, st *workflow.State) error {
	summary := workflow.SummarizeResults(st.QueryResults)
	user := w.prompts.BuildReportPrompt(st.UserTask, st.AnalysisIntent, summary)

	report, err := w.complete(ctx, w.prompts.Report, user)
	if err != nil {
		return fmt.Errorf("report generation failed: %w", err)
	}
	report = strings.TrimSpace(report)
	if report == "" {
		return fail(workflow.ErrorKindUpstream, "report generation returned an empty report")
	}
	st.AnalysisReport = &report
	w.logInfo("workflow: report generated", "length", len(report))
	return nil
}

func (w *Workflow) handleError(_ context.Context, st *workflow.State) error {
	if !st.HasError() {
		st.SetError(workflow.ErrorKindInternal, "workflow ended without a report")
	}
	if w.cfg.Logger != nil {
		w.cfg.Logger.Error("workflow: failed", "session", st.SessionID, "kind", st.ErrorKind, "error", st.ErrorMessage)
	}
	return nil
}

func firstRows(rows []map[string]any, n int) []map[string]any {
	if len(rows) <= n {
		return rows
	}
	return rows[:n]
}
