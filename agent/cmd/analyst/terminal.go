package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"

	"github.com/malbeclabs/analyst/agent/pkg/workflow"
)

// quitWords end the session when typed at a text prompt.
var quitWords = map[string]bool{"q": true, "quit": true, "exit": true}

// Terminal is a workflow.InputProvider backed by huh forms. When either end is
// not a terminal the forms run in accessible mode, which reads plain lines.
type Terminal struct {
	in         io.Reader
	out        io.Writer
	lines      *lineReader
	accessible bool
}

// NewTerminal prompts on out and reads answers from in.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{in: in, out: out, accessible: !isTerminal(in) || !isTerminal(out)}
	if t.accessible {
		t.lines = &lineReader{r: bufio.NewReader(in)}
		t.in = t.lines
	}
	return t
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// PromptChoice shows options as a select list and returns the chosen position
// counted from 1.
func (t *Terminal) PromptChoice(ctx context.Context, prompt string, options []string) (int, error) {
	opts := make([]huh.Option[int], len(options))
	for i, name := range options {
		opts[i] = huh.NewOption(name, i+1)
	}
	var choice int
	field := huh.NewSelect[int]().
		Title(prompt).
		Options(opts...).
		Value(&choice)
	if err := t.run(ctx, field); err != nil {
		return 0, err
	}
	if choice < 1 || choice > len(options) {
		return 0, workflow.ErrInputClosed
	}
	return choice, nil
}

// PromptText reads one non-empty line of free text.
func (t *Terminal) PromptText(ctx context.Context, prompt string) (string, error) {
	var text string
	field := huh.NewInput().
		Title(prompt).
		Value(&text).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("please enter a request, or q to quit")
			}
			return nil
		})
	if err := t.run(ctx, field); err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" || quitWords[strings.ToLower(text)] {
		return "", workflow.ErrInputClosed
	}
	return text, nil
}

func (t *Terminal) run(ctx context.Context, field huh.Field) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.lines != nil && t.lines.exhausted() {
		return workflow.ErrInputClosed
	}
	defer func() {
		// A prompt cut off by the end of input is closed input.
		if r := recover(); r != nil {
			if t.lines == nil || !t.lines.eof {
				panic(r)
			}
			err = workflow.ErrInputClosed
		}
	}()

	form := huh.NewForm(huh.NewGroup(field)).
		WithInput(t.in).
		WithOutput(t.out).
		WithAccessible(t.accessible).
		WithShowHelp(false)
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return workflow.ErrInputClosed
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to read input: %w", err)
	}
	return ctx.Err()
}

// lineReader hands out at most one line per Read, so a form that wraps the
// reader in its own buffer never swallows the answers meant for later prompts.
type lineReader struct {
	r   *bufio.Reader
	eof bool
}

func (l *lineReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		b, err := l.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				l.eof = true
			}
			if n > 0 {
				return n, nil
			}
			return 0, err
		}
		p[n] = b
		n++
		if b == '\n' {
			break
		}
	}
	return n, nil
}

// exhausted reports whether no more input will arrive.
func (l *lineReader) exhausted() bool {
	if l.eof {
		return true
	}
	_, err := l.r.Peek(1)
	if errors.Is(err, io.EOF) {
		l.eof = true
	}
	return l.eof
}

// Progress prints a short status line for the stages a user cares about.
func (t *Terminal) Progress(p workflow.Progress) {
	switch p.Stage {
	case workflow.StageStepStarted:
		switch p.Step {
		case workflow.StepFilterTask:
			fmt.Fprintln(t.out, "Checking the request...")
		case workflow.StepReadSchemas:
			fmt.Fprintln(t.out, "Reading table schemas...")
		case workflow.StepGenerateQueries:
			fmt.Fprintln(t.out, "Writing SQL...")
		case workflow.StepGenerateReport:
			fmt.Fprintln(t.out, "Writing the report...")
		}
	case workflow.StageQueryComplete:
		verb := "tested"
		if p.Step == workflow.StepExecuteQueries {
			verb = "ran"
		}
		if p.QueryError != "" {
			fmt.Fprintf(t.out, "  Q%d %s: failed: %s\n", p.QueryIndex+1, verb, p.QueryError)
			return
		}
		fmt.Fprintf(t.out, "  Q%d %s: %d rows\n", p.QueryIndex+1, verb, p.Rows)
	}
}

// renderResults writes an overview of the executed queries.
func renderResults(w io.Writer, results []workflow.QueryResult) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"Query", "Rows", "Columns", "Stored As"})

	for _, r := range results {
		stored := "inline"
		if r.IsLargeResult {
			stored = r.MemoryKey
		}
		table.Append([]string{
			fmt.Sprintf("Q%d", r.QueryIndex+1),
			strconv.Itoa(r.RowCount),
			strconv.Itoa(r.ColumnCount),
			stored,
		})
	}
	table.Render()
}
