package workflow

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind tags the failure recorded on a State so routing never has to
// inspect message text.
type ErrorKind string

const (
	ErrorKindNone              ErrorKind = ""
	ErrorKindUpstream          ErrorKind = "upstream"
	ErrorKindNoTables          ErrorKind = "no_tables"
	ErrorKindUnsafe            ErrorKind = "unsafe"
	ErrorKindEmptyFilteredTask ErrorKind = "empty_filtered_task"
	ErrorKindParse             ErrorKind = "parse"
	ErrorKindRetriesExhausted  ErrorKind = "retries_exhausted"
	ErrorKindCancelled         ErrorKind = "cancelled"
	ErrorKindNoResults         ErrorKind = "no_results"
	ErrorKindInternal          ErrorKind = "internal"
	ErrorKindStepBudget        ErrorKind = "step_budget"
)

var (
	// ErrInputClosed is returned by an InputProvider when no more input can be read.
	ErrInputClosed = errors.New("input closed")

	// ErrInvalidChoice is returned by an InputProvider for a choice it could not parse.
	ErrInvalidChoice = errors.New("invalid choice")
)

// QueryError is returned by a Warehouse when a statement fails.
type QueryError struct {
	SQL     string
	Err     error
	Timeout bool
}

func (e *QueryError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("query timed out: %v", e.Err)
	}
	return fmt.Sprintf("query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError wraps err, marking it as a timeout when the deadline was exceeded.
func NewQueryError(sql string, err error) *QueryError {
	return &QueryError{
		SQL:     sql,
		Err:     err,
		Timeout: errors.Is(err, context.DeadlineExceeded),
	}
}

// IsCancellation reports whether err means the user or the process gave up.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrInputClosed)
}
