package agentloop

import (
	"errors"
	"fmt"
)

// Terminal reason codes reported on a failed or cancelled run.
const (
	ReasonStepBudgetExceeded = "step_budget_exceeded"
	ReasonRepetitionLimit    = "repetition_limit"
	ReasonBackendError       = "backend_error"
	ReasonRunCancelled       = "cancelled"
)

// ErrCancelled is returned when a run is stopped by its context.
var ErrCancelled = errors.New("agent run cancelled")

// ParseErrorKind classifies recovered parse problems.
type ParseErrorKind string

const (
	ParseMalformed    ParseErrorKind = "malformed"
	ParseUnterminated ParseErrorKind = "unterminated"
)

// ParseError describes an action block that could not become a call. The
// parser never returns it; the raw span is surfaced as text and the error is
// only reported through events.
type ParseError struct {
	Kind   ParseErrorKind
	Detail string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s action block: %s", e.Kind, e.Detail)
}

// StagnationError reports a repeated action fingerprint.
type StagnationError struct {
	Fingerprint string
	Matches     int
	Strike      int
}

func (e *StagnationError) Error() string {
	return fmt.Sprintf("repeated action %s (%d similar in window, strike %d)", e.Fingerprint, e.Matches, e.Strike)
}

// BudgetExceededError reports that the step budget ran out.
type BudgetExceededError struct {
	MaxSteps int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("step budget of %d exhausted", e.MaxSteps)
}

// BackendError wraps a generation failure that survived retries.
type BackendError struct {
	Step int
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend failed at step %d: %v", e.Step, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// ExecutionError is returned by tools to attach a machine-readable code
// (such as "file_not_found") to a failure.
type ExecutionError struct {
	Code string
	Err  error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// NewExecutionError builds an ExecutionError with a formatted message.
func NewExecutionError(code, format string, args ...any) *ExecutionError {
	return &ExecutionError{Code: code, Err: fmt.Errorf(format, args...)}
}

// ErrorCode extracts the tool-specific code from err, if any.
func ErrorCode(err error) string {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}
