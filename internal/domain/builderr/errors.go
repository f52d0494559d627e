// Package builderr defines the failure taxonomy shared by the executor,
// the artifact builders and the child process adapter.
package builderr

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes.
const (
	// CodeMissingRequiredInput means a required copy source does not exist upstream.
	CodeMissingRequiredInput = "MISSING_REQUIRED_INPUT"
	// CodeMissingBinaries means a batch binary copy could not find one or more names.
	CodeMissingBinaries = "MISSING_BINARIES"
	// CodeCustomOpFailed wraps any error returned by a custom handler.
	CodeCustomOpFailed = "CUSTOM_OP_FAILED"
	// CodeSanityCheckFailed means a produced artifact failed verification.
	CodeSanityCheckFailed = "SANITY_CHECK_FAILED"
	// CodeChildProcessFailed means an external tool exited non-zero or could not start.
	CodeChildProcessFailed = "CHILD_PROCESS_FAILED"
	// CodeOperationFailed covers any other I/O failure while applying an operation.
	CodeOperationFailed = "OPERATION_FAILED"
)

// BuildError is a build failure with enough context to act on it.
type BuildError struct {
	Code       string
	Message    string
	Component  string   // owning component, if raised by the executor
	Operation  string   // operation description or custom tag
	Stage      string   // pipeline stage, if raised by an artifact builder
	Path       string   // exact path checked
	Missing    []string // names collected by a batch operation
	Suggestion string
	Underlying error
}

// Error returns a one-line description including the cause.
func (e *BuildError) Error() string {
	var parts []string
	if e.Stage != "" {
		parts = append(parts, fmt.Sprintf("stage %q", e.Stage))
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("component %q", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("op %s", e.Operation))
	}

	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Path)
	}
	if len(e.Missing) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(e.Missing, ", "))
	}
	if e.Underlying != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Underlying)
	}

	if len(parts) > 0 {
		return strings.Join(parts, ", ") + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *BuildError) Unwrap() error {
	return e.Underlying
}

// Is matches another BuildError by code.
func (e *BuildError) Is(target error) bool {
	var t *BuildError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// Format returns a multi-line rendering for the terminal.
func (e *BuildError) Format() string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if e.Stage != "" {
		fmt.Fprintf(&b, "\n  Stage: %s", e.Stage)
	}
	if e.Component != "" {
		fmt.Fprintf(&b, "\n  Component: %s", e.Component)
	}
	if e.Operation != "" {
		fmt.Fprintf(&b, "\n  Operation: %s", e.Operation)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, "\n  Path: %s", e.Path)
	}
	for _, name := range e.Missing {
		fmt.Fprintf(&b, "\n  Missing: %s", name)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "\n  Suggestion: %s", e.Suggestion)
	}
	if e.Underlying != nil {
		fmt.Fprintf(&b, "\n  Cause: %s", e.Underlying.Error())
	}
	return b.String()
}

func (e *BuildError) clone() *BuildError {
	c := *e
	c.Missing = append([]string(nil), e.Missing...)
	return &c
}

// WithComponent returns a copy with the owning component and operation set.
func (e *BuildError) WithComponent(component, operation string) *BuildError {
	c := e.clone()
	c.Component = component
	c.Operation = operation
	return c
}

// WithStage returns a copy with the pipeline stage set.
func (e *BuildError) WithStage(stage string) *BuildError {
	c := e.clone()
	c.Stage = stage
	return c
}

// WithSuggestion returns a copy with a remediation hint.
func (e *BuildError) WithSuggestion(suggestion string) *BuildError {
	c := e.clone()
	c.Suggestion = suggestion
	return c
}

// NewMissingInput reports an absent required source path.
func NewMissingInput(path string) *BuildError {
	return &BuildError{
		Code:    CodeMissingRequiredInput,
		Message: "required input not found",
		Path:    path,
	}
}

// NewMissingBinaries reports every binary a batch copy could not locate.
func NewMissingBinaries(names []string) *BuildError {
	return &BuildError{
		Code:       CodeMissingBinaries,
		Message:    fmt.Sprintf("%d binaries not found in source tree", len(names)),
		Missing:    append([]string(nil), names...),
		Suggestion: "The upstream package layout may have changed. Re-extract the source tree and check the binary lists.",
	}
}

// NewCustomOpFailed wraps a custom handler error with its component and tag.
func NewCustomOpFailed(component, tag string, err error) *BuildError {
	return &BuildError{
		Code:       CodeCustomOpFailed,
		Message:    "custom operation failed",
		Component:  component,
		Operation:  tag,
		Underlying: err,
	}
}

// NewSanityCheckFailed reports a produced artifact that failed verification.
func NewSanityCheckFailed(path, reason string) *BuildError {
	return &BuildError{
		Code:    CodeSanityCheckFailed,
		Message: "sanity check failed: " + reason,
		Path:    path,
	}
}

// NewChildProcessFailed reports an external tool failure with an install hint.
func NewChildProcessFailed(command string, err error, hint string) *BuildError {
	e := &BuildError{
		Code:       CodeChildProcessFailed,
		Message:    fmt.Sprintf("%s failed", command),
		Underlying: err,
	}
	if hint != "" {
		e.Suggestion = fmt.Sprintf("Ensure %s is installed (package: %s).", command, hint)
	}
	return e
}

// NewOperationFailed wraps a plain I/O error raised while applying an operation.
func NewOperationFailed(component, operation string, err error) *BuildError {
	return &BuildError{
		Code:       CodeOperationFailed,
		Message:    "operation failed",
		Component:  component,
		Operation:  operation,
		Underlying: err,
	}
}

// HasCode reports whether err carries a BuildError with the given code.
func HasCode(err error, code string) bool {
	var be *BuildError
	for errors.As(err, &be) {
		if be.Code == code {
			return true
		}
		err = be.Underlying
		if err == nil {
			return false
		}
	}
	return false
}
