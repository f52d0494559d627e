package config

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorization.
const (
	ErrCodeConfigNotFound   = "CONFIG_NOT_FOUND"
	ErrCodeConfigParse      = "CONFIG_PARSE"
	ErrCodeUnsupportedType  = "CONFIG_UNSUPPORTED_TYPE"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeInvalidSSHKey    = "INVALID_SSH_KEY"
)

// ErrConfigNotFound matches, through errors.Is, any UserError reporting a
// missing configuration file.
var ErrConfigNotFound = &UserError{Code: ErrCodeConfigNotFound, Message: "configuration file not found"}

// UserError represents a user-friendly error with actionable suggestions.
type UserError struct {
	Code       string // Error code for categorization (e.g., "CONFIG_NOT_FOUND")
	Message    string // User-friendly error message
	Context    string // File path, key or line
	Suggestion string // Actionable suggestion to fix the error
	Underlying error  // Wrapped error for error chain
}

// Error returns the formatted error message.
func (e *UserError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s (at %s)", e.Message, e.Context)
	}
	return e.Message
}

// Unwrap returns the underlying error for error chain support.
func (e *UserError) Unwrap() error {
	return e.Underlying
}

// Is supports errors.Is() for comparing error codes.
func (e *UserError) Is(target error) bool {
	if t, ok := target.(*UserError); ok {
		return e.Code == t.Code
	}
	return false
}

// Format returns a fully formatted error with all details.
func (e *UserError) Format() string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if e.Context != "" {
		fmt.Fprintf(&b, "\n  Location: %s", e.Context)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "\n  Suggestion: %s", e.Suggestion)
	}
	return b.String()
}

// NewUserError creates a new UserError with the given code and message.
func NewUserError(code, message string) *UserError {
	return &UserError{
		Code:    code,
		Message: message,
	}
}

// WithContext returns a new UserError with context set.
func (e *UserError) WithContext(ctx string) *UserError {
	c := *e
	c.Context = ctx
	return &c
}

// WithSuggestion returns a new UserError with suggestion set.
func (e *UserError) WithSuggestion(suggestion string) *UserError {
	c := *e
	c.Suggestion = suggestion
	return &c
}

// WithUnderlying returns a new UserError wrapping another error.
func (e *UserError) WithUnderlying(err error) *UserError {
	c := *e
	c.Underlying = err
	return &c
}

// ErrorList accumulates validation errors so one run reports all of them.
type ErrorList struct {
	errors []*UserError
}

// NewErrorList creates an empty ErrorList.
func NewErrorList() *ErrorList {
	return &ErrorList{errors: make([]*UserError, 0)}
}

// Add adds an error to the list.
func (l *ErrorList) Add(err *UserError) {
	if err != nil {
		l.errors = append(l.errors, err)
	}
}

// AddValidation adds a validation error for field.
func (l *ErrorList) AddValidation(field, message, suggestion string) {
	l.Add(&UserError{
		Code:       ErrCodeValidationFailed,
		Message:    fmt.Sprintf("%s: %s", field, message),
		Context:    field,
		Suggestion: suggestion,
	})
}

// HasErrors returns true if there are any errors.
func (l *ErrorList) HasErrors() bool {
	return len(l.errors) > 0
}

// Len returns the number of errors.
func (l *ErrorList) Len() int {
	return len(l.errors)
}

// Errors returns the list of errors.
func (l *ErrorList) Errors() []*UserError {
	result := make([]*UserError, len(l.errors))
	copy(result, l.errors)
	return result
}

// Error implements the error interface for ErrorList.
func (l *ErrorList) Error() string {
	switch len(l.errors) {
	case 0:
		return ""
	case 1:
		return l.errors[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d errors occurred:\n", len(l.errors))
	for i, err := range l.errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err.Error())
	}
	return b.String()
}

// Format returns a detailed formatted output of all errors.
func (l *ErrorList) Format() string {
	if len(l.errors) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d error(s):\n", len(l.errors))
	for i, err := range l.errors {
		fmt.Fprintf(&b, "\n--- Error %d ---\n", i+1)
		b.WriteString(err.Format())
		b.WriteString("\n")
	}
	return b.String()
}

// AsError returns the ErrorList as an error, or nil if empty.
func (l *ErrorList) AsError() error {
	if !l.HasErrors() {
		return nil
	}
	return l
}

// NewConfigNotFoundError creates an error for a missing config file.
func NewConfigNotFoundError(path string) *UserError {
	return &UserError{
		Code:       ErrCodeConfigNotFound,
		Message:    fmt.Sprintf("configuration file not found: %s", path),
		Context:    path,
		Suggestion: "Check the --config path, or omit it to build with defaults from the current directory.",
	}
}

// NewUnsupportedTypeError creates an error for a config file with an
// unknown extension.
func NewUnsupportedTypeError(path string) *UserError {
	return &UserError{
		Code:       ErrCodeUnsupportedType,
		Message:    "unsupported configuration file type",
		Context:    path,
		Suggestion: "Use acorn.yaml, acorn.yml or acorn.toml.",
	}
}

// NewYAMLParseError translates technical YAML errors into user-friendly messages.
func NewYAMLParseError(path string, err error) *UserError {
	errStr := err.Error()
	var message, suggestion string

	switch {
	case strings.Contains(errStr, "not found in type"):
		message = "unknown configuration key"
		suggestion = "Check the key spelling. Nested keys such as rootfs.compression must be indented under their section."
	case strings.Contains(errStr, "cannot unmarshal !!seq into"):
		message = "expected a value but found a list"
		suggestion = "Check that you're using 'key: value' format instead of '- item' list format."
	case strings.Contains(errStr, "cannot unmarshal !!map into"):
		message = "expected a value but found an object"
		suggestion = "Check the indentation of the keys below this one."
	case strings.Contains(errStr, "cannot unmarshal !!str into"):
		message = "unexpected string value"
		suggestion = "Numeric settings such as compression_level and efiboot_size_mb must not be quoted."
	case strings.Contains(errStr, "mapping values are not allowed"):
		message = "invalid YAML structure"
		suggestion = "Check for missing colons after keys, or incorrect indentation."
	default:
		message = "invalid YAML syntax"
		suggestion = "Check your YAML syntax. Common issues: incorrect indentation, missing colons, or unquoted special characters."
	}

	context := path
	if _, rest, ok := strings.Cut(errStr, "line "); ok {
		line, _, _ := strings.Cut(rest, ":")
		context = fmt.Sprintf("%s (line %s)", path, line)
	}

	return &UserError{
		Code:       ErrCodeConfigParse,
		Message:    message,
		Context:    context,
		Suggestion: suggestion,
		Underlying: err,
	}
}

// NewTOMLParseError wraps a TOML decoding failure, with its position when known.
func NewTOMLParseError(path string, row, col int, err error) *UserError {
	context := path
	if row > 0 {
		context = fmt.Sprintf("%s (line %d, column %d)", path, row, col)
	}
	return &UserError{
		Code:       ErrCodeConfigParse,
		Message:    "invalid TOML syntax",
		Context:    context,
		Suggestion: "Section headers look like [rootfs]; string values must be quoted.",
		Underlying: err,
	}
}

// IsUserError checks if an error is a UserError with a specific code.
func IsUserError(err error, code string) bool {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.Code == code
	}
	return false
}

// GetUserError extracts a UserError from an error chain, if present.
func GetUserError(err error) *UserError {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue
	}
	return nil
}
