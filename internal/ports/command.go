// Package ports defines interfaces for external dependencies.
package ports

import (
	"context"
	"io"
)

// CommandResult represents the result of a captured child process run.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success returns true if the command exited with code 0.
func (r CommandResult) Success() bool {
	return r.ExitCode == 0
}

// CommandCall records a command invocation.
type CommandCall struct {
	Command string
	Args    []string
}

// ProcessSpec describes a blocking child process whose standard streams
// are inherited from the builder unless overridden.
type ProcessSpec struct {
	Command string
	Args    []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Stdin, Stdout and Stderr replace the inherited streams when set.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Hint names the host package that provides Command. It is attached
	// to the error when the process exits non-zero.
	Hint string
}

// CommandRunner executes child processes.
type CommandRunner interface {
	// Run executes a command and captures its output. A non-zero exit is
	// reported through CommandResult, not as an error.
	Run(ctx context.Context, command string, args ...string) (CommandResult, error)

	// Stream executes a command to completion with inherited (or
	// redirected) streams. A non-zero exit is an error.
	Stream(ctx context.Context, spec ProcessSpec) error

	// LookPath reports where a host tool is installed.
	LookPath(name string) (string, error)
}
