// Package mocks provides test doubles for testing.
package mocks

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/acornos/acornbuild/internal/ports"
)

// StreamFunc emulates a streamed process, typically by writing the file the
// real tool would produce.
type StreamFunc func(spec ports.ProcessSpec) error

// CommandRunner is a thread-safe test double for ports.CommandRunner.
type CommandRunner struct {
	mu      sync.RWMutex
	results map[string]ports.CommandResult
	errors  map[string]error
	streams map[string]StreamFunc
	tools   map[string]string
	calls   []ports.CommandCall
}

// NewCommandRunner creates a new CommandRunner mock.
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{
		results: make(map[string]ports.CommandResult),
		errors:  make(map[string]error),
		streams: make(map[string]StreamFunc),
		tools:   make(map[string]string),
		calls:   make([]ports.CommandCall, 0),
	}
}

// AddResult registers an expected command and its result.
func (m *CommandRunner) AddResult(command string, args []string, result ports.CommandResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[buildKey(command, args)] = result
}

// AddError registers an expected command that should return an error.
func (m *CommandRunner) AddError(command string, args []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[buildKey(command, args)] = err
}

// OnStream registers the behaviour of every streamed invocation of command,
// whatever its arguments.
func (m *CommandRunner) OnStream(command string, fn StreamFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[command] = fn
}

// AddTool makes LookPath report name as installed at path.
func (m *CommandRunner) AddTool(name, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools[name] = path
}

// Run executes a mock command.
func (m *CommandRunner) Run(_ context.Context, command string, args ...string) (ports.CommandResult, error) {
	m.record(command, args)

	m.mu.RLock()
	defer m.mu.RUnlock()

	key := buildKey(command, args)
	if err, ok := m.errors[key]; ok {
		return ports.CommandResult{}, err
	}
	if result, ok := m.results[key]; ok {
		return result, nil
	}
	return ports.CommandResult{}, fmt.Errorf("no mock result for command: %s %v", command, args)
}

// Stream executes a mock streamed process. Commands without a registered
// StreamFunc succeed unless an error was registered for the exact call.
func (m *CommandRunner) Stream(ctx context.Context, spec ports.ProcessSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.record(spec.Command, spec.Args)

	m.mu.RLock()
	err, failed := m.errors[buildKey(spec.Command, spec.Args)]
	fn := m.streams[spec.Command]
	m.mu.RUnlock()

	if failed {
		return err
	}
	if fn != nil {
		return fn(spec)
	}
	return nil
}

// LookPath resolves tools registered with AddTool.
func (m *CommandRunner) LookPath(name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path, ok := m.tools[name]; ok {
		return path, nil
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

// Calls returns all recorded command invocations.
func (m *CommandRunner) Calls() []ports.CommandCall {
	m.mu.RLock()
	defer m.mu.RUnlock()

	calls := make([]ports.CommandCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// Invoked reports whether command was run or streamed at least once.
func (m *CommandRunner) Invoked(command string) bool {
	for _, c := range m.Calls() {
		if c.Command == command {
			return true
		}
	}
	return false
}

// Reset clears all registered results, errors, and recorded calls.
func (m *CommandRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = make(map[string]ports.CommandResult)
	m.errors = make(map[string]error)
	m.streams = make(map[string]StreamFunc)
	m.tools = make(map[string]string)
	m.calls = make([]ports.CommandCall, 0)
}

func (m *CommandRunner) record(command string, args []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ports.CommandCall{
		Command: command,
		Args:    append([]string(nil), args...),
	})
}

// buildKey creates a unique key for a command and its arguments.
func buildKey(command string, args []string) string {
	return command + ":" + strings.Join(args, ":")
}

// Ensure CommandRunner implements ports.CommandRunner.
var _ ports.CommandRunner = (*CommandRunner)(nil)
