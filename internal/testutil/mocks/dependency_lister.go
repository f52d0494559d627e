package mocks

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/acornos/acornbuild/internal/domain/execution"
)

// DependencyLister is a mock execution.DependencyLister keyed by binary
// base name.
type DependencyLister struct {
	mu      sync.Mutex
	libs    map[string][]execution.Library
	errors  map[string]error
	queried []string
}

// NewDependencyLister creates a lister that reports every binary as static.
func NewDependencyLister() *DependencyLister {
	return &DependencyLister{
		libs:   make(map[string][]execution.Library),
		errors: make(map[string]error),
	}
}

// AddLibraries registers the libraries reported for binary.
func (m *DependencyLister) AddLibraries(binary string, libs ...execution.Library) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.libs[binary] = append(m.libs[binary], libs...)
}

// AddError makes queries for binary fail with err.
func (m *DependencyLister) AddError(binary string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[binary] = err
}

// Libraries implements execution.DependencyLister.
func (m *DependencyLister) Libraries(ctx context.Context, binary string) ([]execution.Library, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := filepath.Base(binary)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.queried = append(m.queried, name)
	if err, ok := m.errors[name]; ok {
		return nil, err
	}
	return append([]execution.Library(nil), m.libs[name]...), nil
}

// Queried returns the base names queried so far, in order.
func (m *DependencyLister) Queried() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queried...)
}

var _ execution.DependencyLister = (*DependencyLister)(nil)
