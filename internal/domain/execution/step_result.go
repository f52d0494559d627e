// Package execution interprets component registries against a staging tree.
package execution

import (
	"time"

	"github.com/acornos/acornbuild/internal/domain/component"
)

// ComponentResult captures the outcome of applying one component.
type ComponentResult struct {
	name     string
	phase    component.Phase
	ops      int
	err      error
	duration time.Duration
}

// NewComponentResult creates a new ComponentResult.
func NewComponentResult(c component.Component, applied int, err error) ComponentResult {
	return ComponentResult{
		name:  c.Name,
		phase: c.Phase,
		ops:   applied,
		err:   err,
	}
}

// Name returns the component name.
func (r ComponentResult) Name() string {
	return r.name
}

// Phase returns the component phase.
func (r ComponentResult) Phase() component.Phase {
	return r.phase
}

// Applied returns how many operations completed.
func (r ComponentResult) Applied() int {
	return r.ops
}

// Error returns the failure, if any.
func (r ComponentResult) Error() error {
	return r.err
}

// Success reports whether every operation completed.
func (r ComponentResult) Success() bool {
	return r.err == nil
}

// Duration returns how long the component took.
func (r ComponentResult) Duration() time.Duration {
	return r.duration
}

// WithDuration returns a copy with duration set.
func (r ComponentResult) WithDuration(d time.Duration) ComponentResult {
	r.duration = d
	return r
}
