// Package component holds the declarative build vocabulary: phases,
// operations, components and the ordered registries built from them.
package component

import (
	"errors"
	"fmt"
	"strings"
)

// Component is a named, phase-tagged list of operations.
type Component struct {
	Name  string
	Phase Phase
	Ops   []Operation
}

// Registry validation errors.
var (
	ErrEmptyComponent = errors.New("component has no operations")
	ErrPhaseOrder     = errors.New("component is out of phase order")
	ErrDuplicateName  = errors.New("duplicate component name")
	ErrInvalidPhase   = errors.New("invalid phase")
)

// Registry is an ordered, validated list of components. It is built once
// and never mutated.
type Registry struct {
	name       string
	components []Component
}

// NewRegistry validates components and returns them as a Registry.
// Every component must have at least one operation, a known phase and a
// unique name, and phases must be non-decreasing in declaration order.
func NewRegistry(name string, components ...Component) (*Registry, error) {
	seen := make(map[string]bool, len(components))
	last := PhaseFilesystem

	for _, c := range components {
		if !c.Phase.Valid() {
			return nil, fmt.Errorf("%w: %q has phase %d", ErrInvalidPhase, c.Name, int(c.Phase))
		}
		if len(c.Ops) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrEmptyComponent, c.Name)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, c.Name)
		}
		if c.Phase < last {
			return nil, fmt.Errorf("%w: %q (phase %s after %s)", ErrPhaseOrder, c.Name, c.Phase, last)
		}
		seen[c.Name] = true
		last = c.Phase
	}

	return &Registry{name: name, components: append([]Component(nil), components...)}, nil
}

// MustRegistry is NewRegistry for static tables; it panics on invalid input.
func MustRegistry(name string, components ...Component) *Registry {
	r, err := NewRegistry(name, components...)
	if err != nil {
		panic(fmt.Sprintf("registry %s: %v", name, err))
	}
	return r
}

// Name returns the registry name.
func (r *Registry) Name() string {
	return r.name
}

// Components returns the components in execution order.
func (r *Registry) Components() []Component {
	return append([]Component(nil), r.components...)
}

// Len returns the number of components.
func (r *Registry) Len() int {
	return len(r.components)
}

// OpCount returns the total number of operations.
func (r *Registry) OpCount() int {
	n := 0
	for _, c := range r.components {
		n += len(c.Ops)
	}
	return n
}

// CustomTags returns every custom tag referenced, in first-use order.
func (r *Registry) CustomTags() []CustomTag {
	var tags []CustomTag
	seen := make(map[CustomTag]bool)
	for _, c := range r.components {
		for _, op := range c.Ops {
			if custom, ok := op.(CustomOp); ok && !seen[custom.Tag] {
				seen[custom.Tag] = true
				tags = append(tags, custom.Tag)
			}
		}
	}
	return tags
}

// Describe renders every component and operation, including file contents,
// as stable text. Two registries with the same description perform the
// same mutations.
func (r *Registry) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "registry %s\n", r.name)
	for _, c := range r.components {
		fmt.Fprintf(&b, "component %s phase=%s\n", c.Name, c.Phase)
		for _, op := range c.Ops {
			fmt.Fprintf(&b, "  %#v\n", op)
		}
	}
	return b.String()
}
