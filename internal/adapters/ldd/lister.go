// Package ldd discovers shared-library dependencies by running ldd(1).
package ldd

import (
	"bufio"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/acornos/acornbuild/internal/domain/execution"
	"github.com/acornos/acornbuild/internal/ports"
)

// DefaultCommand is the lister used when none is configured.
const DefaultCommand = "ldd"

// Lister implements execution.DependencyLister.
type Lister struct {
	runner  ports.CommandRunner
	command string
}

// New creates a Lister running command (DefaultCommand when empty).
func New(runner ports.CommandRunner, command string) *Lister {
	if command == "" {
		command = DefaultCommand
	}
	return &Lister{runner: runner, command: command}
}

// Libraries runs the lister against binary. A non-zero exit or no output
// means the binary is statically linked.
func (l *Lister) Libraries(ctx context.Context, binary string) ([]execution.Library, error) {
	result, err := l.runner.Run(ctx, l.command, binary)
	if err != nil {
		return nil, fmt.Errorf("running %s on %s: %w", l.command, binary, err)
	}
	if !result.Success() {
		return nil, nil
	}
	return Parse(result.Stdout), nil
}

// Parse reads ldd output. Lines have one of the forms
//
//	libc.so.6 => /lib/libc.so.6 (0x00007f...)
//	/lib/ld-musl-x86_64.so.1 (0x00007f...)
//	libfoo.so.1 => not found
//	linux-vdso.so.1 (0x00007ffc...)
//
// Virtual objects without a path are dropped. Unresolved names are
// returned with an empty Path.
func Parse(output string) []execution.Library {
	var libs []execution.Library
	seen := make(map[string]bool)

	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.Contains(line, "not a dynamic executable") || strings.HasPrefix(line, "statically linked") {
			continue
		}

		var lib execution.Library
		if name, rest, ok := strings.Cut(line, "=>"); ok {
			lib.Name = strings.TrimSpace(name)
			rest = strings.TrimSpace(rest)
			if !strings.HasPrefix(rest, "not found") {
				lib.Path = stripAddress(rest)
			}
		} else {
			path := stripAddress(line)
			if !filepath.IsAbs(path) {
				continue // vdso
			}
			lib.Name = filepath.Base(path)
			lib.Path = path
		}

		if lib.Path != "" && !filepath.IsAbs(lib.Path) {
			continue
		}
		key := lib.Name + "\x00" + lib.Path
		if lib.Name == "" || seen[key] {
			continue
		}
		seen[key] = true
		libs = append(libs, lib)
	}
	return libs
}

func stripAddress(s string) string {
	if i := strings.Index(s, " ("); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// Ensure Lister implements execution.DependencyLister.
var _ execution.DependencyLister = (*Lister)(nil)
