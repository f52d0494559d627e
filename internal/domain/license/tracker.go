// Package license accumulates package and binary attribution facts during
// a registry pass and copies license texts into staging at the end.
package license

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/acornos/acornbuild/internal/ports"
)

// LicenseDir is where license texts land in the staging tree.
const LicenseDir = "usr/share/licenses"

var (
	// ErrAlreadyFlushed is returned by a second Flush.
	ErrAlreadyFlushed = errors.New("license tracker already flushed")
	// ErrNoLicense is returned by a Source that has no text for a package.
	ErrNoLicense = errors.New("no license text for package")
)

// Source supplies license texts and binary ownership.
type Source interface {
	// Owner returns the package that installs the named binary.
	Owner(binary string) (pkg string, ok bool)
	// License returns the license text of pkg, or ErrNoLicense.
	License(pkg string) ([]byte, error)
}

// Tracker records which packages and binaries went into a staging tree.
// It is owned by one registry pass and is not safe for concurrent use.
type Tracker struct {
	packages map[string]bool
	binaries map[string]bool
	flushed  bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		packages: make(map[string]bool),
		binaries: make(map[string]bool),
	}
}

// AddPackage records that files from pkg were staged.
func (t *Tracker) AddPackage(pkg string) {
	if pkg != "" {
		t.packages[pkg] = true
	}
}

// AddBinary records that the named binary was staged.
func (t *Tracker) AddBinary(name string) {
	if name != "" {
		t.binaries[name] = true
	}
}

// Packages returns the recorded package names, sorted.
func (t *Tracker) Packages() []string {
	return sortedKeys(t.packages)
}

// Binaries returns the recorded binary names, sorted.
func (t *Tracker) Binaries() []string {
	return sortedKeys(t.binaries)
}

// Flushed reports whether Flush has run.
func (t *Tracker) Flushed() bool {
	return t.flushed
}

// Report summarizes a flush.
type Report struct {
	Written []string // packages whose license text was copied
	Missing []string // packages the source had no text for
	Orphans []string // binaries with no known owning package
}

// Flush resolves binaries to packages, then writes each package's license
// text to staging/usr/share/licenses/<pkg>/LICENSE. It runs at most once.
func (t *Tracker) Flush(ctx context.Context, fsys ports.FileSystem, src Source, staging string, logger ports.Logger) (Report, error) {
	var report Report
	if t.flushed {
		return report, ErrAlreadyFlushed
	}
	t.flushed = true

	all := make(map[string]bool, len(t.packages))
	for pkg := range t.packages {
		all[pkg] = true
	}
	for _, bin := range t.Binaries() {
		pkg, ok := src.Owner(bin)
		if !ok {
			report.Orphans = append(report.Orphans, bin)
			continue
		}
		all[pkg] = true
	}

	for _, pkg := range sortedKeys(all) {
		text, err := src.License(pkg)
		if errors.Is(err, ErrNoLicense) {
			report.Missing = append(report.Missing, pkg)
			continue
		}
		if err != nil {
			return report, fmt.Errorf("reading license for %s: %w", pkg, err)
		}

		dir := filepath.Join(staging, LicenseDir, pkg)
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return report, fmt.Errorf("creating %s: %w", dir, err)
		}
		if err := fsys.WriteFile(filepath.Join(dir, "LICENSE"), text, 0o644); err != nil {
			return report, fmt.Errorf("writing license for %s: %w", pkg, err)
		}
		report.Written = append(report.Written, pkg)
	}

	if len(report.Missing) > 0 {
		logger.Warn(ctx, "packages without license text", ports.F("count", len(report.Missing)), ports.F("packages", report.Missing))
	}
	logger.Info(ctx, "license texts copied", ports.F("packages", len(report.Written)), ports.F("binaries", len(t.binaries)))
	return report, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
