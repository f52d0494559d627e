package execution

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/acornos/acornbuild/internal/domain/builderr"
	"github.com/acornos/acornbuild/internal/domain/component"
	"github.com/acornos/acornbuild/internal/ports"
)

var (
	userBinDirs   = []string{"usr/bin", "bin", "usr/sbin", "sbin"}
	systemBinDirs = []string{"usr/sbin", "sbin", "usr/bin", "bin"}
	libraryDirs   = []string{"lib", "usr/lib", "lib64", "usr/lib64"}
)

// maxLinkDepth bounds how many symlink hops are followed when staging a library.
const maxLinkDepth = 8

func binaryCandidates(name string, system bool) []string {
	dirs := userBinDirs
	if system {
		dirs = systemBinDirs
	}
	out := make([]string, len(dirs))
	for i, d := range dirs {
		out[i] = filepath.Join(d, name)
	}
	return out
}

// locate returns the first candidate relative path that exists in source.
func (e *Executor) locate(bc BuildContext, name string, system bool) (string, bool) {
	for _, rel := range binaryCandidates(name, system) {
		if e.fs.Exists(bc.SourcePath(rel)) {
			return rel, true
		}
	}
	return "", false
}

// copyBinaries stages every name of o at the relative path it was found
// upstream. Batches report all missing names at once.
func (e *Executor) copyBinaries(ctx context.Context, env Env, o component.BinaryOp) error {
	bc := env.Build
	var missing []string

	for _, name := range o.Names {
		rel, ok := e.locate(bc, name, o.System)
		if !ok {
			missing = append(missing, name)
			continue
		}
		if err := e.stageBinary(ctx, env, name, rel); err != nil {
			return err
		}
	}

	switch {
	case len(missing) == 0:
		return nil
	case len(o.Names) == 1:
		candidates := binaryCandidates(missing[0], o.System)
		err := builderr.NewMissingInput(bc.SourcePath(candidates[0]))
		err.Missing = candidates
		return err
	default:
		return builderr.NewMissingBinaries(missing)
	}
}

func (e *Executor) stageBinary(ctx context.Context, env Env, name, rel string) error {
	bc := env.Build
	src := bc.SourcePath(rel)
	dst := bc.StagingPath(rel)

	if isLink, _ := e.fs.IsSymlink(src); isLink {
		return e.copyEntry(src, dst)
	}

	if err := e.copyEntry(src, dst); err != nil {
		return err
	}
	if err := e.fs.Chmod(dst, component.ExecutableMode); err != nil {
		return fmt.Errorf("setting mode on %s: %w", dst, err)
	}
	if env.Tracker != nil {
		env.Tracker.AddBinary(name)
	}

	if e.lister == nil {
		return nil
	}
	libs, err := e.lister.Libraries(ctx, src)
	if err != nil {
		return fmt.Errorf("listing libraries of %s: %w", name, err)
	}
	for _, lib := range libs {
		if err := e.stageLibrary(ctx, bc, lib); err != nil {
			return err
		}
	}
	return nil
}

// stageLibrary copies lib into staging at its absolute path, preferring the
// source tree over the host.
func (e *Executor) stageLibrary(ctx context.Context, bc BuildContext, lib Library) error {
	if lib.Path == "" {
		return e.stageLibraryByName(ctx, bc, lib.Name)
	}
	if !filepath.IsAbs(lib.Path) {
		e.loggerFor(ctx).Debug(ctx, "skipping library with relative path", ports.F("library", lib.Name), ports.F("path", lib.Path))
		return nil
	}

	roots := []string{bc.Source, "/"}
	for _, root := range roots {
		if e.fs.Exists(filepath.Join(root, lib.Path)) {
			return e.copyLibrary(bc, root, lib.Path, 0)
		}
	}
	return builderr.NewMissingInput(bc.SourcePath(strings.TrimPrefix(lib.Path, "/")))
}

// stageLibraryByName handles libraries the lister could not resolve on the
// host, which happens when the source tree uses a different libc.
func (e *Executor) stageLibraryByName(ctx context.Context, bc BuildContext, name string) error {
	if name == "" {
		return nil
	}
	for _, dir := range libraryDirs {
		abs := "/" + filepath.Join(dir, name)
		if e.fs.Exists(bc.SourcePath(abs)) {
			return e.copyLibrary(bc, bc.Source, abs, 0)
		}
	}
	e.loggerFor(ctx).Debug(ctx, "unresolved library not found in source", ports.F("library", name))
	return builderr.NewMissingInput(bc.SourcePath(filepath.Join(libraryDirs[0], name)))
}

func (e *Executor) copyLibrary(bc BuildContext, root, abs string, depth int) error {
	dst := bc.StagingPath(strings.TrimPrefix(abs, "/"))
	if e.fs.Exists(dst) {
		return nil
	}

	src := filepath.Join(root, abs)
	if err := e.copyEntry(src, dst); err != nil {
		return err
	}

	isLink, target := e.fs.IsSymlink(src)
	if !isLink {
		return nil
	}
	if depth >= maxLinkDepth {
		return fmt.Errorf("library %s: too many levels of symbolic links", abs)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(abs), target)
	}
	if !e.fs.Exists(filepath.Join(root, target)) {
		return builderr.NewMissingInput(filepath.Join(root, target))
	}
	return e.copyLibrary(bc, root, filepath.Clean(target), depth+1)
}
