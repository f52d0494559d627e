package execution

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/acornos/acornbuild/internal/domain/builderr"
	"github.com/acornos/acornbuild/internal/domain/component"
	"github.com/acornos/acornbuild/internal/ports"
)

func (e *Executor) mkdir(path string) error {
	if err := e.fs.MkdirAll(path, component.DefaultDirMode); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	return nil
}

// mkdirMode re-applies mode even when the directory already existed.
func (e *Executor) mkdirMode(path string, mode fs.FileMode) error {
	if err := e.mkdir(path); err != nil {
		return err
	}
	if err := e.fs.Chmod(path, mode); err != nil {
		return fmt.Errorf("setting mode on %s: %w", path, err)
	}
	return nil
}

// writeFile always replaces path. A symlink at path is removed rather
// than written through.
func (e *Executor) writeFile(path string, data []byte, mode fs.FileMode) error {
	if err := e.mkdir(filepath.Dir(path)); err != nil {
		return err
	}
	if isLink, _ := e.fs.IsSymlink(path); isLink {
		if err := e.fs.Remove(path); err != nil {
			return fmt.Errorf("removing symlink %s: %w", path, err)
		}
	}
	if mode == 0 {
		mode = component.DefaultFileMode
	}
	if err := e.fs.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// symlink makes link point at target, replacing a file or a different
// symlink. The last writer wins.
func (e *Executor) symlink(ctx context.Context, link, target string) error {
	if err := e.mkdir(filepath.Dir(link)); err != nil {
		return err
	}

	if isLink, current := e.fs.IsSymlink(link); isLink {
		if current == target {
			return nil
		}
		e.loggerFor(ctx).Debug(ctx, "replacing symlink", ports.F("link", link), ports.F("old", current), ports.F("new", target))
		if err := e.fs.Remove(link); err != nil {
			return fmt.Errorf("removing symlink %s: %w", link, err)
		}
	} else if e.fs.Exists(link) {
		if err := e.fs.Remove(link); err != nil {
			return fmt.Errorf("removing %s to make room for symlink: %w", link, err)
		}
	}

	if err := e.fs.CreateSymlink(target, link); err != nil {
		return fmt.Errorf("failed to create symlink %s -> %s: %w", link, target, err)
	}
	return nil
}

// copyRequired copies one file that must exist. A symlink source is
// recreated rather than followed.
func (e *Executor) copyRequired(src, dst string) error {
	if !e.fs.Exists(src) {
		return builderr.NewMissingInput(src)
	}
	return e.copyEntry(src, dst)
}

func (e *Executor) copyEntry(src, dst string) error {
	if err := e.mkdir(filepath.Dir(dst)); err != nil {
		return err
	}
	if isLink, target := e.fs.IsSymlink(src); isLink {
		return e.replaceWithLink(dst, target)
	}
	if err := e.fs.CopyFile(src, dst); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return nil
}

func (e *Executor) replaceWithLink(dst, target string) error {
	if isLink, current := e.fs.IsSymlink(dst); isLink && current == target {
		return nil
	}
	if e.fs.Exists(dst) && !e.fs.IsDir(dst) {
		if err := e.fs.Remove(dst); err != nil {
			return fmt.Errorf("removing %s: %w", dst, err)
		}
	} else if isLink, _ := e.fs.IsSymlink(dst); isLink {
		if err := e.fs.Remove(dst); err != nil {
			return fmt.Errorf("removing %s: %w", dst, err)
		}
	}
	if err := e.fs.CreateSymlink(target, dst); err != nil {
		return fmt.Errorf("failed to create symlink %s -> %s: %w", dst, target, err)
	}
	return nil
}

// copyTree merges src into dst. Symlinks are recreated with their original
// target; devices and sockets are skipped. A missing src returns false.
func (e *Executor) copyTree(ctx context.Context, src, dst string) (bool, error) {
	if !e.fs.Exists(src) {
		return false, nil
	}
	if isLink, _ := e.fs.IsSymlink(src); isLink || !e.fs.IsDir(src) {
		return true, e.copyEntry(src, dst)
	}
	return true, e.copyDir(ctx, src, dst)
}

func (e *Executor) copyDir(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := e.fs.GetFileInfo(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	if err := e.mkdir(dst); err != nil {
		return err
	}
	// dst may be a symlink to a directory (merged /usr); leave its target's mode alone.
	if isLink, _ := e.fs.IsSymlink(dst); !isLink {
		if err := e.fs.Chmod(dst, info.Mode.Perm()|info.Mode&(fs.ModeSticky|fs.ModeSetgid)); err != nil {
			return fmt.Errorf("setting mode on %s: %w", dst, err)
		}
	}

	entries, err := e.fs.ReadDir(src)
	if err != nil {
		return fmt.Errorf("listing %s: %w", src, err)
	}

	for _, entry := range entries {
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())

		switch t := entry.Type(); {
		case t&fs.ModeSymlink != 0:
			_, target := e.fs.IsSymlink(from)
			if err := e.replaceWithLink(to, target); err != nil {
				return err
			}
		case t.IsDir():
			if err := e.copyDir(ctx, from, to); err != nil {
				return err
			}
		case t.IsRegular():
			if err := e.fs.CopyFile(from, to); err != nil {
				return fmt.Errorf("copying %s: %w", from, err)
			}
		default:
			e.loggerFor(ctx).Debug(ctx, "skipping special file", ports.F("path", from))
		}
	}
	return nil
}
