package app

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/acornos/acornbuild/internal/distro/acorn"
	"github.com/acornos/acornbuild/internal/domain/artifact"
	"github.com/acornos/acornbuild/internal/ports"
)

// BuildInitramfs assembles the initramfs root and archives it as a gzip
// compressed newc cpio.
func (a *App) BuildInitramfs(ctx context.Context) error {
	exec := a.executor()

	root := a.output(InitramfsRootDir)
	err := a.builder().BuildAtomic(ctx, artifact.Job{
		Stage: "initramfs-root",
		Work:  artifact.WorkPath(root),
		Final: root,
		Produce: func(ctx context.Context, work string) error {
			_, err := exec.Run(ctx, a.buildContext(work), acorn.Initramfs(), nil)
			return err
		},
		Check: acorn.InitramfsRootCheck(),
	})
	if err != nil {
		return err
	}

	archive := a.output(InitramfsFile)
	return a.builder().BuildAtomic(ctx, artifact.Job{
		Stage: "initramfs-archive",
		Work:  artifact.WorkPath(archive),
		Final: archive,
		Produce: func(ctx context.Context, work string) error {
			return a.writeCpio(ctx, root, work)
		},
		Check: artifact.MinSize(minInitramfs),
	})
}

// writeCpio pipes the file list of root through cpio and compresses its
// output into dest.
func (a *App) writeCpio(ctx context.Context, root, dest string) error {
	entries, err := ArchiveList(a.fs, root)
	if err != nil {
		return err
	}

	f, err := a.fs.Create(dest, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	zw, err := gzip.NewWriterLevel(f, a.cfg.Initramfs.GzipLevel)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("gzip level %d: %w", a.cfg.Initramfs.GzipLevel, err)
	}

	streamErr := a.runner.Stream(ctx, ports.ProcessSpec{
		Command: "cpio",
		Args:    []string{"-o", "-H", "newc", "--quiet"},
		Dir:     root,
		Stdin:   strings.NewReader(strings.Join(entries, "\n") + "\n"),
		Stdout:  zw,
		Hint:    "cpio",
	})
	closeErr := zw.Close()
	if err := f.Close(); err != nil && closeErr == nil {
		closeErr = err
	}
	if streamErr != nil {
		return streamErr
	}
	if closeErr != nil {
		return fmt.Errorf("writing %s: %w", dest, closeErr)
	}
	return nil
}

// ArchiveList returns every entry under root relative to it, in lexical
// order, starting with ".". Symlinked directories are listed but not
// descended into.
func ArchiveList(fsys ports.FileSystem, root string) ([]string, error) {
	out := []string{"."}
	var walk func(rel string) error
	walk = func(rel string) error {
		entries, err := fsys.ReadDir(filepath.Join(root, rel))
		if err != nil {
			return fmt.Errorf("listing %s: %w", filepath.Join(root, rel), err)
		}
		for _, e := range entries {
			child := path.Join(rel, e.Name())
			out = append(out, child)
			if e.Type()&fs.ModeSymlink == 0 && e.IsDir() {
				if err := walk(child); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	sort.Strings(out[1:])
	return out, nil
}
