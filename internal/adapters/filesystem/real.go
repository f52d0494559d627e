// Package filesystem provides file system adapters.
package filesystem

import (
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/acornos/acornbuild/internal/ports"
)

// RealFileSystem implements ports.FileSystem using actual file system operations.
type RealFileSystem struct{}

// NewRealFileSystem creates a new RealFileSystem.
func NewRealFileSystem() *RealFileSystem {
	return &RealFileSystem{}
}

// ReadFile reads a file and returns its contents.
func (r *RealFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes data to a file, replacing any previous contents.
// The permission bits are applied even when the file already existed.
func (r *RealFileSystem) WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.WriteFile(path, data, perm); err != nil {
		return err
	}
	return os.Chmod(path, perm)
}

// Exists checks if a path exists without following a final symlink.
func (r *RealFileSystem) Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// IsSymlink checks if a path is a symbolic link and returns its target.
func (r *RealFileSystem) IsSymlink(path string) (bool, string) {
	info, err := os.Lstat(path)
	if err != nil {
		return false, ""
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return false, ""
	}
	target, err := os.Readlink(path)
	if err != nil {
		return true, ""
	}
	return true, target
}

// CreateSymlink creates a symbolic link.
func (r *RealFileSystem) CreateSymlink(target, link string) error {
	return os.Symlink(target, link)
}

// Remove removes a file, symlink or empty directory.
func (r *RealFileSystem) Remove(path string) error {
	return os.Remove(path)
}

// RemoveAll removes a path and any children. A missing path is not an error.
func (r *RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// MkdirAll creates a directory and all necessary parents.
func (r *RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Chmod sets permission bits, including sticky and setuid bits.
func (r *RealFileSystem) Chmod(path string, perm os.FileMode) error {
	return os.Chmod(path, perm)
}

// Rename renames (moves) a path.
func (r *RealFileSystem) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

// IsDir checks if a path is a directory, following symlinks.
func (r *RealFileSystem) IsDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// CopyFile streams src to dest and copies the permission bits. An existing
// dest is removed first so a symlink at dest is never written through.
func (r *RealFileSystem) CopyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dest, info.Mode()&(fs.ModePerm|fs.ModeSticky|fs.ModeSetuid|fs.ModeSetgid))
}

// GetFileInfo returns metadata about a file, following symlinks.
func (r *RealFileSystem) GetFileInfo(path string) (ports.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ports.FileInfo{}, err
	}

	return ports.FileInfo{
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

// ReadDir lists a directory in name order.
func (r *RealFileSystem) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}

// Open opens path for reading.
func (r *RealFileSystem) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Create creates or truncates path with perm.
func (r *RealFileSystem) Create(path string, perm os.FileMode) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
}

// Ensure RealFileSystem implements ports.FileSystem.
var _ ports.FileSystem = (*RealFileSystem)(nil)
