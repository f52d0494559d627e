package ports

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileInfo contains file metadata.
type FileInfo struct {
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
	IsDir   bool
}

// FileSystem provides the file system operations the executor and the
// artifact builders need. Exists and IsSymlink never follow the final
// path element; GetFileInfo does.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	Exists(path string) bool
	IsSymlink(path string) (isLink bool, target string)
	CreateSymlink(target, link string) error
	Remove(path string) error
	RemoveAll(path string) error
	MkdirAll(path string, perm os.FileMode) error
	Chmod(path string, perm os.FileMode) error
	Rename(oldPath, newPath string) error
	IsDir(path string) bool
	// CopyFile copies bytes and permission bits, replacing dest.
	CopyFile(src, dest string) error
	GetFileInfo(path string) (FileInfo, error)
	ReadDir(path string) ([]fs.DirEntry, error)
	// Open opens path for a streaming read.
	Open(path string) (io.ReadCloser, error)
	// Create creates or truncates path for a streaming write.
	Create(path string, perm os.FileMode) (io.WriteCloser, error)
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
