package artifact

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/acornos/acornbuild/internal/domain/builderr"
	"github.com/acornos/acornbuild/internal/ports"
)

// Check verifies a produced artifact before it is promoted.
type Check func(fs ports.FileSystem, path string) error

// MinSize requires a regular file of at least n bytes.
func MinSize(n int64) Check {
	return func(fs ports.FileSystem, path string) error {
		info, err := fs.GetFileInfo(path)
		if err != nil {
			return builderr.NewSanityCheckFailed(path, "producer left no output")
		}
		if info.IsDir {
			return builderr.NewSanityCheckFailed(path, "expected a file, found a directory")
		}
		if info.Size < n {
			return builderr.NewSanityCheckFailed(path, fmt.Sprintf("output is %s, want at least %s",
				humanize.IBytes(uint64(info.Size)), humanize.IBytes(uint64(n))))
		}
		return nil
	}
}

// RequiredEntries requires a directory containing every relative entry.
// Symlinks count as present even when dangling.
func RequiredEntries(entries ...string) Check {
	return func(fs ports.FileSystem, path string) error {
		if !fs.IsDir(path) {
			return builderr.NewSanityCheckFailed(path, "expected a directory")
		}
		var missing []string
		for _, e := range entries {
			if !fs.Exists(filepath.Join(path, e)) {
				missing = append(missing, e)
			}
		}
		if len(missing) > 0 {
			err := builderr.NewSanityCheckFailed(path, fmt.Sprintf("%d required entries missing", len(missing)))
			err.Missing = missing
			return err
		}
		return nil
	}
}

// NonEmptyDir requires rel under the artifact to be a directory with at
// least one entry.
func NonEmptyDir(rel string) Check {
	return func(fs ports.FileSystem, path string) error {
		dir := filepath.Join(path, rel)
		entries, err := fs.ReadDir(dir)
		if err != nil || len(entries) == 0 {
			return builderr.NewSanityCheckFailed(dir, "directory is missing or empty")
		}
		return nil
	}
}

// All runs checks in order and returns the first failure.
func All(checks ...Check) Check {
	return func(fs ports.FileSystem, path string) error {
		for _, c := range checks {
			if err := c(fs, path); err != nil {
				return err
			}
		}
		return nil
	}
}
