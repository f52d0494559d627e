// Package testutil provides test helpers for staging-tree and artifact tests.
package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteTempFile writes content to a file in the specified directory,
// creating parents as needed.
func WriteTempFile(t testing.TB, dir, filename, content string) string {
	t.Helper()

	path := filepath.Join(dir, filename)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err, "failed to write temp file: %s", filename)

	return path
}

// WriteTempDir creates a subdirectory in the temp directory.
func WriteTempDir(t testing.TB, dir, dirname string) string {
	t.Helper()

	path := filepath.Join(dir, dirname)
	err := os.MkdirAll(path, 0o755)
	require.NoError(t, err, "failed to create temp subdirectory: %s", dirname)

	return path
}

// WriteTree writes files (relative path to content) under dir. A content
// starting with "->" creates a symlink to the remainder instead.
func WriteTree(t testing.TB, dir string, files map[string]string) {
	t.Helper()

	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		if target, ok := strings.CutPrefix(content, "->"); ok {
			require.NoError(t, os.Symlink(target, path), "failed to link %s", rel)
			continue
		}
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644), "failed to write %s", rel)
	}
}

// SnapshotTree describes every entry under root as "rel mode [content|-> target]",
// one per line in lexical order, for comparing two staging trees.
func SnapshotTree(t testing.TB, root string) string {
	t.Helper()

	var lines []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		if rel == "." {
			return nil
		}
		info, err := os.Lstat(path)
		if err != nil {
			return err
		}
		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			lines = append(lines, rel+" link -> "+target)
		case info.IsDir():
			lines = append(lines, rel+" "+info.Mode().String())
		default:
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			lines = append(lines, rel+" "+info.Mode().String()+" "+string(data))
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// SetEnv sets an environment variable for the duration of the test.
func SetEnv(t *testing.T, key, value string) {
	t.Helper()
	t.Setenv(key, value)
}

// UnsetEnv unsets an environment variable for the duration of the test.
func UnsetEnv(t *testing.T, key string) {
	t.Helper()

	original, had := os.LookupEnv(key)
	require.NoError(t, os.Unsetenv(key))

	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, original)
		}
	})
}
