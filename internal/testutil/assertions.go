package testutil

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// AssertFileExists asserts that a regular file (or a link to one) exists.
func AssertFileExists(t testing.TB, path string, msgAndArgs ...interface{}) {
	t.Helper()

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		assert.Fail(t, "file does not exist", "expected file to exist: %s", path)
		return
	}
	require.NoError(t, err)
	assert.False(t, info.IsDir(), "expected file but got directory: %s", path)
}

// AssertFileNotExists asserts that nothing exists at path, not even a
// dangling symlink.
func AssertFileNotExists(t testing.TB, path string, msgAndArgs ...interface{}) {
	t.Helper()

	_, err := os.Lstat(path)
	assert.True(t, os.IsNotExist(err), "expected file to not exist: %s", path)
}

// AssertDirExists asserts that a directory exists at the given path.
func AssertDirExists(t testing.TB, path string, msgAndArgs ...interface{}) {
	t.Helper()

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		assert.Fail(t, "directory does not exist", "expected directory to exist: %s", path)
		return
	}
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "expected directory but got file: %s", path)
}

// AssertFileContains asserts that a file contains the expected substring.
func AssertFileContains(t testing.TB, path, expected string, msgAndArgs ...interface{}) {
	t.Helper()

	content, err := os.ReadFile(path)
	require.NoError(t, err, "failed to read file: %s", path)

	assert.Contains(t, string(content), expected, msgAndArgs...)
}

// AssertSymlink asserts that path is a symlink pointing at target.
func AssertSymlink(t testing.TB, path, target string) {
	t.Helper()

	got, err := os.Readlink(path)
	require.NoError(t, err, "expected symlink: %s", path)
	assert.Equal(t, target, got, "symlink target of %s", path)
}

// AssertMode asserts the permission and special bits of path, following
// symlinks.
func AssertMode(t testing.TB, path string, want os.FileMode) {
	t.Helper()

	info, err := os.Stat(path)
	require.NoError(t, err)
	got := info.Mode() & (os.ModePerm | os.ModeSticky | os.ModeSetgid | os.ModeSetuid)
	assert.Equal(t, want, got, "mode of %s", path)
}

// AssertYAMLEquals asserts that two YAML strings are semantically equal.
func AssertYAMLEquals(t testing.TB, expected, actual string, msgAndArgs ...interface{}) {
	t.Helper()

	var expectedMap, actualMap interface{}

	err := yaml.Unmarshal([]byte(expected), &expectedMap)
	require.NoError(t, err, "failed to parse expected YAML")

	err = yaml.Unmarshal([]byte(actual), &actualMap)
	require.NoError(t, err, "failed to parse actual YAML")

	assert.Equal(t, expectedMap, actualMap, msgAndArgs...)
}
