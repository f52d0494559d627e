package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertFileExists(t *testing.T) {
	t.Parallel()

	path := WriteTempFile(t, t.TempDir(), "etc/hostname", "acornos\n")

	mockT := &testing.T{}
	AssertFileExists(mockT, path)
	assert.False(t, mockT.Failed())
}

func TestAssertFileNotExists(t *testing.T) {
	t.Parallel()

	mockT := &testing.T{}
	AssertFileNotExists(mockT, filepath.Join(t.TempDir(), "absent"))
	assert.False(t, mockT.Failed())
}

func TestAssertFileContains(t *testing.T) {
	t.Parallel()

	path := WriteTempFile(t, t.TempDir(), "os-release", "NAME=\"AcornOS\"\nID=acornos\n")

	mockT := &testing.T{}
	AssertFileContains(mockT, path, "ID=acornos")
	assert.False(t, mockT.Failed())
}

func TestAssertDirExists(t *testing.T) {
	t.Parallel()

	dir := WriteTempDir(t, t.TempDir(), "etc/init.d")

	mockT := &testing.T{}
	AssertDirExists(mockT, dir)
	assert.False(t, mockT.Failed())
}

func TestAssertSymlink(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	link := filepath.Join(dir, "bin")
	require.NoError(t, os.Symlink("usr/bin", link))

	mockT := &testing.T{}
	AssertSymlink(mockT, link, "usr/bin")
	assert.False(t, mockT.Failed())
}

func TestAssertMode(t *testing.T) {
	t.Parallel()

	dir := WriteTempDir(t, t.TempDir(), "tmp")
	require.NoError(t, os.Chmod(dir, 0o777|os.ModeSticky))

	mockT := &testing.T{}
	AssertMode(mockT, dir, 0o777|os.ModeSticky)
	assert.False(t, mockT.Failed())
}

func TestAssertYAMLEquals(t *testing.T) {
	t.Parallel()

	mockT := &testing.T{}
	AssertYAMLEquals(mockT, "kind: rootfs\ndigest: abc", "digest: abc\nkind: rootfs")
	assert.False(t, mockT.Failed())
}
