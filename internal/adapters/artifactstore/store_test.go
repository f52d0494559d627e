package artifactstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acornos/acornbuild/internal/domain/artifact"
)

var testKey = strings.Repeat("c0ffee", 10) + "abcd"

func TestStore_FileRoundTrip(t *testing.T) {
	t.Parallel()

	for _, c := range []Compression{CompressionZstd, CompressionLZ4, CompressionNone} {
		t.Run(c.String(), func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			dir := t.TempDir()

			store, err := New(filepath.Join(dir, "store"), WithCompression(c))
			require.NoError(t, err)

			src := filepath.Join(dir, "filesystem.erofs")
			content := bytes.Repeat([]byte("erofs-block "), 4096)
			require.NoError(t, os.WriteFile(src, content, 0o644))

			require.NoError(t, store.Save(ctx, "rootfs", testKey, src, artifact.Metadata{BuildID: "b-1", Host: "builder"}))

			dest := filepath.Join(dir, "restored")
			meta, err := store.Restore(ctx, "rootfs", testKey, dest)
			require.NoError(t, err)

			got, err := os.ReadFile(dest)
			require.NoError(t, err)
			assert.Equal(t, content, got)
			assert.Equal(t, int64(len(content)), meta.Size)
			assert.Equal(t, "b-1", meta.BuildID)
			assert.Equal(t, "rootfs", meta.Kind)
			assert.False(t, meta.Dir)
		})
	}
}

func TestStore_ShardedLayout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "initramfs")
	require.NoError(t, os.WriteFile(src, []byte("cpio"), 0o644))
	require.NoError(t, store.Save(context.Background(), "initramfs", testKey, src, artifact.Metadata{}))

	assert.FileExists(t, filepath.Join(dir, "initramfs", testKey[:2], testKey+".blob"))
	assert.FileExists(t, filepath.Join(dir, "initramfs", testKey[:2], testKey+".meta"))
}

func TestStore_DirectoryRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	src := filepath.Join(dir, "rootfs-staging")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "usr/bin"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "tmp"), 0o755))
	require.NoError(t, os.Chmod(filepath.Join(src, "tmp"), 0o777|os.ModeSticky))
	require.NoError(t, os.WriteFile(filepath.Join(src, "usr/bin/busybox"), []byte("bb"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "etc-shadow"), []byte("root:!::0:::::\n"), 0o640))
	require.NoError(t, os.Symlink("usr/bin", filepath.Join(src, "bin")))

	store, err := New(filepath.Join(dir, "store"))
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "rootfs-staging", testKey, src, artifact.Metadata{}))

	dest := filepath.Join(dir, "restored")
	meta, err := store.Restore(ctx, "rootfs-staging", testKey, dest)
	require.NoError(t, err)
	assert.True(t, meta.Dir)

	target, err := os.Readlink(filepath.Join(dest, "bin"))
	require.NoError(t, err)
	assert.Equal(t, "usr/bin", target)

	info, err := os.Stat(filepath.Join(dest, "usr/bin/busybox"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(dest, "etc-shadow"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(dest, "tmp"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSticky)
}

func TestStore_Miss(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.Restore(context.Background(), "iso", testKey, filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, artifact.ErrCacheMiss)
}

func TestStore_RejectsBadKeys(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)
	src := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	assert.Error(t, store.Save(context.Background(), "rootfs", "../../etc", src, artifact.Metadata{}))
	assert.Error(t, store.Save(context.Background(), "Root/FS", testKey, src, artifact.Metadata{}))
}

func TestStore_CorruptBlob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	store, err := New(filepath.Join(dir, "store"), WithCompression(CompressionNone))
	require.NoError(t, err)
	src := filepath.Join(dir, "iso")
	require.NoError(t, os.WriteFile(src, []byte("original iso bytes"), 0o644))
	require.NoError(t, store.Save(ctx, "iso", testKey, src, artifact.Metadata{}))

	blob := filepath.Join(dir, "store", "iso", testKey[:2], testKey+".blob")
	require.NoError(t, os.WriteFile(blob, []byte("tampered iso bytes"), 0o644))

	_, err = store.Restore(ctx, "iso", testKey, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_SaveKeepsExistingEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	calls := 0
	clock := func() time.Time {
		calls++
		return time.Date(2026, 1, calls, 0, 0, 0, 0, time.UTC)
	}
	store, err := New(filepath.Join(dir, "store"), WithClock(clock))
	require.NoError(t, err)

	src := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	require.NoError(t, store.Save(ctx, "rootfs", testKey, src, artifact.Metadata{}))
	require.NoError(t, store.Save(ctx, "rootfs", testKey, src, artifact.Metadata{}))

	meta, err := store.Lookup("rootfs", testKey)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.CreatedAt.Day())
}

func TestStore_Remove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := New(t.TempDir())
	require.NoError(t, err)
	src := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	require.NoError(t, store.Save(ctx, "rootfs", testKey, src, artifact.Metadata{}))

	require.NoError(t, store.Remove("rootfs", testKey))
	_, err = store.Lookup("rootfs", testKey)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseCompression(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]Compression{"zstd": CompressionZstd, "": CompressionZstd, "lz4": CompressionLZ4, "none": CompressionNone} {
		got, err := ParseCompression(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("brotli")
	assert.Error(t, err)
}
