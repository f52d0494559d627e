package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acornos/acornbuild/internal/adapters/logging"
	"github.com/acornos/acornbuild/internal/domain/config"
	"github.com/acornos/acornbuild/internal/ports"
	"github.com/acornos/acornbuild/internal/testutil"
	"github.com/acornos/acornbuild/internal/testutil/mocks"
)

const kernelVersion = "6.6.1-acorn"

type testEnv struct {
	app    *App
	cfg    *config.Config
	runner *mocks.CommandRunner
	base   string
}

// newTestEnv lays out a project with an extracted Alpine tree, a built
// kernel, a static busybox and a prebuilt EFI loader, and fakes every
// external tool the pipeline streams.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	base := t.TempDir()

	cfg := config.Default(base)
	cfg.Store.Enabled = false

	testutil.AlpineRootfs().Write(t, filepath.Join(base, "downloads/rootfs"))
	testutil.KernelModules(kernelVersion,
		"kernel/fs/erofs/erofs.ko",
		"kernel/drivers/block/loop.ko",
	).Write(t, filepath.Join(base, "output/staging/lib/modules"))
	testutil.WriteTempFile(t, base, "output/staging/boot/vmlinuz", "bzImage")
	testutil.WriteTempFile(t, base, "downloads/busybox-static", "\x7fELF static busybox")
	testutil.WriteTempFile(t, base, "downloads/iso-contents/efi/boot/bootx64.efi", "MZ efi")

	runner := mocks.NewCommandRunner()
	runner.OnStream("mkfs.erofs", func(spec ports.ProcessSpec) error {
		return writeRandom(spec.Args[len(spec.Args)-2], minRootfsImage+1)
	})
	runner.OnStream("cpio", func(spec ports.ProcessSpec) error {
		if _, err := io.Copy(spec.Stdout, spec.Stdin); err != nil {
			return err
		}
		_, err := io.CopyN(spec.Stdout, rand.Reader, 4096)
		return err
	})
	runner.OnStream("mkfs.fat", func(spec ports.ProcessSpec) error {
		return os.WriteFile(spec.Args[1], []byte("FAT"), 0o644)
	})
	runner.OnStream("xorriso", func(spec ports.ProcessSpec) error {
		return writeRandom(spec.Args[3], minISO+1)
	})

	a, err := New(cfg, logging.NewNopLogger())
	require.NoError(t, err)
	a.WithRunner(runner).
		WithLister(nil).
		WithBuildIDs(sequentialIDs()).
		WithHost(filepath.Join(base, "host-os-release"), func(string) (uint64, error) { return 100 << 30, nil })

	return &testEnv{app: a, cfg: cfg, runner: runner, base: base}
}

func writeRandom(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.CopyN(f, rand.Reader, size); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("build-%d", n)
	}
}

func TestNew_OpensStore(t *testing.T) {
	t.Parallel()

	cfg := config.Default(t.TempDir())
	cfg.Store.Root = filepath.Join(t.TempDir(), "store")

	a, err := New(cfg, logging.NewNopLogger())
	require.NoError(t, err)
	assert.NotNil(t, a.store)
	assert.DirExists(t, cfg.Store.Root)
}

func TestNew_StoreDisabled(t *testing.T) {
	t.Parallel()

	cfg := config.Default(t.TempDir())
	cfg.Store.Enabled = false

	a, err := New(cfg, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Nil(t, a.store)
}

func TestNew_BadStoreCompression(t *testing.T) {
	t.Parallel()

	cfg := config.Default(t.TempDir())
	cfg.Store.Root = t.TempDir()
	cfg.Store.Compression = "brotli"

	_, err := New(cfg, logging.NewNopLogger())
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	cfg := config.Default(base)
	cfg.Store.Enabled = false
	cfg.SSH.AuthorizedKeys = []string{"ssh-ed25519 AAAA test"}

	a, err := New(cfg, logging.NewNopLogger())
	require.NoError(t, err)
	opts := a.Options()

	assert.Equal(t, filepath.Join(base, "profile", "init_tiny.template"), opts.InitTemplate)
	assert.Equal(t, filepath.Join(base, "output", RootfsImageFile), opts.RootfsImage)
	assert.Equal(t, filepath.Join(base, "output", InitramfsFile), opts.Initramfs)
	assert.Equal(t, filepath.Join(base, "output/staging/boot/vmlinuz"), opts.KernelImage)
	assert.Equal(t, "ACORNOS", opts.ISOLabel)
	assert.Equal(t, cfg.SSH.AuthorizedKeys, opts.AuthorizedKeys)
	assert.Equal(t, filepath.Join(base, "output", "acornos.iso"), a.ISOPath())

	opts.AuthorizedKeys[0] = "changed"
	assert.Equal(t, "ssh-ed25519 AAAA test", cfg.SSH.AuthorizedKeys[0])
}

func TestOptions_TemplateOverride(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	cfg := config.Default(base)
	cfg.Store.Enabled = false
	cfg.Initramfs.Template = "custom/init.tmpl"

	a, err := New(cfg, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "custom/init.tmpl"), a.Options().InitTemplate)
}

func TestWithClock(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env.app.WithClock(func() time.Time { return fixed })

	report := env.app.Doctor(context.Background())
	assert.Equal(t, fixed, report.CheckedAt)
	assert.Zero(t, report.Duration)
}
