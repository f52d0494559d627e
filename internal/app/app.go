// Package app wires the AcornOS registries and artifact builders into the
// build pipeline behind the acornos CLI.
package app

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/acornos/acornbuild/internal/adapters/artifactstore"
	"github.com/acornos/acornbuild/internal/adapters/command"
	"github.com/acornos/acornbuild/internal/adapters/filesystem"
	"github.com/acornos/acornbuild/internal/adapters/ldd"
	"github.com/acornos/acornbuild/internal/adapters/sidecar"
	"github.com/acornos/acornbuild/internal/distro/acorn"
	"github.com/acornos/acornbuild/internal/domain/artifact"
	"github.com/acornos/acornbuild/internal/domain/config"
	"github.com/acornos/acornbuild/internal/domain/execution"
	"github.com/acornos/acornbuild/internal/domain/fingerprint"
	"github.com/acornos/acornbuild/internal/ports"
)

// Paths under the output directory.
const (
	RootfsStagingDir = "rootfs-staging"
	RootfsImageFile  = "filesystem.erofs"
	InitramfsRootDir = "initramfs-root"
	InitramfsFile    = "initramfs-live.cpio.gz"
	ISORootDir       = "iso-root"
)

// App is the AcornOS build orchestrator.
type App struct {
	cfg      *config.Config
	fs       ports.FileSystem
	runner   ports.CommandRunner
	lister   execution.DependencyLister
	store    artifact.Store
	sidecars fingerprint.Repository
	logger   ports.Logger
	now      func() time.Time
	newID    func() string

	hostRelease string
	freeBytes   func(path string) (uint64, error)
}

// New creates an App over the real file system and child processes. The
// artifact store is opened when the configuration enables it.
func New(cfg *config.Config, logger ports.Logger) (*App, error) {
	runner := command.NewRealRunner()
	a := &App{
		cfg:      cfg,
		fs:       filesystem.NewRealFileSystem(),
		runner:   runner,
		lister:   ldd.New(runner, cfg.Lister),
		sidecars: sidecar.NewYAMLRepository(),
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },

		hostRelease: "/etc/os-release",
		freeBytes:   statfsFree,
	}

	if root := cfg.StoreRoot(); root != "" {
		c, err := artifactstore.ParseCompression(cfg.Store.Compression)
		if err != nil {
			return nil, err
		}
		st, err := artifactstore.New(root, artifactstore.WithCompression(c))
		if err != nil {
			return nil, fmt.Errorf("opening artifact store: %w", err)
		}
		a.store = st
	}
	return a, nil
}

// WithFileSystem replaces the file system.
func (a *App) WithFileSystem(fs ports.FileSystem) *App {
	a.fs = fs
	return a
}

// WithRunner replaces the child process runner.
func (a *App) WithRunner(runner ports.CommandRunner) *App {
	a.runner = runner
	return a
}

// WithLister replaces the shared-library lister. nil disables library copying.
func (a *App) WithLister(lister execution.DependencyLister) *App {
	a.lister = lister
	return a
}

// WithStore replaces the artifact store. nil disables it.
func (a *App) WithStore(store artifact.Store) *App {
	a.store = store
	return a
}

// WithSidecars replaces the fingerprint record repository.
func (a *App) WithSidecars(repo fingerprint.Repository) *App {
	a.sidecars = repo
	return a
}

// WithClock replaces the time source used for build records.
func (a *App) WithClock(now func() time.Time) *App {
	a.now = now
	return a
}

// WithBuildIDs replaces the build id generator.
func (a *App) WithBuildIDs(newID func() string) *App {
	a.newID = newID
	return a
}

// WithHost replaces the host os-release path and free space probe the
// doctor checks read.
func (a *App) WithHost(osRelease string, freeBytes func(path string) (uint64, error)) *App {
	a.hostRelease = osRelease
	a.freeBytes = freeBytes
	return a
}

// Config returns the configuration the App was created with.
func (a *App) Config() *config.Config {
	return a.cfg
}

func (a *App) output(rel string) string {
	return filepath.Join(a.cfg.OutputDir(), rel)
}

// ISOPath returns the final ISO image path.
func (a *App) ISOPath() string {
	return a.output(a.cfg.ISO.Filename)
}

// Options converts the configuration into the settings the AcornOS handlers read.
func (a *App) Options() acorn.Options {
	cfg := a.cfg
	template := cfg.Initramfs.Template
	if template == "" {
		template = filepath.Join(cfg.Profile, acorn.InitTemplateName)
	}
	return acorn.Options{
		BaseDir:        cfg.BaseDir,
		ProfileDir:     cfg.ProfileDir(),
		DownloadsDir:   cfg.DownloadsDir(),
		KernelImage:    cfg.Path(cfg.Kernel.Image),
		KernelModules:  cfg.Path(cfg.Kernel.Modules),
		RootfsImage:    a.output(RootfsImageFile),
		Initramfs:      a.output(InitramfsFile),
		Busybox:        cfg.Path(cfg.Initramfs.Busybox),
		BusyboxSHA256:  cfg.Initramfs.BusyboxSHA256,
		InitTemplate:   cfg.Path(template),
		BootModules:    append([]string(nil), cfg.Initramfs.BootModules...),
		BootDevices:    append([]string(nil), cfg.Initramfs.BootDevices...),
		ISOLabel:       cfg.ISO.Label,
		AuthorizedKeys: append([]string(nil), cfg.SSH.AuthorizedKeys...),
	}
}

// buildContext returns the context a registry pass writes into staging.
func (a *App) buildContext(staging string) execution.BuildContext {
	return execution.BuildContext{
		Source:  a.cfg.SourceDir(),
		Staging: staging,
		BaseDir: a.cfg.BaseDir,
		Output:  a.cfg.OutputDir(),
	}
}

func (a *App) executor() *execution.Executor {
	return execution.NewExecutor(a.fs, a.logger).
		WithRunner(a.runner).
		WithDispatcher(acorn.NewDispatcher(a.Options()))
}

func (a *App) builder() *artifact.Builder {
	return artifact.NewBuilder(a.fs, a.logger)
}
