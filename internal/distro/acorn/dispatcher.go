package acorn

import (
	"context"
	"fmt"

	"github.com/acornos/acornbuild/internal/domain/component"
	"github.com/acornos/acornbuild/internal/domain/execution"
)

// Options carries the project settings the custom handlers read. Paths
// are absolute.
type Options struct {
	BaseDir      string
	ProfileDir   string
	DownloadsDir string

	KernelImage   string
	KernelModules string

	// Artifacts the ISO root is assembled from.
	RootfsImage string
	Initramfs   string

	Busybox       string
	BusyboxSHA256 string
	// InitTemplate overrides the embedded /init template when the file exists.
	InitTemplate string
	BootModules  []string
	BootDevices  []string

	ISOLabel       string
	AuthorizedKeys []string
}

// Dispatcher implements execution.Dispatcher for the AcornOS tag set.
type Dispatcher struct {
	opts Options
}

// NewDispatcher creates a Dispatcher bound to opts.
func NewDispatcher(opts Options) *Dispatcher {
	return &Dispatcher{opts: opts}
}

// Options returns the settings the Dispatcher was created with.
func (d *Dispatcher) Options() Options {
	return d.opts
}

// Dispatch runs the handler for tag.
func (d *Dispatcher) Dispatch(ctx context.Context, tag component.CustomTag, env execution.Env) error {
	switch tag {
	case CreateFhsSymlinks:
		return createFhsSymlinks(ctx, env)
	case CreateBusyboxApplets:
		return createBusyboxApplets(ctx, env)
	case SetupDeviceManager:
		return setupDeviceManager(ctx, env)
	case SetupSsh:
		return setupSSH(ctx, env, d.opts.AuthorizedKeys)
	case CreateEtcFiles:
		return createEtcFiles(ctx, env)
	case CopyTimezoneData:
		return copyTimezoneData(ctx, env)
	case CopyKernelModules:
		return copyKernelModules(ctx, env, d.opts.KernelModules)
	case RunDepmod:
		return runDepmod(ctx, env)
	case CopyWifiFirmware:
		return copyWifiFirmware(ctx, env)
	case CopyAllFirmware:
		return copyAllFirmware(ctx, env)
	case CreateWelcomeMessage:
		return createWelcomeMessage(ctx, env, d.opts.ProfileDir)
	case CreateLiveOverlay:
		return createLiveOverlay(ctx, env)
	case CopyRecstrap:
		return copyRecstrap(ctx, env, d.opts.BaseDir)

	case InstallStaticBusybox:
		return installStaticBusybox(ctx, env, d.opts.Busybox, d.opts.BusyboxSHA256)
	case CopyBootModules:
		return copyBootModules(ctx, env, d.opts.KernelModules, d.opts.BootModules)
	case RenderInitScript:
		return renderInitScript(ctx, env, d.opts)

	case CreateLiveOverlayTree:
		return createLiveOverlayTree(ctx, env, d.opts.ProfileDir)
	case CopyIsoArtifacts:
		return copyISOArtifacts(ctx, env, d.opts)
	case WriteGrubConfig:
		return writeGrubConfig(ctx, env, d.opts.ISOLabel)
	case InstallEfiBootloader:
		return installEFIBootloader(ctx, env, d.opts.DownloadsDir)
	default:
		return fmt.Errorf("unknown custom operation %q", tag)
	}
}

var _ execution.Dispatcher = (*Dispatcher)(nil)
