package acorn

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/acornos/acornbuild/internal/domain/builderr"
	"github.com/acornos/acornbuild/internal/domain/component"
	"github.com/acornos/acornbuild/internal/domain/execution"
	"github.com/acornos/acornbuild/internal/ports"
)

var isoRoot = component.MustRegistry("iso-root",
	component.Component{
		Name:  "iso-dirs",
		Phase: component.PhaseFilesystem,
		Ops:   []component.Operation{component.Dirs("boot", "boot/grub", EFIDir, "live")},
	},
	component.Component{
		Name:  "iso-artifacts",
		Phase: component.PhaseBinaries,
		Ops:   []component.Operation{component.Custom(CopyIsoArtifacts)},
	},
	component.Component{
		Name:  "iso-live-overlay",
		Phase: component.PhaseConfig,
		Ops:   []component.Operation{component.Custom(CreateLiveOverlayTree)},
	},
	component.Component{
		Name:  "iso-boot",
		Phase: component.PhaseFinal,
		Ops: []component.Operation{
			component.Custom(WriteGrubConfig),
			component.Custom(InstallEfiBootloader),
		},
	},
)

// ISORoot returns the registry that assembles the ISO root directory.
func ISORoot() *component.Registry {
	return isoRoot
}

// ISOInput is an artifact the ISO is assembled from.
type ISOInput struct {
	Name string
	Path string
	// Dest is the path inside the ISO root.
	Dest string
	// Build is the acornos build target that produces it.
	Build string
}

// ISOInputs lists the rootfs image, initramfs and kernel in copy order.
func ISOInputs(opts Options) []ISOInput {
	return []ISOInput{
		{Name: "EROFS rootfs", Path: opts.RootfsImage, Dest: RootfsISOPath, Build: "rootfs"},
		{Name: "live initramfs", Path: opts.Initramfs, Dest: InitramfsISOPath, Build: "initramfs"},
		{Name: "kernel", Path: opts.KernelImage, Dest: KernelISOPath, Build: "kernel"},
	}
}

// MissingISOInput reports an absent ISO input with the command that builds it.
func MissingISOInput(in ISOInput) *builderr.BuildError {
	suggestion := fmt.Sprintf("Run `acornos build %s` first.", in.Build)
	if in.Build == "kernel" {
		suggestion = "Build the kernel and point kernel.image at its bzImage."
	}
	err := builderr.NewMissingInput(in.Path).WithSuggestion(suggestion)
	err.Message = in.Name + " not found"
	return err
}

func copyISOArtifacts(ctx context.Context, env execution.Env, opts Options) error {
	for _, in := range ISOInputs(opts) {
		if in.Path == "" || !env.FS.Exists(in.Path) {
			return MissingISOInput(in)
		}
		dst := env.Build.StagingPath(in.Dest)
		if err := env.FS.MkdirAll(filepath.Dir(dst), component.DefaultDirMode); err != nil {
			return err
		}
		if err := env.FS.CopyFile(in.Path, dst); err != nil {
			return fmt.Errorf("copying %s: %w", in.Name, err)
		}
		env.Logger.Debug(ctx, "iso input copied", ports.F("input", in.Name), ports.F("dest", in.Dest))
	}
	return nil
}

const serialAutologin = `#!/bin/sh
# Autologin for the serial console, run by getty -l as the login program.
echo "[autologin] Starting login shell..."
exec /bin/sh -l
`

const overlayIssue = "\nAcornOS Live - \\l\n\nLogin as 'root' (no password)\n\n"

const overlayShadow = "root::0:0:99999:7:::\nbin:!:0:0:99999:7:::\ndaemon:!:0:0:99999:7:::\nnobody:!:0:0:99999:7:::\n"

const overlayInittab = `# /etc/inittab - AcornOS Live

::sysinit:/sbin/openrc sysinit
::sysinit:/sbin/openrc boot
::wait:/sbin/openrc default

tty1::respawn:/sbin/getty 38400 tty1
tty2::respawn:/sbin/getty 38400 tty2
tty3::respawn:/sbin/getty 38400 tty3
tty4::respawn:/sbin/getty 38400 tty4
tty5::respawn:/sbin/getty 38400 tty5
tty6::respawn:/sbin/getty 38400 tty6

ttyS0::respawn:/sbin/getty -n -l /usr/local/bin/serial-autologin 115200 ttyS0 vt100

::ctrlaltdel:/sbin/reboot
::shutdown:/sbin/openrc shutdown
`

const overlayFstab = `# AcornOS Live fstab
# Volatile log storage keeps logs from filling the overlay tmpfs
tmpfs   /var/log    tmpfs   nosuid,nodev,noexec,size=64M,mode=0755   0 0
`

const volatileLogScript = `#!/bin/sh
# Mount /var/log on tmpfs for the live session, keeping early logs.
if ! mountpoint -q /var/log 2>/dev/null; then
	if [ -d /var/log ]; then
		mkdir -p /tmp/log-backup
		cp -a /var/log/* /tmp/log-backup/ 2>/dev/null || true
	fi
	mount -t tmpfs -o nosuid,nodev,noexec,size=64M,mode=0755 tmpfs /var/log
	if [ -d /tmp/log-backup ]; then
		cp -a /tmp/log-backup/* /var/log/ 2>/dev/null || true
		rm -rf /tmp/log-backup
	fi
	mkdir -p /var/log/chrony 2>/dev/null || true
fi
`

const efivarsScript = `#!/bin/sh
# Mount efivarfs so efibootmgr works during installation.
if [ -d /sys/firmware/efi ]; then
	mkdir -p /sys/firmware/efi/efivars 2>/dev/null
	mount -t efivarfs efivarfs /sys/firmware/efi/efivars 2>/dev/null || true
fi
`

const acpiHandler = `#!/bin/sh
# AcornOS Live: power button and lid events never suspend.
case "$1" in
	button/power)
		logger "AcornOS Live: Power button pressed (suspend disabled)"
		;;
	button/lid)
		logger "AcornOS Live: Lid event ignored (suspend disabled)"
		;;
esac
`

const noSuspendSysctl = `# AcornOS Live: keep the magic SysRq key available while installing
kernel.sysrq = 1
`

const logindNoSuspend = `# AcornOS Live: Disable suspend triggers
[Login]
HandlePowerKey=ignore
HandleSuspendKey=ignore
HandleHibernateKey=ignore
HandleLidSwitch=ignore
HandleLidSwitchExternalPower=ignore
HandleLidSwitchDocked=ignore
IdleAction=ignore
`

// overlayOps are the generated live overlay files, relative to the overlay root.
var overlayOps = []component.Operation{
	component.Dirs("etc", "etc/conf.d", "etc/runlevels/default", "usr/local/bin"),
	component.WriteFileMode("usr/local/bin/serial-autologin", serialAutologin, component.ExecutableMode),
	component.WriteFile("etc/issue", overlayIssue),
	component.WriteFileMode("etc/shadow", overlayShadow, 0o640),
	component.WriteFile("etc/inittab", overlayInittab),
	component.WriteFile("etc/fstab", overlayFstab),
	component.WriteFileMode("etc/local.d/00-volatile-log.start", volatileLogScript, component.ExecutableMode),
	component.WriteFileMode("etc/local.d/01-efivarfs.start", efivarsScript, component.ExecutableMode),
	component.WriteFileMode("etc/acpi/handler.sh", acpiHandler, component.ExecutableMode),
	component.WriteFile("etc/sysctl.d/50-live-no-suspend.conf", noSuspendSysctl),
	component.WriteFile("etc/elogind/logind.conf.d/00-live-no-suspend.conf", logindNoSuspend),
}

// createLiveOverlayTree writes the overlay the live init copies over the
// read-only rootfs. The profile's live-overlay goes in first so generated
// files win.
func createLiveOverlayTree(ctx context.Context, env execution.Env, profileDir string) error {
	root := env.Build.StagingPath(LiveOverlayISOPath)

	copied, err := env.CopyTree(ctx, filepath.Join(profileDir, "live-overlay"), root)
	if err != nil {
		return err
	}
	if copied {
		env.Logger.Info(ctx, "profile live overlay copied", ports.F("from", filepath.Join(profileDir, "live-overlay")))
	}

	overlay := env.WithStaging(root)
	return applyAll(ctx, overlay, overlayOps...)
}

const grubModules = "modules=loop,erofs,overlay,virtio_pci,virtio_blk,virtio_scsi,sd-mod,sr-mod,cdrom,isofs"

// GrubConfig renders the boot menu for label.
func GrubConfig(label string) string {
	entry := func(title, extra string) string {
		args := []string{grubModules, "root=LABEL=" + label, VGAConsole, SerialConsole}
		if extra != "" {
			args = append(args, extra)
		}
		return fmt.Sprintf("menuentry '%s' {\n    linux /%s %s\n    initrd /%s\n}\n",
			title, KernelISOPath, strings.Join(args, " "), InitramfsISOPath)
	}

	var b strings.Builder
	b.WriteString("serial --speed=115200 --unit=0 --word=8 --parity=no --stop=1\n")
	b.WriteString("terminal_input serial console\n")
	b.WriteString("terminal_output serial console\n\n")
	b.WriteString("set default=0\nset timeout=5\n\n")
	b.WriteString(entry(OSName, ""))
	b.WriteString("\n")
	b.WriteString(entry(OSName+" (Emergency Shell)", "emergency"))
	b.WriteString("\n")
	b.WriteString(entry(OSName+" (Debug)", "debug"))
	return b.String()
}

func writeGrubConfig(ctx context.Context, env execution.Env, label string) error {
	if label == "" {
		return fmt.Errorf("iso label is empty")
	}
	cfg := GrubConfig(label)
	return applyAll(ctx, env,
		component.WriteFile("boot/grub/grub.cfg", cfg),
		component.WriteFile(path.Join(EFIDir, "grub.cfg"), cfg),
	)
}

// grubStandalone are tried in order when no prebuilt EFI loader is downloaded.
var grubStandalone = []string{"grub2-mkstandalone", "grub-mkstandalone"}

// installEFIBootloader copies the EFI loader from the downloaded ISO
// contents, or builds a standalone GRUB that chains to EFI/BOOT/grub.cfg.
func installEFIBootloader(ctx context.Context, env execution.Env, downloads string) error {
	dst := env.Build.StagingPath(path.Join(EFIDir, EFIBootloader))
	prebuilt := filepath.Join(downloads, "iso-contents/efi/boot/bootx64.efi")

	if env.FS.Exists(prebuilt) {
		env.Logger.Info(ctx, "copying prebuilt EFI bootloader", ports.F("from", prebuilt))
		if err := env.FS.CopyFile(prebuilt, dst); err != nil {
			return fmt.Errorf("copying EFI bootloader: %w", err)
		}
		return nil
	}

	if env.Runner == nil {
		return fmt.Errorf("building an EFI bootloader needs a command runner")
	}
	tool := ""
	for _, name := range grubStandalone {
		if _, err := env.Runner.LookPath(name); err == nil {
			tool = name
			break
		}
	}
	if tool == "" {
		return builderr.NewMissingInput(prebuilt).
			WithSuggestion("Extract the Alpine ISO to downloads/iso-contents, or install grub2-tools-extra for grub-mkstandalone.")
	}

	embedded := env.Build.StagingPath("boot/grub/embed.cfg")
	if err := env.Apply(ctx, component.WriteFile("boot/grub/embed.cfg", "configfile /EFI/BOOT/grub.cfg\n")); err != nil {
		return err
	}
	defer func() { _ = env.FS.Remove(embedded) }()

	env.Logger.Info(ctx, "building standalone GRUB EFI image", ports.F("tool", tool))
	return env.Runner.Stream(ctx, ports.ProcessSpec{
		Command: tool,
		Args: []string{
			"--format=x86_64-efi",
			"--output", dst,
			"--locales=",
			"--fonts=",
			"boot/grub/grub.cfg=" + embedded,
		},
		Hint: "grub2-tools-extra",
	})
}
