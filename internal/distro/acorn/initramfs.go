package acorn

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/acornos/acornbuild/internal/domain/artifact"
	"github.com/acornos/acornbuild/internal/domain/builderr"
	"github.com/acornos/acornbuild/internal/domain/component"
	"github.com/acornos/acornbuild/internal/domain/execution"
	"github.com/acornos/acornbuild/internal/ports"
)

//go:embed templates/init_tiny.template
var defaultInitTemplate string

// InitTemplateName is looked up in the profile directory before falling
// back to the embedded template.
const InitTemplateName = "init_tiny.template"

var initramfsDirs = []string{
	"bin", "dev", "proc", "sys", "tmp", "run", "mnt",
	"lib/modules", "media/cdrom", "live/lower", "live/rw", "newroot",
}

// busyboxCommands are linked to busybox in the initramfs.
var busyboxCommands = []string{
	"sh", "mount", "umount", "mkdir", "cat", "ls", "sleep", "switch_root",
	"echo", "test", "[", "grep", "sed", "ln", "rm", "cp", "mv", "chmod",
	"chown", "mknod", "losetup", "mount.loop", "insmod", "modprobe", "xz",
	"gunzip", "find", "head",
}

var initramfs = component.MustRegistry("initramfs",
	component.Component{
		Name:  "initramfs-dirs",
		Phase: component.PhaseFilesystem,
		Ops: []component.Operation{
			component.Dirs(initramfsDirs...),
			component.WriteFile("dev/.note", "# Device nodes are provided by devtmpfs\n"),
		},
	},
	component.Component{
		Name:  "initramfs-busybox",
		Phase: component.PhaseBinaries,
		Ops:   []component.Operation{component.Custom(InstallStaticBusybox)},
	},
	component.Component{
		Name:  "initramfs-modules",
		Phase: component.PhaseFirmware,
		Ops:   []component.Operation{component.Custom(CopyBootModules)},
	},
	component.Component{
		Name:  "initramfs-init",
		Phase: component.PhaseFinal,
		Ops:   []component.Operation{component.Custom(RenderInitScript)},
	},
)

// Initramfs returns the registry that assembles the live initramfs root.
func Initramfs() *component.Registry {
	return initramfs
}

// installStaticBusybox copies the downloaded static busybox and links its
// commands. Existing entries are kept.
func installStaticBusybox(ctx context.Context, env execution.Env, busybox, sum string) error {
	if busybox == "" || !env.FS.Exists(busybox) {
		return builderr.NewMissingInput(busybox).
			WithSuggestion("Download a statically linked busybox to this path, or set initramfs.busybox.")
	}
	if sum != "" {
		got, err := artifact.FileSHA256(env.FS, busybox)
		if err != nil {
			return err
		}
		if !strings.EqualFold(got, sum) {
			return fmt.Errorf("sha256 mismatch for %s: want %s, got %s", busybox, strings.ToLower(sum), got)
		}
	}

	dst := env.Build.StagingPath("bin/busybox")
	if err := env.FS.CopyFile(busybox, dst); err != nil {
		return fmt.Errorf("copying busybox: %w", err)
	}
	if err := env.FS.Chmod(dst, component.ExecutableMode); err != nil {
		return err
	}
	trackPackage(env, "busybox")

	for _, cmd := range busyboxCommands {
		rel := path.Join("bin", cmd)
		if env.FS.Exists(env.Build.StagingPath(rel)) {
			continue
		}
		if err := env.Apply(ctx, component.Symlink(rel, "busybox")); err != nil {
			return err
		}
	}
	env.Logger.Info(ctx, "busybox ready", ports.F("commands", len(busyboxCommands)))
	return nil
}

// copyBootModules copies each boot module from the first kernel version
// found. A module with no file is assumed to be built into the kernel.
func copyBootModules(ctx context.Context, env execution.Env, modules string, boot []string) error {
	versions := kernelVersions(env.FS, modules)
	if len(versions) == 0 {
		return builderr.NewMissingInput(modules).WithSuggestion(modulesSuggestion)
	}
	version := versions[0]
	src := filepath.Join(modules, version)
	dst := env.Build.StagingPath(path.Join("lib/modules", version))

	copied, builtin := 0, 0
	for _, mod := range boot {
		base := trimModuleExt(mod)
		found := false
		for _, ext := range bootModuleExts {
			from := filepath.Join(src, base+ext)
			if !env.FS.Exists(from) {
				continue
			}
			to := filepath.Join(dst, base+ext)
			if err := env.FS.MkdirAll(filepath.Dir(to), component.DefaultDirMode); err != nil {
				return err
			}
			if err := env.FS.CopyFile(from, to); err != nil {
				return fmt.Errorf("copying module %s: %w", base, err)
			}
			copied++
			found = true
			break
		}
		if !found {
			env.Logger.Debug(ctx, "boot module has no file, assuming built-in", ports.F("module", base))
			builtin++
		}
	}

	if err := env.FS.MkdirAll(dst, component.DefaultDirMode); err != nil {
		return err
	}
	for _, meta := range moduleMetadata {
		from := filepath.Join(src, meta)
		if !env.FS.Exists(from) {
			continue
		}
		if err := env.FS.CopyFile(from, filepath.Join(dst, meta)); err != nil {
			return fmt.Errorf("copying %s: %w", meta, err)
		}
	}

	env.Logger.Info(ctx, "boot modules staged", ports.F("version", version), ports.F("copied", copied), ports.F("builtin", builtin))
	return nil
}

func trimModuleExt(mod string) string {
	for _, ext := range bootModuleExts {
		if strings.HasSuffix(mod, ext) {
			return strings.TrimSuffix(mod, ext)
		}
	}
	return mod
}

// InitData is what the /init template is rendered with.
type InitData struct {
	IsoLabel        string
	RootfsPath      string
	LiveOverlayPath string
	// BootModules are module names without directories or extensions.
	BootModules []string
	BootDevices []string
}

// NewInitData derives the template data from opts.
func NewInitData(opts Options) InitData {
	names := make([]string, len(opts.BootModules))
	for i, m := range opts.BootModules {
		names[i] = path.Base(trimModuleExt(m))
	}
	return InitData{
		IsoLabel:        opts.ISOLabel,
		RootfsPath:      "/" + RootfsISOPath,
		LiveOverlayPath: "/" + LiveOverlayISOPath,
		BootModules:     names,
		BootDevices:     append([]string(nil), opts.BootDevices...),
	}
}

// RenderInit renders the init script from text.
func RenderInit(text string, data InitData) ([]byte, error) {
	tmpl, err := template.New(InitTemplateName).
		Funcs(template.FuncMap{"join": strings.Join}).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing init template: %w", err)
	}
	var b bytes.Buffer
	if err := tmpl.Execute(&b, data); err != nil {
		return nil, fmt.Errorf("rendering init template: %w", err)
	}
	return b.Bytes(), nil
}

func renderInitScript(ctx context.Context, env execution.Env, opts Options) error {
	text := defaultInitTemplate
	source := "embedded"
	if opts.InitTemplate != "" && env.FS.Exists(opts.InitTemplate) {
		data, err := env.FS.ReadFile(opts.InitTemplate)
		if err != nil {
			return fmt.Errorf("reading %s: %w", opts.InitTemplate, err)
		}
		text = string(data)
		source = opts.InitTemplate
	}

	script, err := RenderInit(text, NewInitData(opts))
	if err != nil {
		return err
	}
	env.Logger.Debug(ctx, "init script rendered", ports.F("template", source))
	return env.Apply(ctx, component.WriteFileMode("init", string(script), component.ExecutableMode))
}
