package acorn

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/acornos/acornbuild/internal/domain/builderr"
	"github.com/acornos/acornbuild/internal/ports"
	"github.com/acornos/acornbuild/internal/testutil"
)

// withISOInputs writes the three artifacts the ISO root is assembled from.
func (f *fixture) withISOInputs(t *testing.T) {
	t.Helper()
	for p, content := range map[string]string{
		f.opts.RootfsImage: "erofs image",
		f.opts.Initramfs:   "initramfs",
		f.opts.KernelImage: "bzImage",
	} {
		testutil.WriteTempFile(t, filepath.Dir(p), filepath.Base(p), content)
	}
}

func (f *fixture) withPrebuiltEFI(t *testing.T) {
	t.Helper()
	testutil.WriteTempFile(t, f.opts.DownloadsDir, "iso-contents/efi/boot/bootx64.efi", "MZ efi")
}

func TestISORoot_Assembles(t *testing.T) {
	f := newFixture(t)
	f.withISOInputs(t)
	f.withPrebuiltEFI(t)
	bc := f.build("iso-root.work")

	if err := f.run(t, ISORoot(), bc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	root := bc.Staging

	if err := ISORootCheck()(realFS(), root); err != nil {
		t.Fatalf("ISORootCheck() error = %v", err)
	}

	kernel, _ := os.ReadFile(filepath.Join(root, KernelISOPath))
	if string(kernel) != "bzImage" {
		t.Errorf("%s = %q, want the kernel image", KernelISOPath, kernel)
	}

	overlay := filepath.Join(root, LiveOverlayISOPath)
	if got := mode(t, filepath.Join(overlay, "etc/shadow")); got != 0o640 {
		t.Errorf("mode of overlay etc/shadow = %v, want 0640", got)
	}
	if got := mode(t, filepath.Join(overlay, "usr/local/bin/serial-autologin")); got != 0o755 {
		t.Errorf("mode of serial-autologin = %v, want 0755", got)
	}
	testutil.AssertFileContains(t, filepath.Join(overlay, "etc/shadow"), "root::")
	testutil.AssertFileContains(t, filepath.Join(overlay, "etc/inittab"), "serial-autologin")
	testutil.AssertFileExists(t, filepath.Join(overlay, "etc/local.d/01-efivarfs.start"))

	boot, _ := os.ReadFile(filepath.Join(root, "boot/grub/grub.cfg"))
	efi, _ := os.ReadFile(filepath.Join(root, EFIDir, "grub.cfg"))
	if string(boot) != string(efi) {
		t.Error("boot/grub/grub.cfg and EFI/BOOT/grub.cfg differ")
	}

	if f.runner.Invoked("grub2-mkstandalone") || f.runner.Invoked("grub-mkstandalone") {
		t.Error("grub-mkstandalone ran although a prebuilt loader exists")
	}
}

func TestCreateLiveOverlayTree_GeneratedFilesWin(t *testing.T) {
	f := newFixture(t)
	f.withISOInputs(t)
	f.withPrebuiltEFI(t)
	testutil.WriteTempFile(t, f.opts.ProfileDir, "live-overlay/etc/motd", "profile motd\n")
	testutil.WriteTempFile(t, f.opts.ProfileDir, "live-overlay/etc/issue", "profile issue\n")

	bc := f.build("iso-root.work")
	if err := f.run(t, ISORoot(), bc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	overlay := filepath.Join(bc.Staging, LiveOverlayISOPath)

	motd, _ := os.ReadFile(filepath.Join(overlay, "etc/motd"))
	if string(motd) != "profile motd\n" {
		t.Errorf("overlay etc/motd = %q, want the profile file", motd)
	}
	issue, _ := os.ReadFile(filepath.Join(overlay, "etc/issue"))
	if string(issue) != overlayIssue {
		t.Errorf("overlay etc/issue = %q, want the generated banner", issue)
	}
}

func TestCopyISOArtifacts_MissingInput(t *testing.T) {
	tests := []struct {
		name       string
		remove     func(Options) string
		suggestion string
	}{
		{"rootfs", func(o Options) string { return o.RootfsImage }, "acornos build rootfs"},
		{"initramfs", func(o Options) string { return o.Initramfs }, "acornos build initramfs"},
		{"kernel", func(o Options) string { return o.KernelImage }, "kernel.image"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.withISOInputs(t)
			f.withPrebuiltEFI(t)
			missing := tt.remove(f.opts)
			if err := os.Remove(missing); err != nil {
				t.Fatal(err)
			}

			err := f.run(t, ISORoot(), f.build("iso-root.work"))
			if !builderr.HasCode(err, builderr.CodeMissingRequiredInput) {
				t.Fatalf("Run() error = %v, want %s", err, builderr.CodeMissingRequiredInput)
			}
			if !strings.Contains(err.Error(), missing) {
				t.Errorf("error %q does not name %s", err, missing)
			}
		})
	}
}

func TestMissingISOInput(t *testing.T) {
	for _, in := range ISOInputs(Options{RootfsImage: "/o/r", Initramfs: "/o/i", KernelImage: "/o/k"}) {
		err := MissingISOInput(in)
		if err.Code != builderr.CodeMissingRequiredInput {
			t.Errorf("%s: Code = %s, want %s", in.Name, err.Code, builderr.CodeMissingRequiredInput)
		}
		if err.Path != in.Path {
			t.Errorf("%s: Path = %q, want %q", in.Name, err.Path, in.Path)
		}
		if !strings.HasSuffix(err.Message, "not found") {
			t.Errorf("%s: Message = %q", in.Name, err.Message)
		}
		if err.Suggestion == "" {
			t.Errorf("%s: no suggestion", in.Name)
		}
	}
}

func TestInstallEFIBootloader_Mkstandalone(t *testing.T) {
	f := newFixture(t)
	f.withISOInputs(t)
	f.runner.AddTool("grub-mkstandalone", "/usr/bin/grub-mkstandalone")

	var args []string
	f.runner.OnStream("grub-mkstandalone", func(spec ports.ProcessSpec) error {
		args = spec.Args
		out := spec.Args[2]
		return os.WriteFile(out, []byte("MZ standalone"), 0o644)
	})

	bc := f.build("iso-root.work")
	if err := f.run(t, ISORoot(), bc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(args) == 0 || args[0] != "--format=x86_64-efi" {
		t.Fatalf("grub-mkstandalone args = %v", args)
	}
	embed := filepath.Join(bc.Staging, "boot/grub/embed.cfg")
	if want := "boot/grub/grub.cfg=" + embed; args[len(args)-1] != want {
		t.Errorf("last arg = %q, want %q", args[len(args)-1], want)
	}
	testutil.AssertFileNotExists(t, embed)
	testutil.AssertFileContains(t, filepath.Join(bc.Staging, EFIDir, EFIBootloader), "MZ standalone")
}

func TestInstallEFIBootloader_NoTool(t *testing.T) {
	f := newFixture(t)
	f.withISOInputs(t)

	err := f.run(t, ISORoot(), f.build("iso-root.work"))
	if !builderr.HasCode(err, builderr.CodeMissingRequiredInput) {
		t.Fatalf("Run() error = %v, want %s", err, builderr.CodeMissingRequiredInput)
	}
}

func TestInstallEFIBootloader_PrefersGrub2(t *testing.T) {
	f := newFixture(t)
	f.withISOInputs(t)
	f.runner.AddTool("grub2-mkstandalone", "/usr/bin/grub2-mkstandalone")
	f.runner.AddTool("grub-mkstandalone", "/usr/bin/grub-mkstandalone")

	if err := f.run(t, ISORoot(), f.build("iso-root.work")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !f.runner.Invoked("grub2-mkstandalone") {
		t.Error("grub2-mkstandalone not invoked")
	}
	if f.runner.Invoked("grub-mkstandalone") {
		t.Error("grub-mkstandalone invoked although grub2-mkstandalone exists")
	}
}

func TestGrubConfig(t *testing.T) {
	cfg := GrubConfig("ACORNOS")

	for _, want := range []string{
		"serial --speed=115200",
		"menuentry 'AcornOS' {",
		"menuentry 'AcornOS (Emergency Shell)' {",
		"menuentry 'AcornOS (Debug)' {",
		"root=LABEL=ACORNOS",
		SerialConsole,
		"initrd /" + InitramfsISOPath,
		"linux /" + KernelISOPath,
	} {
		if !strings.Contains(cfg, want) {
			t.Errorf("GrubConfig() lacks %q", want)
		}
	}
	if got := strings.Count(cfg, "menuentry "); got != 3 {
		t.Errorf("GrubConfig() has %d entries, want 3", got)
	}
}

func TestWriteGrubConfig_EmptyLabel(t *testing.T) {
	f := newFixture(t)
	f.withISOInputs(t)
	f.withPrebuiltEFI(t)
	f.opts.ISOLabel = ""

	err := f.run(t, ISORoot(), f.build("iso-root.work"))
	if !builderr.HasCode(err, builderr.CodeCustomOpFailed) {
		t.Fatalf("Run() error = %v, want %s", err, builderr.CodeCustomOpFailed)
	}
}
