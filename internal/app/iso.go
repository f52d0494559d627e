package app

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/acornos/acornbuild/internal/distro/acorn"
	"github.com/acornos/acornbuild/internal/domain/artifact"
	"github.com/acornos/acornbuild/internal/ports"
)

// BuildISO assembles the ISO root from the rootfs image, the initramfs and
// the kernel, then writes the hybrid ISO and its detached checksum.
func (a *App) BuildISO(ctx context.Context) error {
	opts := a.Options()
	for _, in := range acorn.ISOInputs(opts) {
		if !a.fs.Exists(in.Path) {
			return acorn.MissingISOInput(in).WithStage("iso")
		}
	}

	exec := a.executor()
	root := a.output(ISORootDir)
	err := a.builder().BuildAtomic(ctx, artifact.Job{
		Stage: "iso-root",
		Work:  artifact.WorkPath(root),
		Final: root,
		Produce: func(ctx context.Context, work string) error {
			if _, err := exec.Run(ctx, a.buildContext(work), acorn.ISORoot(), nil); err != nil {
				return err
			}
			return a.makeEFIBootImage(ctx, work)
		},
		Check: artifact.All(acorn.ISORootCheck(), artifact.RequiredEntries(acorn.EFIBootImage)),
	})
	if err != nil {
		return err
	}

	iso := a.ISOPath()
	err = a.builder().BuildAtomic(ctx, artifact.Job{
		Stage: "iso-image",
		Work:  artifact.WorkPath(iso),
		Final: iso,
		Produce: func(ctx context.Context, work string) error {
			return a.runner.Stream(ctx, ports.ProcessSpec{
				Command: "xorriso",
				Args:    xorrisoArgs(root, work, opts.ISOLabel),
				Hint:    "xorriso",
			})
		},
		Check: artifact.MinSize(minISO),
	})
	if err != nil {
		return err
	}

	sum, err := a.builder().WriteChecksum(ctx, "iso-checksum", iso)
	if err != nil {
		return err
	}
	a.logger.Info(ctx, "iso checksum written", ports.F("sha256", sum))
	return nil
}

// makeEFIBootImage writes the FAT image El Torito hands to UEFI firmware.
func (a *App) makeEFIBootImage(ctx context.Context, root string) error {
	img := filepath.Join(root, acorn.EFIBootImage)
	efi := filepath.Join(root, acorn.EFIDir)
	blocks := strconv.Itoa(a.cfg.ISO.EFIBootSizeMB * 1024)

	steps := []ports.ProcessSpec{
		{Command: "mkfs.fat", Args: []string{"-C", img, blocks}, Hint: "dosfstools"},
		{Command: "mmd", Args: []string{"-i", img, "::EFI", "::" + acorn.EFIDir}, Hint: "mtools"},
		{Command: "mcopy", Args: []string{"-i", img, filepath.Join(efi, acorn.EFIBootloader), "::" + acorn.EFIDir + "/"}, Hint: "mtools"},
		{Command: "mcopy", Args: []string{"-i", img, filepath.Join(efi, "grub.cfg"), "::" + acorn.EFIDir + "/"}, Hint: "mtools"},
	}
	for _, spec := range steps {
		if err := a.runner.Stream(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

func xorrisoArgs(root, out, label string) []string {
	return []string{
		"-as", "mkisofs",
		"-o", out,
		"-V", label,
		"-R", "-J",
		"-e", acorn.EFIBootImage,
		"-no-emul-boot",
		"-isohybrid-gpt-basdat",
		root,
	}
}
