package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/acornos/acornbuild/internal/adapters/licensedb"
	"github.com/acornos/acornbuild/internal/distro/acorn"
	"github.com/acornos/acornbuild/internal/domain/artifact"
	"github.com/acornos/acornbuild/internal/domain/builderr"
	"github.com/acornos/acornbuild/internal/domain/license"
	"github.com/acornos/acornbuild/internal/ports"
)

// Minimum sizes a produced artifact must reach to be promoted.
const (
	minRootfsImage = 1 << 20
	minInitramfs   = 1024
	minISO         = 1 << 20
)

// BuildRootfs assembles the rootfs staging tree and packs it into the EROFS image.
func (a *App) BuildRootfs(ctx context.Context) error {
	source := a.cfg.SourceDir()
	if !a.fs.IsDir(source) {
		return builderr.NewMissingInput(source).
			WithStage("rootfs").
			WithSuggestion("Extract the Alpine minirootfs there, or set source in acorn.yaml.")
	}

	licenses, err := licensedb.OpenOrEmpty(a.fs, source)
	if err != nil {
		return fmt.Errorf("reading package database: %w", err)
	}
	exec := a.executor().WithLister(a.lister).WithLicenses(licenses)
	tracker := license.NewTracker()

	staging := a.output(RootfsStagingDir)
	err = a.builder().BuildAtomic(ctx, artifact.Job{
		Stage: "rootfs-staging",
		Work:  artifact.WorkPath(staging),
		Final: staging,
		Produce: func(ctx context.Context, work string) error {
			_, err := exec.Run(ctx, a.buildContext(work), acorn.Rootfs(), tracker)
			return err
		},
		Check: acorn.StagingCheck(),
	})
	if err != nil {
		return err
	}

	image := a.output(RootfsImageFile)
	return a.builder().BuildAtomic(ctx, artifact.Job{
		Stage: "rootfs-image",
		Work:  artifact.WorkPath(image),
		Final: image,
		Produce: func(ctx context.Context, work string) error {
			return a.runner.Stream(ctx, ports.ProcessSpec{
				Command: "mkfs.erofs",
				Args:    a.erofsArgs(work, staging),
				Hint:    "erofs-utils",
			})
		},
		Check: artifact.MinSize(minRootfsImage),
	})
}

func (a *App) erofsArgs(out, staging string) []string {
	rc := a.cfg.Rootfs
	compression := rc.Compression
	if rc.CompressionLevel > 0 {
		compression += "," + strconv.Itoa(rc.CompressionLevel)
	}
	return []string{
		"-z" + compression,
		"-C" + strconv.Itoa(rc.ChunkSize),
		out,
		staging,
	}
}
