package acorn

import (
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/acornos/acornbuild/internal/domain/artifact"
	"github.com/acornos/acornbuild/internal/domain/builderr"
	"github.com/acornos/acornbuild/internal/ports"
)

// requiredStaging must exist in every staged rootfs.
var requiredStaging = []string{
	"bin", "sbin", "lib",
	"usr/bin/busybox", "bin/sh",
	"sbin/openrc",
	"etc/inittab", "etc/passwd", "etc/shadow", "etc/group",
	"etc/os-release", "etc/hostname", "etc/fstab",
	"etc/runlevels/default",
	"usr/sbin/sshd",
}

// osReleaseKeys must be set in etc/os-release.
var osReleaseKeys = []string{"NAME", "ID", "VERSION_ID"}

// OSRelease requires rel under the artifact to be an os-release file
// defining every key.
func OSRelease(rel string, keys ...string) artifact.Check {
	return func(fs ports.FileSystem, root string) error {
		p := filepath.Join(root, rel)
		data, err := fs.ReadFile(p)
		if err != nil {
			return builderr.NewSanityCheckFailed(p, "os-release is unreadable")
		}
		f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, data)
		if err != nil {
			return builderr.NewSanityCheckFailed(p, fmt.Sprintf("os-release does not parse: %v", err))
		}
		section := f.Section(ini.DefaultSection)

		var missing []string
		for _, k := range keys {
			if !section.HasKey(k) || strings.TrimSpace(section.Key(k).String()) == "" {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			e := builderr.NewSanityCheckFailed(p, "os-release keys missing")
			e.Missing = missing
			return e
		}
		return nil
	}
}

// StagingCheck verifies a staged rootfs before it is promoted.
func StagingCheck() artifact.Check {
	return artifact.All(
		artifact.RequiredEntries(requiredStaging...),
		OSRelease("etc/os-release", osReleaseKeys...),
		artifact.NonEmptyDir("etc/init.d"),
		artifact.NonEmptyDir("usr/lib/modules"),
	)
}

// InitramfsRootCheck verifies a staged initramfs root before it is archived.
func InitramfsRootCheck() artifact.Check {
	return artifact.RequiredEntries("init", "bin/busybox", "bin/sh", "lib/modules")
}

// ISORootCheck verifies an assembled ISO root before xorriso runs.
func ISORootCheck() artifact.Check {
	return artifact.RequiredEntries(
		KernelISOPath,
		InitramfsISOPath,
		RootfsISOPath,
		LiveOverlayISOPath,
		"boot/grub/grub.cfg",
		EFIDir+"/grub.cfg",
		EFIDir+"/"+EFIBootloader,
	)
}
