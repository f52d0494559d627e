package testutil

import (
	"path"
	"sort"
	"testing"
)

// SourceTreeBuilder builds upstream source trees for staging tests.
type SourceTreeBuilder struct {
	files map[string]string
}

// NewSourceTree creates an empty source tree builder.
func NewSourceTree() *SourceTreeBuilder {
	return &SourceTreeBuilder{files: make(map[string]string)}
}

// WithFile adds a regular file.
func (b *SourceTreeBuilder) WithFile(rel, content string) *SourceTreeBuilder {
	b.files[rel] = content
	return b
}

// WithLink adds a symlink to target.
func (b *SourceTreeBuilder) WithLink(rel, target string) *SourceTreeBuilder {
	b.files[rel] = "->" + target
	return b
}

// WithBinaries adds placeholder executables named names under dir.
func (b *SourceTreeBuilder) WithBinaries(dir string, names ...string) *SourceTreeBuilder {
	for _, n := range names {
		b.files[path.Join(dir, n)] = "#!/bin/sh\n# " + n + "\n"
	}
	return b
}

// WithBusybox adds bin/busybox and an applet link to it for every name
// (bin/<name>, or the given dir/name when name contains a slash).
func (b *SourceTreeBuilder) WithBusybox(applets ...string) *SourceTreeBuilder {
	b.files["bin/busybox"] = "busybox binary"
	for _, a := range applets {
		rel := a
		if path.Dir(a) == "." {
			rel = path.Join("bin", a)
		}
		b.files[rel] = "->/bin/busybox"
	}
	return b
}

// WithInitScripts adds OpenRC init scripts.
func (b *SourceTreeBuilder) WithInitScripts(names ...string) *SourceTreeBuilder {
	for _, n := range names {
		b.files[path.Join("etc/init.d", n)] = "#!/sbin/openrc-run\n# " + n + "\n"
	}
	return b
}

// Without removes an entry added earlier.
func (b *SourceTreeBuilder) Without(rel string) *SourceTreeBuilder {
	delete(b.files, rel)
	return b
}

// Paths returns every entry in lexical order.
func (b *SourceTreeBuilder) Paths() []string {
	out := make([]string, 0, len(b.files))
	for p := range b.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Files returns a copy of the tree as WriteTree input.
func (b *SourceTreeBuilder) Files() map[string]string {
	out := make(map[string]string, len(b.files))
	for k, v := range b.files {
		out[k] = v
	}
	return out
}

// Write materializes the tree under dir and returns dir.
func (b *SourceTreeBuilder) Write(t testing.TB, dir string) string {
	t.Helper()
	WriteTree(t, dir, b.files)
	return dir
}

var alpineInitScripts = []string{
	"hostname", "networking", "bootmisc", "devfs", "dmesg", "fsck", "hwclock",
	"hwdrivers", "killprocs", "localmount", "modules", "mount-ro", "mtab",
	"procfs", "root", "savecache", "seedrng", "sysctl", "sysfs", "swap",
	"swclock", "urandom", "sshd", "chronyd", "dhcpcd", "local",
	"udev", "udev-trigger", "udev-settle", "udev-postmount",
}

// AlpineRootfs returns a minimal extracted Alpine tree carrying every
// binary, init script and configuration tree the AcornOS rootfs copies.
func AlpineRootfs() *SourceTreeBuilder {
	return NewSourceTree().
		WithBusybox("ls", "cat", "sbin/ifconfig", "usr/bin/wc").
		WithBinaries("usr/bin", "bash", "coreutils", "vim", "less", "htop", "ssh-keygen").
		WithBinaries("sbin", "fdisk", "mkfs.ext4", "fsck", "fsck.ext4", "blkid", "ip", "dhcpcd",
			"openrc", "openrc-run", "rc-service", "rc-update", "udevd", "lvm", "cryptsetup").
		WithBinaries("usr/sbin", "parted", "sgdisk", "mkfs.fat", "mkfs.btrfs", "sshd", "chronyd").
		WithBinaries("bin", "rc-status", "udevadm").
		WithInitScripts(alpineInitScripts...).
		WithFile("etc/rc.conf", "rc_parallel=\"NO\"\n").
		WithFile("usr/libexec/rc/sh/functions.sh", "# openrc functions\n").
		WithFile("etc/udev/udev.conf", "udev_log=err\n").
		WithFile("usr/lib/udev/rules.d/50-udev-default.rules", "# rules\n").
		WithFile("etc/network/interfaces", "auto lo\niface lo inet loopback\n").
		WithFile("etc/ssh/sshd_config", "PermitRootLogin prohibit-password\n").
		WithFile("etc/chrony/chrony.conf", "pool pool.ntp.org iburst\n").
		WithFile("usr/share/zoneinfo/UTC", "TZif2").
		WithFile("lib/firmware/iwlwifi-8000C-36.ucode", "intel").
		WithFile("lib/firmware/amdgpu/polaris10_mc.bin", "amd").
		WithFile("lib/apk/db/installed", "P:busybox\nV:1.36.1-r0\nL:GPL-2.0-only\nF:bin\nR:busybox\n")
}

// KernelModules returns a lib/modules tree for version with the given
// module files (relative to the version directory) and a modules.dep.
func KernelModules(version string, modules ...string) *SourceTreeBuilder {
	b := NewSourceTree().WithFile(path.Join(version, "modules.dep"), "")
	for _, m := range modules {
		b.files[path.Join(version, m)] = "module " + path.Base(m)
	}
	return b
}
