package acorn

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/acornos/acornbuild/internal/domain/builderr"
	"github.com/acornos/acornbuild/internal/domain/component"
	"github.com/acornos/acornbuild/internal/domain/execution"
	"github.com/acornos/acornbuild/internal/ports"
)

// trackPackage attributes staged files to an Alpine package so its license
// text is shipped.
func trackPackage(env execution.Env, pkg string) {
	if env.Tracker != nil {
		env.Tracker.AddPackage(pkg)
	}
}

// applyAll runs ops in order through the executor.
func applyAll(ctx context.Context, env execution.Env, ops ...component.Operation) error {
	for _, op := range ops {
		if err := env.Apply(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

func createFhsSymlinks(ctx context.Context, env execution.Env) error {
	return applyAll(ctx, env,
		component.Symlink("bin", "usr/bin"),
		component.Symlink("sbin", "usr/sbin"),
		component.Symlink("lib", "usr/lib"),
		component.Symlink("var/run", "../run"),
	)
}

var appletDirs = []string{"bin", "sbin", "usr/bin", "usr/sbin"}

// busyboxApplets are linked when the source tree carries no applet links of
// its own.
var busyboxApplets = []struct {
	dir   string
	names []string
}{
	{"bin", []string{
		"ash", "cat", "chgrp", "chmod", "chown", "cp", "date", "dd", "df", "dmesg",
		"echo", "egrep", "false", "fgrep", "grep", "gunzip", "gzip", "hostname",
		"kill", "ln", "ls", "mkdir", "mknod", "more", "mount", "mv", "ping", "ps",
		"pwd", "rm", "rmdir", "sed", "sh", "sleep", "stty", "su", "sync", "tar",
		"touch", "true", "umount", "uname", "vi", "zcat",
	}},
	{"sbin", []string{
		"blkid", "fdisk", "halt", "ifconfig", "init", "insmod", "ip", "losetup",
		"lsmod", "mdev", "modprobe", "poweroff", "reboot", "rmmod", "route",
		"switch_root", "sysctl", "udhcpc",
	}},
	{"usr/bin", []string{
		"awk", "basename", "clear", "cut", "diff", "dirname", "du", "env", "find",
		"free", "head", "id", "less", "nslookup", "printf", "reset", "sort", "tail",
		"tee", "test", "top", "tr", "uniq", "uptime", "wc", "wget", "which",
		"xargs", "yes",
	}},
	{"usr/sbin", []string{"chroot", "crond", "ntpd"}},
}

// stagedBusybox returns the relative path busybox was staged at.
func stagedBusybox(env execution.Env) (string, bool) {
	for _, dir := range appletDirs {
		rel := path.Join(dir, "busybox")
		p := env.Build.StagingPath(rel)
		if isLink, _ := env.FS.IsSymlink(p); !isLink && env.FS.Exists(p) {
			return rel, true
		}
	}
	return "", false
}

// createBusyboxApplets mirrors every source symlink that points at busybox.
// A source without such links gets the static applet table instead, linked
// relative to the staged busybox. Paths already present in staging are left
// alone.
func createBusyboxApplets(ctx context.Context, env execution.Env) error {
	bc := env.Build
	busybox, ok := stagedBusybox(env)
	if !ok {
		return builderr.NewMissingInput(bc.StagingPath("bin/busybox")).
			WithSuggestion("Stage busybox with a binary copy before linking its applets.")
	}

	created, found := 0, 0
	link := func(rel, target string) error {
		if env.FS.Exists(bc.StagingPath(rel)) {
			return nil
		}
		if err := env.Apply(ctx, component.Symlink(rel, target)); err != nil {
			return err
		}
		created++
		return nil
	}

	for _, dir := range appletDirs {
		entries, err := env.FS.ReadDir(bc.SourcePath(dir))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			rel := path.Join(dir, entry.Name())
			isLink, target := env.FS.IsSymlink(bc.SourcePath(rel))
			if !isLink || path.Base(target) != "busybox" {
				continue
			}
			found++
			if err := link(rel, target); err != nil {
				return err
			}
		}
	}

	if found == 0 {
		env.Logger.Info(ctx, "source has no applet links, using the built-in applet table", ports.F("busybox", busybox))
		for _, group := range busyboxApplets {
			target := "/" + busybox
			if group.dir == path.Dir(busybox) {
				target = "busybox"
			}
			for _, name := range group.names {
				found++
				if err := link(path.Join(group.dir, name), target); err != nil {
					return err
				}
			}
		}
	}

	env.Logger.Info(ctx, "busybox applets linked", ports.F("applets", found), ports.F("created", created))
	return nil
}

func setupDeviceManager(ctx context.Context, env execution.Env) error {
	return applyAll(ctx, env,
		component.Dir("etc/udev/rules.d"),
		component.Sbins("udevd", "udevadm"),
		component.OpenrcScripts("udev", "udev-trigger", "udev-settle", "udev-postmount"),
		component.OpenrcEnable("udev", "sysinit"),
		component.OpenrcEnable("udev-trigger", "sysinit"),
		component.OpenrcEnable("udev-settle", "sysinit"),
		component.OpenrcEnable("udev-postmount", "default"),
	)
}

// setupSSH installs the daemon and root's authorized keys. Host keys are
// never baked into the image; the sshd init script generates them on
// first boot.
func setupSSH(ctx context.Context, env execution.Env, keys []string) error {
	if err := applyAll(ctx, env,
		component.Sbin("sshd"),
		component.Bin("ssh-keygen"),
		component.DirMode("root/.ssh", 0o700),
	); err != nil {
		return err
	}

	if err := removeHostKeys(ctx, env); err != nil {
		return err
	}

	if len(keys) == 0 {
		env.Logger.Info(ctx, "no authorized keys configured for root")
		return nil
	}

	var b strings.Builder
	for i, key := range keys {
		line := strings.TrimSpace(key)
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line)); err != nil {
			return fmt.Errorf("authorized key %d: %w", i+1, err)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return env.Apply(ctx, component.WriteFileMode("root/.ssh/authorized_keys", b.String(), 0o600))
}

func removeHostKeys(ctx context.Context, env execution.Env) error {
	dir := env.Build.StagingPath("etc/ssh")
	entries, err := env.FS.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "ssh_host_") {
			continue
		}
		p := filepath.Join(dir, entry.Name())
		env.Logger.Warn(ctx, "removing host key copied from source", ports.F("path", p))
		if err := env.FS.Remove(p); err != nil {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	return nil
}

const profile = `export PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin
export PAGER=less
umask 022

for script in /etc/profile.d/*.sh; do
	[ -r "$script" ] && . "$script"
done
unset script
`

var baseGroups = []struct {
	name string
	gid  int
}{
	{"root", 0}, {"bin", 1}, {"daemon", 2}, {"sys", 3}, {"adm", 4},
	{"tty", 5}, {"disk", 6}, {"wheel", 10}, {"audio", 18}, {"video", 27},
	{"users", 100}, {"nogroup", 65533}, {"nobody", 65534},
}

// createEtcFiles upserts the base accounts and writes the files every
// login shell expects. An existing etc/profile is kept.
func createEtcFiles(ctx context.Context, env execution.Env) error {
	ops := make([]component.Operation, 0, len(baseGroups)+8)
	for _, g := range baseGroups {
		ops = append(ops, component.Group(g.name, g.gid))
	}
	ops = append(ops,
		component.User("root", 0, 0, "/root", "/bin/sh"),
		component.User("bin", 1, 1, "/bin", "/sbin/nologin"),
		component.User("daemon", 2, 2, "/sbin", "/sbin/nologin"),
		component.User("nobody", 65534, 65534, "/", "/sbin/nologin"),
		component.Dir("etc/profile.d"),
		component.Symlink("etc/mtab", "../proc/self/mounts"),
	)
	if !env.FS.Exists(env.Build.StagingPath("etc/profile")) {
		ops = append(ops, component.WriteFile("etc/profile", profile))
	}
	return applyAll(ctx, env, ops...)
}

func copyTimezoneData(ctx context.Context, env execution.Env) error {
	bc := env.Build
	const zoneinfo = "usr/share/zoneinfo"

	copied, err := env.CopyTree(ctx, bc.SourcePath(zoneinfo), bc.StagingPath(zoneinfo))
	if err != nil {
		return err
	}
	if !copied {
		env.Logger.Warn(ctx, "timezone data absent from source tree, localtime left unset", ports.F("path", bc.SourcePath(zoneinfo)))
		return nil
	}
	trackPackage(env, "tzdata")
	if !env.FS.Exists(bc.StagingPath(zoneinfo + "/UTC")) {
		return nil
	}
	return applyAll(ctx, env,
		component.Symlink("etc/localtime", "/"+zoneinfo+"/UTC"),
		component.WriteFile("etc/timezone", "UTC\n"),
	)
}

// kernelVersions lists the version directories under a lib/modules tree.
func kernelVersions(fs ports.FileSystem, dir string) []string {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return nil
	}
	var versions []string
	for _, entry := range entries {
		if fs.IsDir(filepath.Join(dir, entry.Name())) {
			versions = append(versions, entry.Name())
		}
	}
	sort.Strings(versions)
	return versions
}

const modulesSuggestion = "Build the kernel and install its modules so that lib/modules/<version> exists, or set kernel.modules."

func copyKernelModules(ctx context.Context, env execution.Env, modules string) error {
	if modules == "" || !env.FS.IsDir(modules) {
		return builderr.NewMissingInput(modules).WithSuggestion(modulesSuggestion)
	}
	versions := kernelVersions(env.FS, modules)
	if len(versions) == 0 {
		return builderr.NewMissingInput(filepath.Join(modules, "<version>")).WithSuggestion(modulesSuggestion)
	}

	for _, v := range versions {
		dst := env.Build.StagingPath(path.Join("usr/lib/modules", v))
		if _, err := env.CopyTree(ctx, filepath.Join(modules, v), dst); err != nil {
			return err
		}
		env.Logger.Info(ctx, "kernel modules copied", ports.F("version", v))
	}
	return nil
}

func runDepmod(ctx context.Context, env execution.Env) error {
	bc := env.Build
	versions := kernelVersions(env.FS, bc.StagingPath("usr/lib/modules"))
	if len(versions) == 0 {
		return fmt.Errorf("no kernel modules staged under %s", bc.StagingPath("usr/lib/modules"))
	}
	if env.Runner == nil {
		return fmt.Errorf("depmod needs a command runner")
	}
	for _, v := range versions {
		err := env.Runner.Stream(ctx, ports.ProcessSpec{
			Command: "depmod",
			Args:    []string{"-b", bc.Staging, v},
			Hint:    "kmod",
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// wifiFirmware are the linux-firmware entries most laptops need to get
// online, matched by name prefix.
var wifiFirmware = []string{
	"iwlwifi-", "ath9k_htc", "ath10k", "ath11k", "ath12k", "rtlwifi",
	"rtw88", "rtw89", "mediatek", "mt7601u.bin", "brcm", "cypress",
}

var firmwareDirs = []string{"lib/firmware", "usr/lib/firmware"}

const stagedFirmware = "usr/lib/firmware"

const firmwarePackage = "linux-firmware"

func firmwareSource(env execution.Env) (string, bool) {
	for _, dir := range firmwareDirs {
		p := env.Build.SourcePath(dir)
		if env.FS.IsDir(p) {
			return p, true
		}
	}
	return "", false
}

func isWifiFirmware(name string) bool {
	for _, prefix := range wifiFirmware {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func copyWifiFirmware(ctx context.Context, env execution.Env) error {
	return copyFirmware(ctx, env, "wifi", isWifiFirmware)
}

func copyAllFirmware(ctx context.Context, env execution.Env) error {
	return copyFirmware(ctx, env, "all", func(string) bool { return true })
}

// copyFirmware copies the matching top-level firmware entries that are not
// already staged. A source without firmware is logged, not fatal.
func copyFirmware(ctx context.Context, env execution.Env, set string, match func(string) bool) error {
	src, ok := firmwareSource(env)
	if !ok {
		env.Logger.Warn(ctx, "source tree has no firmware, hardware support will be limited", ports.F("set", set))
		return nil
	}
	entries, err := env.FS.ReadDir(src)
	if err != nil {
		return fmt.Errorf("listing %s: %w", src, err)
	}

	copied := 0
	for _, entry := range entries {
		if !match(entry.Name()) {
			continue
		}
		trackPackage(env, firmwarePackage)
		dst := env.Build.StagingPath(path.Join(stagedFirmware, entry.Name()))
		if env.FS.Exists(dst) {
			continue
		}
		if _, err := env.CopyTree(ctx, filepath.Join(src, entry.Name()), dst); err != nil {
			return err
		}
		copied++
	}
	env.Logger.Info(ctx, "firmware copied", ports.F("set", set), ports.F("entries", copied))
	return nil
}

const liveIssueNet = "AcornOS Live\n\nTo install: recstrap /dev/sdX\n\n"

const welcomeScript = `#!/bin/sh
# Welcome script for AcornOS Live

echo ""
echo "Welcome to AcornOS Live!"
echo ""
echo "To install AcornOS to disk:"
echo "  1. Partition your disk (fdisk, parted, or gdisk)"
echo "  2. Run: recstrap /dev/sdX"
echo ""
echo "For help visit https://levitateos.org/acorn/docs"
echo ""
`

// createWelcomeMessage writes the live banners and copies any extra
// profile.d scripts shipped with the profile's live overlay.
func createWelcomeMessage(ctx context.Context, env execution.Env, profileDir string) error {
	if err := applyAll(ctx, env,
		component.WriteFile("etc/issue.net", liveIssueNet),
		component.WriteFileMode("etc/profile.d/welcome.sh", welcomeScript, component.ExecutableMode),
	); err != nil {
		return err
	}

	extra := filepath.Join(profileDir, "live-overlay/etc/profile.d")
	entries, err := env.FS.ReadDir(extra)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || entry.Name() == "welcome.sh" {
			continue
		}
		dst := env.Build.StagingPath(path.Join("etc/profile.d", entry.Name()))
		if err := env.FS.CopyFile(filepath.Join(extra, entry.Name()), dst); err != nil {
			return fmt.Errorf("copying profile script %s: %w", entry.Name(), err)
		}
		if err := env.FS.Chmod(dst, component.ExecutableMode); err != nil {
			return err
		}
	}
	return nil
}

// createLiveOverlay prepares the mount points the live init uses.
func createLiveOverlay(ctx context.Context, env execution.Env) error {
	return applyAll(ctx, env,
		component.DirMode("run", 0o755),
		component.DirMode("tmp", 0o777|component.ModeSticky),
		component.Dirs("media/cdrom", "mnt/live"),
	)
}

const recstrapPlaceholder = `#!/bin/sh
# recstrap - AcornOS installer
#
# The recstrap binary was not found during build.
# To install AcornOS manually:
#
# 1. Partition your disk:
#    fdisk /dev/sdX
#    # Create: 512MB EFI partition (type EFI System)
#    # Create: Rest as Linux partition
#
# 2. Format partitions:
#    mkfs.fat -F32 /dev/sdX1
#    mkfs.ext4 /dev/sdX2
#
# 3. Mount and extract:
#    mount /dev/sdX2 /mnt
#    mkdir -p /mnt/boot/efi
#    mount /dev/sdX1 /mnt/boot/efi
#    mkdir -p /tmp/erofs
#    mount -t erofs /media/cdrom/live/filesystem.erofs /tmp/erofs
#    cp -a /tmp/erofs/* /mnt/
#
# 4. Install bootloader:
#    chroot /mnt
#    grub-install --target=x86_64-efi --efi-directory=/boot/efi
#    grub-mkconfig -o /boot/grub/grub.cfg
#
# 5. Set root password and reboot

echo "recstrap binary not available - see script for manual install instructions"
echo "View this script: cat /usr/bin/recstrap"
exit 1
`

func toolCandidates(baseDir, tool string) []string {
	return []string{
		filepath.Join(baseDir, "..", "tools", tool, "target", "release", tool),
		filepath.Join(baseDir, "..", "target", "release", tool),
	}
}

// installTool copies the first existing candidate of tool into usr/bin.
func installTool(ctx context.Context, env execution.Env, baseDir, tool string) (bool, error) {
	dst := env.Build.StagingPath(path.Join("usr/bin", tool))
	for _, candidate := range toolCandidates(baseDir, tool) {
		if !env.FS.Exists(candidate) {
			continue
		}
		if err := env.FS.CopyFile(candidate, dst); err != nil {
			return false, fmt.Errorf("copying %s: %w", tool, err)
		}
		if err := env.FS.Chmod(dst, component.ExecutableMode); err != nil {
			return false, err
		}
		env.Logger.Info(ctx, "installer tool copied", ports.F("tool", tool), ports.F("from", candidate))
		return true, nil
	}
	return false, nil
}

// copyRecstrap installs the installer tools built next to the project.
// recstrap falls back to a script with manual instructions.
func copyRecstrap(ctx context.Context, env execution.Env, baseDir string) error {
	if err := env.Apply(ctx, component.Dir("usr/bin")); err != nil {
		return err
	}
	found, err := installTool(ctx, env, baseDir, "recstrap")
	if err != nil {
		return err
	}
	if !found {
		env.Logger.Warn(ctx, "recstrap not built, installing placeholder")
		if err := env.Apply(ctx, component.WriteFileMode("usr/bin/recstrap", recstrapPlaceholder, component.ExecutableMode)); err != nil {
			return err
		}
	}
	for _, tool := range []string{"recfstab", "recchroot"} {
		if _, err := installTool(ctx, env, baseDir, tool); err != nil {
			return err
		}
	}
	return nil
}
