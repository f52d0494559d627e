package acorn

import (
	"github.com/acornos/acornbuild/internal/domain/component"
)

var fhsDirs = []string{
	"etc", "home", "root", "tmp", "var", "run", "mnt", "media", "srv", "opt",
	"usr/bin", "usr/sbin", "usr/lib", "usr/lib/modules", "usr/share",
	"usr/local/bin", "usr/local/lib", "usr/local/share",
	"var/log", "var/tmp", "var/cache", "var/spool", "var/lib",
	"dev", "proc", "sys",
	"boot",
}

var extraBins = []string{"bash", "coreutils", "vim", "less", "htop"}

var extraSbins = []string{
	"fdisk", "parted", "sgdisk",
	"mkfs.ext4", "mkfs.fat", "mkfs.btrfs", "fsck", "fsck.ext4", "blkid",
	"cryptsetup", "lvm",
	"ip", "dhcpcd",
}

var openrcScripts = []string{
	"hostname", "networking", "bootmisc", "devfs", "dmesg", "fsck", "hwclock",
	"hwdrivers", "killprocs", "localmount", "modules", "mount-ro", "mtab",
	"procfs", "root", "savecache", "seedrng", "sysctl", "sysfs", "swap",
	"swclock", "urandom",
	"sshd", "chronyd", "dhcpcd", "local",
}

var runlevelDirs = []string{
	"etc/runlevels/sysinit",
	"etc/runlevels/boot",
	"etc/runlevels/default",
	"etc/runlevels/nonetwork",
	"etc/runlevels/shutdown",
}

const osRelease = `NAME="AcornOS"
ID=acornos
ID_LIKE=alpine
VERSION_ID=1.0
PRETTY_NAME="AcornOS"
HOME_URL="https://levitateos.org/acorn"
BUG_REPORT_URL="https://github.com/levitateos/levitateos/issues"
`

const motd = `
    _                          ___  ____
   / \   ___ ___  _ __ _ __   / _ \/ ___|
  / _ \ / __/ _ \| '__| '_ \ | | | \___ \
 / ___ \ (_| (_) | |  | | | || |_| |___) |
/_/   \_\___\___/|_|  |_| |_| \___/|____/

Welcome to AcornOS!

Documentation: https://levitateos.org/acorn/docs
Source code:   https://github.com/levitateos/levitateos

`

const issue = "AcornOS \\n \\l\n\n"

const hosts = "127.0.0.1\tlocalhost\n::1\t\tlocalhost\n127.0.1.1\tacornos\n"

const fstab = `# /etc/fstab - AcornOS
# <device>    <mount>    <type>    <options>    <dump> <pass>
proc         /proc      proc      defaults     0      0
sysfs        /sys       sysfs     defaults     0      0
devpts       /dev/pts   devpts    defaults     0      0
tmpfs        /tmp       tmpfs     defaults     0      0
`

const shells = "/bin/sh\n/bin/ash\n/bin/bash\n/usr/bin/bash\n"

const liveInittab = `# /etc/inittab - AcornOS Live

::sysinit:/sbin/openrc sysinit
::sysinit:/sbin/openrc boot
::wait:/sbin/openrc default

tty1::respawn:/sbin/getty 38400 tty1
tty2::respawn:/sbin/getty 38400 tty2
tty3::respawn:/sbin/getty 38400 tty3

ttyS0::respawn:/sbin/getty -L 115200 ttyS0 vt100

::shutdown:/sbin/openrc shutdown
::ctrlaltdel:/sbin/reboot
`

var rootfs = component.MustRegistry("rootfs",
	component.Component{
		Name:  "filesystem",
		Phase: component.PhaseFilesystem,
		Ops: []component.Operation{
			component.Dirs(fhsDirs...),
			component.Custom(CreateFhsSymlinks),
			component.DirMode("tmp", 0o777|component.ModeSticky),
			component.DirMode("var/tmp", 0o777|component.ModeSticky),
			component.DirMode("root", 0o700),
		},
	},
	component.Component{
		Name:  "busybox",
		Phase: component.PhaseBinaries,
		Ops: []component.Operation{
			component.Bin("busybox"),
			component.Custom(CreateBusyboxApplets),
			component.Symlink("bin/sh", "/bin/busybox"),
		},
	},
	component.Component{
		Name:  "utilities",
		Phase: component.PhaseBinaries,
		Ops: []component.Operation{
			component.Bins(extraBins...),
			component.Sbins(extraSbins...),
		},
	},
	component.Component{
		Name:  "openrc",
		Phase: component.PhaseInit,
		Ops: []component.Operation{
			component.Dir("etc/init.d"),
			component.Dir("etc/conf.d"),
			component.Dirs(runlevelDirs...),
			component.CopyTree("etc/rc.conf"),
			component.CopyTree("usr/libexec/rc"),
			component.CopyTree("lib/rc"),
			component.Sbins("openrc", "openrc-run", "rc-service", "rc-update", "rc-status"),
			component.OpenrcScripts(openrcScripts...),

			component.OpenrcEnable("devfs", "sysinit"),
			component.OpenrcEnable("dmesg", "sysinit"),
			component.OpenrcEnable("hwdrivers", "sysinit"),
			component.OpenrcEnable("modules", "sysinit"),
			component.OpenrcEnable("sysfs", "sysinit"),
			component.OpenrcEnable("procfs", "sysinit"),

			component.OpenrcEnable("hostname", "boot"),
			component.OpenrcEnable("bootmisc", "boot"),
			component.OpenrcEnable("hwclock", "boot"),
			component.OpenrcEnable("sysctl", "boot"),
			component.OpenrcEnable("localmount", "boot"),
			component.OpenrcEnable("fsck", "boot"),
			component.OpenrcEnable("root", "boot"),
			component.OpenrcEnable("swap", "boot"),
			component.OpenrcEnable("seedrng", "boot"),
			component.OpenrcEnable("urandom", "boot"),

			component.OpenrcEnable("killprocs", "shutdown"),
			component.OpenrcEnable("mount-ro", "shutdown"),
			component.OpenrcEnable("savecache", "shutdown"),
		},
	},
	component.Component{
		Name:  "eudev",
		Phase: component.PhaseInit,
		Ops: []component.Operation{
			component.CopyTree("etc/udev"),
			component.CopyTree("usr/lib/udev"),
			component.Custom(SetupDeviceManager),
		},
	},
	component.Component{
		Name:  "network",
		Phase: component.PhaseServices,
		Ops: []component.Operation{
			component.Dirs(
				"etc/network",
				"etc/network/if-down.d",
				"etc/network/if-post-down.d",
				"etc/network/if-pre-up.d",
				"etc/network/if-up.d",
			),
			component.CopyTree("etc/network"),
			component.OpenrcEnable("networking", "boot"),
			component.OpenrcEnable("dhcpcd", "default"),
			component.OpenrcConf("dhcpcd", "# DHCP client configuration\ndhcpcd_args=\"--quiet\"\n"),
		},
	},
	component.Component{
		Name:  "ssh",
		Phase: component.PhaseServices,
		Ops: []component.Operation{
			component.Dir("etc/ssh"),
			component.DirMode("var/empty/sshd", 0o755),
			component.DirMode("run/sshd", 0o755),
			component.CopyTree("etc/ssh"),
			component.Group("sshd", 22),
			component.User("sshd", 22, 22, "/var/empty/sshd", "/sbin/nologin"),
			component.Custom(SetupSsh),
			component.OpenrcEnable("sshd", "default"),
		},
	},
	component.Component{
		Name:  "chrony",
		Phase: component.PhaseServices,
		Ops: []component.Operation{
			component.Dir("var/lib/chrony"),
			component.Dir("var/log/chrony"),
			component.CopyTree("etc/chrony"),
			component.Sbin("chronyd"),
			component.Group("chrony", 123),
			component.User("chrony", 123, 123, "/var/lib/chrony", "/sbin/nologin"),
			component.OpenrcEnable("chronyd", "default"),
		},
	},
	component.Component{
		Name:  "branding",
		Phase: component.PhaseConfig,
		Ops: []component.Operation{
			component.WriteFile("etc/os-release", osRelease),
			component.WriteFile("etc/hostname", "acornos\n"),
			component.WriteFile("etc/motd", motd),
			component.WriteFile("etc/issue", issue),
			component.WriteFile("etc/hosts", hosts),
			component.Custom(CreateEtcFiles),
		},
	},
	component.Component{
		Name:  "sysconfig",
		Phase: component.PhaseConfig,
		Ops: []component.Operation{
			component.WriteFile("etc/fstab", fstab),
			component.WriteFile("etc/shells", shells),
			component.Custom(CopyTimezoneData),
		},
	},
	component.Component{
		Name:  "kernel-modules",
		Phase: component.PhaseFirmware,
		Ops: []component.Operation{
			component.Dir("usr/lib/modules"),
			component.Custom(CopyKernelModules),
			component.Custom(RunDepmod),
		},
	},
	component.Component{
		Name:  "firmware",
		Phase: component.PhaseFirmware,
		Ops: []component.Operation{
			component.Custom(CopyWifiFirmware),
			component.Custom(CopyAllFirmware),
		},
	},
	component.Component{
		Name:  "live-final",
		Phase: component.PhaseFinal,
		Ops: []component.Operation{
			component.Custom(CreateWelcomeMessage),
			component.Custom(CreateLiveOverlay),
			component.Custom(CopyRecstrap),
			component.WriteFile("etc/inittab", liveInittab),
		},
	},
)

// Rootfs returns the registry that assembles the root filesystem staging tree.
func Rootfs() *component.Registry {
	return rootfs
}
