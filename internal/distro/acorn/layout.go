package acorn

// OSName is the distribution name shown in boot menus and banners.
const OSName = "AcornOS"

// Paths inside the ISO root.
const (
	KernelISOPath      = "boot/vmlinuz"
	InitramfsISOPath   = "boot/initramfs.img"
	RootfsISOPath      = "live/filesystem.erofs"
	LiveOverlayISOPath = "live/overlay"
	EFIDir             = "EFI/BOOT"
	EFIBootloader      = "BOOTX64.EFI"
	EFIBootImage       = "boot/efiboot.img"
)

// Kernel console arguments for the live boot entries.
const (
	SerialConsole = "console=ttyS0,115200n8"
	VGAConsole    = "console=tty0"
)

// bootModuleExts is the lookup order for a boot module's file.
var bootModuleExts = []string{".ko.zst", ".ko", ".ko.gz", ".ko.xz"}

// moduleMetadata are copied beside the boot modules when present.
var moduleMetadata = []string{"modules.dep", "modules.dep.bin", "modules.alias", "modules.alias.bin"}
