// Package config models the build configuration of an AcornOS project:
// where the source tree lives, where artifacts go and how each artifact
// is produced.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/acornos/acornbuild/internal/ports"
)

// Environment variables that override file settings.
const (
	EnvISOLabel = "ISO_LABEL"
	EnvStore    = "ACORNOS_STORE"
	EnvLogLevel = "ACORNOS_LOG_LEVEL"
)

// StoreOff disables the artifact store when used as ACORNOS_STORE.
const StoreOff = "off"

// Config is the build configuration.
type Config struct {
	Source    string          `yaml:"source" toml:"source"`
	Output    string          `yaml:"output" toml:"output"`
	Profile   string          `yaml:"profile" toml:"profile"`
	Downloads string          `yaml:"downloads" toml:"downloads"`
	Kernel    KernelConfig    `yaml:"kernel" toml:"kernel"`
	Rootfs    RootfsConfig    `yaml:"rootfs" toml:"rootfs"`
	Initramfs InitramfsConfig `yaml:"initramfs" toml:"initramfs"`
	ISO       ISOConfig       `yaml:"iso" toml:"iso"`
	Store     StoreConfig     `yaml:"store" toml:"store"`
	SSH       SSHConfig       `yaml:"ssh" toml:"ssh"`
	Lister    string          `yaml:"lister" toml:"lister"`
	MinFreeGB int             `yaml:"min_free_gb" toml:"min_free_gb"`
	Log       LogConfig       `yaml:"log" toml:"log"`

	// BaseDir is the project directory relative paths resolve against.
	BaseDir string `yaml:"-" toml:"-"`
	// File is the configuration file that was loaded, empty for defaults.
	File string `yaml:"-" toml:"-"`
}

// KernelConfig locates the externally built kernel.
type KernelConfig struct {
	Image   string `yaml:"image" toml:"image"`
	Modules string `yaml:"modules" toml:"modules"`
}

// RootfsConfig controls mkfs.erofs.
type RootfsConfig struct {
	Compression      string `yaml:"compression" toml:"compression"`
	CompressionLevel int    `yaml:"compression_level" toml:"compression_level"`
	ChunkSize        int    `yaml:"chunk_size" toml:"chunk_size"`
}

// InitramfsConfig controls the live initramfs.
type InitramfsConfig struct {
	Template      string   `yaml:"template" toml:"template"`
	Busybox       string   `yaml:"busybox" toml:"busybox"`
	BusyboxSHA256 string   `yaml:"busybox_sha256" toml:"busybox_sha256"`
	GzipLevel     int      `yaml:"gzip_level" toml:"gzip_level"`
	BootModules   []string `yaml:"boot_modules" toml:"boot_modules"`
	BootDevices   []string `yaml:"boot_devices" toml:"boot_devices"`
}

// ISOConfig controls the bootable image.
type ISOConfig struct {
	Label         string `yaml:"label" toml:"label"`
	Filename      string `yaml:"filename" toml:"filename"`
	EFIBootSizeMB int    `yaml:"efiboot_size_mb" toml:"efiboot_size_mb"`
}

// StoreConfig controls the cross-run artifact store.
type StoreConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Root        string `yaml:"root" toml:"root"`
	Compression string `yaml:"compression" toml:"compression"`
}

// SSHConfig lists public keys installed for root.
type SSHConfig struct {
	AuthorizedKeys []string `yaml:"authorized_keys" toml:"authorized_keys"`
}

// LogConfig controls console logging.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DefaultBootModules are the modules the live initramfs tries to load, as
// paths under lib/modules/<version> without extension.
var DefaultBootModules = []string{
	"kernel/drivers/block/loop",
	"kernel/fs/erofs/erofs",
	"kernel/fs/overlayfs/overlay",
	"kernel/fs/isofs/isofs",
	"kernel/drivers/cdrom/cdrom",
	"kernel/drivers/scsi/sr_mod",
	"kernel/drivers/block/virtio_blk",
	"kernel/drivers/scsi/virtio_scsi",
}

// DefaultBootDevices is the probe order for the boot medium.
var DefaultBootDevices = []string{"/dev/sr0", "/dev/sr1", "/dev/vda", "/dev/sda", "/dev/nvme0n1"}

var (
	erofsCompressions = []string{"lz4", "lz4hc", "lzma", "deflate", "zstd"}
	storeCompressions = []string{"zstd", "lz4", "none"}
	logFormats        = []string{"text", "json"}
)

// Default returns the configuration used when no file is present.
func Default(baseDir string) *Config {
	return &Config{
		Source:    "downloads/rootfs",
		Output:    "output",
		Profile:   "profile",
		Downloads: "downloads",
		Kernel: KernelConfig{
			Image:   "output/staging/boot/vmlinuz",
			Modules: "output/staging/lib/modules",
		},
		Rootfs: RootfsConfig{
			Compression:      "lz4hc",
			CompressionLevel: 12,
			ChunkSize:        1048576,
		},
		Initramfs: InitramfsConfig{
			Busybox:     "downloads/busybox-static",
			GzipLevel:   6,
			BootModules: append([]string(nil), DefaultBootModules...),
			BootDevices: append([]string(nil), DefaultBootDevices...),
		},
		ISO: ISOConfig{
			Label:         "ACORNOS",
			Filename:      "acornos.iso",
			EFIBootSizeMB: 16,
		},
		Store: StoreConfig{
			Enabled:     true,
			Root:        "~/.cache/acornos/store",
			Compression: "zstd",
		},
		Lister:    "ldd",
		MinFreeGB: 5,
		Log:       LogConfig{Level: "info", Format: "text"},
		BaseDir:   baseDir,
	}
}

// ApplyEnv applies environment overrides read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvISOLabel); ok && v != "" {
		c.ISO.Label = v
	}
	if v, ok := lookup(EnvStore); ok && v != "" {
		if strings.EqualFold(v, StoreOff) {
			c.Store.Enabled = false
		} else {
			c.Store.Enabled = true
			c.Store.Root = v
		}
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	errs := NewErrorList()

	if !contains(erofsCompressions, c.Rootfs.Compression) {
		errs.AddValidation("rootfs.compression", fmt.Sprintf("unknown compression %q", c.Rootfs.Compression),
			"Use one of: "+strings.Join(erofsCompressions, ", "))
	}
	if c.Rootfs.CompressionLevel < 0 {
		errs.AddValidation("rootfs.compression_level", "must not be negative", "")
	}
	if c.Rootfs.ChunkSize <= 0 || c.Rootfs.ChunkSize&(c.Rootfs.ChunkSize-1) != 0 {
		errs.AddValidation("rootfs.chunk_size", fmt.Sprintf("%d is not a positive power of two", c.Rootfs.ChunkSize),
			"Use a value such as 4096 or 1048576.")
	}
	if c.Initramfs.GzipLevel < 1 || c.Initramfs.GzipLevel > 9 {
		errs.AddValidation("initramfs.gzip_level", fmt.Sprintf("%d is outside 1..9", c.Initramfs.GzipLevel), "")
	}
	if sum := c.Initramfs.BusyboxSHA256; sum != "" && !isHex(sum, 64) {
		errs.AddValidation("initramfs.busybox_sha256", "must be 64 hexadecimal characters", "")
	}
	if len(c.Initramfs.BootDevices) == 0 {
		errs.AddValidation("initramfs.boot_devices", "must list at least one device", "")
	}
	if strings.TrimSpace(c.ISO.Label) == "" {
		errs.AddValidation("iso.label", "must not be empty", "Set iso.label or the ISO_LABEL environment variable.")
	} else if len(c.ISO.Label) > 32 {
		errs.AddValidation("iso.label", "is longer than the 32 characters an ISO 9660 volume id allows", "")
	}
	if c.ISO.Filename == "" || strings.ContainsRune(c.ISO.Filename, filepath.Separator) {
		errs.AddValidation("iso.filename", "must be a plain file name", "")
	}
	if c.ISO.EFIBootSizeMB <= 0 {
		errs.AddValidation("iso.efiboot_size_mb", "must be positive", "")
	}
	if !contains(storeCompressions, c.Store.Compression) {
		errs.AddValidation("store.compression", fmt.Sprintf("unknown compression %q", c.Store.Compression),
			"Use one of: "+strings.Join(storeCompressions, ", "))
	}
	if c.Store.Enabled && c.Store.Root == "" {
		errs.AddValidation("store.root", "must be set when the store is enabled", "Set store.enabled: false to disable it.")
	}
	if c.MinFreeGB < 0 {
		errs.AddValidation("min_free_gb", "must not be negative", "")
	}
	if _, err := ports.ParseLevel(c.Log.Level); err != nil {
		errs.AddValidation("log.level", err.Error(), "Use debug, info, warn or error.")
	}
	if !contains(logFormats, c.Log.Format) {
		errs.AddValidation("log.format", fmt.Sprintf("unknown format %q", c.Log.Format), "Use text or json.")
	}
	for i, key := range c.SSH.AuthorizedKeys {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			errs.Add(&UserError{
				Code:       ErrCodeInvalidSSHKey,
				Message:    "malformed authorized key",
				Context:    fmt.Sprintf("ssh.authorized_keys[%d]", i),
				Suggestion: "Paste the full line from id_ed25519.pub, including the key type.",
				Underlying: err,
			})
		}
	}

	return errs.AsError()
}

// Path resolves p against BaseDir, expanding a leading ~/.
func (c *Config) Path(p string) string {
	p = ports.ExpandPath(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

// SourceDir returns the upstream package tree.
func (c *Config) SourceDir() string { return c.Path(c.Source) }

// OutputDir returns the artifact directory.
func (c *Config) OutputDir() string { return c.Path(c.Output) }

// ProfileDir returns the profile overlay directory.
func (c *Config) ProfileDir() string { return c.Path(c.Profile) }

// DownloadsDir returns the downloads directory.
func (c *Config) DownloadsDir() string { return c.Path(c.Downloads) }

// StoreRoot returns the artifact store directory, or "" when disabled.
func (c *Config) StoreRoot() string {
	if !c.Store.Enabled {
		return ""
	}
	return c.Path(c.Store.Root)
}

// Env returns the process environment lookup.
func Env() func(string) (string, bool) {
	return os.LookupEnv
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range strings.ToLower(s) {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
