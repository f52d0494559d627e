package app

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/mod/semver"
	"golang.org/x/sys/unix"
	"gopkg.in/ini.v1"

	"github.com/acornos/acornbuild/internal/domain/builderr"
)

// IssueSeverity indicates the severity of a doctor check.
type IssueSeverity string

// IssueSeverity constants.
const (
	SeverityInfo    IssueSeverity = "info"
	SeverityWarning IssueSeverity = "warning"
	SeverityError   IssueSeverity = "error"
)

// DoctorCheck is the result of a single host check.
type DoctorCheck struct {
	Name       string
	Passed     bool
	Severity   IssueSeverity
	Message    string
	Suggestion string
}

// DoctorReport holds the results of a host preflight.
type DoctorReport struct {
	Checks    []DoctorCheck
	CheckedAt time.Time
	Duration  time.Duration
}

// Failed returns the checks that did not pass.
func (r DoctorReport) Failed() []DoctorCheck {
	var out []DoctorCheck
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// PassedCount returns the number of passing checks.
func (r DoctorReport) PassedCount() int {
	return len(r.Checks) - len(r.Failed())
}

// HasErrors reports whether an error-severity check failed.
func (r DoctorReport) HasErrors() bool {
	for _, c := range r.Failed() {
		if c.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Err folds every failed error-severity check into one error, nil when the
// host can build.
func (r DoctorReport) Err() error {
	var names, hints []string
	seen := map[string]bool{}
	for _, c := range r.Failed() {
		if c.Severity != SeverityError {
			continue
		}
		names = append(names, c.Name)
		if c.Suggestion != "" && !seen[c.Suggestion] {
			seen[c.Suggestion] = true
			hints = append(hints, c.Suggestion)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return &builderr.BuildError{
		Code:       builderr.CodeMissingRequiredInput,
		Message:    "host preflight failed",
		Stage:      "preflight",
		Missing:    names,
		Suggestion: strings.Join(hints, "\n"),
	}
}

// hostTool is an external program the pipeline runs.
type hostTool struct {
	name    string
	purpose string
	// pkg maps a distro family to the package providing the tool.
	pkg map[string]string
}

var hostTools = []hostTool{
	{"mkfs.erofs", "build the rootfs image", pkgs("erofs-utils")},
	{"cpio", "archive the initramfs", pkgs("cpio")},
	{"xorriso", "write the ISO", pkgs("xorriso")},
	{"mkfs.fat", "format the EFI boot image", pkgs("dosfstools")},
	{"mcopy", "populate the EFI boot image", pkgs("mtools")},
	{"mmd", "populate the EFI boot image", pkgs("mtools")},
	{"depmod", "index kernel modules", pkgs("kmod")},
	{"ldd", "resolve shared libraries", map[string]string{"fedora": "glibc-common", "debian": "libc-bin", "arch": "glibc", "alpine": "musl-utils"}},
}

func pkgs(name string) map[string]string {
	return map[string]string{"fedora": name, "debian": name, "arch": name, "alpine": name}
}

var installCommand = map[string]string{
	"fedora": "sudo dnf install",
	"debian": "sudo apt install",
	"arch":   "sudo pacman -S",
	"alpine": "sudo apk add",
}

// minErofsVersion is the oldest mkfs.erofs supporting the -C chunk option.
const minErofsVersion = "v1.5"

var versionPattern = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

// Doctor checks that the host can run a build.
func (a *App) Doctor(ctx context.Context) DoctorReport {
	start := a.now()
	family := a.hostFamily()

	report := DoctorReport{CheckedAt: start}
	report.Checks = append(report.Checks, a.checkTools(family)...)
	report.Checks = append(report.Checks, a.checkErofsVersion(ctx))
	report.Checks = append(report.Checks, a.checkFreeSpace())
	report.Duration = a.now().Sub(start)
	return report
}

func (a *App) checkTools(family string) []DoctorCheck {
	var out []DoctorCheck
	for _, tool := range hostTools {
		name := tool.name + " tool"
		path, err := a.runner.LookPath(tool.name)
		if err == nil {
			out = append(out, DoctorCheck{Name: name, Passed: true, Message: fmt.Sprintf("found at %s", path)})
			continue
		}
		pkg := tool.pkg[family]
		if pkg == "" {
			pkg = tool.pkg["fedora"]
		}
		out = append(out, DoctorCheck{
			Name:       name,
			Severity:   SeverityError,
			Message:    fmt.Sprintf("not found (needed to %s)", tool.purpose),
			Suggestion: installHint(family, pkg),
		})
	}
	return out
}

func installHint(family, packages string) string {
	cmd, ok := installCommand[family]
	if !ok {
		return "Install " + packages + " with your package manager."
	}
	return cmd + " " + packages
}

// hostFamily maps the host os-release ID and ID_LIKE onto a package
// manager family, empty when unknown.
func (a *App) hostFamily() string {
	data, err := a.fs.ReadFile(a.hostRelease)
	if err != nil {
		return ""
	}
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, data)
	if err != nil {
		return ""
	}
	section := f.Section(ini.DefaultSection)
	ids := append([]string{section.Key("ID").String()}, strings.Fields(section.Key("ID_LIKE").String())...)
	for _, id := range ids {
		switch strings.Trim(id, `"`) {
		case "fedora", "rhel", "centos":
			return "fedora"
		case "debian", "ubuntu":
			return "debian"
		case "arch":
			return "arch"
		case "alpine":
			return "alpine"
		}
	}
	return ""
}

func (a *App) checkErofsVersion(ctx context.Context) DoctorCheck {
	check := DoctorCheck{Name: "mkfs.erofs version", Severity: SeverityError}
	res, err := a.runner.Run(ctx, "mkfs.erofs", "--version")
	if err != nil || !res.Success() {
		check.Severity = SeverityWarning
		check.Message = "could not query mkfs.erofs --version"
		return check
	}
	found := versionPattern.FindString(res.Stdout + res.Stderr)
	if found == "" {
		check.Severity = SeverityWarning
		check.Message = "unrecognised version output"
		return check
	}
	v := "v" + found
	if !semver.IsValid(v) || semver.Compare(v, minErofsVersion) < 0 {
		check.Message = fmt.Sprintf("version %s is older than %s", found, strings.TrimPrefix(minErofsVersion, "v"))
		check.Suggestion = "Upgrade erofs-utils."
		return check
	}
	check.Passed = true
	check.Message = "version " + found
	return check
}

func (a *App) checkFreeSpace() DoctorCheck {
	check := DoctorCheck{Name: "disk space", Severity: SeverityError}
	dir := a.nearestDir(a.cfg.OutputDir())
	free, err := a.freeBytes(dir)
	if err != nil {
		check.Severity = SeverityWarning
		check.Message = fmt.Sprintf("could not stat %s: %v", dir, err)
		return check
	}
	need := uint64(a.cfg.MinFreeGB) << 30
	if free < need {
		check.Message = fmt.Sprintf("%s free at %s, need %s", humanize.IBytes(free), dir, humanize.IBytes(need))
		check.Suggestion = "Free up disk space or point output at a larger volume."
		return check
	}
	check.Passed = true
	check.Message = fmt.Sprintf("%s free at %s", humanize.IBytes(free), dir)
	return check
}

// nearestDir returns p or its closest existing parent.
func (a *App) nearestDir(p string) string {
	for !a.fs.IsDir(p) {
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	return p
}

func statfsFree(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil //nolint:gosec // block size is positive
}
