package execution

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/acornos/acornbuild/internal/adapters/filesystem"
	"github.com/acornos/acornbuild/internal/adapters/logging"
	"github.com/acornos/acornbuild/internal/domain/builderr"
	"github.com/acornos/acornbuild/internal/domain/component"
	"github.com/acornos/acornbuild/internal/domain/license"
	"github.com/acornos/acornbuild/internal/ports"
)

type dispatchFunc func(ctx context.Context, tag component.CustomTag, env Env) error

func (f dispatchFunc) Dispatch(ctx context.Context, tag component.CustomTag, env Env) error {
	return f(ctx, tag, env)
}

type fakeLister map[string][]Library

func (f fakeLister) Libraries(_ context.Context, binary string) ([]Library, error) {
	return f[filepath.Base(binary)], nil
}

type fakeLicenses struct{}

func (fakeLicenses) Owner(binary string) (string, bool) { return binary, true }

func (fakeLicenses) License(pkg string) ([]byte, error) { return []byte(pkg + " license"), nil }

func newTestExecutor() *Executor {
	return NewExecutor(filesystem.NewRealFileSystem(), logging.NewNopLogger())
}

func mustWrite(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
}

func mustLink(t *testing.T, target, link string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}
}

// snapshot records path, type, mode, link target and content hash of every
// entry under root.
func snapshot(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		info, err := os.Lstat(p)
		if err != nil {
			return err
		}
		line := fmt.Sprintf("%s %v", rel, info.Mode())
		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, _ := os.Readlink(p)
			line += " -> " + target
		case info.Mode().IsRegular():
			data, _ := os.ReadFile(p)
			line += fmt.Sprintf(" %x", sha256.Sum256(data))
		}
		out = append(out, line)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(out)
	return out
}

func seedSource(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	mustWrite(t, filepath.Join(src, "bin/busybox"), "#!busybox", 0o755)
	mustWrite(t, filepath.Join(src, "usr/bin/bash"), "#!bash", 0o755)
	mustWrite(t, filepath.Join(src, "sbin/fdisk"), "#!fdisk", 0o755)
	mustWrite(t, filepath.Join(src, "etc/init.d/sshd"), "#!/sbin/openrc-run", 0o644)
	mustWrite(t, filepath.Join(src, "etc/init.d/chronyd"), "#!/sbin/openrc-run", 0o644)
	mustWrite(t, filepath.Join(src, "usr/share/zoneinfo/UTC"), "TZif", 0o644)
	mustLink(t, "UTC", filepath.Join(src, "usr/share/zoneinfo/Zulu"))
	mustWrite(t, filepath.Join(src, "lib/libc.musl-x86_64.so.1"), "musl", 0o755)
	mustLink(t, "libc.musl-x86_64.so.1", filepath.Join(src, "lib/ld-musl-x86_64.so.1"))
	return src
}

func fullRegistry() *component.Registry {
	return component.MustRegistry("rootfs",
		component.Component{Name: "filesystem", Phase: component.PhaseFilesystem, Ops: []component.Operation{
			component.Dirs("etc", "usr/bin", "var/log"),
			component.DirMode("tmp", 0o777|component.ModeSticky),
			component.DirMode("root", 0o700),
			component.Symlink("var/run", "/run"),
		}},
		component.Component{Name: "binaries", Phase: component.PhaseBinaries, Ops: []component.Operation{
			component.Bin("busybox"),
			component.Bins("bash"),
			component.Sbin("fdisk"),
			component.Symlink("bin/sh", "/bin/busybox"),
		}},
		component.Component{Name: "services", Phase: component.PhaseServices, Ops: []component.Operation{
			component.OpenrcScripts("sshd", "chronyd"),
			component.OpenrcEnable("sshd", "default"),
			component.OpenrcConf("sshd", "SSHD_OPTS=\"\"\n"),
		}},
		component.Component{Name: "config", Phase: component.PhaseConfig, Ops: []component.Operation{
			component.WriteFile("etc/hostname", "acornos\n"),
			component.Group("sshd", 22),
			component.User("sshd", 22, 22, "/var/empty", "/sbin/nologin"),
			component.CopyTree("usr/share/zoneinfo"),
			component.CopyTree("usr/share/absent"),
		}},
	)
}

func TestExecutor_Idempotent(t *testing.T) {
	src := seedSource(t)
	staging := t.TempDir()
	exec := newTestExecutor().WithLister(fakeLister{
		"bash": {{Name: "libc.musl-x86_64.so.1", Path: "/lib/ld-musl-x86_64.so.1"}},
	})
	bc := BuildContext{Source: src, Staging: staging}
	ctx := context.Background()

	if _, err := exec.Run(ctx, bc, fullRegistry(), license.NewTracker()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	first := snapshot(t, staging)

	if _, err := exec.Run(ctx, bc, fullRegistry(), license.NewTracker()); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if second := snapshot(t, staging); !reflect.DeepEqual(first, second) {
		t.Errorf("second pass changed staging:\nfirst  %v\nsecond %v", first, second)
	}

	fresh := t.TempDir()
	if _, err := exec.Run(ctx, bc.WithStaging(fresh), fullRegistry(), license.NewTracker()); err != nil {
		t.Fatalf("fresh Run() error = %v", err)
	}
	if got := snapshot(t, fresh); !reflect.DeepEqual(first, got) {
		t.Errorf("fresh staging differs:\nwant %v\ngot  %v", first, got)
	}
}

func TestExecutor_StagesExpectedTree(t *testing.T) {
	src := seedSource(t)
	staging := t.TempDir()
	exec := newTestExecutor().WithLister(fakeLister{
		"bash": {{Name: "libc.musl-x86_64.so.1", Path: "/lib/ld-musl-x86_64.so.1"}},
	})
	tracker := license.NewTracker()

	results, err := exec.Run(context.Background(), BuildContext{Source: src, Staging: staging}, fullRegistry(), tracker)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 4 {
		t.Errorf("len(results) = %d, want 4", len(results))
	}

	info, err := os.Stat(filepath.Join(staging, "tmp"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&fs.ModeSticky == 0 || info.Mode().Perm() != 0o777 {
		t.Errorf("tmp mode = %v, want sticky 0777", info.Mode())
	}

	if target, _ := os.Readlink(filepath.Join(staging, "etc/runlevels/default/sshd")); target != "/etc/init.d/sshd" {
		t.Errorf("runlevel link = %q, want /etc/init.d/sshd", target)
	}
	if info, err := os.Stat(filepath.Join(staging, "etc/init.d/chronyd")); err != nil || info.Mode().Perm() != 0o755 {
		t.Errorf("init script not staged executable: %v", err)
	}
	if _, err := os.Stat(filepath.Join(staging, "sbin/fdisk")); err != nil {
		t.Errorf("fdisk not staged at its upstream path: %v", err)
	}
	if target, _ := os.Readlink(filepath.Join(staging, "usr/share/zoneinfo/Zulu")); target != "UTC" {
		t.Errorf("tree symlink target = %q, want UTC", target)
	}
	if target, _ := os.Readlink(filepath.Join(staging, "lib/ld-musl-x86_64.so.1")); target != "libc.musl-x86_64.so.1" {
		t.Errorf("library link target = %q", target)
	}
	if _, err := os.Stat(filepath.Join(staging, "lib/libc.musl-x86_64.so.1")); err != nil {
		t.Errorf("library link target not staged: %v", err)
	}
	if _, err := os.Stat(filepath.Join(staging, "usr/share/absent")); !os.IsNotExist(err) {
		t.Errorf("absent optional tree should not be created")
	}

	if got := tracker.Binaries(); !reflect.DeepEqual(got, []string{"bash", "busybox", "fdisk"}) {
		t.Errorf("tracker.Binaries() = %v", got)
	}
}

func TestExecutor_SymlinkLastWriterWins(t *testing.T) {
	staging := t.TempDir()
	reg := component.MustRegistry("links",
		component.Component{Name: "a", Phase: component.PhaseBinaries, Ops: []component.Operation{
			component.Symlink("usr/bin/vi", "/usr/bin/busybox"),
		}},
		component.Component{Name: "b", Phase: component.PhaseConfig, Ops: []component.Operation{
			component.Symlink("usr/bin/vi", "/usr/bin/vim"),
		}},
	)

	if _, err := newTestExecutor().Run(context.Background(), BuildContext{Source: t.TempDir(), Staging: staging}, reg, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if target, _ := os.Readlink(filepath.Join(staging, "usr/bin/vi")); target != "/usr/bin/vim" {
		t.Errorf("vi -> %q, want /usr/bin/vim", target)
	}
}

func TestExecutor_WriteFileReplacesSymlink(t *testing.T) {
	staging := t.TempDir()
	outside := filepath.Join(t.TempDir(), "victim")
	mustWrite(t, outside, "untouched", 0o644)
	mustLink(t, outside, filepath.Join(staging, "etc/motd"))

	reg := component.MustRegistry("motd", component.Component{Name: "brand", Phase: component.PhaseConfig, Ops: []component.Operation{
		component.WriteFile("etc/motd", "welcome\n"),
	}})
	if _, err := newTestExecutor().Run(context.Background(), BuildContext{Staging: staging}, reg, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if data, _ := os.ReadFile(outside); string(data) != "untouched" {
		t.Errorf("write followed symlink, victim = %q", data)
	}
	if data, _ := os.ReadFile(filepath.Join(staging, "etc/motd")); string(data) != "welcome\n" {
		t.Errorf("motd = %q", data)
	}
}

func TestExecutor_AccountsUpsert(t *testing.T) {
	staging := t.TempDir()
	mustWrite(t, filepath.Join(staging, "etc/passwd"), "root:x:0:0:root:/root:/bin/sh", 0o644)

	reg := component.MustRegistry("accounts", component.Component{Name: "users", Phase: component.PhaseConfig, Ops: []component.Operation{
		component.User("root", 0, 0, "/root", "/bin/bash"),
		component.User("chrony", 123, 123, "/var/lib/chrony", "/sbin/nologin"),
		component.Group("chrony", 123),
	}})

	exec := newTestExecutor()
	bc := BuildContext{Staging: staging}
	for i := 0; i < 2; i++ {
		if _, err := exec.Run(context.Background(), bc, reg, nil); err != nil {
			t.Fatalf("Run() #%d error = %v", i+1, err)
		}
	}

	passwd, _ := os.ReadFile(filepath.Join(staging, "etc/passwd"))
	want := "root:x:0:0:root:/root:/bin/sh\nchrony:x:123:123:chrony:/var/lib/chrony:/sbin/nologin\n"
	if string(passwd) != want {
		t.Errorf("passwd = %q, want %q", passwd, want)
	}

	group, _ := os.ReadFile(filepath.Join(staging, "etc/group"))
	if string(group) != "chrony:x:123:\n" {
		t.Errorf("group = %q", group)
	}

	info, err := os.Stat(filepath.Join(staging, "etc/shadow"))
	if err != nil {
		t.Fatalf("shadow not created: %v", err)
	}
	if info.Mode().Perm() != 0o640 {
		t.Errorf("shadow mode = %o, want 640", info.Mode().Perm())
	}
	shadow, _ := os.ReadFile(filepath.Join(staging, "etc/shadow"))
	if strings.Count(string(shadow), "chrony:") != 1 {
		t.Errorf("shadow = %q", shadow)
	}
}

func TestExecutor_MissingBinaries(t *testing.T) {
	src := seedSource(t)
	reg := component.MustRegistry("bins", component.Component{Name: "extra-bins", Phase: component.PhaseBinaries, Ops: []component.Operation{
		component.Bins("vim", "bash", "htop"),
	}})

	_, err := newTestExecutor().Run(context.Background(), BuildContext{Source: src, Staging: t.TempDir()}, reg, nil)

	var be *builderr.BuildError
	if !errors.As(err, &be) {
		t.Fatalf("Run() error = %v, want BuildError", err)
	}
	if be.Code != builderr.CodeMissingBinaries {
		t.Errorf("Code = %s, want %s", be.Code, builderr.CodeMissingBinaries)
	}
	if !reflect.DeepEqual(be.Missing, []string{"vim", "htop"}) {
		t.Errorf("Missing = %v, want [vim htop]", be.Missing)
	}
	if be.Component != "extra-bins" {
		t.Errorf("Component = %q, want extra-bins", be.Component)
	}
}

func TestExecutor_MissingSingleBinary(t *testing.T) {
	reg := component.MustRegistry("bins", component.Component{Name: "base", Phase: component.PhaseBinaries, Ops: []component.Operation{
		component.Sbin("openrc"),
	}})

	_, err := newTestExecutor().Run(context.Background(), BuildContext{Source: t.TempDir(), Staging: t.TempDir()}, reg, nil)

	if !builderr.HasCode(err, builderr.CodeMissingRequiredInput) {
		t.Fatalf("Run() error = %v, want %s", err, builderr.CodeMissingRequiredInput)
	}
	var be *builderr.BuildError
	errors.As(err, &be)
	if len(be.Missing) != 4 || be.Missing[0] != "usr/sbin/openrc" {
		t.Errorf("Missing = %v, want sbin-first candidates", be.Missing)
	}
}

func TestExecutor_MissingCopyFile(t *testing.T) {
	reg := component.MustRegistry("copy", component.Component{Name: "apk", Phase: component.PhaseConfig, Ops: []component.Operation{
		component.CopyFile("etc/apk/repositories"),
	}})
	src := t.TempDir()

	_, err := newTestExecutor().Run(context.Background(), BuildContext{Source: src, Staging: t.TempDir()}, reg, nil)

	var be *builderr.BuildError
	if !errors.As(err, &be) || be.Code != builderr.CodeMissingRequiredInput {
		t.Fatalf("Run() error = %v, want missing input", err)
	}
	if be.Path != filepath.Join(src, "etc/apk/repositories") {
		t.Errorf("Path = %q", be.Path)
	}
}

func TestExecutor_MissingInitScripts(t *testing.T) {
	reg := component.MustRegistry("svc", component.Component{Name: "services", Phase: component.PhaseServices, Ops: []component.Operation{
		component.OpenrcScripts("sshd", "networking", "hostname"),
	}})

	_, err := newTestExecutor().Run(context.Background(), BuildContext{Source: seedSource(t), Staging: t.TempDir()}, reg, nil)

	var be *builderr.BuildError
	if !errors.As(err, &be) || be.Code != builderr.CodeMissingRequiredInput {
		t.Fatalf("Run() error = %v, want missing input", err)
	}
	if !reflect.DeepEqual(be.Missing, []string{"networking", "hostname"}) {
		t.Errorf("Missing = %v", be.Missing)
	}
}

func TestExecutor_OpenrcEnableExistingLink(t *testing.T) {
	staging := t.TempDir()
	link := filepath.Join(staging, "etc/runlevels/boot/hostname")
	mustLink(t, "/etc/init.d/hostname", link)
	before, _ := os.Lstat(link)

	reg := component.MustRegistry("svc", component.Component{Name: "services", Phase: component.PhaseServices, Ops: []component.Operation{
		component.OpenrcEnable("hostname", "boot"),
	}})
	if _, err := newTestExecutor().Run(context.Background(), BuildContext{Staging: staging}, reg, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	after, _ := os.Lstat(link)
	if !os.SameFile(before, after) {
		t.Error("existing runlevel link was recreated")
	}
}

func TestExecutor_CustomDispatch(t *testing.T) {
	staging := t.TempDir()
	var seen []component.CustomTag

	d := dispatchFunc(func(ctx context.Context, tag component.CustomTag, env Env) error {
		seen = append(seen, tag)
		if env.Component != "final" {
			t.Errorf("env.Component = %q, want final", env.Component)
		}
		return env.Apply(ctx, component.WriteFile("etc/issue", "AcornOS\n"))
	})
	reg := component.MustRegistry("custom", component.Component{Name: "final", Phase: component.PhaseFinal, Ops: []component.Operation{
		component.Custom("CreateWelcomeMessage"),
	}})

	if _, err := newTestExecutor().WithDispatcher(d).Run(context.Background(), BuildContext{Staging: staging}, reg, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(seen) != 1 || seen[0] != "CreateWelcomeMessage" {
		t.Errorf("dispatched = %v", seen)
	}
	if data, _ := os.ReadFile(filepath.Join(staging, "etc/issue")); string(data) != "AcornOS\n" {
		t.Errorf("issue = %q", data)
	}
}

func TestExecutor_CustomFailureWrapped(t *testing.T) {
	boom := errors.New("depmod exited 1")
	d := dispatchFunc(func(context.Context, component.CustomTag, Env) error { return boom })
	reg := component.MustRegistry("custom", component.Component{Name: "kernel-modules", Phase: component.PhaseFirmware, Ops: []component.Operation{
		component.Custom("RunDepmod"),
	}})

	_, err := newTestExecutor().WithDispatcher(d).Run(context.Background(), BuildContext{Staging: t.TempDir()}, reg, nil)

	var be *builderr.BuildError
	if !errors.As(err, &be) {
		t.Fatalf("Run() error = %v, want BuildError", err)
	}
	if be.Code != builderr.CodeCustomOpFailed || be.Component != "kernel-modules" || be.Operation != "RunDepmod" {
		t.Errorf("got code=%s component=%q op=%q", be.Code, be.Component, be.Operation)
	}
	if !errors.Is(err, boom) {
		t.Errorf("underlying error lost: %v", err)
	}
}

func TestExecutor_CustomWithoutDispatcher(t *testing.T) {
	reg := component.MustRegistry("custom", component.Component{Name: "final", Phase: component.PhaseFinal, Ops: []component.Operation{
		component.Custom("CopyRecstrap"),
	}})

	_, err := newTestExecutor().Run(context.Background(), BuildContext{Staging: t.TempDir()}, reg, nil)
	if !builderr.HasCode(err, builderr.CodeCustomOpFailed) {
		t.Errorf("Run() error = %v, want %s", err, builderr.CodeCustomOpFailed)
	}
}

func TestExecutor_StopsAtFirstFailure(t *testing.T) {
	staging := t.TempDir()
	reg := component.MustRegistry("stop",
		component.Component{Name: "first", Phase: component.PhaseFilesystem, Ops: []component.Operation{
			component.Dir("etc"),
			component.CopyFile("etc/missing"),
			component.Dir("never"),
		}},
		component.Component{Name: "second", Phase: component.PhaseConfig, Ops: []component.Operation{
			component.Dir("also-never"),
		}},
	)

	results, err := newTestExecutor().Run(context.Background(), BuildContext{Source: t.TempDir(), Staging: staging}, reg, nil)
	if err == nil {
		t.Fatal("Run() should fail")
	}
	if len(results) != 1 || results[0].Applied() != 1 || results[0].Error() == nil {
		t.Errorf("results = %+v", results)
	}
	if _, err := os.Stat(filepath.Join(staging, "etc")); err != nil {
		t.Error("partial work should be left in place")
	}
	if _, err := os.Stat(filepath.Join(staging, "never")); !os.IsNotExist(err) {
		t.Error("operations after the failure ran")
	}
}

func TestExecutor_LicensesFlushedOnlyOnSuccess(t *testing.T) {
	src := seedSource(t)
	ok := component.MustRegistry("ok", component.Component{Name: "bins", Phase: component.PhaseBinaries, Ops: []component.Operation{
		component.Bin("busybox"),
	}})
	bad := component.MustRegistry("bad", component.Component{Name: "bins", Phase: component.PhaseBinaries, Ops: []component.Operation{
		component.Bin("busybox"),
		component.Bin("nonexistent"),
	}})
	exec := newTestExecutor().WithLicenses(fakeLicenses{})

	failed := license.NewTracker()
	if _, err := exec.Run(context.Background(), BuildContext{Source: src, Staging: t.TempDir()}, bad, failed); err == nil {
		t.Fatal("Run() should fail")
	}
	if failed.Flushed() {
		t.Error("tracker flushed after failed pass")
	}

	staging := t.TempDir()
	tracker := license.NewTracker()
	if _, err := exec.Run(context.Background(), BuildContext{Source: src, Staging: staging}, ok, tracker); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !tracker.Flushed() {
		t.Error("tracker not flushed after successful pass")
	}
	if data, _ := os.ReadFile(filepath.Join(staging, license.LicenseDir, "busybox", "LICENSE")); string(data) != "busybox license" {
		t.Errorf("LICENSE = %q", data)
	}
}

func TestExecutor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reg := component.MustRegistry("c", component.Component{Name: "fs", Phase: component.PhaseFilesystem, Ops: []component.Operation{component.Dir("etc")}})
	_, err := newTestExecutor().Run(ctx, BuildContext{Staging: t.TempDir()}, reg, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestExecutor_UsesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	scoped := logging.NewConsoleLogger(logging.WithOutput(&buf), logging.WithLevel(ports.LevelDebug)).
		With(ports.F("kind", "rootfs"))
	ctx := ports.ContextWithLogger(context.Background(), scoped)

	reg := component.MustRegistry("c", component.Component{Name: "fs", Phase: component.PhaseFilesystem, Ops: []component.Operation{component.Dir("etc")}})
	if _, err := newTestExecutor().Run(ctx, BuildContext{Staging: t.TempDir()}, reg, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "component applied") || !strings.Contains(out, "kind=rootfs") {
		t.Errorf("log output = %q, want scoped component lines", out)
	}
}
