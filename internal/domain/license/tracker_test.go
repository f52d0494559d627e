package license

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/acornos/acornbuild/internal/adapters/filesystem"
	"github.com/acornos/acornbuild/internal/adapters/logging"
)

type fakeSource struct {
	owners   map[string]string
	licenses map[string]string
	fail     error
}

func (f fakeSource) Owner(binary string) (string, bool) {
	pkg, ok := f.owners[binary]
	return pkg, ok
}

func (f fakeSource) License(pkg string) ([]byte, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	text, ok := f.licenses[pkg]
	if !ok {
		return nil, ErrNoLicense
	}
	return []byte(text), nil
}

func TestTracker_Accumulates(t *testing.T) {
	tr := NewTracker()
	tr.AddBinary("vim")
	tr.AddBinary("bash")
	tr.AddBinary("vim")
	tr.AddPackage("openrc")
	tr.AddPackage("")

	if got := tr.Binaries(); !reflect.DeepEqual(got, []string{"bash", "vim"}) {
		t.Errorf("Binaries() = %v", got)
	}
	if got := tr.Packages(); !reflect.DeepEqual(got, []string{"openrc"}) {
		t.Errorf("Packages() = %v", got)
	}
}

func TestTracker_Flush(t *testing.T) {
	staging := t.TempDir()
	tr := NewTracker()
	tr.AddBinary("bash")
	tr.AddBinary("mystery")
	tr.AddPackage("openrc")
	tr.AddPackage("tzdata")

	src := fakeSource{
		owners:   map[string]string{"bash": "bash"},
		licenses: map[string]string{"bash": "GPL-3.0-or-later", "openrc": "BSD-2-Clause"},
	}

	report, err := tr.Flush(context.Background(), filesystem.NewRealFileSystem(), src, staging, logging.NewNopLogger())
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if !reflect.DeepEqual(report.Written, []string{"bash", "openrc"}) {
		t.Errorf("Written = %v", report.Written)
	}
	if !reflect.DeepEqual(report.Missing, []string{"tzdata"}) {
		t.Errorf("Missing = %v", report.Missing)
	}
	if !reflect.DeepEqual(report.Orphans, []string{"mystery"}) {
		t.Errorf("Orphans = %v", report.Orphans)
	}

	data, err := os.ReadFile(filepath.Join(staging, LicenseDir, "bash", "LICENSE"))
	if err != nil {
		t.Fatalf("license not written: %v", err)
	}
	if string(data) != "GPL-3.0-or-later" {
		t.Errorf("license = %q", data)
	}
}

func TestTracker_FlushOnce(t *testing.T) {
	tr := NewTracker()
	fs := filesystem.NewRealFileSystem()
	staging := t.TempDir()

	if _, err := tr.Flush(context.Background(), fs, fakeSource{}, staging, logging.NewNopLogger()); err != nil {
		t.Fatalf("first Flush() error = %v", err)
	}
	if !tr.Flushed() {
		t.Error("Flushed() = false after Flush")
	}
	if _, err := tr.Flush(context.Background(), fs, fakeSource{}, staging, logging.NewNopLogger()); !errors.Is(err, ErrAlreadyFlushed) {
		t.Errorf("second Flush() error = %v, want ErrAlreadyFlushed", err)
	}
}

func TestTracker_FlushSourceError(t *testing.T) {
	tr := NewTracker()
	tr.AddPackage("busybox")

	boom := errors.New("permission denied")
	_, err := tr.Flush(context.Background(), filesystem.NewRealFileSystem(), fakeSource{fail: boom}, t.TempDir(), logging.NewNopLogger())
	if !errors.Is(err, boom) {
		t.Errorf("Flush() error = %v, want %v", err, boom)
	}
}
