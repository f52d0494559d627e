package acorn

import (
	"errors"
	"reflect"
	"testing"

	"github.com/acornos/acornbuild/internal/domain/builderr"
	"github.com/acornos/acornbuild/internal/testutil"
)

func TestOSRelease(t *testing.T) {
	tests := []struct {
		name    string
		content string
		missing []string
	}{
		{"complete", osRelease, nil},
		{"missing version", "NAME=\"AcornOS\"\nID=acornos\n", []string{"VERSION_ID"}},
		{"empty value", "NAME=\nID=acornos\nVERSION_ID=1.0\n", []string{"NAME"}},
		{"comments only", "# nothing here\n", []string{"NAME", "ID", "VERSION_ID"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			testutil.WriteTempFile(t, dir, "etc/os-release", tt.content)

			err := OSRelease("etc/os-release", osReleaseKeys...)(realFS(), dir)
			if tt.missing == nil {
				if err != nil {
					t.Fatalf("check error = %v", err)
				}
				return
			}

			var be *builderr.BuildError
			if !errors.As(err, &be) {
				t.Fatalf("check error = %v, want *builderr.BuildError", err)
			}
			if be.Code != builderr.CodeSanityCheckFailed {
				t.Errorf("Code = %s, want %s", be.Code, builderr.CodeSanityCheckFailed)
			}
			if !reflect.DeepEqual(be.Missing, tt.missing) {
				t.Errorf("Missing = %v, want %v", be.Missing, tt.missing)
			}
		})
	}
}

func TestOSRelease_Unreadable(t *testing.T) {
	err := OSRelease("etc/os-release", "NAME")(realFS(), t.TempDir())
	if !builderr.HasCode(err, builderr.CodeSanityCheckFailed) {
		t.Errorf("check error = %v, want %s", err, builderr.CodeSanityCheckFailed)
	}
}

func TestStagingCheck_ReportsMissingEntries(t *testing.T) {
	dir := testutil.NewSourceTree().
		WithFile("etc/os-release", osRelease).
		WithFile("etc/init.d/sshd", "#!/sbin/openrc-run\n").
		Write(t, t.TempDir())

	err := StagingCheck()(realFS(), dir)
	var be *builderr.BuildError
	if !errors.As(err, &be) {
		t.Fatalf("StagingCheck() error = %v, want *builderr.BuildError", err)
	}
	if be.Code != builderr.CodeSanityCheckFailed {
		t.Errorf("Code = %s, want %s", be.Code, builderr.CodeSanityCheckFailed)
	}
	if len(be.Missing) == 0 {
		t.Error("Missing is empty")
	}
}
