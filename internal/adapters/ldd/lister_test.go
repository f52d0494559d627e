package ldd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acornos/acornbuild/internal/domain/execution"
	"github.com/acornos/acornbuild/internal/ports"
	"github.com/acornos/acornbuild/internal/testutil/mocks"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		output string
		want   []execution.Library
	}{
		{
			name: "glibc style",
			output: "\tlinux-vdso.so.1 (0x00007ffd5a5f2000)\n" +
				"\tlibncursesw.so.6 => /lib/libncursesw.so.6 (0x00007f2b1c000000)\n" +
				"\tlibc.so.6 => /lib/x86_64-linux-gnu/libc.so.6 (0x00007f2b1bc00000)\n" +
				"\t/lib64/ld-linux-x86-64.so.2 (0x00007f2b1c2a0000)\n",
			want: []execution.Library{
				{Name: "libncursesw.so.6", Path: "/lib/libncursesw.so.6"},
				{Name: "libc.so.6", Path: "/lib/x86_64-linux-gnu/libc.so.6"},
				{Name: "ld-linux-x86-64.so.2", Path: "/lib64/ld-linux-x86-64.so.2"},
			},
		},
		{
			name: "musl loader",
			output: "\t/lib/ld-musl-x86_64.so.1 (0x7f6f4c3a1000)\n" +
				"\tlibc.musl-x86_64.so.1 => /lib/ld-musl-x86_64.so.1 (0x7f6f4c3a1000)\n",
			want: []execution.Library{
				{Name: "ld-musl-x86_64.so.1", Path: "/lib/ld-musl-x86_64.so.1"},
				{Name: "libc.musl-x86_64.so.1", Path: "/lib/ld-musl-x86_64.so.1"},
			},
		},
		{
			name:   "unresolved",
			output: "\tlibintl.so.8 => not found\n",
			want:   []execution.Library{{Name: "libintl.so.8"}},
		},
		{
			name:   "static",
			output: "\tnot a dynamic executable\n",
			want:   nil,
		},
		{
			name:   "duplicates",
			output: "libz.so.1 => /lib/libz.so.1 (0x1)\nlibz.so.1 => /lib/libz.so.1 (0x2)\n",
			want:   []execution.Library{{Name: "libz.so.1", Path: "/lib/libz.so.1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Parse(tt.output))
		})
	}
}

func TestLister_Libraries(t *testing.T) {
	t.Parallel()

	runner := mocks.NewCommandRunner()
	runner.AddResult("ldd", []string{"/src/usr/bin/vim"}, ports.CommandResult{
		Stdout: "libncursesw.so.6 => /usr/lib/libncursesw.so.6 (0x1)\n",
	})

	libs, err := New(runner, "").Libraries(context.Background(), "/src/usr/bin/vim")
	require.NoError(t, err)
	assert.Equal(t, []execution.Library{{Name: "libncursesw.so.6", Path: "/usr/lib/libncursesw.so.6"}}, libs)
}

func TestLister_NonZeroExitIsStatic(t *testing.T) {
	t.Parallel()

	runner := mocks.NewCommandRunner()
	runner.AddResult("ldd", []string{"/src/bin/busybox"}, ports.CommandResult{
		ExitCode: 1,
		Stderr:   "not a dynamic executable",
	})

	libs, err := New(runner, "").Libraries(context.Background(), "/src/bin/busybox")
	require.NoError(t, err)
	assert.Empty(t, libs)
}

func TestLister_CustomCommand(t *testing.T) {
	t.Parallel()

	runner := mocks.NewCommandRunner()
	runner.AddError("musl-ldd", []string{"/src/bin/x"}, errors.New("exec: not found"))

	_, err := New(runner, "musl-ldd").Libraries(context.Background(), "/src/bin/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "musl-ldd")
}
