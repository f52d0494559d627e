package command

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/acornos/acornbuild/internal/domain/builderr"
	"github.com/acornos/acornbuild/internal/ports"
)

func TestRealRunner_Run_Success(t *testing.T) {
	runner := NewRealRunner()

	result, err := runner.Run(context.Background(), "echo", "hello")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Success() {
		t.Error("Run() should succeed for 'echo hello'")
	}
	if result.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "hello\n")
	}
}

func TestRealRunner_Run_NonZeroIsNotError(t *testing.T) {
	runner := NewRealRunner()

	result, err := runner.Run(context.Background(), "sh", "-c", "echo oops >&2; exit 3")
	if err != nil {
		t.Fatalf("Run() error = %v (exit codes are reported, not returned)", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
	if result.Stderr != "oops\n" {
		t.Errorf("Stderr = %q, want %q", result.Stderr, "oops\n")
	}
}

func TestRealRunner_Run_NotFound(t *testing.T) {
	runner := NewRealRunner()

	if _, err := runner.Run(context.Background(), "nonexistent-command-12345"); err == nil {
		t.Error("Run() should return error for non-existent command")
	}
}

func TestRealRunner_Stream_RedirectsStreams(t *testing.T) {
	runner := NewRealRunner()

	var out bytes.Buffer
	err := runner.Stream(context.Background(), ports.ProcessSpec{
		Command: "cat",
		Stdin:   strings.NewReader("piped"),
		Stdout:  &out,
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if out.String() != "piped" {
		t.Errorf("stdout = %q, want %q", out.String(), "piped")
	}
}

func TestRealRunner_Stream_FailureCarriesHint(t *testing.T) {
	runner := NewRealRunner()

	err := runner.Stream(context.Background(), ports.ProcessSpec{
		Command: "sh",
		Args:    []string{"-c", "exit 1"},
		Stdout:  &bytes.Buffer{},
		Stderr:  &bytes.Buffer{},
		Hint:    "busybox",
	})
	if err == nil {
		t.Fatal("Stream() should fail for non-zero exit")
	}
	if !builderr.HasCode(err, builderr.CodeChildProcessFailed) {
		t.Errorf("error code missing: %v", err)
	}
	if !strings.Contains(err.(*builderr.BuildError).Suggestion, "busybox") {
		t.Errorf("Suggestion = %q, want hint", err.(*builderr.BuildError).Suggestion)
	}
}

func TestRealRunner_LookPath(t *testing.T) {
	runner := NewRealRunner()

	if _, err := runner.LookPath("sh"); err != nil {
		t.Errorf("LookPath(sh) error = %v", err)
	}
	if _, err := runner.LookPath("nonexistent-command-12345"); err == nil {
		t.Error("LookPath() should fail for missing tool")
	}
}
