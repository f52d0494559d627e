package ports

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{input: "debug", want: LevelDebug},
		{input: "INFO", want: LevelInfo},
		{input: "", want: LevelInfo},
		{input: " warning ", want: LevelWarn},
		{input: "error", want: LevelError},
		{input: "loud", want: LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestF(t *testing.T) {
	t.Parallel()

	field := F("component", "busybox")
	assert.Equal(t, "component", field.Key)
	assert.Equal(t, "busybox", field.Value)
}

type stubLogger struct {
	level Level
}

func (s *stubLogger) Debug(_ context.Context, _ string, _ ...Field) {}
func (s *stubLogger) Info(_ context.Context, _ string, _ ...Field)  {}
func (s *stubLogger) Warn(_ context.Context, _ string, _ ...Field)  {}
func (s *stubLogger) Error(_ context.Context, _ string, _ ...Field) {}
func (s *stubLogger) With(_ ...Field) Logger                        { return s }
func (s *stubLogger) Level() Level                                  { return s.level }
func (s *stubLogger) SetLevel(level Level)                          { s.level = level }

func TestContextWithLogger_RoundTrip(t *testing.T) {
	t.Parallel()

	logger := &stubLogger{level: LevelInfo}
	ctx := ContextWithLogger(context.Background(), logger)

	got := LoggerFromContext(ctx)
	require.NotNil(t, got)
	assert.Equal(t, logger, got)
}

func TestLoggerFromContext_ReturnsNilWhenAbsent(t *testing.T) {
	t.Parallel()

	assert.Nil(t, LoggerFromContext(context.Background()))
}

func TestCommandResult_Success(t *testing.T) {
	t.Parallel()

	assert.True(t, CommandResult{ExitCode: 0}.Success())
	assert.False(t, CommandResult{ExitCode: 2, Stderr: "boom"}.Success())
}

func TestExpandPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/abs/path", ExpandPath("/abs/path"))
	assert.Equal(t, "relative", ExpandPath("relative"))

	expanded := ExpandPath("~/cache")
	assert.True(t, filepath.IsAbs(expanded) || expanded == "~/cache")
}
