package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/acornos/acornbuild/internal/ports"
)

// ConsoleLogger writes build progress to a terminal stream, either as
// "15:04:05 [INFO] msg key=value" lines or as one JSON object per line.
// Derived loggers created by With share the parent's writer lock.
type ConsoleLogger struct {
	mu         *sync.Mutex
	out        io.Writer
	level      ports.Level
	fields     []ports.Field
	jsonFormat bool
	clock      func() time.Time
}

// ConsoleLoggerOption configures the console logger.
type ConsoleLoggerOption func(*ConsoleLogger)

// WithOutput sets the output writer (default: os.Stderr).
func WithOutput(w io.Writer) ConsoleLoggerOption {
	return func(l *ConsoleLogger) {
		l.out = w
	}
}

// WithLevel sets the minimum log level (default: Info).
func WithLevel(level ports.Level) ConsoleLoggerOption {
	return func(l *ConsoleLogger) {
		l.level = level
	}
}

// WithJSONFormat enables JSON output format.
func WithJSONFormat(enabled bool) ConsoleLoggerOption {
	return func(l *ConsoleLogger) {
		l.jsonFormat = enabled
	}
}

// WithClock overrides the timestamp source. A nil clock omits timestamps.
func WithClock(clock func() time.Time) ConsoleLoggerOption {
	return func(l *ConsoleLogger) {
		l.clock = clock
	}
}

// NewConsoleLogger creates a new console logger.
func NewConsoleLogger(opts ...ConsoleLoggerOption) *ConsoleLogger {
	l := &ConsoleLogger{
		mu:    &sync.Mutex{},
		out:   os.Stderr,
		level: ports.LevelInfo,
		clock: time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Debug logs a debug message.
func (l *ConsoleLogger) Debug(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelDebug, msg, fields)
}

// Info logs an informational message.
func (l *ConsoleLogger) Info(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelInfo, msg, fields)
}

// Warn logs a warning message.
func (l *ConsoleLogger) Warn(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelWarn, msg, fields)
}

// Error logs an error message.
func (l *ConsoleLogger) Error(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelError, msg, fields)
}

// With returns a logger that prefixes every entry with fields.
func (l *ConsoleLogger) With(fields ...ports.Field) ports.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	child := *l
	child.fields = append(append([]ports.Field(nil), l.fields...), fields...)
	return &child
}

// Level returns the minimum log level.
func (l *ConsoleLogger) Level() ports.Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetLevel sets the minimum log level.
func (l *ConsoleLogger) SetLevel(level ports.Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *ConsoleLogger) log(_ context.Context, level ports.Level, msg string, fields []ports.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	all := append(append([]ports.Field(nil), l.fields...), fields...)

	var line string
	if l.jsonFormat {
		line = l.formatJSON(level, msg, all)
	} else {
		line = l.formatText(level, msg, all)
	}
	if line != "" {
		_, _ = fmt.Fprintln(l.out, line)
	}
}

func (l *ConsoleLogger) formatJSON(level ports.Level, msg string, fields []ports.Field) string {
	entry := make(map[string]interface{}, len(fields)+3)
	if l.clock != nil {
		entry["time"] = l.clock().UTC().Format(time.RFC3339)
	}
	entry["level"] = level.String()
	entry["msg"] = msg
	for _, f := range fields {
		entry[f.Key] = jsonValue(f.Value)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return ""
	}
	return string(data)
}

func (l *ConsoleLogger) formatText(level ports.Level, msg string, fields []ports.Field) string {
	var b strings.Builder
	if l.clock != nil {
		b.WriteString(l.clock().Format("15:04:05"))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "[%s] %s", level.String(), msg)
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%s", f.Key, textValue(f.Value))
	}
	return b.String()
}

func jsonValue(v interface{}) interface{} {
	switch val := v.(type) {
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}

func textValue(v interface{}) string {
	var s string
	switch val := v.(type) {
	case error:
		s = val.Error()
	case string:
		s = val
	default:
		s = fmt.Sprintf("%v", v)
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// Ensure ConsoleLogger implements Logger.
var _ ports.Logger = (*ConsoleLogger)(nil)
