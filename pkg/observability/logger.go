package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/platinummonkey/sitegate/pkg/contextkeys"
)

// ServiceName tags every record written by a Logger
const ServiceName = "sitegate"

// LogLevel is the minimum severity a Logger writes
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levels = [...]struct {
	name string
	slog slog.Level
}{
	DebugLevel: {"DEBUG", slog.LevelDebug},
	InfoLevel:  {"INFO", slog.LevelInfo},
	WarnLevel:  {"WARN", slog.LevelWarn},
	ErrorLevel: {"ERROR", slog.LevelError},
}

func (l LogLevel) valid() bool {
	return l >= DebugLevel && l <= ErrorLevel
}

func (l LogLevel) String() string {
	if !l.valid() {
		return levels[InfoLevel].name
	}
	return levels[l].name
}

// ParseLogLevel maps SITEGATE_LOG_LEVEL to a level. Unknown values are InfoLevel.
func ParseLogLevel(s string) LogLevel {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARNING" {
		return WarnLevel
	}
	for l, lv := range levels {
		if lv.name == s {
			return LogLevel(l)
		}
	}
	return InfoLevel
}

// Logger writes JSON records through slog. Request-scoped ids are attached
// by FromContext.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a logger writing records at level or above to output
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	if !level.valid() {
		level = InfoLevel
	}
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: levels[level].slog})
	return &Logger{logger: slog.New(handler).With("service", ServiceName)}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	return NewLogger(ErrorLevel, io.Discard)
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...)}
}

// WithField adds a field to every record
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(key, value)
}

// WithFields adds several fields to every record
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.with(args...)
}

// WithError adds err as the error field
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

func (l *Logger) Debug(message string) { l.logger.Debug(message) }

func (l *Logger) Info(message string) { l.logger.Info(message) }

func (l *Logger) Warn(message string) { l.logger.Warn(message) }

func (l *Logger) Error(message string) { l.logger.Error(message) }

type contextKey int

const (
	principalIDKey contextKey = iota
	projectIDKey
	loggerKey
)

// WithCorrelationID adds a correlation id to the context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return contextkeys.WithCorrelationID(ctx, id)
}

// GetCorrelationID retrieves the correlation id from context
func GetCorrelationID(ctx context.Context) string {
	return contextkeys.GetCorrelationID(ctx)
}

// WithPrincipalID records the authenticated principal
func WithPrincipalID(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, principalIDKey, principalID)
}

// WithProjectID records the project a call was scoped to
func WithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, projectIDKey, projectID)
}

// WithLogger stores logger for FromContext
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

func stringValue(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// FromContext returns the stored logger, or an info logger on stdout, with
// the correlation, principal and project ids of ctx attached
func FromContext(ctx context.Context) *Logger {
	logger, ok := ctx.Value(loggerKey).(*Logger)
	if !ok {
		logger = NewLogger(InfoLevel, os.Stdout)
	}

	args := make([]any, 0, 6)
	for _, f := range []struct {
		key, value string
	}{
		{"correlation_id", GetCorrelationID(ctx)},
		{"principal_id", stringValue(ctx, principalIDKey)},
		{"project_id", stringValue(ctx, projectIDKey)},
	} {
		if f.value != "" {
			args = append(args, f.key, f.value)
		}
	}
	if len(args) == 0 {
		return logger
	}
	return logger.with(args...)
}
