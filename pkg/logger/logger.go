// Package logger provides the structured logger shared by every signflow
// component. It is a thin layer over logrus that adds request-scoped fields
// carried in context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LoggingConfig selects level, format and destination.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePrefix string `yaml:"file_prefix"`
}

type ctxKey string

const (
	traceIDKey  ctxKey = "trace_id"
	userIDKey   ctxKey = "user_id"
	orgIDKey    ctxKey = "organization_id"
	clientIPKey ctxKey = "client_ip"
)

// Logger wraps a logrus entry so fields can be layered cheaply.
type Logger struct {
	*logrus.Entry
}

// New builds a logger from configuration. Unknown levels fall back to info.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	base.SetOutput(openOutput(cfg))
	return &Logger{Entry: logrus.NewEntry(base)}
}

// NewDefault returns an info-level text logger tagged with the component name.
func NewDefault(component string) *Logger {
	l := New(LoggingConfig{Level: "info", Format: "text", Output: "stdout"})
	if component == "" {
		return l
	}
	return l.WithField("component", component)
}

// NewDiscard returns a logger that drops everything. Used in tests.
func NewDiscard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{Entry: logrus.NewEntry(base)}
}

func openOutput(cfg LoggingConfig) io.Writer {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "signflow"
		}
		name := fmt.Sprintf("%s-%s.log", prefix, time.Now().UTC().Format("20060102"))
		if dir := filepath.Dir(prefix); dir != "." {
			_ = os.MkdirAll(dir, 0o750)
		}
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: open %s: %v, falling back to stdout\n", name, err)
			return os.Stdout
		}
		return f
	default:
		return os.Stdout
	}
}

// WithField returns a child logger with one extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithFields returns a child logger with the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

// WithError attaches err under the standard error key.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Entry: l.Entry.WithError(err)}
}

// WithContext copies trace, user and organization ids from ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	fields := logrus.Fields{}
	if v := GetTraceID(ctx); v != "" {
		fields["trace_id"] = v
	}
	if v := GetUserID(ctx); v != "" {
		fields["user_id"] = v
	}
	if v := GetOrganizationID(ctx); v != "" {
		fields["organization_id"] = v
	}
	if len(fields) == 0 {
		return l
	}
	return &Logger{Entry: l.Entry.WithFields(fields)}
}

// LogRequest writes one access-log line.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(map[string]interface{}{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	switch {
	case status >= 500:
		entry.Error("request failed")
	case status >= 400:
		entry.Warn("request rejected")
	default:
		entry.Info("request served")
	}
}

// LogSecurityEvent records auth failures, rate limiting and similar events.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).WithField("security_event", event).Warn("security event")
}

// NewTraceID returns a fresh trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores a trace id in ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID returns the trace id stored in ctx, if any.
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// WithUserID stores the authenticated user id in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID returns the authenticated user id stored in ctx.
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// WithOrganizationID stores the tenant id in ctx.
func WithOrganizationID(ctx context.Context, orgID string) context.Context {
	if orgID == "" {
		return ctx
	}
	return context.WithValue(ctx, orgIDKey, orgID)
}

// GetOrganizationID returns the tenant id stored in ctx.
func GetOrganizationID(ctx context.Context) string {
	v, _ := ctx.Value(orgIDKey).(string)
	return v
}

// WithClientIP stores the caller's address in ctx.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey, ip)
}

// GetClientIP returns the caller's address stored in ctx.
func GetClientIP(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey).(string)
	return v
}
