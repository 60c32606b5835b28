package utils

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	userIDKey        contextKey = "user_id"
	tenantIDKey      contextKey = "tenant_id"
	adminKey         contextKey = "is_admin"
)

type Logger struct {
	service string
	entry   *logrus.Logger
}

var base = newBaseLogger(os.Stdout, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

var defaultLogger = &Logger{
	service: "cashback",
	entry:   base,
}

func newBaseLogger(out io.Writer, level, format string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	if strings.EqualFold(format, "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)
	return l
}

// ConfigureLogging resets the shared logger output, level and format.
func ConfigureLogging(out io.Writer, level, format string) {
	l := newBaseLogger(out, level, format)
	base.SetOutput(l.Out)
	base.SetFormatter(l.Formatter)
	base.SetLevel(l.Level)
}

func CreateLogger(service string) *Logger {
	return &Logger{
		service: service,
		entry:   base,
	}
}

func (l *Logger) Debug(ctx context.Context, message string, fields ...map[string]interface{}) {
	l.with(ctx, fields...).Debug(message)
}

func (l *Logger) Info(ctx context.Context, message string, fields ...map[string]interface{}) {
	l.with(ctx, fields...).Info(message)
}

func (l *Logger) Warn(ctx context.Context, message string, fields ...map[string]interface{}) {
	l.with(ctx, fields...).Warn(message)
}

func (l *Logger) Error(ctx context.Context, message string, fields ...map[string]interface{}) {
	l.with(ctx, fields...).Error(message)
}

func (l *Logger) with(ctx context.Context, fields ...map[string]interface{}) *logrus.Entry {
	entry := l.entry.WithField("service", l.service)
	if ctx != nil {
		if id := GetCorrelationID(ctx); id != "" {
			entry = entry.WithField("correlation_id", id)
		}
		if id := GetUserID(ctx); id != "" {
			entry = entry.WithField("user_id", id)
		}
		if id := GetTenantID(ctx); id != "" {
			entry = entry.WithField("tenant_id", id)
		}
	}
	for _, f := range fields {
		entry = entry.WithFields(logrus.Fields(f))
	}
	return entry
}

func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func GetTenantID(ctx context.Context) string {
	if id, ok := ctx.Value(tenantIDKey).(string); ok {
		return id
	}
	return ""
}

func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// IsAdmin reports whether the caller was authenticated with the admin role.
func IsAdmin(ctx context.Context) bool {
	admin, _ := ctx.Value(adminKey).(bool)
	return admin
}

func WithAdmin(ctx context.Context, admin bool) context.Context {
	return context.WithValue(ctx, adminKey, admin)
}

func Debug(ctx context.Context, message string, fields ...map[string]interface{}) {
	defaultLogger.Debug(ctx, message, fields...)
}

func Info(ctx context.Context, message string, fields ...map[string]interface{}) {
	defaultLogger.Info(ctx, message, fields...)
}

func Warn(ctx context.Context, message string, fields ...map[string]interface{}) {
	defaultLogger.Warn(ctx, message, fields...)
}

func Error(ctx context.Context, message string, fields ...map[string]interface{}) {
	defaultLogger.Error(ctx, message, fields...)
}

// Printf lets the logger back libraries that expect a printf-style writer.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.entry.WithField("service", l.service).Infof(format, args...)
}
