// Package logger provides context-aware structured logging built on logrus.
// Library code retrieves the logger from the context via G(ctx) so that
// per-conversation fields (session id, active skill) travel with the request.
package logger

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// G is a convenience alias for GetLogger.
	G = GetLogger
	// L is the global fallback entry used when no logger is found in context.
	L = logrus.NewEntry(newLogger())
)

type loggerKey struct{}

// WithLogger attaches a logger entry to the context, retrievable via GetLogger.
func WithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	e := entry.WithContext(ctx)
	return context.WithValue(ctx, loggerKey{}, e)
}

// GetLogger retrieves the logger entry from the context, falling back to the
// global entry L when none is attached.
func GetLogger(ctx context.Context) *logrus.Entry {
	entry := ctx.Value(loggerKey{})
	if entry == nil {
		return L.WithContext(ctx)
	}
	return entry.(*logrus.Entry)
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	setFormat(l, "text")
	return l
}

func setFormat(l *logrus.Logger, format string) {
	switch format {
	case "json":
		l.Formatter = &logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
			TimestampFormat: time.RFC3339Nano,
		}
	default:
		l.Formatter = &logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
			FullTimestamp:   true,
		}
	}
}

// SetLogLevel sets the level of the global logger.
func SetLogLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	L.Logger.SetLevel(parsed)
	return nil
}

// SetLogFormat sets the output format ("text" or "json") of the global logger.
func SetLogFormat(format string) {
	setFormat(L.Logger, format)
}

// SetLogOutput redirects the global logger output.
func SetLogOutput(w io.Writer) {
	L.Logger.SetOutput(w)
}
