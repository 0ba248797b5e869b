// Package log provides a context-aware structured logging facade on top of
// logrus. Call sites pass alternating key/value pairs after the message; an
// error may appear anywhere in the tail and is mapped to the "error" field.
package log

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

type contextKey string

const loggerCtxKey contextKey = "logger"

var defaultLogger = logrus.New()

// SetLevel adjusts the global log level ("error", "warn", "info", "debug",
// "trace"). Unknown values fall back to info.
func SetLevel(level string) {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		l = logrus.InfoLevel
	}
	defaultLogger.SetLevel(l)
}

// SetOutput redirects all log output.
func SetOutput(w io.Writer) {
	defaultLogger.SetOutput(w)
}

// NewContext returns a ctx carrying the given fields. All log calls made with
// the returned context include them.
func NewContext(ctx context.Context, keyValuePairs ...any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	entry := fromContext(ctx).WithFields(toFields(keyValuePairs))
	return context.WithValue(ctx, loggerCtxKey, entry)
}

func fromContext(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if entry, ok := ctx.Value(loggerCtxKey).(*logrus.Entry); ok {
			return entry
		}
	}
	return logrus.NewEntry(defaultLogger)
}

func Error(args ...any) { dispatch(logrus.ErrorLevel, args...) }
func Warn(args ...any)  { dispatch(logrus.WarnLevel, args...) }
func Info(args ...any)  { dispatch(logrus.InfoLevel, args...) }
func Debug(args ...any) { dispatch(logrus.DebugLevel, args...) }
func Trace(args ...any) { dispatch(logrus.TraceLevel, args...) }

// Fatal logs and exits. Reserved for unrecoverable startup and storage
// failures (spec: repeated rollback failures terminate the process).
func Fatal(args ...any) { dispatch(logrus.FatalLevel, args...) }

func dispatch(level logrus.Level, args ...any) {
	var ctx context.Context
	if len(args) > 0 {
		if c, ok := args[0].(context.Context); ok {
			ctx = c
			args = args[1:]
		}
	}
	if len(args) == 0 {
		return
	}
	msg := fmt.Sprint(args[0])
	entry := fromContext(ctx)

	rest := args[1:]
	kv := make([]any, 0, len(rest))
	for _, a := range rest {
		if err, ok := a.(error); ok {
			entry = entry.WithError(err)
			continue
		}
		kv = append(kv, a)
	}
	entry = entry.WithFields(toFields(kv))

	switch level {
	case logrus.ErrorLevel:
		entry.Error(msg)
	case logrus.WarnLevel:
		entry.Warn(msg)
	case logrus.InfoLevel:
		entry.Info(msg)
	case logrus.DebugLevel:
		entry.Debug(msg)
	case logrus.TraceLevel:
		entry.Trace(msg)
	case logrus.FatalLevel:
		entry.Fatal(msg)
	}
}

func toFields(keyValuePairs []any) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keyValuePairs); i += 2 {
		key, ok := keyValuePairs[i].(string)
		if !ok {
			key = fmt.Sprint(keyValuePairs[i])
		}
		fields[key] = keyValuePairs[i+1]
	}
	return fields
}
