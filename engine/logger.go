package engine

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the engine logging contract.
type Logger interface {
	Trace(msg string, args ...any)
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Fatal(msg string, args ...any)
	WithContext(ctx context.Context) Logger
}

// FieldsLogger extends Logger with structured-field support.
type FieldsLogger interface {
	WithFields(map[string]any) Logger
}

// GoLogger adapts a go-logger logger to Logger. Messages are printf-formatted
// before they reach go-logger; fields are forwarded when it supports them.
type GoLogger struct {
	logger glog.Logger
}

// NewGoLogger wraps l. A nil l gets the default console logger on stdout.
func NewGoLogger(l glog.Logger) *GoLogger {
	if l == nil {
		l = glog.NewLogger(glog.WithWriter(os.Stdout))
	}
	return &GoLogger{logger: l}
}

// NewDefaultLogger is the logger used when none is configured: go-logger console
// output at info level, written to out (stdout when nil).
func NewDefaultLogger(out io.Writer) *GoLogger {
	if out == nil {
		out = os.Stdout
	}
	return NewGoLogger(glog.NewLogger(glog.WithWriter(out), glog.WithLevel("info")))
}

func (l *GoLogger) Trace(msg string, args ...any) { l.logger.Trace(sprintf(msg, args)) }
func (l *GoLogger) Debug(msg string, args ...any) { l.logger.Debug(sprintf(msg, args)) }
func (l *GoLogger) Info(msg string, args ...any)  { l.logger.Info(sprintf(msg, args)) }
func (l *GoLogger) Warn(msg string, args ...any)  { l.logger.Warn(sprintf(msg, args)) }
func (l *GoLogger) Error(msg string, args ...any) { l.logger.Error(sprintf(msg, args)) }
func (l *GoLogger) Fatal(msg string, args ...any) { l.logger.Fatal(sprintf(msg, args)) }

func sprintf(msg string, args []any) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

func (l *GoLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return &GoLogger{logger: l.logger.WithContext(ctx)}
}

func (l *GoLogger) WithFields(fields map[string]any) Logger {
	if fl, ok := l.logger.(glog.FieldsLogger); ok && len(fields) > 0 {
		return &GoLogger{logger: fl.WithFields(fields)}
	}
	return l
}

type discardLogger struct{}

// NopLogger returns a Logger that discards all output.
func NopLogger() Logger { return discardLogger{} }

func (discardLogger) Trace(string, ...any)                 {}
func (discardLogger) Debug(string, ...any)                 {}
func (discardLogger) Info(string, ...any)                  {}
func (discardLogger) Warn(string, ...any)                  {}
func (discardLogger) Error(string, ...any)                 {}
func (discardLogger) Fatal(string, ...any)                 {}
func (d discardLogger) WithContext(context.Context) Logger { return d }

func orDefaultLogger(logger Logger) Logger {
	if logger == nil {
		return NewDefaultLogger(nil)
	}
	return logger
}

// scoped attaches workflow fields when the logger understands them and drops
// them otherwise.
func scoped(logger Logger, fields map[string]any) Logger {
	logger = orDefaultLogger(logger)
	if fl, ok := logger.(FieldsLogger); ok {
		return fl.WithFields(fields)
	}
	return logger
}
