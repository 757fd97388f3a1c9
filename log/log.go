// Package log provides the ambient structured logging used across the
// stack. It builds on log/slog, delegating handler construction to
// internal/log (console output in production, a pretty-printing handler
// for development, and a no-op sink for tests).
package log

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"

	intlog "github.com/sipuastack/uacore/internal/log"
	"github.com/sipuastack/uacore/internal/util"
)

// Dev is a development-friendly logger with pretty console output.
var Dev = intlog.Dev

// Noop discards all log records.
var Noop = intlog.Noop

var def atomic.Pointer[slog.Logger]

func init() { def.Store(intlog.Def) }

// Default returns the process-wide default logger.
func Default() *slog.Logger { return def.Load() }

// SetDefault replaces the process-wide default logger. Passing nil
// installs [Noop].
func SetDefault(l *slog.Logger) {
	if l == nil {
		l = intlog.Noop
	}
	def.Store(l)
}

// Errorf logs a formatted message at error level against the default
// logger. It exists for call sites that detect a broken invariant but
// have no error value to return.
func Errorf(format string, args ...any) {
	Default().Error(fmt.Sprintf(format, args...))
}

type ctxKey struct{}

// WithContext returns a copy of ctx carrying l, retrievable with [FromContext].
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx by [WithContext], or
// [Default] if none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return Default()
}

// LoggerFromValues returns the logger held in ctx with each value attached
// as a named attribute, keyed by its (dereferenced) type name.
func LoggerFromValues(ctx context.Context, vals ...any) *slog.Logger {
	l := FromContext(ctx)
	for _, v := range vals {
		l = l.With(slog.Any(attrKey(v), v))
	}
	return l
}

func attrKey(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Name() == "" {
		return "value"
	}
	return util.LCase(t.Name())
}
