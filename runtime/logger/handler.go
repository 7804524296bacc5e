package logger

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
)

// moduleRoot is stripped from function names to derive hierarchical module names.
const moduleRoot = "github.com/AltairaLabs/VoiceKit/"

// ContextHandler is a slog.Handler that lifts logging fields from the context
// into each record, prepends common fields, and optionally filters records by
// the level configured for the calling module.
type ContextHandler struct {
	inner        slog.Handler
	commonFields []slog.Attr
	modules      *ModuleConfig
}

// NewContextHandler creates a ContextHandler wrapping inner. When modules is nil
// every record the inner handler accepts is written.
func NewContextHandler(inner slog.Handler, modules *ModuleConfig, commonFields ...slog.Attr) *ContextHandler {
	return &ContextHandler{
		inner:        inner,
		commonFields: commonFields,
		modules:      modules,
	}
}

// Enabled reports whether the handler handles records at the given level.
// With module filtering the final decision is deferred to Handle, where the
// caller's PC is known.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.modules != nil {
		return level >= h.modules.MinLevel()
	}
	return h.inner.Enabled(ctx, level)
}

// Handle enriches the record and delegates to the inner handler.
//
//nolint:gocritic // slog.Record is passed by value per slog.Handler interface contract
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	module := ""
	if h.modules != nil {
		module = moduleFromPC(r.PC)
		if r.Level < h.modules.LevelFor(module) {
			return nil
		}
	}

	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	out.AddAttrs(h.commonFields...)
	if module != "" {
		out.AddAttrs(slog.String("logger", module))
	}
	for _, key := range allContextKeys {
		if s, ok := ctx.Value(key).(string); ok && s != "" {
			out.AddAttrs(slog.String(string(key), s))
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(a)
		return true
	})

	return h.inner.Handle(ctx, out)
}

// WithAttrs returns a new handler with the given attributes added to the inner handler.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs), commonFields: h.commonFields, modules: h.modules}
}

// WithGroup returns a new handler with the given group name.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name), commonFields: h.commonFields, modules: h.modules}
}

// Unwrap returns the inner handler.
func (h *ContextHandler) Unwrap() slog.Handler {
	return h.inner
}

var _ slog.Handler = (*ContextHandler)(nil)

// moduleFromPC maps a program counter to a dotted module name, e.g.
// "github.com/AltairaLabs/VoiceKit/runtime/realtime.(*Manager).Negotiate"
// becomes "runtime.realtime".
func moduleFromPC(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return moduleFromFunction(frame.Function)
}

func moduleFromFunction(fn string) string {
	idx := strings.Index(fn, moduleRoot)
	if idx == -1 {
		return ""
	}
	path := fn[idx+len(moduleRoot):]
	if paren := strings.Index(path, "("); paren != -1 {
		path = path[:paren]
	}
	// The package name ends at the first dot after the last slash.
	lastSlash := strings.LastIndex(path, "/")
	if dot := strings.Index(path[lastSlash+1:], "."); dot != -1 {
		path = path[:lastSlash+1+dot]
	}
	path = strings.TrimSuffix(path, ".")
	return strings.ReplaceAll(path, "/", ".")
}
