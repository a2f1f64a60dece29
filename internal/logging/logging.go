// Package logging builds the structured slog.Logger shared by the library's
// command-line collaborators. It follows the same Logger(w, json, level)
// convention used across the retrieved reference tooling, but rotates file
// output through lumberjack when w is any *os.File other than os.Stdout
// or os.Stderr.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey struct{}

// Logger returns a slog.Logger writing to w. When json is true records are
// emitted as JSON (suited to log aggregation); otherwise a human-readable
// text handler is used. If w is an *os.File other than os.Stdout or
// os.Stderr, writes are routed through a lumberjack.Logger so long-running
// batch decodes don't grow an unbounded log file.
func Logger(w io.Writer, json bool, level slog.Level) *slog.Logger {
	if f, ok := w.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		w = &lumberjack.Logger{
			Filename:   f.Name(),
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(&ctxHandler{Handler: handler})
}

// AppendCtx attaches attrs to ctx so every log record written through a
// context-aware call (InfoContext, WarnContext, ...) downstream carries
// them automatically, without threading them through every call site.
func AppendCtx(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	existing, _ := ctx.Value(ctxKey{}).([]slog.Attr)
	merged := make([]slog.Attr, 0, len(existing)+len(attrs))
	merged = append(merged, existing...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, ctxKey{}, merged)
}

// ctxHandler injects attributes stashed by AppendCtx into every record.
type ctxHandler struct {
	slog.Handler
}

func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(ctxKey{}).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ctxHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ctxHandler) WithGroup(name string) slog.Handler {
	return &ctxHandler{Handler: h.Handler.WithGroup(name)}
}
