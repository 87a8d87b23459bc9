package logger

import (
	"context"
	"log/slog"
)

// contextHandler decorates a slog.Handler and lifts request metadata stored
// in the context (rid, update and sender identifiers, handler name) into
// attributes of every record, so call sites only have to thread the context.
type contextHandler struct {
	inner slog.Handler
}

func (h contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h contextHandler) Handle(ctx context.Context, rec slog.Record) error {
	if rid := RIDFrom(ctx); rid != "" {
		rec.AddAttrs(slog.String("rid", rid))
	}
	if id := UpdateIDFrom(ctx); id != 0 {
		rec.AddAttrs(slog.Int("update_id", id))
	}
	if id := UserIDFrom(ctx); id != 0 {
		rec.AddAttrs(slog.Int64("user_id", id))
	}
	if id := ChatIDFrom(ctx); id != 0 {
		rec.AddAttrs(slog.Int64("chat_id", id))
	}
	if name := HandlerFrom(ctx); name != "" {
		rec.AddAttrs(slog.String("handler", name))
	}
	return h.inner.Handle(ctx, rec)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{inner: h.inner.WithGroup(name)}
}
