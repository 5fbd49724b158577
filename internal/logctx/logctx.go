package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates a slog.Handler with request- and stream-scoped
// attributes carried on the context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("user_agent", rd.UserAgent),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if sd, ok := ctx.Value(streamDataKey{}).(*StreamData); ok {
		r.AddAttrs(slog.Group("stream",
			slog.String("id", sd.StreamID),
			slog.String("user_id", sd.UserID),
			slog.String("last_event_id", sd.LastEventID),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type requestDataKey struct{}

type RequestData struct {
	RequestID  string
	Method     string
	UserAgent  string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type streamDataKey struct{}

type StreamData struct {
	StreamID    string
	UserID      string
	LastEventID string
}

func WithStreamData(ctx context.Context, data *StreamData) context.Context {
	return context.WithValue(ctx, streamDataKey{}, data)
}
