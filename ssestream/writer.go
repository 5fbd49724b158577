package ssestream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	streamguard "github.com/ggoodman/streamguard-go"
)

// ErrFlusherMissing is returned by NewWriter when the ResponseWriter does
// not support streaming.
var ErrFlusherMissing = errors.New("ssestream: response writer does not implement http.Flusher")

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and an
// optional context. It serializes concurrent writes/flushes and avoids
// writing after ctx is cancelled, except through writeBypass.
type lockedWriteFlusher struct {
	w   io.Writer
	f   http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check after acquiring the lock to minimize races with cancellation
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.w.Write(p)
}

// writeBypass writes without consulting the context. Used for the
// life-cycle terminator, which must be attempted even when the peer is
// already gone; the transport's own write error is the only veto.
func (l *lockedWriteFlusher) writeBypass(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func (l *lockedWriteFlusher) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.f.Flush()
}

// Option configures a Writer.
type Option func(*Writer)

// WithContext sets the context consulted before non-final writes, typically
// the request context. Final writes ignore it.
func WithContext(ctx context.Context) Option {
	return func(w *Writer) { w.lw.ctx = ctx }
}

// WithDoneEvent overrides the SSE event name used for the terminating
// frame. Defaults to "done".
func WithDoneEvent(name string) Option {
	return func(w *Writer) {
		if name != "" {
			w.doneEvent = name
		}
	}
}

// Writer implements streamguard.Sink over an http.ResponseWriter using
// Server-Sent Events framing. It is single-writer, as the Sink contract
// requires.
type Writer struct {
	rw        http.ResponseWriter
	lw        *lockedWriteFlusher
	doneEvent string

	startEmitted bool
	finished     bool
}

var _ streamguard.Sink = (*Writer)(nil)

// NewWriter wraps an http.ResponseWriter. The writer must support
// http.Flusher or ErrFlusherMissing is returned.
func NewWriter(rw http.ResponseWriter, opts ...Option) (*Writer, error) {
	f, ok := rw.(http.Flusher)
	if !ok {
		return nil, ErrFlusherMissing
	}
	w := &Writer{
		rw:        rw,
		lw:        &lockedWriteFlusher{w: rw, f: f},
		doneEvent: "done",
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start implements streamguard.Sink. It commits response headers and the
// status code, then flushes so the peer observes the stream opening.
func (w *Writer) Start(ctx context.Context, f streamguard.StartFrame) error {
	if w.startEmitted {
		return errors.New("ssestream: start frame already emitted")
	}
	w.startEmitted = true

	h := w.rw.Header()
	for k, vs := range f.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	status := f.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.rw.WriteHeader(status)
	w.lw.flush()
	return nil
}

// Send implements streamguard.Sink.
func (w *Writer) Send(ctx context.Context, f streamguard.BodyFrame) error {
	if w.finished {
		return streamguard.ErrLifecycleFinished
	}

	var buf bytes.Buffer
	if f.Final {
		fmt.Fprintf(&buf, "event: %s\n", w.doneEvent)
	}
	if f.ID != "" {
		fmt.Fprintf(&buf, "id: %s\n", f.ID)
	}
	writeDataLines(&buf, f.Payload)
	buf.WriteByte('\n')

	var err error
	if f.Final {
		w.finished = true
		_, err = w.lw.writeBypass(buf.Bytes())
	} else {
		_, err = w.lw.write(buf.Bytes())
	}
	if err != nil {
		return fmt.Errorf("failed to write SSE event: %w", err)
	}
	w.lw.flush()
	return nil
}

// writeDataLines emits the payload as one "data:" line per payload line, so
// embedded newlines cannot break SSE framing. An empty payload still gets a
// single empty data line; the event must not be a no-op on the wire.
func writeDataLines(buf *bytes.Buffer, payload []byte) {
	if len(payload) == 0 {
		buf.WriteString("data: \n")
		return
	}
	for _, line := range bytes.Split(payload, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
}
