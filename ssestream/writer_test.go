package ssestream_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	streamguard "github.com/ggoodman/streamguard-go"
	"github.com/ggoodman/streamguard-go/ssestream"
)

func TestWriterFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := ssestream.NewWriter(rec)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	ctx := context.Background()
	if err := w.Start(ctx, streamguard.StartFrame{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Send(ctx, streamguard.BodyFrame{ID: "7", Payload: []byte("hello")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := w.Send(ctx, streamguard.BodyFrame{Final: true}); err != nil {
		t.Fatalf("send final: %v", err)
	}

	if want, got := http.StatusOK, rec.Code; want != got {
		t.Fatalf("want status %d, got %d", want, got)
	}
	if want, got := "text/event-stream", rec.Header().Get("Content-Type"); want != got {
		t.Fatalf("want content-type %q, got %q", want, got)
	}
	if !rec.Flushed {
		t.Fatalf("start frame must flush headers")
	}

	body := rec.Body.String()
	want := "id: 7\ndata: hello\n\nevent: done\ndata: \n\n"
	if body != want {
		t.Fatalf("unexpected wire framing:\nwant %q\ngot  %q", want, body)
	}
}

func TestWriterMultilinePayload(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := ssestream.NewWriter(rec)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	ctx := context.Background()
	if err := w.Start(ctx, streamguard.StartFrame{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Send(ctx, streamguard.BodyFrame{Payload: []byte("a\nb")}); err != nil {
		t.Fatalf("send: %v", err)
	}

	if want, got := "data: a\ndata: b\n\n", rec.Body.String(); want != got {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestWriterStatusAndHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := ssestream.NewWriter(rec)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	f := streamguard.StartFrame{Status: http.StatusAccepted, Header: http.Header{
		"X-Stream-Id": []string{"abc"},
	}}
	if err := w.Start(context.Background(), f); err != nil {
		t.Fatalf("start: %v", err)
	}

	if want, got := http.StatusAccepted, rec.Code; want != got {
		t.Fatalf("want status %d, got %d", want, got)
	}
	if want, got := "abc", rec.Header().Get("X-Stream-Id"); want != got {
		t.Fatalf("want header %q, got %q", want, got)
	}
}

func TestWriterRejectsFramesAfterFinal(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := ssestream.NewWriter(rec)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	ctx := context.Background()
	if err := w.Start(ctx, streamguard.StartFrame{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Send(ctx, streamguard.BodyFrame{Final: true}); err != nil {
		t.Fatalf("send final: %v", err)
	}
	if err := w.Send(ctx, streamguard.BodyFrame{Payload: []byte("late")}); !errors.Is(err, streamguard.ErrLifecycleFinished) {
		t.Fatalf("want ErrLifecycleFinished, got %v", err)
	}
	if strings.Contains(rec.Body.String(), "late") {
		t.Fatalf("frame emitted after termination")
	}
}

func TestWriterCancellationGuard(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	rec := httptest.NewRecorder()
	w, err := ssestream.NewWriter(rec, ssestream.WithContext(ctx))
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	if err := w.Start(ctx, streamguard.StartFrame{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	cancel()

	// Non-final writes are suppressed after cancellation...
	if err := w.Send(ctx, streamguard.BodyFrame{Payload: []byte("x")}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	// ...but the terminator is still attempted on the transport.
	if err := w.Send(ctx, streamguard.BodyFrame{Final: true}); err != nil {
		t.Fatalf("terminator write failed: %v", err)
	}
	if want, got := "event: done\ndata: \n\n", rec.Body.String(); want != got {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestNewWriterRequiresFlusher(t *testing.T) {
	if _, err := ssestream.NewWriter(noFlushWriter{}); !errors.Is(err, ssestream.ErrFlusherMissing) {
		t.Fatalf("want ErrFlusherMissing, got %v", err)
	}
}

type noFlushWriter struct{}

func (noFlushWriter) Header() http.Header         { return http.Header{} }
func (noFlushWriter) Write(p []byte) (int, error) { return len(p), nil }
func (noFlushWriter) WriteHeader(statusCode int)  {}
