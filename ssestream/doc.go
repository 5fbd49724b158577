// Package ssestream binds the streamguard frame protocol to Server-Sent
// Events over net/http.
//
// The mapping is:
//
//   - StartFrame: response headers (text/event-stream plus any caller
//     headers) and the status code, followed by a flush.
//   - BodyFrame{Final: false}: an SSE event with optional "id:" line (from
//     the frame ID, enabling Last-Event-ID resumption) and "data:" lines.
//   - BodyFrame{Final: true}: a sentinel "event: done" SSE event. This is a
//     transport-level choice; the core guard stays protocol neutral.
//
// The terminating write deliberately bypasses the writer's cancellation
// guard: when the peer disconnected, the attempt is still made and the
// transport's own error (if any) is reported to the Guard, which swallows
// it. All writes are serialized and no non-final write happens after the
// request context is cancelled.
package ssestream
