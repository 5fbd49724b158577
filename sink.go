package streamguard

import "context"

// Sink accepts emitted frames and maps them onto a concrete transport.
//
// Implementations must tolerate a Send arriving after the peer has vanished:
// the Guard deliberately attempts the terminating write even when the
// surrounding context is already cancelled, and swallows the resulting
// failure. Sinks are single-writer; the Guard never calls a Sink
// concurrently.
type Sink interface {
	// Start emits the StartFrame. Called at most once per life-cycle.
	Start(ctx context.Context, f StartFrame) error
	// Send emits a body frame. The frame with Final set is the last call
	// the sink will receive.
	Send(ctx context.Context, f BodyFrame) error
}
