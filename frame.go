package streamguard

import "net/http"

// StartFrame carries the response status and headers. Exactly one StartFrame
// begins every life-cycle.
type StartFrame struct {
	// Status is the response status code. Zero is treated as 200 by sinks.
	Status int
	// Header holds response headers. May be nil.
	Header http.Header
}

// BodyFrame is a single unit of response payload. The frame with Final set
// terminates the life-cycle; the Guard guarantees exactly one such frame is
// emitted per life-cycle.
type BodyFrame struct {
	// ID optionally identifies the frame for resumption purposes (mapped to
	// the SSE event id by the ssestream binding). Empty for synthesized
	// terminators.
	ID string
	// Payload is the frame's data. A synthesized terminator has an empty
	// payload; transports must still emit it.
	Payload []byte
	// Final marks the terminating frame of the life-cycle.
	Final bool
}

// Lifecycle is a snapshot of the per-response state tracked by a Guard. It
// is a value copy; mutating it has no effect on the Guard.
type Lifecycle struct {
	// Started reports whether the StartFrame has been emitted (or was
	// declared already emitted via WithStartEmitted).
	Started bool
	// BodyEmitted reports whether at least one body frame reached the sink.
	BodyEmitted bool
	// Finished reports whether the life-cycle reached its terminal state.
	// Finished implies Started. Once set, no further frames are emitted.
	Finished bool
	// ProducerErr holds the producer failure recorded during the run, if
	// any. Producer failures never fail the life-cycle itself.
	ProducerErr error
}
