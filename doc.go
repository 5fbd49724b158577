// Package streamguard enforces the completion invariant of a streaming
// response life-cycle: once a response has started, exactly one terminating
// body frame is always eventually emitted, no matter how the data-producing
// side behaves.
//
// The failure mode this package exists to prevent is easy to write by
// accident: a handler commits response headers, then drives an upstream
// source that never yields anything before the peer disconnects. The stream
// loop unwinds via cancellation, no body frame is ever written, and the
// transport below is left with a half-open response (for HTTP this is a
// protocol violation; for ASGI-style interfaces it is the classic
// "response.start without response.body" bug). Some streaming libraries mask
// the problem by always sending an initial chunk of their own; that is an
// incidental behavior of a collaborator, not a guarantee. The Guard makes
// the guarantee hold by construction.
//
// # Model
//
// A response life-cycle is a strictly ordered frame sequence:
//
//	StartFrame, BodyFrame*, BodyFrame{Final: true}
//
// A Producer lazily yields payload chunks for one life-cycle. A Sink accepts
// frames and maps them onto a concrete transport (SSE, raw socket, an
// in-memory recorder for tests). The Guard sits between the two:
//
//	g := streamguard.New(streamguard.WithLogger(log))
//	err := g.Run(ctx, producer, sink)
//
// Run forwards chunks until the producer terminates (normally, by error, or
// by cancellation; all three are treated identically) and then runs an
// unconditional finalizer. If no terminating frame was forwarded, the
// finalizer synthesizes an empty one. A producer failure is recorded on the
// life-cycle but never propagated: the life-cycle's job is to complete the
// protocol, and it still can. Only a sink failure during live forwarding is
// surfaced to the caller, since it means the rest of the response cannot be
// delivered either.
//
// A Guard instance is single use, mirroring the single-use life-cycle it
// tracks. Reuse fails loudly with ErrGuardReused.
//
// Transport bindings live in sibling packages: ssestream writes frames as
// Server-Sent Events over net/http, relayhttp mounts a complete guarded
// relay endpoint, and sinktest records frame sequences for assertions.
package streamguard
