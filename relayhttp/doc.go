// Package relayhttp mounts a guarded chunk-relay endpoint as a standard
// net/http handler. Publishers append opaque chunks to named streams and
// consumers read them back as Server-Sent Events, with ordered delivery and
// Last-Event-ID resumption backed by a chunkstream.Broker.
//
// Responsibilities
//   - Stream naming and lazy materialization (via chunkstream.Broker)
//   - Authentication (pluggable auth.Authenticator; bearer tokens)
//   - Guarded SSE consumption: every consumer response runs under a
//     streamguard.Guard, so a started response is always terminated,
//     including when the consumer disconnects before the stream's first
//     chunk, the exact case that leaves naive handlers with a committed
//     header and no body ever written
//
// Construction
//
//	h, err := relayhttp.New(
//	    ctx,
//	    "https://relay.example.com/v1", // public endpoint base
//	    broker,                         // chunkstream.Broker implementation
//	    authenticator,                  // auth.Authenticator
//	)
//
// # Endpoints
//
//	POST   {base}/streams        allocate a stream ID
//	POST   {base}/streams/{id}   append one chunk; ?final=1 terminates
//	GET    {base}/streams/{id}   consume as SSE; honors Last-Event-ID
//	DELETE {base}/streams/{id}   discard the stream
//
// # Scaling
//
// Horizontal scale relies on a shared broker (see chunkstream/redisstream).
// Each node handles any mix of appends and consumes; ordering for a given
// stream is preserved by the broker's stream semantics, not sticky routing.
//
// # Error Handling
//
// Transport-level errors map to HTTP status codes with a small JSON error
// body. Authentication failures surface a WWW-Authenticate challenge per
// RFC 6750. A consumer's disconnect mid-stream is not an error; the
// life-cycle is closed and the disconnect is logged at info level.
//
// Example (mount in net/http):
//
//	mux := http.NewServeMux()
//	mux.Handle("/v1/", h)
//	http.ListenAndServe(":8080", mux)
package relayhttp
