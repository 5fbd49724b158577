package streamguard

import "context"

// Producer lazily yields body frames for a single response life-cycle.
//
// Next blocks until a frame is available, the context is cancelled, or the
// sequence ends. Termination is reported one of three ways, and the Guard
// treats all three identically with respect to the completion invariant:
//
//   - io.EOF: normal exhaustion, no more frames.
//   - ctx.Err(): the surrounding task was cancelled.
//   - any other error: the producer failed.
//
// A frame returned with Final set is the producer's own terminator; the
// Guard forwards it as the life-cycle's terminating frame and stops
// iterating. Producers are single-consumer and not restartable.
type Producer interface {
	Next(ctx context.Context) (BodyFrame, error)
}

// ProducerFunc adapts a function to the Producer interface.
type ProducerFunc func(ctx context.Context) (BodyFrame, error)

func (f ProducerFunc) Next(ctx context.Context) (BodyFrame, error) {
	return f(ctx)
}
