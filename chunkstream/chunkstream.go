// Package chunkstream defines the upstream source contract for guarded
// responses: named, append-only streams of payload chunks with ordered
// delivery and resumable subscriptions. A stream is the "message source"
// whose silence or disappearance the Guard must survive; implementations
// live in the memorystream and redisstream subpackages.
package chunkstream

import (
	"context"
	"io"

	streamguard "github.com/ggoodman/streamguard-go"
)

// Broker manages named chunk streams. Streams are isolated from one
// another; within a stream, delivery order matches append order.
type Broker interface {
	// Append adds a chunk to the stream, returning the generated event ID.
	// A chunk appended with final set marks the end of the stream's data;
	// consumers treat it as the terminating chunk.
	Append(ctx context.Context, stream string, data []byte, final bool) (eventID string, err error)

	// Subscribe returns an ordered subscription over the stream's chunks,
	// resuming from the chunk after lastEventID when provided. If
	// lastEventID is empty, the subscription starts from the next
	// appended chunk.
	Subscribe(ctx context.Context, stream string, lastEventID string) (Subscription, error)

	// Cleanup removes all resources associated with a stream, including
	// stored chunks and active subscriptions.
	Cleanup(ctx context.Context, stream string) error
}

// Subscription provides ordered chunk consumption for a single consumer.
type Subscription interface {
	// Next blocks until the next chunk is available or the context is
	// cancelled. Returns io.EOF when the subscription is closed and no
	// more chunks will arrive.
	Next(ctx context.Context) (Envelope, error)

	// Close releases resources associated with the subscription. Safe to
	// call more than once.
	Close() error
}

// Envelope wraps a chunk with delivery metadata.
type Envelope struct {
	// ID is a unique, monotonically increasing identifier within the stream.
	ID string `json:"id"`
	// Data is the chunk payload.
	Data []byte `json:"data"`
	// Final marks the stream's terminating chunk.
	Final bool `json:"final,omitempty"`
}

// NewProducer adapts a Subscription to the streamguard.Producer contract.
// Envelope IDs become frame IDs so transports can offer resumption. After
// the final envelope the producer reports exhaustion.
func NewProducer(sub Subscription) streamguard.Producer {
	p := &subProducer{sub: sub}
	return p
}

type subProducer struct {
	sub  Subscription
	done bool
}

func (p *subProducer) Next(ctx context.Context) (streamguard.BodyFrame, error) {
	if p.done {
		return streamguard.BodyFrame{}, io.EOF
	}
	env, err := p.sub.Next(ctx)
	if err != nil {
		return streamguard.BodyFrame{}, err
	}
	if env.Final {
		p.done = true
	}
	return streamguard.BodyFrame{ID: env.ID, Payload: env.Data, Final: env.Final}, nil
}
