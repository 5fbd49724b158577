// Package memorystream provides an in-memory implementation of the
// chunkstream.Broker interface using Go channels for delivery. Suitable for
// single-node deployments and tests; state is local to the process.
package memorystream

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/streamguard-go/chunkstream"
)

// Broker implements chunkstream.Broker with in-process storage. Streams are
// isolated and chunks within a stream are delivered in append order.
type Broker struct {
	mu           sync.RWMutex
	streams      map[string]*stream
	eventCounter atomic.Int64
}

type stream struct {
	mu          sync.Mutex
	chunks      []chunkstream.Envelope
	subscribers map[*subscription]struct{}
	closed      bool
}

type subscription struct {
	stream *stream
	ch     chan chunkstream.Envelope
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// New creates an in-memory broker.
func New() *Broker {
	return &Broker{streams: make(map[string]*stream)}
}

func (b *Broker) getOrCreate(name string) *stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[name]
	if !ok {
		st = &stream{subscribers: make(map[*subscription]struct{})}
		b.streams[name] = st
	}
	return st
}

// Append implements chunkstream.Broker.
func (b *Broker) Append(ctx context.Context, streamName string, data []byte, final bool) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	eventID := strconv.FormatInt(b.eventCounter.Add(1), 10)
	env := chunkstream.Envelope{ID: eventID, Data: data, Final: final}

	st := b.getOrCreate(streamName)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return "", fmt.Errorf("stream %q has been cleaned up", streamName)
	}

	st.chunks = append(st.chunks, env)

	for sub := range st.subscribers {
		select {
		case sub.ch <- env:
		case <-sub.ctx.Done():
			delete(st.subscribers, sub)
		default:
			// Subscriber buffer full; it will miss this chunk and must
			// resume via lastEventID.
		}
	}

	return eventID, nil
}

// Subscribe implements chunkstream.Broker.
func (b *Broker) Subscribe(ctx context.Context, streamName string, lastEventID string) (chunkstream.Subscription, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	st := b.getOrCreate(streamName)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return nil, fmt.Errorf("stream %q has been cleaned up", streamName)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		stream: st,
		ch:     make(chan chunkstream.Envelope, 100),
		ctx:    subCtx,
		cancel: cancel,
	}
	st.subscribers[sub] = struct{}{}

	// Replay stored chunks when resuming.
	if lastEventID != "" {
		startIdx := -1
		for i, env := range st.chunks {
			if env.ID == lastEventID {
				startIdx = i + 1
				break
			}
		}
		if startIdx >= 0 {
			for i := startIdx; i < len(st.chunks); i++ {
				select {
				case sub.ch <- st.chunks[i]:
				case <-sub.ctx.Done():
					delete(st.subscribers, sub)
					return nil, sub.ctx.Err()
				}
			}
		}
	}

	return sub, nil
}

// Cleanup implements chunkstream.Broker.
func (b *Broker) Cleanup(ctx context.Context, streamName string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	b.mu.Lock()
	st, ok := b.streams[streamName]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	delete(b.streams, streamName)
	b.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	st.closed = true
	for sub := range st.subscribers {
		if sub.closed.CompareAndSwap(false, true) {
			sub.cancel()
			close(sub.ch)
		}
	}
	st.subscribers = make(map[*subscription]struct{})
	st.chunks = nil

	return nil
}

// Next implements chunkstream.Subscription.
func (s *subscription) Next(ctx context.Context) (chunkstream.Envelope, error) {
	if s.closed.Load() {
		// Drain anything buffered before Close landed.
		select {
		case env, ok := <-s.ch:
			if ok {
				return env, nil
			}
		default:
		}
		return chunkstream.Envelope{}, io.EOF
	}

	select {
	case env, ok := <-s.ch:
		if !ok {
			return chunkstream.Envelope{}, io.EOF
		}
		return env, nil
	case <-ctx.Done():
		return chunkstream.Envelope{}, ctx.Err()
	case <-s.ctx.Done():
		return chunkstream.Envelope{}, s.ctx.Err()
	}
}

// Close implements chunkstream.Subscription. Idempotent. The channel is
// closed under the stream lock so a concurrent Append can never hit a
// closed channel.
func (s *subscription) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.stream.mu.Lock()
		delete(s.stream.subscribers, s)
		s.cancel()
		close(s.ch)
		s.stream.mu.Unlock()
	}
	return nil
}

var (
	_ chunkstream.Broker       = (*Broker)(nil)
	_ chunkstream.Subscription = (*subscription)(nil)
)
