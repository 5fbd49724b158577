// Package redisstream provides a Redis Streams-backed implementation of the
// chunkstream.Broker interface for horizontally scaled deployments. Chunks
// are stored with XADD and consumed with blocking XREAD, preserving append
// order and supporting resumption from a last event ID.
package redisstream

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/streamguard-go/chunkstream"
)

// Config contains configuration options for the Redis broker.
type Config struct {
	// Client is the Redis client to use. If nil, a default client against
	// localhost:6379 is created.
	Client redis.UniversalClient
	// KeyPrefix is prepended to all Redis keys used by the broker.
	// Defaults to "streamguard:" if empty.
	KeyPrefix string
	// BlockInterval bounds each blocking read so context cancellation is
	// observed promptly. Defaults to one second.
	BlockInterval time.Duration
}

// Broker implements chunkstream.Broker on Redis Streams.
type Broker struct {
	client    redis.UniversalClient
	keyPrefix string
	block     time.Duration
}

// New creates a Redis-backed broker.
func New(config Config) *Broker {
	client := config.Client
	if client == nil {
		client = redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	}
	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "streamguard:"
	}
	block := config.BlockInterval
	if block <= 0 {
		block = time.Second
	}
	return &Broker{client: client, keyPrefix: keyPrefix, block: block}
}

// Close closes the Redis connection.
func (b *Broker) Close() error {
	return b.client.Close()
}

// Append implements chunkstream.Broker.
func (b *Broker) Append(ctx context.Context, stream string, data []byte, final bool) (string, error) {
	values := map[string]any{"data": data}
	if final {
		values["final"] = "1"
	}

	key := b.streamKey(stream)
	eventID, err := b.client.XAdd(ctx, &redis.XAddArgs{Stream: key, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append chunk to stream %s: %w", key, err)
	}
	return eventID, nil
}

// Subscribe implements chunkstream.Broker.
func (b *Broker) Subscribe(ctx context.Context, stream string, lastEventID string) (chunkstream.Subscription, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	key := b.streamKey(stream)
	startID := lastEventID
	if startID == "" {
		// Resolve the current tail so nothing appended between this call
		// and the first XREAD is lost.
		entries, err := b.client.XRevRangeN(ctx, key, "+", "-", 1).Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("failed to resolve tail of stream %s: %w", key, err)
		}
		if len(entries) > 0 {
			startID = entries[0].ID
		} else {
			startID = "0"
		}
	}

	return &subscription{broker: b, key: key, nextAfter: startID}, nil
}

// Cleanup implements chunkstream.Broker.
func (b *Broker) Cleanup(ctx context.Context, stream string) error {
	key := b.streamKey(stream)
	if err := b.client.Del(ctx, key).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to cleanup stream %s: %w", key, err)
	}
	return nil
}

func (b *Broker) streamKey(stream string) string {
	return b.keyPrefix + "stream:" + stream
}

type subscription struct {
	broker    *Broker
	key       string
	nextAfter string
	closed    atomic.Bool
}

// Next implements chunkstream.Subscription. It issues bounded blocking
// reads so cancellation and Close are observed within BlockInterval.
func (s *subscription) Next(ctx context.Context) (chunkstream.Envelope, error) {
	for {
		if s.closed.Load() {
			return chunkstream.Envelope{}, io.EOF
		}
		if ctx.Err() != nil {
			return chunkstream.Envelope{}, ctx.Err()
		}

		streams, err := s.broker.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.key, s.nextAfter},
			Count:   1,
			Block:   s.broker.block,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return chunkstream.Envelope{}, ctx.Err()
			}
			return chunkstream.Envelope{}, fmt.Errorf("failed to read from stream %s: %w", s.key, err)
		}

		for _, st := range streams {
			for _, msg := range st.Messages {
				s.nextAfter = msg.ID
				data, ok := msg.Values["data"].(string)
				if !ok {
					// Skip malformed entry and continue from the next.
					continue
				}
				_, final := msg.Values["final"]
				return chunkstream.Envelope{ID: msg.ID, Data: []byte(data), Final: final}, nil
			}
		}
	}
}

// Close implements chunkstream.Subscription. Idempotent; an in-flight Next
// returns io.EOF on its next iteration.
func (s *subscription) Close() error {
	s.closed.Store(true)
	return nil
}

var (
	_ chunkstream.Broker       = (*Broker)(nil)
	_ chunkstream.Subscription = (*subscription)(nil)
)
