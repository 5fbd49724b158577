// Package streamtest provides a conformance suite for chunkstream.Broker
// implementations. Both the memory and Redis brokers run this suite.
package streamtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/ggoodman/streamguard-go/chunkstream"
)

// BrokerFactory creates a fresh broker instance for a test.
type BrokerFactory func(t *testing.T) chunkstream.Broker

// RunBrokerTests runs the complete conformance suite against the factory.
func RunBrokerTests(t *testing.T, factory BrokerFactory) {
	t.Run("AppendAndSubscribeLive", func(t *testing.T) {
		testAppendAndSubscribeLive(t, factory)
	})
	t.Run("ResumeFromLastEventID", func(t *testing.T) {
		testResumeFromLastEventID(t, factory)
	})
	t.Run("FinalChunkIsDelivered", func(t *testing.T) {
		testFinalChunkIsDelivered(t, factory)
	})
	t.Run("StreamIsolation", func(t *testing.T) {
		testStreamIsolation(t, factory)
	})
	t.Run("NextHonorsContextCancellation", func(t *testing.T) {
		testNextHonorsContextCancellation(t, factory)
	})
	t.Run("CloseIsIdempotent", func(t *testing.T) {
		testCloseIsIdempotent(t, factory)
	})
	t.Run("CleanupDiscardsStoredChunks", func(t *testing.T) {
		testCleanupDiscardsStoredChunks(t, factory)
	})
}

func testAppendAndSubscribeLive(t *testing.T, factory BrokerFactory) {
	b := factory(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const stream = "live-stream"

	sub, err := b.Subscribe(ctx, stream, "")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Close()

	go func() {
		// Give the subscriber a moment to be fully registered.
		time.Sleep(50 * time.Millisecond)
		for i := 0; i < 3; i++ {
			if _, err := b.Append(ctx, stream, []byte(fmt.Sprintf("chunk-%d", i)), false); err != nil {
				t.Errorf("append failed: %v", err)
				return
			}
		}
	}()

	var lastID string
	for i := 0; i < 3; i++ {
		env, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("next failed at %d: %v", i, err)
		}
		if want := []byte(fmt.Sprintf("chunk-%d", i)); !bytes.Equal(env.Data, want) {
			t.Fatalf("want %q, got %q", want, env.Data)
		}
		if env.ID == "" || env.ID == lastID {
			t.Fatalf("event IDs must be unique and non-empty, got %q after %q", env.ID, lastID)
		}
		lastID = env.ID
	}
}

func testResumeFromLastEventID(t *testing.T, factory BrokerFactory) {
	b := factory(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const stream = "resume-stream"

	id1, err := b.Append(ctx, stream, []byte("one"), false)
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := b.Append(ctx, stream, []byte("two"), false); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := b.Append(ctx, stream, []byte("three"), false); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	sub, err := b.Subscribe(ctx, stream, id1)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Close()

	for _, want := range []string{"two", "three"} {
		env, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if got := string(env.Data); want != got {
			t.Fatalf("want %q, got %q", want, got)
		}
	}
}

func testFinalChunkIsDelivered(t *testing.T, factory BrokerFactory) {
	b := factory(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const stream = "final-stream"

	sub, err := b.Subscribe(ctx, stream, "")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		if _, err := b.Append(ctx, stream, []byte("interim"), false); err != nil {
			t.Errorf("append failed: %v", err)
			return
		}
		if _, err := b.Append(ctx, stream, []byte("done"), true); err != nil {
			t.Errorf("append failed: %v", err)
		}
	}()

	env, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if env.Final {
		t.Fatalf("non-final chunk reported final: %+v", env)
	}

	env, err = sub.Next(ctx)
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if !env.Final || string(env.Data) != "done" {
		t.Fatalf("want final chunk %q, got %+v", "done", env)
	}
}

func testStreamIsolation(t *testing.T, factory BrokerFactory) {
	b := factory(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	subA, err := b.Subscribe(ctx, "stream-a", "")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer subA.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		if _, err := b.Append(ctx, "stream-b", []byte("for-b"), false); err != nil {
			t.Errorf("append failed: %v", err)
			return
		}
		if _, err := b.Append(ctx, "stream-a", []byte("for-a"), false); err != nil {
			t.Errorf("append failed: %v", err)
		}
	}()

	env, err := subA.Next(ctx)
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if want, got := "for-a", string(env.Data); want != got {
		t.Fatalf("stream isolation violated: want %q, got %q", want, got)
	}
}

func testNextHonorsContextCancellation(t *testing.T, factory BrokerFactory) {
	b := factory(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := b.Subscribe(ctx, "cancel-stream", "")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Close()

	nextCtx, nextCancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		_, err := sub.Next(nextCtx)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	nextCancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("next did not observe cancellation")
	}
}

func testCloseIsIdempotent(t *testing.T, factory BrokerFactory) {
	b := factory(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := b.Subscribe(ctx, "close-stream", "")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	if _, err := sub.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("want io.EOF after close, got %v", err)
	}
}

func testCleanupDiscardsStoredChunks(t *testing.T, factory BrokerFactory) {
	b := factory(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const stream = "cleanup-stream"

	id1, err := b.Append(ctx, stream, []byte("old-one"), false)
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := b.Append(ctx, stream, []byte("old-two"), false); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if err := b.Cleanup(ctx, stream); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	// Resuming past a cleaned-up chunk must not replay discarded data.
	sub, err := b.Subscribe(ctx, stream, id1)
	if err != nil {
		// Some implementations reject subscriptions to cleaned-up streams
		// outright, which also satisfies the contract.
		return
	}
	defer sub.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		if _, err := b.Append(ctx, stream, []byte("fresh"), false); err != nil {
			t.Errorf("append failed: %v", err)
		}
	}()

	env, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if want, got := "fresh", string(env.Data); want != got {
		t.Fatalf("cleanup leaked stored chunk: want %q, got %q", want, got)
	}
}
