package chunkstream_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/ggoodman/streamguard-go/chunkstream"
)

type scriptSub struct {
	envs   []chunkstream.Envelope
	i      int
	closed bool
}

func (s *scriptSub) Next(ctx context.Context) (chunkstream.Envelope, error) {
	if s.i >= len(s.envs) {
		return chunkstream.Envelope{}, io.EOF
	}
	env := s.envs[s.i]
	s.i++
	return env, nil
}

func (s *scriptSub) Close() error {
	s.closed = true
	return nil
}

func TestProducerAdapter(t *testing.T) {
	t.Run("maps envelopes to frames", func(t *testing.T) {
		sub := &scriptSub{envs: []chunkstream.Envelope{
			{ID: "1", Data: []byte("a")},
			{ID: "2", Data: []byte("b"), Final: true},
		}}
		p := chunkstream.NewProducer(sub)

		f, err := p.Next(context.Background())
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if f.ID != "1" || string(f.Payload) != "a" || f.Final {
			t.Fatalf("unexpected frame: %+v", f)
		}

		f, err = p.Next(context.Background())
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if f.ID != "2" || !f.Final {
			t.Fatalf("unexpected terminating frame: %+v", f)
		}
	})

	t.Run("exhausts after final envelope", func(t *testing.T) {
		sub := &scriptSub{envs: []chunkstream.Envelope{
			{ID: "1", Data: []byte("done"), Final: true},
			// Anything past the terminator must never surface.
			{ID: "2", Data: []byte("stray")},
		}}
		p := chunkstream.NewProducer(sub)

		if _, err := p.Next(context.Background()); err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if _, err := p.Next(context.Background()); !errors.Is(err, io.EOF) {
			t.Fatalf("want io.EOF after terminator, got %v", err)
		}
	})

	t.Run("propagates subscription exhaustion", func(t *testing.T) {
		p := chunkstream.NewProducer(&scriptSub{})
		if _, err := p.Next(context.Background()); !errors.Is(err, io.EOF) {
			t.Fatalf("want io.EOF, got %v", err)
		}
	})
}
