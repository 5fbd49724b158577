// Package sinktest provides an in-memory streamguard.Sink that records the
// emitted frame sequence and can inject transport failures. It is the
// reference harness for asserting the completion invariant in tests.
package sinktest

import (
	"context"
	"sync"
	"testing"

	streamguard "github.com/ggoodman/streamguard-go"
)

// Sink records every frame it accepts. The zero value is ready to use.
// Failure injection is controlled through the exported hook fields, which
// must be set before the Sink is handed to a Guard.
type Sink struct {
	// StartErr, when non-nil, is returned from Start without recording
	// the frame.
	StartErr error
	// SendErr, when non-nil, is consulted for every Send. Returning a
	// non-nil error rejects the frame without recording it. The index is
	// zero-based over Send calls.
	SendErr func(i int, f streamguard.BodyFrame) error

	mu     sync.Mutex
	start  *streamguard.StartFrame
	bodies []streamguard.BodyFrame
	sends  int
}

var _ streamguard.Sink = (*Sink)(nil)

func (s *Sink) Start(ctx context.Context, f streamguard.StartFrame) error {
	if s.StartErr != nil {
		return s.StartErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := f
	s.start = &cp
	return nil
}

func (s *Sink) Send(ctx context.Context, f streamguard.BodyFrame) error {
	s.mu.Lock()
	i := s.sends
	s.sends++
	s.mu.Unlock()
	if s.SendErr != nil {
		if err := s.SendErr(i, f); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies = append(s.bodies, f)
	return nil
}

// Started reports whether a StartFrame was recorded.
func (s *Sink) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start != nil
}

// Bodies returns a copy of the recorded body frames in emission order.
func (s *Sink) Bodies() []streamguard.BodyFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]streamguard.BodyFrame(nil), s.bodies...)
}

// AssertTerminated fails the test unless the recorded sequence satisfies
// the life-cycle ordering invariant: a StartFrame, zero or more non-final
// body frames, and exactly one final body frame in last position.
func (s *Sink) AssertTerminated(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.start == nil {
		t.Fatalf("no StartFrame recorded")
	}
	if len(s.bodies) == 0 {
		t.Fatalf("no body frames recorded; terminating frame missing")
	}
	finals := 0
	for i, f := range s.bodies {
		if f.Final {
			finals++
			if i != len(s.bodies)-1 {
				t.Fatalf("final frame at position %d of %d; frames emitted after termination", i, len(s.bodies))
			}
		}
	}
	if finals != 1 {
		t.Fatalf("want exactly 1 final frame, got %d", finals)
	}
}
