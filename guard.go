package streamguard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	// ErrGuardReused is returned by Run when invoked on a Guard that has
	// already run. Guards are single use; this is a programmer error.
	ErrGuardReused = errors.New("streamguard: guard already ran")

	// ErrLifecycleFinished is returned by transport bindings when a frame
	// is emitted after the life-cycle reached its terminal state.
	ErrLifecycleFinished = errors.New("streamguard: lifecycle already finished")
)

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the slog logger used by the Guard. If not provided, logs
// are discarded.
func WithLogger(log *slog.Logger) Option {
	return func(g *Guard) {
		if log != nil {
			g.log = log
		}
	}
}

// WithStartFrame sets the StartFrame emitted when Run begins. Ignored when
// WithStartEmitted is also set.
func WithStartFrame(f StartFrame) Option {
	return func(g *Guard) { g.start = f }
}

// WithStartEmitted declares that the caller already emitted the StartFrame
// (committed headers) before handing the response to the Guard. The Guard
// then skips start emission but still owes the terminating frame: an
// already-started life-cycle is exactly the state in which an abandoned
// stream leaves the transport half open.
func WithStartEmitted() Option {
	return func(g *Guard) { g.startEmitted = true }
}

// Guard enforces the completion invariant for exactly one response
// life-cycle: once started, exactly one terminating body frame is emitted
// before Run returns, regardless of producer behavior. See the package
// documentation for the full contract.
type Guard struct {
	log          *slog.Logger
	start        StartFrame
	startEmitted bool

	ran atomic.Bool

	mu    sync.Mutex
	lc    Lifecycle
	owned []io.Closer

	closeOnce sync.Once
}

// New constructs a Guard. The zero set of options yields a Guard that emits
// a bare StartFrame (status 200, no headers) and discards logs.
func New(opts ...Option) *Guard {
	g := &Guard{log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Own registers a resource released exactly once when the run finishes,
// on every exit path. Typical use is the producer's underlying
// subscription. Must be called before or during Run.
func (g *Guard) Own(c io.Closer) {
	if c == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.owned = append(g.owned, c)
}

// Lifecycle returns a snapshot of the life-cycle state.
func (g *Guard) Lifecycle() Lifecycle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lc
}

// Close releases owned resources. It is idempotent and is also invoked by
// the run finalizer; callers only need it when tearing down a Guard that
// never ran.
func (g *Guard) Close() error {
	g.release()
	return nil
}

// Run drives the producer, forwarding frames to the sink, and guarantees
// that a started life-cycle is terminated. It may be invoked at most once
// per Guard and resolves when the life-cycle reaches its terminal state.
//
// Producer termination (exhaustion, error, cancellation) never fails the
// run: a producer error is recorded on the life-cycle and absorbed, and
// cancellation is surfaced as ctx.Err() only after the finalizer has
// emitted the terminating frame. The only fatal condition is a sink
// failure during live forwarding, which means the remainder of the
// response cannot be delivered.
func (g *Guard) Run(ctx context.Context, p Producer, s Sink) error {
	if !g.ran.CompareAndSwap(false, true) {
		return ErrGuardReused
	}
	if p == nil || s == nil {
		g.release()
		return errors.New("streamguard: producer and sink are required")
	}

	if !g.startEmitted {
		if err := s.Start(ctx, g.start); err != nil {
			// Nothing was committed to the wire, so no terminator is
			// owed. Release and report.
			g.release()
			return fmt.Errorf("emit start frame: %w", err)
		}
	}
	g.mu.Lock()
	g.lc.Started = true
	g.mu.Unlock()

	var (
		finalSent bool
		runErr    error
	)

	// The finalizer is a deferred block, not a statement after the loop:
	// the loop below may be abandoned by cancellation, a producer panic,
	// or a sink failure, and the terminating frame is owed on every one
	// of those paths.
	defer func() {
		g.finish(ctx, s, finalSent)
	}()

	for {
		f, perr := p.Next(ctx)
		if perr != nil {
			if errors.Is(perr, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				// Cancellation is an early-termination signal, not a
				// bypass of the invariant. The deferred finalizer runs
				// before this error reaches the caller.
				return perr
			}
			g.mu.Lock()
			g.lc.ProducerErr = perr
			g.mu.Unlock()
			g.log.WarnContext(ctx, "guard.producer.fail", slog.String("err", perr.Error()))
			return nil
		}

		if err := s.Send(ctx, f); err != nil {
			runErr = fmt.Errorf("forward body frame: %w", err)
			return runErr
		}
		g.mu.Lock()
		g.lc.BodyEmitted = true
		g.mu.Unlock()

		if f.Final {
			finalSent = true
			return nil
		}
	}
}

// finish is the unconditional finalizer: synthesize the terminating frame
// if none was forwarded, mark the life-cycle finished, and release owned
// resources. A sink failure here is swallowed: the intent (closing the
// response) was satisfied even if delivery to a now-absent peer was not.
func (g *Guard) finish(ctx context.Context, s Sink, finalSent bool) {
	g.mu.Lock()
	if g.lc.Finished {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	if !finalSent {
		// Attempt the write even when ctx is already cancelled; the sink
		// decides whether the transport will still take it.
		if err := s.Send(context.WithoutCancel(ctx), BodyFrame{Final: true}); err != nil {
			g.log.DebugContext(ctx, "guard.terminator.fail", slog.String("err", err.Error()))
		} else {
			g.mu.Lock()
			g.lc.BodyEmitted = true
			g.mu.Unlock()
		}
	}

	g.mu.Lock()
	g.lc.Finished = true
	g.mu.Unlock()

	g.release()
}

// release closes owned resources exactly once, no matter how many exit
// paths attempt cleanup.
func (g *Guard) release() {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		owned := g.owned
		g.owned = nil
		g.mu.Unlock()
		for _, c := range owned {
			if err := c.Close(); err != nil {
				g.log.Debug("guard.resource.close.fail", slog.String("err", err.Error()))
			}
		}
	})
}
