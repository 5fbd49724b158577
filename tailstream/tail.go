// Package tailstream provides a streamguard.Producer that follows a file,
// emitting appended bytes as body frames. It is the filesystem analog of a
// chunk stream: data arrives whenever some other process appends to the
// file, and the stream ends when the file is removed or renamed away.
//
// Frame IDs are decimal byte offsets, so a consumer can resume by seeking.
package tailstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"

	streamguard "github.com/ggoodman/streamguard-go"
)

const defaultChunkSize = 32 * 1024

// Option configures a Producer.
type Option func(*Producer)

// WithReplay starts the stream at the beginning of the file rather than at
// its current end.
func WithReplay() Option {
	return func(p *Producer) { p.replay = true }
}

// WithChunkSize bounds the size of a single emitted frame. Defaults to 32 KiB.
func WithChunkSize(n int) Option {
	return func(p *Producer) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// Producer follows a single file. It implements streamguard.Producer and
// io.Closer; hand it to a Guard with Own so the watcher is released on
// every exit path.
type Producer struct {
	path      string
	replay    bool
	chunkSize int

	f       *os.File
	watcher *fsnotify.Watcher
	offset  int64

	closeOnce sync.Once
	closeErr  error
}

var (
	_ streamguard.Producer = (*Producer)(nil)
	_ io.Closer            = (*Producer)(nil)
)

// New opens path and begins watching it for appends.
func New(path string, opts ...Option) (*Producer, error) {
	p := &Producer{path: path, chunkSize: defaultChunkSize}
	for _, opt := range opts {
		opt(p)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if !p.replay {
		off, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("seek %s: %w", path, err)
		}
		p.offset = off
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		_ = f.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	p.f = f
	p.watcher = w
	return p, nil
}

// Next implements streamguard.Producer. It returns the next run of
// appended bytes, blocking on filesystem notifications when the file is
// fully drained. Removal or renaming of the file ends the stream with
// io.EOF.
func (p *Producer) Next(ctx context.Context) (streamguard.BodyFrame, error) {
	buf := make([]byte, p.chunkSize)
	for {
		n, err := p.f.Read(buf)
		if n > 0 {
			p.offset += int64(n)
			return streamguard.BodyFrame{
				ID:      strconv.FormatInt(p.offset, 10),
				Payload: append([]byte(nil), buf[:n]...),
			}, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			if errors.Is(err, os.ErrClosed) {
				return streamguard.BodyFrame{}, io.EOF
			}
			return streamguard.BodyFrame{}, fmt.Errorf("read %s: %w", p.path, err)
		}

		select {
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return streamguard.BodyFrame{}, io.EOF
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				return streamguard.BodyFrame{}, io.EOF
			}
			// Write or truncate: loop back and try the read again.
		case werr, ok := <-p.watcher.Errors:
			if !ok {
				return streamguard.BodyFrame{}, io.EOF
			}
			return streamguard.BodyFrame{}, fmt.Errorf("watch %s: %w", p.path, werr)
		case <-ctx.Done():
			return streamguard.BodyFrame{}, ctx.Err()
		}
	}
}

// Offset returns the number of bytes emitted so far, matching the ID of
// the most recent frame.
func (p *Producer) Offset() int64 {
	return p.offset
}

// Close releases the watcher and file handle. Idempotent.
func (p *Producer) Close() error {
	p.closeOnce.Do(func() {
		werr := p.watcher.Close()
		ferr := p.f.Close()
		if werr != nil {
			p.closeErr = werr
		} else {
			p.closeErr = ferr
		}
	})
	return p.closeErr
}
