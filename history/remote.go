package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/Paranoid-AF/kconsole/arbiter"
)

// DefaultRemoteLength is how many kernel history entries Remote fetches.
const DefaultRemoteLength = 500

const fetchTimeout = 10 * time.Second

// Source is a kernel that can report its execution history, oldest first.
type Source interface {
	History(ctx context.Context, n int) ([]string, error)
}

type fetchState int

const (
	unfetched fetchState = iota
	fetching
	fetched
)

// Remote is a Navigator bound to one kernel. The first navigation fetches
// the kernel's history in the background and seeds the buffer with it;
// navigation requested meanwhile is replayed once the fetch settles.
type Remote struct {
	buf    *Buffer
	source Source
	poster arbiter.Poster
	n      int

	state   fetchState
	waiting []func()

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// NewRemote creates a navigator that seeds itself from source on first use.
func NewRemote(source Source, poster arbiter.Poster, n int) *Remote {
	if n <= 0 {
		n = DefaultRemoteLength
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Remote{
		buf:    NewBuffer(),
		source: source,
		poster: poster,
		n:      n,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Push appends text locally; it does not round-trip to the kernel.
func (r *Remote) Push(text string) {
	r.buf.Push(text)
}

// Back recalls the previous command, fetching kernel history first if needed.
func (r *Remote) Back(done func(Recall)) {
	r.withHistory(func() { r.buf.Back(done) })
}

// Forward recalls the next command, fetching kernel history first if needed.
func (r *Remote) Forward(done func(Recall)) {
	r.withHistory(func() { r.buf.Forward(done) })
}

// Buffer exposes the underlying buffer.
func (r *Remote) Buffer() *Buffer {
	return r.buf
}

// Close abandons an outstanding fetch. Queued navigation is dropped.
func (r *Remote) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.waiting = nil
	r.cancel()
}

func (r *Remote) withHistory(fn func()) {
	if r.closed {
		return
	}
	switch r.state {
	case fetched:
		fn()
	case fetching:
		r.waiting = append(r.waiting, fn)
	default:
		r.state = fetching
		r.waiting = append(r.waiting, fn)
		go r.fetch()
	}
}

func (r *Remote) fetch() {
	ctx, cancel := context.WithTimeout(r.ctx, fetchTimeout)
	defer cancel()
	items, err := r.source.History(ctx, r.n)
	r.poster.Post(func() {
		if r.closed {
			return
		}
		if err != nil {
			slog.Debug("kernel history unavailable", "error", err)
		} else {
			r.buf.Prepend(items)
			slog.Debug("kernel history loaded", "entries", len(items))
		}
		r.state = fetched
		waiting := r.waiting
		r.waiting = nil
		for _, fn := range waiting {
			fn()
		}
	})
}
