// Package arbiter issues asynchronous queries and delivers only the reply to
// the most recently issued one.
//
// Every Issue bumps a sequence number. The query runs on its own goroutine
// and its continuation is posted back to the event loop, where the sequence
// captured at issue time is compared with the latest issued. A mismatch means
// a newer query exists and the reply is dropped without being reported.
// Issuance order, not completion order, decides validity.
package arbiter

import (
	"context"
	"log/slog"
)

// Poster runs callbacks on the goroutine that owns the arbiter.
type Poster interface {
	Post(fn func()) bool
}

// Arbiter is not safe for concurrent use; Issue, Invalidate and Dispose must
// be called from the loop goroutine that Poster delivers to.
type Arbiter[T any] struct {
	name   string
	poster Poster

	latest   uint64
	disposed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an arbiter whose continuations are delivered through poster.
// name labels debug logs.
func New[T any](name string, poster Poster) *Arbiter[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Arbiter[T]{
		name:   name,
		poster: poster,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Issue starts query and returns its sequence number. deliver is called on
// the loop at most once, and only if no newer query was issued or the
// arbiter invalidated in the meantime. A query error drops the reply.
func (a *Arbiter[T]) Issue(query func(ctx context.Context) (T, error), deliver func(T)) uint64 {
	a.latest++
	seq := a.latest
	if a.disposed {
		return seq
	}

	ctx := a.ctx
	go func() {
		result, err := query(ctx)
		posted := a.poster.Post(func() {
			if a.disposed {
				return
			}
			if seq != a.latest {
				slog.Debug("stale reply", "arbiter", a.name, "seq", seq, "latest", a.latest)
				return
			}
			if err != nil {
				slog.Debug("query failed", "arbiter", a.name, "seq", seq, "error", err)
				return
			}
			deliver(result)
		})
		if !posted {
			slog.Debug("reply dropped, loop closed", "arbiter", a.name, "seq", seq)
		}
	}()
	return seq
}

// Latest returns the most recently issued sequence number.
func (a *Arbiter[T]) Latest() uint64 {
	return a.latest
}

// Invalidate makes every pending reply stale without issuing a new query.
func (a *Arbiter[T]) Invalidate() {
	a.latest++
}

// Dispose cancels the context handed to queries and turns every later
// continuation into a no-op. Calling it again does nothing.
func (a *Arbiter[T]) Dispose() {
	if a.disposed {
		return
	}
	a.disposed = true
	a.cancel()
}

// Disposed reports whether Dispose has been called.
func (a *Arbiter[T]) Disposed() bool {
	return a.disposed
}
