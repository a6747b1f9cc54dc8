// Package loop provides the single-goroutine event loop that owns console state.
// Handlers posted to a Loop run one at a time, in arrival order, each to completion.
package loop

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultDepth is the callback queue depth used by New when depth <= 0.
const DefaultDepth = 256

// Loop serializes callbacks onto the goroutine that calls Run.
type Loop struct {
	queue chan func()

	mu     sync.RWMutex
	closed bool

	stopCh    chan struct{}
	closeOnce sync.Once
}

// New creates a loop with the given queue depth.
func New(depth int) *Loop {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Loop{
		queue:  make(chan func(), depth),
		stopCh: make(chan struct{}),
	}
}

// Post queues fn to run on the loop goroutine. It reports false and drops fn
// once the loop has been closed. Post blocks while the queue is full.
func (l *Loop) Post(fn func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.stopCh:
		return false
	}
}

// Run executes posted callbacks until ctx is done or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopCh:
			return nil
		case fn := <-l.queue:
			l.invoke(fn)
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "panic", r)
		}
	}()
	fn()
}

// Close stops the loop. Callbacks still queued are discarded.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
	})
}
