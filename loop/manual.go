package loop

import (
	"sync"
	"time"
)

// Manual is a Poster that queues callbacks until the owner drains them.
// Hosts that already run their own event loop (and tests) use it to decide
// exactly when continuations run.
type Manual struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
}

// NewManual creates an empty manual loop.
func NewManual() *Manual {
	m := &Manual{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Post queues fn. It reports false after Close.
func (m *Manual) Post(fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.pending = append(m.pending, fn)
	m.cond.Broadcast()
	return true
}

// Len returns the number of queued callbacks.
func (m *Manual) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Wait blocks until at least n callbacks are queued or timeout elapses.
// It reports whether n callbacks arrived.
func (m *Manual) Wait(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer timer.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.pending) < n {
		if !time.Now().Before(deadline) {
			return false
		}
		m.cond.Wait()
	}
	return true
}

// RunPending runs every queued callback, including ones queued while running,
// and returns how many ran.
func (m *Manual) RunPending() int {
	ran := 0
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return ran
		}
		fn := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		fn()
		ran++
	}
}

// Close rejects further posts and discards queued callbacks.
func (m *Manual) Close() {
	m.mu.Lock()
	m.closed = true
	m.pending = nil
	m.mu.Unlock()
}
