// Package completion fetches completion candidates for the live entry and
// computes the patch that applies a chosen candidate.
package completion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	kconsole "github.com/Paranoid-AF/kconsole"
	"github.com/Paranoid-AF/kconsole/arbiter"
	"github.com/Paranoid-AF/kconsole/prompt"
)

// ErrNoCompletion is returned by ApplySelection when no completion is active.
var ErrNoCompletion = errors.New("no active completion")

const requestTimeout = 10 * time.Second

// Completer is the kernel's completion service.
type Completer interface {
	Complete(ctx context.Context, code string, cursorPos int) (*kconsole.CompleteReply, error)
}

// View is notified whenever the completion state changes.
type View interface {
	Update(State)
}

// Coordinator owns the completion state for one console session. All
// methods must be called on the session's event loop.
type Coordinator struct {
	kernel Completer
	arb    *arbiter.Arbiter[*kconsole.CompleteReply]
	view   View
	state  State
}

// NewCoordinator creates a coordinator. view may be nil.
func NewCoordinator(kernel Completer, poster arbiter.Poster, view View) *Coordinator {
	return &Coordinator{
		kernel: kernel,
		arb:    arbiter.New[*kconsole.CompleteReply]("completion", poster),
		view:   view,
	}
}

// State returns the current completion state.
func (c *Coordinator) State() State {
	return c.state
}

// SetKernel points future requests at kernel. Pending replies from the
// previous kernel are invalidated and the state is cleared.
func (c *Coordinator) SetKernel(kernel Completer) {
	c.kernel = kernel
	c.Reset()
}

// Request asks the kernel for candidates at change's cursor. Only the reply
// to the latest request is applied; a failed or negative reply leaves the
// current state as it is.
func (c *Coordinator) Request(change prompt.Change) {
	kernel := c.kernel
	if kernel == nil {
		return
	}
	code := change.Value
	pos := change.Offset()
	c.arb.Issue(func(ctx context.Context) (*kconsole.CompleteReply, error) {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		return kernel.Complete(ctx, code, pos)
	}, func(reply *kconsole.CompleteReply) {
		c.apply(change, reply)
	})
}

func (c *Coordinator) apply(change prompt.Change, reply *kconsole.CompleteReply) {
	if reply == nil || reply.Status != kconsole.StatusOK {
		slog.Debug("completion not available", "reply", reply)
		return
	}
	start, end := clampRange(reply.CursorStart, reply.CursorEnd, len(change.Value))
	original := change
	c.state = State{
		Candidates: append([]string(nil), reply.Matches...),
		Start:      start,
		End:        end,
		Original:   &original,
	}
	c.notify()
}

// Refine follows an edit made while a completion may be active. Without an
// active completion nothing happens; otherwise the visible list is narrowed
// to the new query and fresh candidates are requested.
func (c *Coordinator) Refine(change prompt.Change) {
	if !c.state.Active() {
		return
	}
	current := change
	c.state.Current = &current
	c.notify()
	c.Request(change)
}

// Clear empties the state in one step. Requests already in flight may still
// repopulate it; use Reset to drop those too.
func (c *Coordinator) Clear() {
	if !c.state.Active() && c.state.Candidates == nil {
		return
	}
	c.state = State{}
	c.notify()
}

// Reset clears the state and invalidates every pending request.
func (c *Coordinator) Reset() {
	c.arb.Invalidate()
	c.Clear()
}

// ApplySelection computes the text obtained by replacing the completion
// range with candidate, accounting for anything typed since the candidates
// arrived. It does not modify any buffer.
func (c *Coordinator) ApplySelection(candidate string) (Patch, error) {
	s := c.state
	if !s.Active() {
		return Patch{}, ErrNoCompletion
	}
	base := s.base()
	delta := base.Offset() - s.Original.Offset()
	start, end := clampRange(s.Start, s.End+delta, len(base.Value))
	text := base.Value[:start] + candidate + base.Value[end:]
	return Patch{Text: text, Cursor: start + len(candidate)}, nil
}

// Dispose stops delivering replies and clears the state.
func (c *Coordinator) Dispose() {
	c.arb.Dispose()
	c.state = State{}
	if c.view != nil {
		c.view.Update(State{})
	}
}

func (c *Coordinator) notify() {
	if c.view != nil {
		c.view.Update(c.state)
	}
}

func clampRange(start, end, length int) (int, int) {
	if start < 0 {
		start = 0
	}
	if start > length {
		start = length
	}
	if end < start {
		end = start
	}
	if end > length {
		end = length
	}
	return start, end
}
