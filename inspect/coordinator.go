// Package inspect fetches tooltip documentation for the token under the
// cursor of the live entry.
package inspect

import (
	"context"
	"log/slog"
	"time"

	kconsole "github.com/Paranoid-AF/kconsole"
	"github.com/Paranoid-AF/kconsole/arbiter"
	"github.com/Paranoid-AF/kconsole/prompt"
)

const requestTimeout = 10 * time.Second

// Inspector is the kernel's introspection service.
type Inspector interface {
	Inspect(ctx context.Context, code string, cursorPos int, detailLevel int) (*kconsole.InspectReply, error)
}

// Display shows introspection results anchored at the cursor.
type Display interface {
	Show(bundle kconsole.MimeBundle, at prompt.Coords)
	Hide()
}

// Coordinator decides which introspection reply is shown. All methods must
// be called on the session's event loop.
type Coordinator struct {
	kernel      Inspector
	arb         *arbiter.Arbiter[*kconsole.InspectReply]
	display     Display
	detailLevel int
	shown       bool
}

// NewCoordinator creates a coordinator. display may be nil, in which case
// replies are fetched and discarded.
func NewCoordinator(kernel Inspector, poster arbiter.Poster, display Display, detailLevel int) *Coordinator {
	return &Coordinator{
		kernel:      kernel,
		arb:         arbiter.New[*kconsole.InspectReply]("inspect", poster),
		display:     display,
		detailLevel: detailLevel,
	}
}

// Shown reports whether a tooltip is currently displayed.
func (c *Coordinator) Shown() bool {
	return c.shown
}

// SetKernel points future requests at kernel and drops pending replies.
func (c *Coordinator) SetKernel(kernel Inspector) {
	c.kernel = kernel
	c.Reset()
}

// Request asks the kernel about the token at change's cursor. A reply that
// is found is normalized and shown at change's coordinates; anything else is
// ignored.
func (c *Coordinator) Request(change prompt.Change) {
	kernel := c.kernel
	if kernel == nil {
		return
	}
	code := change.Value
	pos := change.Offset()
	detail := c.detailLevel
	c.arb.Issue(func(ctx context.Context) (*kconsole.InspectReply, error) {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		return kernel.Inspect(ctx, code, pos, detail)
	}, func(reply *kconsole.InspectReply) {
		if reply == nil || reply.Status != kconsole.StatusOK || !reply.Found {
			slog.Debug("nothing to inspect", "pos", pos)
			return
		}
		if c.display == nil {
			return
		}
		c.display.Show(reply.Data.Normalize(), change.Coords)
		c.shown = true
	})
}

// Hide dismisses the tooltip if one is shown.
func (c *Coordinator) Hide() {
	if !c.shown {
		return
	}
	c.shown = false
	if c.display != nil {
		c.display.Hide()
	}
}

// Reset hides the tooltip and drops every pending reply.
func (c *Coordinator) Reset() {
	c.arb.Invalidate()
	c.Hide()
}

// Dispose hides the tooltip and stops delivering replies.
func (c *Coordinator) Dispose() {
	c.arb.Dispose()
	c.Hide()
}
