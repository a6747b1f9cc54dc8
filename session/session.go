// Package session composes the prompt lifecycle, history navigation and the
// completion and introspection coordinators into one console session bound
// to a kernel.
//
// A Session is driven from a single event loop: every method, and every
// continuation the session schedules, runs on the goroutine that drains the
// poster handed to New. Kernel calls run on their own goroutines and post
// their results back.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	kconsole "github.com/Paranoid-AF/kconsole"
	"github.com/Paranoid-AF/kconsole/arbiter"
	"github.com/Paranoid-AF/kconsole/completion"
	defaults "github.com/Paranoid-AF/kconsole/default"
	"github.com/Paranoid-AF/kconsole/history"
	"github.com/Paranoid-AF/kconsole/inspect"
	"github.com/Paranoid-AF/kconsole/prompt"
)

var (
	// ErrBusy is returned by Execute and Clear while an execution is outstanding.
	ErrBusy = errors.New("execution in progress")
	// ErrDisposed is returned once the session has been disposed.
	ErrDisposed = errors.New("session disposed")
)

// DefaultExecuteTimeout bounds a single execution when Options leaves it unset.
const DefaultExecuteTimeout = 5 * time.Minute

const infoTimeout = 10 * time.Second

// Backend is the kernel a session talks to.
type Backend interface {
	completion.Completer
	inspect.Inspector
	Execute(ctx context.Context, code string) (*kconsole.ExecuteReply, error)
	KernelInfo(ctx context.Context) (*kconsole.KernelInfoReply, error)
}

// Options customizes how a session builds its parts. Zero values select the
// defaults.
type Options struct {
	// NewHistory builds the navigator bound to a backend. The default uses
	// history.Remote when the backend is a history.Source and a plain
	// history.Buffer otherwise.
	NewHistory func(b Backend, poster arbiter.Poster) history.Navigator
	// NewBanner derives the banner text from the kernel's info reply.
	NewBanner func(info *kconsole.KernelInfoReply) string

	CompletionView completion.View
	Display        inspect.Display

	// Refresh is called after the session rewrites the live entry (history
	// recall, applied completion) so the editor can redraw it.
	Refresh func(e *prompt.Entry)

	// Index, when set, records executed commands for SearchHistory.
	Index *history.Index

	DetailLevel    int
	ExecuteTimeout time.Duration
}

// Session is one console bound to one kernel at a time.
type Session struct {
	poster  arbiter.Poster
	backend Backend
	opts    Options

	prompts    *prompt.Manager
	history    history.Navigator
	completion *completion.Coordinator
	inspect    *inspect.Coordinator
	info       *arbiter.Arbiter[*kconsole.KernelInfoReply]
	kernelInfo *kconsole.KernelInfoReply

	unwatch func()

	executing  bool
	generation uint64
	disposed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a session for backend and starts fetching its kernel info.
func New(poster arbiter.Poster, backend Backend, opts Options) *Session {
	if opts.NewHistory == nil {
		opts.NewHistory = DefaultHistory
	}
	if opts.NewBanner == nil {
		opts.NewBanner = DefaultBanner
	}
	if opts.ExecuteTimeout <= 0 {
		opts.ExecuteTimeout = DefaultExecuteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		poster:     poster,
		backend:    backend,
		opts:       opts,
		prompts:    prompt.NewManager(defaults.DefaultBanner),
		completion: completion.NewCoordinator(backend, poster, opts.CompletionView),
		inspect:    inspect.NewCoordinator(backend, poster, opts.Display, opts.DetailLevel),
		info:       arbiter.New[*kconsole.KernelInfoReply]("kernel_info", poster),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.history = opts.NewHistory(backend, poster)
	s.unwatch = s.prompts.Watch(func(n prompt.Notice) {
		if n.Kind == prompt.Created {
			s.observe(n.Entry)
		}
	})
	s.observe(s.prompts.Live())
	s.initialize()
	return s
}

// DefaultHistory binds a navigator to b.
func DefaultHistory(b Backend, poster arbiter.Poster) history.Navigator {
	if src, ok := b.(history.Source); ok {
		return history.NewRemote(src, poster, history.DefaultRemoteLength)
	}
	return history.NewBuffer()
}

// DefaultBanner uses the kernel's banner, falling back to the built-in one.
func DefaultBanner(info *kconsole.KernelInfoReply) string {
	if info != nil && strings.TrimSpace(info.Banner) != "" {
		return info.Banner
	}
	return defaults.DefaultBanner
}

// Prompts returns the transcript. Renderers may Watch it.
func (s *Session) Prompts() *prompt.Manager { return s.prompts }

// Live returns the live entry.
func (s *Session) Live() *prompt.Entry { return s.prompts.Live() }

// History returns the navigator bound to the current backend.
func (s *Session) History() history.Navigator { return s.history }

// Completion returns the current completion state.
func (s *Session) Completion() completion.State { return s.completion.State() }

// KernelInfo returns the last accepted kernel info reply, or nil.
func (s *Session) KernelInfo() *kconsole.KernelInfoReply { return s.kernelInfo }

// Backend returns the current backend.
func (s *Session) Backend() Backend { return s.backend }

// Busy reports whether an execution is outstanding.
func (s *Session) Busy() bool { return s.executing }

// Disposed reports whether Dispose has been called.
func (s *Session) Disposed() bool { return s.disposed }

// Dispatch delivers an editor event to the live entry.
func (s *Session) Dispatch(ev prompt.Event) {
	if s.disposed {
		return
	}
	if live := s.prompts.Live(); live != nil {
		live.Emit(ev)
	}
}

// DismissTooltip hides the inspection tooltip and drops any reply still in
// flight for it.
func (s *Session) DismissTooltip() {
	if s.disposed {
		return
	}
	s.inspect.Reset()
}

func (s *Session) observe(e *prompt.Entry) {
	if e == nil {
		return
	}
	e.Observe(func(ev prompt.Event) {
		s.handle(e, ev)
	})
}

func (s *Session) handle(e *prompt.Entry, ev prompt.Event) {
	switch ev := ev.(type) {
	case prompt.TextChanged:
		s.sync(e, ev.Change)
		if !completion.IsTokenChar(ev.LineText(), ev.Ch) {
			s.completion.Reset()
			s.inspect.Reset()
			return
		}
		s.completion.Refine(ev.Change)
		if ev.Value != "" {
			s.inspect.Request(ev.Change)
		}

	case prompt.CompletionRequested:
		s.sync(e, ev.Change)
		s.completion.Request(ev.Change)

	case prompt.CompletionSelected:
		p, err := s.completion.ApplySelection(ev.Text)
		if err != nil {
			slog.Debug("selection ignored", "error", err)
			return
		}
		e.SetValue(p.Text)
		e.SetCursor(p.Cursor)
		s.completion.Reset()
		s.refresh(e)

	case prompt.EdgeRequested:
		s.navigate(e, ev.Location)
	}
}

func (s *Session) sync(e *prompt.Entry, c prompt.Change) {
	e.SetValue(c.Value)
	e.SetCursor(c.Offset())
}

func (s *Session) navigate(e *prompt.Entry, edge prompt.Edge) {
	done := func(r history.Recall) {
		if !r.OK || s.disposed || e != s.prompts.Live() {
			return
		}
		e.SetValue(r.Text)
		if edge == prompt.Top {
			e.SetCursor(0)
		} else {
			e.SetCursor(len(r.Text))
		}
		s.completion.Reset()
		s.inspect.Reset()
		s.refresh(e)
	}
	if edge == prompt.Top {
		s.history.Back(done)
	} else {
		s.history.Forward(done)
	}
}

func (s *Session) refresh(e *prompt.Entry) {
	if s.opts.Refresh != nil {
		s.opts.Refresh(e)
	}
}

// Execute runs the live entry on the kernel. The entry is committed and a new
// live entry created once the kernel answers, whether or not it succeeded.
func (s *Session) Execute() error {
	if s.disposed {
		return ErrDisposed
	}
	if s.executing {
		return ErrBusy
	}
	live := s.prompts.Live()
	code := live.Value()
	live.SetTrusted(true)
	s.history.Push(code)
	if s.opts.Index != nil {
		s.opts.Index.Add(code)
	}
	s.completion.Reset()
	s.inspect.Reset()

	s.executing = true
	gen := s.generation
	backend := s.backend
	timeout := s.opts.ExecuteTimeout
	parent := s.ctx
	go func() {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		reply, err := backend.Execute(ctx, code)
		if !s.poster.Post(func() { s.finish(gen, live, reply, err) }) {
			slog.Debug("execute reply dropped, loop closed")
		}
	}()
	return nil
}

func (s *Session) finish(gen uint64, live *prompt.Entry, reply *kconsole.ExecuteReply, err error) {
	if s.disposed || gen != s.generation {
		return
	}
	s.executing = false
	switch {
	case err != nil:
		slog.Debug("execute failed", "error", err)
		live.SetResult(0, []kconsole.Output{errorOutput("ExecuteError", err.Error())})
	case reply != nil:
		outputs := reply.Outputs
		if reply.Status != kconsole.StatusOK && reply.Error != nil && !hasError(outputs) {
			outputs = append(outputs, errorOutput(reply.Error.Code, reply.Error.Message))
		}
		live.SetResult(reply.ExecutionCount, outputs)
	}
	s.prompts.NewPrompt()
}

func errorOutput(name, value string) kconsole.Output {
	return kconsole.Output{
		OutputType: kconsole.OutputError,
		EName:      name,
		EValue:     value,
	}
}

func hasError(outputs []kconsole.Output) bool {
	for _, o := range outputs {
		if o.OutputType == kconsole.OutputError {
			return true
		}
	}
	return false
}

// SetBackend re-points the session at a new kernel. Pending replies and any
// outstanding execution of the old kernel are dropped, the transcript is
// cleared, history is rebound and kernel info is fetched again.
func (s *Session) SetBackend(b Backend) {
	if s.disposed {
		return
	}
	s.generation++
	s.executing = false
	s.backend = b
	s.kernelInfo = nil
	s.completion.SetKernel(b)
	s.inspect.SetKernel(b)
	s.info.Invalidate()

	closeNavigator(s.history)
	s.history = s.opts.NewHistory(b, s.poster)
	s.prompts.Clear()
	s.initialize()
	slog.Debug("backend changed", "generation", s.generation)
}

func (s *Session) initialize() {
	backend := s.backend
	s.info.Issue(func(ctx context.Context) (*kconsole.KernelInfoReply, error) {
		ctx, cancel := context.WithTimeout(ctx, infoTimeout)
		defer cancel()
		return backend.KernelInfo(ctx)
	}, func(reply *kconsole.KernelInfoReply) {
		if reply == nil || reply.Status != kconsole.StatusOK {
			slog.Debug("kernel info unavailable", "reply", reply)
			return
		}
		s.kernelInfo = reply
		s.prompts.SetBanner(s.opts.NewBanner(reply))
		s.prompts.SetMimetype(kconsole.MimetypeForLanguage(reply.LanguageInfo))
	})
}

// Clear empties the visible transcript. History is kept.
func (s *Session) Clear() error {
	if s.disposed {
		return ErrDisposed
	}
	if s.executing {
		return ErrBusy
	}
	s.completion.Reset()
	s.inspect.Reset()
	s.prompts.Clear()
	return nil
}

// Serialize returns the committed entries as records.
func (s *Session) Serialize() []prompt.Record {
	return s.prompts.Serialize()
}

// SearchHistory returns up to k previously executed commands similar to
// query. It returns nil without an index.
func (s *Session) SearchHistory(query string, k int) []string {
	if s.opts.Index == nil {
		return nil
	}
	return s.opts.Index.Search(query, k)
}

// Dispose tears the session down. Later calls do nothing.
func (s *Session) Dispose() {
	if s.disposed {
		return
	}
	s.disposed = true
	s.cancel()
	s.completion.Dispose()
	s.inspect.Dispose()
	s.info.Dispose()
	closeNavigator(s.history)
	if s.unwatch != nil {
		s.unwatch()
	}
	s.prompts.Dispose()
}

func closeNavigator(n history.Navigator) {
	if c, ok := n.(interface{ Close() }); ok {
		c.Close()
	}
}
