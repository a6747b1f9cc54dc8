package prompt

import (
	"sync"

	kconsole "github.com/Paranoid-AF/kconsole"
)

// Entry is one prompt in the console transcript: the banner, a committed
// entry, or the live entry.
type Entry struct {
	ordinal  int
	value    string
	cursor   int
	readOnly bool
	mimetype string
	trusted  bool
	banner   bool

	executionCount int
	outputs        []kconsole.Output

	observers []*Subscription
}

func newEntry(ordinal int, mimetype string) *Entry {
	return &Entry{ordinal: ordinal, mimetype: mimetype}
}

// Ordinal returns the entry's position in the transcript.
func (e *Entry) Ordinal() int { return e.ordinal }

// Value returns the entry's text.
func (e *Entry) Value() string { return e.value }

// Cursor returns the cursor's byte offset within Value.
func (e *Entry) Cursor() int { return e.cursor }

// ReadOnly reports whether the entry has been committed (or is the banner).
func (e *Entry) ReadOnly() bool { return e.readOnly }

// Mimetype returns the entry's editor mimetype.
func (e *Entry) Mimetype() string { return e.mimetype }

// Trusted reports whether the entry's outputs come from code the user ran.
func (e *Entry) Trusted() bool { return e.trusted }

// IsBanner reports whether this is the fixed banner entry.
func (e *Entry) IsBanner() bool { return e.banner }

// ExecutionCount returns the kernel's execution counter for this entry, or 0.
func (e *Entry) ExecutionCount() int { return e.executionCount }

// Outputs returns the execution outputs attached to the entry.
func (e *Entry) Outputs() []kconsole.Output { return e.outputs }

// SetValue replaces the entry's text and clamps the cursor. Read-only
// entries ignore it, except the banner while it is being initialized.
func (e *Entry) SetValue(v string) {
	if e.readOnly && !e.banner {
		return
	}
	e.value = v
	if e.cursor > len(v) {
		e.cursor = len(v)
	}
}

// SetCursor moves the cursor, clamped to the text.
func (e *Entry) SetCursor(offset int) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(e.value) {
		offset = len(e.value)
	}
	e.cursor = offset
}

// SetMimetype sets the entry's editor mimetype.
func (e *Entry) SetMimetype(m string) { e.mimetype = m }

// SetTrusted marks the entry as trusted.
func (e *Entry) SetTrusted(v bool) { e.trusted = v }

// SetResult attaches execution results. Only meaningful before the entry is committed.
func (e *Entry) SetResult(count int, outputs []kconsole.Output) {
	e.executionCount = count
	e.outputs = append([]kconsole.Output(nil), outputs...)
}

// Observe registers fn for input events emitted on the entry. The
// subscription is closed automatically when the entry is committed.
func (e *Entry) Observe(fn func(Event)) *Subscription {
	sub := &Subscription{fn: fn}
	if e.readOnly {
		sub.Close()
		return sub
	}
	e.observers = append(e.observers, sub)
	return sub
}

// Emit delivers ev to the entry's observers. Read-only entries drop input.
func (e *Entry) Emit(ev Event) {
	if e.readOnly {
		return
	}
	for _, sub := range append([]*Subscription(nil), e.observers...) {
		sub.deliver(ev)
	}
}

// commit makes the entry read-only and detaches its observers.
func (e *Entry) commit() {
	e.readOnly = true
	e.detach()
}

func (e *Entry) detach() {
	for _, sub := range e.observers {
		sub.Close()
	}
	e.observers = nil
}

// Record returns the entry's persisted cell representation.
func (e *Entry) Record() Record {
	r := Record{
		CellType: "code",
		Source:   e.value,
		Outputs:  append([]kconsole.Output(nil), e.outputs...),
		Metadata: RecordMetadata{Trusted: e.trusted, Mimetype: e.mimetype},
	}
	if e.executionCount > 0 {
		n := e.executionCount
		r.ExecutionCount = &n
	}
	return r
}

// Subscription is a handle to an observer registration.
type Subscription struct {
	mu     sync.Mutex
	fn     func(Event)
	closed bool
}

// Close detaches the observer. Closing twice is a no-op.
func (s *Subscription) Close() {
	s.mu.Lock()
	s.closed = true
	s.fn = nil
	s.mu.Unlock()
}

// Closed reports whether the subscription has been closed.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}
