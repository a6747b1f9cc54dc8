// Package history recalls previously executed commands for the console.
//
// Buffer is the in-memory navigation cursor; Remote seeds it from the
// kernel's own history; Index adds similarity search over redacted commands.
package history

// Recall is the result of a navigation request. OK is false when the cursor
// could not move; the caller then leaves the live entry untouched.
type Recall struct {
	Text string
	OK   bool
}

// Navigator is the history contract the console depends on. Results are
// delivered through done so implementations may consult the kernel first;
// done always runs on the caller's event loop.
type Navigator interface {
	Push(text string)
	Back(done func(Recall))
	Forward(done func(Recall))
}

// Buffer is an append-only command history with a navigation cursor in
// [0, Len()]. Cursor == Len() means "at present".
type Buffer struct {
	items  []string
	cursor int
}

// NewBuffer creates a buffer seeded with items, oldest first.
func NewBuffer(items ...string) *Buffer {
	b := &Buffer{items: append([]string(nil), items...)}
	b.cursor = len(b.items)
	return b
}

// Len returns the number of stored commands.
func (b *Buffer) Len() int { return len(b.items) }

// Cursor returns the navigation cursor.
func (b *Buffer) Cursor() int { return b.cursor }

// Items returns a copy of the stored commands, oldest first.
func (b *Buffer) Items() []string { return append([]string(nil), b.items...) }

// Push appends text, even if empty or a duplicate, and resets the cursor to present.
func (b *Buffer) Push(text string) {
	b.items = append(b.items, text)
	b.cursor = len(b.items)
}

// Prepend inserts older commands before the stored ones, keeping the cursor
// on the same logical position.
func (b *Buffer) Prepend(older []string) {
	if len(older) == 0 {
		return
	}
	b.items = append(append([]string(nil), older...), b.items...)
	b.cursor += len(older)
}

// Back moves one step into the past. At the oldest entry it is a no-op.
func (b *Buffer) Back(done func(Recall)) {
	done(b.back())
}

// Forward moves one step toward the present. Reaching the present yields an
// empty string; already at the present it is a no-op.
func (b *Buffer) Forward(done func(Recall)) {
	done(b.forward())
}

func (b *Buffer) back() Recall {
	if b.cursor == 0 {
		return Recall{}
	}
	b.cursor--
	return Recall{Text: b.items[b.cursor], OK: true}
}

func (b *Buffer) forward() Recall {
	if b.cursor >= len(b.items) {
		return Recall{}
	}
	b.cursor++
	if b.cursor == len(b.items) {
		return Recall{Text: "", OK: true}
	}
	return Recall{Text: b.items[b.cursor], OK: true}
}
