package prompt

import "strings"

// Coords is the screen anchor of the cursor, as reported by the editor.
type Coords struct {
	Left   int
	Top    int
	Bottom int
}

// Change is a snapshot of the editing surface after an edit.
// Line and Ch locate the cursor; Ch is a byte column within the line.
type Change struct {
	Value  string
	Line   int
	Ch     int
	Coords Coords
}

// LineText returns the text of the cursor's line.
func (c Change) LineText() string {
	lines := strings.Split(c.Value, "\n")
	if c.Line < 0 || c.Line >= len(lines) {
		return ""
	}
	return lines[c.Line]
}

// Offset returns the cursor's byte offset within Value, clamped to its length.
func (c Change) Offset() int {
	off := 0
	line := 0
	for line < c.Line {
		i := strings.IndexByte(c.Value[off:], '\n')
		if i < 0 {
			return len(c.Value)
		}
		off += i + 1
		line++
	}
	off += c.Ch
	if off > len(c.Value) {
		return len(c.Value)
	}
	if off < 0 {
		return 0
	}
	return off
}

// Edge is a boundary of the live entry's buffer.
type Edge int

const (
	Top Edge = iota
	Bottom
)

func (e Edge) String() string {
	if e == Top {
		return "top"
	}
	return "bottom"
}

// Event is an input event produced by the editor for the live entry.
type Event interface {
	isEvent()
}

// TextChanged reports that the buffer content changed.
type TextChanged struct {
	Change
}

// CompletionRequested reports an explicit request for completion (e.g. Tab).
type CompletionRequested struct {
	Change
}

// EdgeRequested reports an attempt to move the cursor past a buffer edge.
type EdgeRequested struct {
	Location Edge
}

// CompletionSelected reports that the user picked a completion candidate.
type CompletionSelected struct {
	Text string
}

func (TextChanged) isEvent()         {}
func (CompletionRequested) isEvent() {}
func (EdgeRequested) isEvent()       {}
func (CompletionSelected) isEvent()  {}
