package completion

import (
	"unicode"
	"unicode/utf8"

	"github.com/sahilm/fuzzy"

	"github.com/Paranoid-AF/kconsole/prompt"
)

// State is the active completion. It is either empty or fully populated:
// candidates, replacement range and the snapshot they were computed against
// always change together.
type State struct {
	// Candidates are the kernel's matches, in kernel order.
	Candidates []string
	// Start and End delimit the text in Original that a candidate replaces.
	Start, End int
	// Original is the edit the candidates were computed against.
	Original *prompt.Change
	// Current is the latest edit made while the completion stayed active.
	Current *prompt.Change
}

// Active reports whether the state holds a completion.
func (s State) Active() bool {
	return s.Original != nil
}

// Query returns what the user has typed into the replacement range so far.
func (s State) Query() string {
	if !s.Active() {
		return ""
	}
	base := s.base()
	off := base.Offset()
	if s.Start < 0 || s.Start > off || off > len(base.Value) {
		return ""
	}
	return base.Value[s.Start:off]
}

// Visible returns the candidates that still match the query, best first.
// With an empty query every candidate is visible in kernel order.
func (s State) Visible() []string {
	if !s.Active() {
		return nil
	}
	q := s.Query()
	if q == "" {
		return append([]string(nil), s.Candidates...)
	}
	matches := fuzzy.Find(q, s.Candidates)
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Str
	}
	return out
}

func (s State) base() prompt.Change {
	if s.Current != nil {
		return *s.Current
	}
	return *s.Original
}

// Patch is the result of applying a candidate: the full new text and the
// cursor offset just after the inserted candidate.
type Patch struct {
	Text   string
	Cursor int
}

// IsTokenChar reports whether the character immediately before column ch of
// line is non-whitespace. Completion and inspection only run when it is;
// whitespace (or the start of a line) ends the current token.
func IsTokenChar(line string, ch int) bool {
	if ch <= 0 || ch > len(line) {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(line[:ch])
	if r == utf8.RuneError {
		return false
	}
	return !unicode.IsSpace(r)
}
