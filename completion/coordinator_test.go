package completion

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	kconsole "github.com/Paranoid-AF/kconsole"
	"github.com/Paranoid-AF/kconsole/loop"
	"github.com/Paranoid-AF/kconsole/prompt"
)

// stubCompleter answers each call with the next queued reply.
type stubCompleter struct {
	mu      sync.Mutex
	replies []*kconsole.CompleteReply
	err     error
	calls   []string
}

func (s *stubCompleter) Complete(ctx context.Context, code string, cursorPos int) (*kconsole.CompleteReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, code)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.replies) == 0 {
		return &kconsole.CompleteReply{Status: kconsole.StatusError}, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

type recordingView struct {
	updates []State
}

func (v *recordingView) Update(s State) {
	v.updates = append(v.updates, s)
}

func okReply(start, end int, matches ...string) *kconsole.CompleteReply {
	return &kconsole.CompleteReply{
		Status:      kconsole.StatusOK,
		Matches:     matches,
		CursorStart: start,
		CursorEnd:   end,
	}
}

func change(value string) prompt.Change {
	return prompt.Change{Value: value, Ch: len(value)}
}

// settle waits for n posted replies and runs them.
func settle(t *testing.T, m *loop.Manual, n int) {
	t.Helper()
	if !m.Wait(n, 2*time.Second) {
		t.Fatalf("timed out waiting for %d replies", n)
	}
	m.RunPending()
}

func TestRequestPopulatesState(t *testing.T) {
	m := loop.NewManual()
	kernel := &stubCompleter{replies: []*kconsole.CompleteReply{okReply(0, 2, "git", "gitk")}}
	view := &recordingView{}
	c := NewCoordinator(kernel, m, view)

	c.Request(change("gi"))
	settle(t, m, 1)

	s := c.State()
	if !s.Active() {
		t.Fatal("expected active completion")
	}
	if !reflect.DeepEqual(s.Candidates, []string{"git", "gitk"}) {
		t.Errorf("unexpected candidates %v", s.Candidates)
	}
	if s.Start != 0 || s.End != 2 || s.Original.Value != "gi" {
		t.Errorf("unexpected state %+v", s)
	}
	if len(view.updates) != 1 {
		t.Errorf("expected one view update, got %d", len(view.updates))
	}
}

func TestFailedReplyLeavesStateUntouched(t *testing.T) {
	m := loop.NewManual()
	kernel := &stubCompleter{replies: []*kconsole.CompleteReply{
		okReply(0, 2, "git"),
		{Status: kconsole.StatusError},
	}}
	c := NewCoordinator(kernel, m, nil)

	c.Request(change("gi"))
	settle(t, m, 1)
	c.Request(change("git"))
	settle(t, m, 1)

	s := c.State()
	if !s.Active() || s.Original.Value != "gi" || len(s.Candidates) != 1 {
		t.Errorf("expected previous state to survive error reply, got %+v", s)
	}

	kernel.err = errors.New("connection refused")
	c.Request(change("gitx"))
	settle(t, m, 1)
	if s := c.State(); s.Original.Value != "gi" {
		t.Errorf("expected previous state to survive transport error, got %+v", s)
	}
}

func TestClearIsAtomic(t *testing.T) {
	m := loop.NewManual()
	kernel := &stubCompleter{replies: []*kconsole.CompleteReply{okReply(0, 2, "git")}}
	c := NewCoordinator(kernel, m, nil)
	c.Request(change("gi"))
	settle(t, m, 1)

	c.Clear()
	s := c.State()
	if s.Active() || s.Candidates != nil || s.Start != 0 || s.End != 0 || s.Current != nil {
		t.Errorf("expected empty state, got %+v", s)
	}
}

func TestRefineWithoutOriginalDoesNothing(t *testing.T) {
	m := loop.NewManual()
	kernel := &stubCompleter{}
	c := NewCoordinator(kernel, m, nil)

	c.Refine(change("gi"))
	time.Sleep(10 * time.Millisecond)
	if m.Len() != 0 || len(kernel.calls) != 0 {
		t.Error("expected no request without an active completion")
	}
	if c.State().Active() {
		t.Error("expected state to stay empty")
	}
}

func TestRefineNarrowsAndRequests(t *testing.T) {
	m := loop.NewManual()
	kernel := &stubCompleter{replies: []*kconsole.CompleteReply{
		okReply(0, 1, "git", "go", "grep"),
		okReply(0, 2, "go"),
	}}
	c := NewCoordinator(kernel, m, nil)
	c.Request(change("g"))
	settle(t, m, 1)

	c.Refine(change("go"))
	if got := c.State().Visible(); len(got) != 1 || got[0] != "go" {
		t.Errorf("expected visible [go] before reply, got %v", got)
	}
	settle(t, m, 1)
	s := c.State()
	if s.Original.Value != "go" || s.Current != nil {
		t.Errorf("expected refreshed state anchored on refinement, got %+v", s)
	}
}

func TestStaleReplyDropped(t *testing.T) {
	m := loop.NewManual()
	kernel := &stubCompleter{replies: []*kconsole.CompleteReply{
		okReply(0, 1, "first"),
		okReply(0, 2, "second"),
	}}
	c := NewCoordinator(kernel, m, nil)
	c.Request(change("a"))
	c.Request(change("ab"))
	settle(t, m, 2)

	s := c.State()
	if s.Original == nil || s.Original.Value != "ab" {
		t.Fatalf("expected only latest request applied, got %+v", s)
	}
}

func TestResetDropsPending(t *testing.T) {
	m := loop.NewManual()
	kernel := &stubCompleter{replies: []*kconsole.CompleteReply{okReply(0, 1, "x")}}
	c := NewCoordinator(kernel, m, nil)
	c.Request(change("a"))
	c.Reset()
	settle(t, m, 1)
	if c.State().Active() {
		t.Error("expected reply issued before Reset to be dropped")
	}
}

func TestApplySelection(t *testing.T) {
	m := loop.NewManual()
	kernel := &stubCompleter{replies: []*kconsole.CompleteReply{okReply(5, 7, "status", "stash")}}
	c := NewCoordinator(kernel, m, nil)
	c.Request(change("echo st"))
	settle(t, m, 1)

	p, err := c.ApplySelection("status")
	if err != nil {
		t.Fatal(err)
	}
	if p.Text != "echo status" || p.Cursor != 11 {
		t.Errorf("unexpected patch %+v", p)
	}
}

func TestApplySelectionAfterTyping(t *testing.T) {
	m := loop.NewManual()
	kernel := &stubCompleter{replies: []*kconsole.CompleteReply{okReply(4, 6, "status")}}
	c := NewCoordinator(kernel, m, nil)
	c.Request(prompt.Change{Value: "git st", Ch: 6})
	settle(t, m, 1)

	// The user typed one more character; the refresh is still in flight.
	c.Refine(prompt.Change{Value: "git sta", Ch: 7})
	p, err := c.ApplySelection("status")
	if err != nil {
		t.Fatal(err)
	}
	if p.Text != "git status" || p.Cursor != 10 {
		t.Errorf("unexpected patch %+v", p)
	}
}

func TestApplySelectionKeepsSuffix(t *testing.T) {
	m := loop.NewManual()
	kernel := &stubCompleter{replies: []*kconsole.CompleteReply{okReply(0, 2, "echo")}}
	c := NewCoordinator(kernel, m, nil)
	c.Request(prompt.Change{Value: "ec hi", Ch: 2})
	settle(t, m, 1)

	p, err := c.ApplySelection("echo")
	if err != nil {
		t.Fatal(err)
	}
	if p.Text != "echo hi" || p.Cursor != 4 {
		t.Errorf("unexpected patch %+v", p)
	}
}

func TestApplySelectionInactive(t *testing.T) {
	c := NewCoordinator(&stubCompleter{}, loop.NewManual(), nil)
	if _, err := c.ApplySelection("x"); !errors.Is(err, ErrNoCompletion) {
		t.Errorf("expected ErrNoCompletion, got %v", err)
	}
}

func TestDisposeDropsInFlight(t *testing.T) {
	m := loop.NewManual()
	kernel := &stubCompleter{replies: []*kconsole.CompleteReply{okReply(0, 1, "x")}}
	c := NewCoordinator(kernel, m, nil)
	c.Request(change("a"))
	c.Dispose()
	c.Dispose()
	m.Wait(1, 200*time.Millisecond)
	m.RunPending()
	if c.State().Active() {
		t.Error("expected disposed coordinator to ignore replies")
	}
}

func TestIsTokenChar(t *testing.T) {
	tests := []struct {
		line string
		ch   int
		want bool
	}{
		{"ls", 2, true},
		{"ls ", 3, false},
		{"ls\t", 3, false},
		{"", 0, false},
		{"ls -", 4, true},
		{"ls x", 3, false},
		{"héllo", 3, true},
	}
	for _, tt := range tests {
		if got := IsTokenChar(tt.line, tt.ch); got != tt.want {
			t.Errorf("IsTokenChar(%q, %d) = %v, want %v", tt.line, tt.ch, got, tt.want)
		}
	}
}

func TestVisibleEmptyQuery(t *testing.T) {
	s := State{
		Candidates: []string{"b", "a"},
		Start:      3,
		End:        3,
		Original:   &prompt.Change{Value: "ls ", Ch: 3},
	}
	if got := s.Visible(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Errorf("expected all candidates in order, got %v", got)
	}
}
