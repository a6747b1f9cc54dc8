// Package prompt manages the ordered list of console entries: a fixed banner,
// committed entries, and exactly one live entry at the end.
package prompt

import (
	"log/slog"
	"sync"

	kconsole "github.com/Paranoid-AF/kconsole"
)

// NoticeKind identifies a lifecycle change reported to watchers.
type NoticeKind int

const (
	// Created: a new live entry was appended.
	Created NoticeKind = iota
	// Committed: the live entry became read-only.
	Committed
	// Cleared: every entry but the banner was removed.
	Cleared
	// BannerChanged: the banner text was replaced.
	BannerChanged
)

// Notice describes a lifecycle change.
type Notice struct {
	Kind  NoticeKind
	Entry *Entry
}

// Manager owns the transcript. It is not safe for concurrent use.
type Manager struct {
	entries  []*Entry
	mimetype string
	nextOrd  int

	watchers []*watcher
}

type watcher struct {
	mu sync.Mutex
	fn func(Notice)
}

// NewManager creates a transcript holding only the banner and one live entry.
func NewManager(bannerText string) *Manager {
	m := &Manager{mimetype: kconsole.MimePlainText}
	banner := newEntry(m.nextOrd, m.mimetype)
	m.nextOrd++
	banner.banner = true
	banner.readOnly = true
	banner.value = bannerText
	m.entries = append(m.entries, banner)
	m.NewPrompt()
	return m
}

// Banner returns the fixed first entry.
func (m *Manager) Banner() *Entry {
	return m.entries[0]
}

// SetBanner replaces the banner text.
func (m *Manager) SetBanner(text string) {
	b := m.Banner()
	b.SetValue(text)
	m.notify(Notice{Kind: BannerChanged, Entry: b})
}

// Live returns the live entry.
func (m *Manager) Live() *Entry {
	last := m.entries[len(m.entries)-1]
	if last.readOnly {
		return nil
	}
	return last
}

// Entries returns a copy of the entry list, banner first.
func (m *Manager) Entries() []*Entry {
	return append([]*Entry(nil), m.entries...)
}

// Mimetype returns the mimetype new live entries inherit.
func (m *Manager) Mimetype() string {
	return m.mimetype
}

// SetMimetype sets the mimetype for the live entry and every later one.
func (m *Manager) SetMimetype(mimetype string) {
	m.mimetype = mimetype
	if live := m.Live(); live != nil {
		live.SetMimetype(mimetype)
	}
}

// NewPrompt commits the live entry, if any, and appends a fresh live entry.
// Callers must not invoke it while the live entry's execution is outstanding.
func (m *Manager) NewPrompt() *Entry {
	if live := m.Live(); live != nil {
		live.commit()
		m.notify(Notice{Kind: Committed, Entry: live})
	}
	e := newEntry(m.nextOrd, m.mimetype)
	m.nextOrd++
	m.entries = append(m.entries, e)
	slog.Debug("new prompt", "ordinal", e.ordinal, "mimetype", e.mimetype)
	m.notify(Notice{Kind: Created, Entry: e})
	return e
}

// Clear removes every entry except the banner, then creates a new live entry.
// History kept elsewhere is unaffected.
func (m *Manager) Clear() *Entry {
	for _, e := range m.entries[1:] {
		e.readOnly = true
		e.detach()
	}
	m.entries = m.entries[:1]
	m.notify(Notice{Kind: Cleared, Entry: m.Banner()})
	return m.NewPrompt()
}

// Serialize returns the records of committed entries in order, excluding the
// banner and the live entry.
func (m *Manager) Serialize() []Record {
	records := make([]Record, 0, len(m.entries))
	for _, e := range m.entries[1:] {
		if !e.readOnly {
			continue
		}
		records = append(records, e.Record())
	}
	return records
}

// Watch registers fn for lifecycle notices. Call the returned function to stop.
func (m *Manager) Watch(fn func(Notice)) (cancel func()) {
	w := &watcher{fn: fn}
	m.watchers = append(m.watchers, w)
	return func() {
		w.mu.Lock()
		w.fn = nil
		w.mu.Unlock()
		for i, cur := range m.watchers {
			if cur == w {
				m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
				break
			}
		}
	}
}

// Dispose closes every entry's subscriptions and drops watchers.
func (m *Manager) Dispose() {
	for _, e := range m.entries {
		e.detach()
	}
	m.watchers = nil
}

func (m *Manager) notify(n Notice) {
	for _, w := range append([]*watcher(nil), m.watchers...) {
		w.mu.Lock()
		fn := w.fn
		w.mu.Unlock()
		if fn != nil {
			fn(n)
		}
	}
}
