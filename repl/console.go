package main

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	kconsole "github.com/Paranoid-AF/kconsole"
	"github.com/Paranoid-AF/kconsole/arbiter"
	"github.com/Paranoid-AF/kconsole/completion"
	"github.com/Paranoid-AF/kconsole/prompt"
	"github.com/Paranoid-AF/kconsole/session"
)

const (
	livePrompt = "> "
	contPrompt = ". "
	maxMenu    = 8
	maxTooltip = 6
	maxSearch  = 10
)

const helpText = `commands:
  :connect <socket|local>  switch to another kernel
  :save <file>             write the transcript as TOML
  :load <file>             print a saved transcript
  :search <query>          find similar past commands
  :clear                   clear the transcript
  :quit                    exit
keys: Tab complete, Up/Down history, Enter run, Ctrl-D exit`

// dialer connects to a kernel named by target and returns it with a
// function releasing it.
type dialer func(target string) (session.Backend, func(), error)

// console renders a session on a raw terminal and turns keypresses into
// session events. Every method runs on the loop goroutine.
type console struct {
	out    io.Writer // raw tty
	text   io.Writer // out with \n translated for multi-line text
	poster arbiter.Poster
	dial   dialer
	opts   session.Options
	quit   func()

	sess    *session.Session
	release func()

	ln        line
	comp      completion.State
	highlight int
	menuOff   bool
	wantApply bool
	tooltip   string
	cursorRow int // rows between the frame's first row and the cursor
}

func newConsole(out io.Writer, poster arbiter.Poster, dial dialer, opts session.Options, quit func()) *console {
	c := &console{
		out:       out,
		text:      &crlfWriter{w: out},
		poster:    poster,
		dial:      dial,
		quit:      quit,
		highlight: -1,
	}
	opts.CompletionView = c
	opts.Display = c
	opts.Refresh = c.refresh
	c.opts = opts
	return c
}

// start binds the console to its first kernel. The banner is printed once
// the kernel has described itself.
func (c *console) start(backend session.Backend, release func()) {
	c.release = release
	c.sess = session.New(c.poster, backend, c.opts)
	c.sess.Prompts().Watch(c.notice)
	c.redraw()
}

// close disposes the session and releases the kernel.
func (c *console) close() {
	if c.sess != nil {
		c.sess.Dispose()
	}
	if c.release != nil {
		c.release()
		c.release = nil
	}
	c.erase()
}

// Update implements completion.View.
func (c *console) Update(s completion.State) {
	if s.Original != c.comp.Original {
		c.highlight = -1
		c.menuOff = false
	}
	c.comp = s
	if vis := s.Visible(); c.highlight >= len(vis) {
		c.highlight = len(vis) - 1
	}
	if c.wantApply && s.Active() {
		c.wantApply = false
		if vis := s.Visible(); len(vis) == 1 {
			c.selectCandidate(vis[0])
		}
	}
	c.redraw()
}

// Show implements inspect.Display.
func (c *console) Show(bundle kconsole.MimeBundle, _ prompt.Coords) {
	c.tooltip = bundle[kconsole.MimeConsoleText]
	c.redraw()
}

// Hide implements inspect.Display.
func (c *console) Hide() {
	c.tooltip = ""
	c.redraw()
}

func (c *console) refresh(e *prompt.Entry) {
	c.ln = line{text: e.Value(), cursor: e.Cursor()}
	c.redraw()
}

func (c *console) notice(n prompt.Notice) {
	switch n.Kind {
	case prompt.Created:
		c.ln = line{}
		c.tooltip = ""
		c.redraw()
	case prompt.Committed:
		c.printCommitted(n.Entry)
	case prompt.Cleared:
		io.WriteString(c.out, "\x1b[2J\x1b[H")
		c.cursorRow = 0
	case prompt.BannerChanged:
		c.printAbove(func(w io.Writer) {
			fmt.Fprintln(w, n.Entry.Value())
		})
	}
}

func (c *console) handleKey(k Key) {
	if c.sess == nil || c.sess.Disposed() {
		return
	}
	if k.Kind == KeyRedraw {
		io.WriteString(c.out, "\x1b[2J\x1b[H")
		c.cursorRow = 0
		c.redraw()
		return
	}
	if c.sess.Busy() {
		return
	}

	switch k.Kind {
	case KeyRune:
		c.edit(c.ln.insert(k.Text))
	case KeyBackspace:
		c.edit(c.ln.backspace())
	case KeyDelete:
		c.edit(c.ln.delete())
	case KeyDeleteWord:
		c.edit(c.ln.deleteWord())
	case KeyClearLine:
		c.edit(line{})
	case KeyLeft:
		c.move(c.ln.left())
	case KeyRight:
		c.move(c.ln.right())
	case KeyHome:
		c.move(c.ln.home())
	case KeyEnd:
		c.move(c.ln.end())
	case KeyTab:
		c.tab()
	case KeyEnter:
		c.enter()
	case KeyUp:
		c.vertical(-1)
	case KeyDown:
		c.vertical(1)
	case KeyEscape:
		c.menuOff = true
		c.sess.DismissTooltip()
		c.redraw()
	case KeyInterrupt:
		if c.ln.text != "" {
			c.edit(line{})
			return
		}
		c.message("(type :quit or press Ctrl-D to exit)")
	case KeyEOF:
		if c.ln.text == "" {
			c.quit()
			return
		}
		c.edit(c.ln.delete())
	}
}

// edit replaces the live text and reports the change to the session.
func (c *console) edit(n line) {
	c.ln = n
	c.highlight = -1
	c.sess.Dispatch(prompt.TextChanged{Change: c.change()})
	c.redraw()
}

func (c *console) move(n line) {
	c.ln = n
	if live := c.sess.Live(); live != nil {
		live.SetCursor(n.cursor)
	}
	c.redraw()
}

func (c *console) change() prompt.Change {
	row, col := c.ln.position()
	start := c.ln.cursor - col
	width := utf8.RuneCountInString(livePrompt) + utf8.RuneCountInString(c.ln.text[start:c.ln.cursor])
	return prompt.Change{
		Value:  c.ln.text,
		Line:   row,
		Ch:     col,
		Coords: prompt.Coords{Left: width, Top: row, Bottom: row + 1},
	}
}

func (c *console) menuVisible() []string {
	if c.menuOff || !c.comp.Active() {
		return nil
	}
	return c.comp.Visible()
}

func (c *console) tab() {
	if vis := c.menuVisible(); len(vis) > 0 {
		if len(vis) == 1 {
			c.selectCandidate(vis[0])
			return
		}
		c.highlight = (c.highlight + 1) % len(vis)
		c.redraw()
		return
	}
	c.wantApply = true
	c.sess.Dispatch(prompt.CompletionRequested{Change: c.change()})
}

func (c *console) selectCandidate(text string) {
	c.highlight = -1
	c.sess.Dispatch(prompt.CompletionSelected{Text: text})
}

func (c *console) vertical(dir int) {
	if vis := c.menuVisible(); len(vis) > 0 {
		c.highlight = (c.highlight + dir + len(vis)) % len(vis)
		c.redraw()
		return
	}
	switch {
	case dir < 0 && c.ln.onFirstLine():
		c.sess.Dispatch(prompt.EdgeRequested{Location: prompt.Top})
	case dir > 0 && c.ln.onLastLine():
		c.sess.Dispatch(prompt.EdgeRequested{Location: prompt.Bottom})
	case dir < 0:
		c.move(c.ln.home().left().home())
	default:
		c.move(c.ln.end().right())
	}
}

func (c *console) enter() {
	if vis := c.menuVisible(); c.highlight >= 0 && c.highlight < len(vis) {
		c.selectCandidate(vis[c.highlight])
		return
	}
	if cmd := strings.TrimSpace(c.ln.text); strings.HasPrefix(cmd, ":") {
		c.edit(line{})
		c.command(cmd)
		return
	}
	if err := c.sess.Execute(); err != nil {
		c.message("error: " + err.Error())
		return
	}
	c.tooltip = ""
	c.redraw()
}

func (c *console) command(cmd string) {
	name, arg, _ := strings.Cut(cmd, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case ":q", ":quit":
		c.quit()
	case ":help", ":h":
		c.message(helpText)
	case ":clear":
		if err := c.sess.Clear(); err != nil {
			c.message("error: " + err.Error())
		}
	case ":save":
		if arg == "" {
			c.message("usage: :save <file>")
			return
		}
		records := c.sess.Serialize()
		if err := saveTranscript(arg, c.sess.KernelInfo(), records); err != nil {
			c.message("error: " + err.Error())
			return
		}
		c.message(fmt.Sprintf("saved %d cells to %s", len(records), arg))
	case ":load":
		if arg == "" {
			c.message("usage: :load <file>")
			return
		}
		doc, err := loadTranscript(arg)
		if err != nil {
			c.message("error: " + err.Error())
			return
		}
		c.printAbove(func(w io.Writer) {
			fmt.Fprintf(w, "%s# %s, %d cells, saved %s%s\n", dim, arg, len(doc.Cells), doc.Saved.Format("2006-01-02 15:04"), plain)
			for _, cell := range doc.Cells {
				fmt.Fprintf(w, "%s%s\n", livePrompt, cell.Source)
				writeOutputs(w, cell.Outputs)
			}
		})
	case ":search":
		if arg == "" {
			c.message("usage: :search <query>")
			return
		}
		results := c.sess.SearchHistory(arg, maxSearch)
		if len(results) == 0 {
			c.message("(no matches)")
			return
		}
		c.message(strings.Join(results, "\n"))
	case ":connect":
		if arg == "" {
			c.message("usage: :connect <socket|local>")
			return
		}
		c.connect(arg)
	default:
		c.message("unknown command " + name + " (:help lists commands)")
	}
}

func (c *console) connect(target string) {
	backend, release, err := c.dial(target)
	if err != nil {
		c.message("error: " + err.Error())
		return
	}
	c.sess.SetBackend(backend)
	if c.release != nil {
		c.release()
	}
	c.release = release
	c.message("connected to " + target)
}

func (c *console) message(text string) {
	c.printAbove(func(w io.Writer) {
		fmt.Fprintln(w, text)
	})
}

// printAbove writes above the live frame and redraws it below.
func (c *console) printAbove(fn func(w io.Writer)) {
	c.erase()
	fn(c.text)
	c.redraw()
}

func (c *console) printCommitted(e *prompt.Entry) {
	c.erase()
	lines := strings.Split(e.Value(), "\n")
	for i, l := range lines {
		p := livePrompt
		if i > 0 {
			p = contPrompt
		}
		fmt.Fprintf(c.text, "%s%s\n", p, l)
	}
	writeOutputs(c.text, e.Outputs())
}

// erase clears the live frame and leaves the cursor at its first column.
func (c *console) erase() {
	if c.cursorRow > 0 {
		fmt.Fprintf(c.out, "\x1b[%dA", c.cursorRow)
	}
	io.WriteString(c.out, "\r\x1b[J")
	c.cursorRow = 0
}

// redraw repaints the live frame: the entry, then the completion menu and
// the tooltip below it.
func (c *console) redraw() {
	if c.sess == nil || c.sess.Disposed() {
		return
	}
	rows, curRow, curCol := c.frame()

	var b strings.Builder
	if c.cursorRow > 0 {
		fmt.Fprintf(&b, "\x1b[%dA", c.cursorRow)
	}
	b.WriteString("\r\x1b[J")
	b.WriteString(strings.Join(rows, "\r\n"))
	if up := len(rows) - 1 - curRow; up > 0 {
		fmt.Fprintf(&b, "\x1b[%dA", up)
	}
	b.WriteString("\r")
	if curCol > 0 {
		fmt.Fprintf(&b, "\x1b[%dC", curCol)
	}
	io.WriteString(c.out, b.String())
	c.cursorRow = curRow
}

// frame lays out the live frame. It returns the rows and the cursor's row
// and display column.
func (c *console) frame() (rows []string, curRow, curCol int) {
	row, col := c.ln.position()
	for i, l := range strings.Split(c.ln.text, "\n") {
		p := livePrompt
		if i > 0 {
			p = contPrompt
		}
		if c.sess.Busy() && i == 0 {
			p = dim + livePrompt + plain
		}
		rows = append(rows, p+l)
		if i == row {
			start := c.ln.cursor - col
			curCol = utf8.RuneCountInString(livePrompt) + utf8.RuneCountInString(c.ln.text[start:c.ln.cursor])
		}
	}
	curRow = row

	vis := c.menuVisible()
	for i, cand := range vis {
		if i == maxMenu {
			rows = append(rows, fmt.Sprintf("  %s... %d more%s", dim, len(vis)-maxMenu, plain))
			break
		}
		if i == c.highlight {
			rows = append(rows, "  "+inv+cand+plain)
		} else {
			rows = append(rows, "  "+cand)
		}
	}

	if c.tooltip != "" {
		tip := strings.Split(strings.TrimRight(c.tooltip, "\n"), "\n")
		if len(tip) > maxTooltip {
			tip = append(tip[:maxTooltip], dim+"..."+plain)
		}
		for _, t := range tip {
			rows = append(rows, "  "+t)
		}
	}
	return rows, curRow, curCol
}
