package main

import (
	"bufio"
	"fmt"
	"os"
	"unicode/utf8"

	"golang.org/x/term"
)

// KeyKind identifies a decoded keypress.
type KeyKind int

const (
	KeyRune KeyKind = iota
	KeyEnter
	KeyTab
	KeyBackspace
	KeyDelete
	KeyLeft
	KeyRight
	KeyUp
	KeyDown
	KeyHome
	KeyEnd
	KeyEscape
	KeyInterrupt // Ctrl-C
	KeyEOF       // Ctrl-D
	KeyClearLine // Ctrl-U
	KeyDeleteWord
	KeyRedraw // Ctrl-L
)

// Key is one keypress. Text holds the UTF-8 sequence for KeyRune.
type Key struct {
	Kind KeyKind
	Text string
}

// Editor reads keypresses from /dev/tty in raw mode, so it works even when
// stdout is redirected.
type Editor struct {
	tty      *os.File
	oldState *term.State
	in       *bufio.Reader
}

// NewEditor opens /dev/tty and switches to raw mode.
func NewEditor() (*Editor, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/tty: %w", err)
	}

	old, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		tty.Close()
		return nil, fmt.Errorf("raw mode: %w", err)
	}

	return &Editor{tty: tty, oldState: old, in: bufio.NewReader(tty)}, nil
}

// Close restores terminal state and closes the tty fd.
func (e *Editor) Close() {
	term.Restore(int(e.tty.Fd()), e.oldState)
	e.tty.Close()
}

// Tty returns the tty file for drawing the prompt.
func (e *Editor) Tty() *os.File {
	return e.tty
}

// Width returns the terminal width, or 80 when it cannot be determined.
func (e *Editor) Width() int {
	w, _, err := term.GetSize(int(e.tty.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// ReadKey blocks for the next keypress.
func (e *Editor) ReadKey() (Key, error) {
	return readKey(e.in)
}

// readKey decodes one keypress from r.
func readKey(r *bufio.Reader) (Key, error) {
	b, err := r.ReadByte()
	if err != nil {
		return Key{}, err
	}

	switch b {
	case 3:
		return Key{Kind: KeyInterrupt}, nil
	case 4:
		return Key{Kind: KeyEOF}, nil
	case 9:
		return Key{Kind: KeyTab}, nil
	case 13, 10:
		return Key{Kind: KeyEnter}, nil
	case 127, 8: // Backspace / Ctrl-H
		return Key{Kind: KeyBackspace}, nil
	case 1: // Ctrl-A
		return Key{Kind: KeyHome}, nil
	case 5: // Ctrl-E
		return Key{Kind: KeyEnd}, nil
	case 12:
		return Key{Kind: KeyRedraw}, nil
	case 21:
		return Key{Kind: KeyClearLine}, nil
	case 23: // Ctrl-W
		return Key{Kind: KeyDeleteWord}, nil
	case 16: // Ctrl-P
		return Key{Kind: KeyUp}, nil
	case 14: // Ctrl-N
		return Key{Kind: KeyDown}, nil
	case 27:
		return readEscape(r)
	}

	if b < 32 {
		return readKey(r)
	}
	seq := []byte{b}
	if b >= 0xC0 {
		for i := 1; i < utf8RuneLen(b); i++ {
			c, err := r.ReadByte()
			if err != nil {
				return Key{}, err
			}
			seq = append(seq, c)
		}
	}
	return Key{Kind: KeyRune, Text: string(seq)}, nil
}

// readEscape decodes the rest of an escape sequence. A lone ESC is only
// recognized when nothing follows it in the buffer.
func readEscape(r *bufio.Reader) (Key, error) {
	if r.Buffered() == 0 {
		return Key{Kind: KeyEscape}, nil
	}
	b, err := r.ReadByte()
	if err != nil {
		return Key{}, err
	}
	if b != '[' && b != 'O' {
		return Key{Kind: KeyEscape}, nil
	}
	c, err := r.ReadByte()
	if err != nil {
		return Key{}, err
	}
	switch c {
	case 'A':
		return Key{Kind: KeyUp}, nil
	case 'B':
		return Key{Kind: KeyDown}, nil
	case 'C':
		return Key{Kind: KeyRight}, nil
	case 'D':
		return Key{Kind: KeyLeft}, nil
	case 'H':
		return Key{Kind: KeyHome}, nil
	case 'F':
		return Key{Kind: KeyEnd}, nil
	case '1', '3', '4', '7', '8': // \x1b[N~
		if t, err := r.ReadByte(); err != nil || t != '~' {
			return Key{Kind: KeyEscape}, err
		}
		switch c {
		case '3':
			return Key{Kind: KeyDelete}, nil
		case '1', '7':
			return Key{Kind: KeyHome}, nil
		default:
			return Key{Kind: KeyEnd}, nil
		}
	}
	return Key{Kind: KeyEscape}, nil
}

// line is the text and cursor of the entry being edited.
type line struct {
	text   string
	cursor int // byte offset
}

func (l line) insert(s string) line {
	return line{text: l.text[:l.cursor] + s + l.text[l.cursor:], cursor: l.cursor + len(s)}
}

func (l line) backspace() line {
	if l.cursor == 0 {
		return l
	}
	_, size := prevRune([]byte(l.text), l.cursor)
	return line{text: l.text[:l.cursor-size] + l.text[l.cursor:], cursor: l.cursor - size}
}

func (l line) delete() line {
	if l.cursor >= len(l.text) {
		return l
	}
	_, size := utf8.DecodeRuneInString(l.text[l.cursor:])
	return line{text: l.text[:l.cursor] + l.text[l.cursor+size:], cursor: l.cursor}
}

// deleteWord removes the word before the cursor and the blanks after it.
func (l line) deleteWord() line {
	i := l.cursor
	for i > 0 && (l.text[i-1] == ' ' || l.text[i-1] == '\t') {
		i--
	}
	for i > 0 && l.text[i-1] != ' ' && l.text[i-1] != '\t' && l.text[i-1] != '\n' {
		i--
	}
	return line{text: l.text[:i] + l.text[l.cursor:], cursor: i}
}

func (l line) left() line {
	if l.cursor == 0 {
		return l
	}
	_, size := prevRune([]byte(l.text), l.cursor)
	return line{text: l.text, cursor: l.cursor - size}
}

func (l line) right() line {
	if l.cursor >= len(l.text) {
		return l
	}
	_, size := utf8.DecodeRuneInString(l.text[l.cursor:])
	return line{text: l.text, cursor: l.cursor + size}
}

// home and end move within the cursor's line.
func (l line) home() line {
	i := l.cursor
	for i > 0 && l.text[i-1] != '\n' {
		i--
	}
	return line{text: l.text, cursor: i}
}

func (l line) end() line {
	i := l.cursor
	for i < len(l.text) && l.text[i] != '\n' {
		i++
	}
	return line{text: l.text, cursor: i}
}

// onFirstLine and onLastLine report whether the cursor is at the top or
// bottom row of a multi-line entry.
func (l line) onFirstLine() bool {
	for i := 0; i < l.cursor; i++ {
		if l.text[i] == '\n' {
			return false
		}
	}
	return true
}

func (l line) onLastLine() bool {
	for i := l.cursor; i < len(l.text); i++ {
		if l.text[i] == '\n' {
			return false
		}
	}
	return true
}

// position returns the cursor's row and byte column.
func (l line) position() (row, col int) {
	start := 0
	for i := 0; i < l.cursor; i++ {
		if l.text[i] == '\n' {
			row++
			start = i + 1
		}
	}
	return row, l.cursor - start
}

// prevRune returns the rune and byte size of the rune before pos.
func prevRune(buf []byte, pos int) (rune, int) {
	if pos <= 0 {
		return 0, 0
	}
	// Walk back to find the start of the rune
	i := pos - 1
	for i > 0 && !utf8.RuneStart(buf[i]) {
		i--
	}
	r, size := utf8.DecodeRune(buf[i:pos])
	return r, size
}

// utf8RuneLen returns the expected byte length of a UTF-8 sequence
// from its leading byte.
func utf8RuneLen(lead byte) int {
	if lead < 0xC0 {
		return 1
	}
	if lead < 0xE0 {
		return 2
	}
	if lead < 0xF0 {
		return 3
	}
	return 4
}
