package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/term"

	kconsole "github.com/Paranoid-AF/kconsole"
	"github.com/Paranoid-AF/kconsole/prompt"
)

const (
	red   = "\x1b[31m"
	dim   = "\x1b[2m"
	inv   = "\x1b[7m"
	plain = "\x1b[0m"
)

// termWriter wraps a file and converts \n to \r\n when the file is a terminal
// (needed because raw mode disables the kernel's NL→CRNL translation).
// When the file is redirected, \n passes through unchanged.
func termWriter(f *os.File) io.Writer {
	if term.IsTerminal(int(f.Fd())) {
		return &crlfWriter{w: f}
	}
	return f
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	replaced := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	_, err := c.w.Write(replaced)
	return len(p), err // report original length to caller
}

// writeOutputs renders an entry's outputs as terminal text.
func writeOutputs(w io.Writer, outputs []kconsole.Output) {
	for _, out := range outputs {
		switch out.OutputType {
		case kconsole.OutputStream:
			text := out.Text
			if out.Name == "stderr" {
				text = red + text + plain
			}
			io.WriteString(w, text)
			if !strings.HasSuffix(out.Text, "\n") {
				io.WriteString(w, "\n")
			}
		case kconsole.OutputResult:
			fmt.Fprintln(w, out.Text)
		case kconsole.OutputError:
			fmt.Fprintf(w, "%s%s: %s%s\n", red, out.EName, out.EValue, plain)
		}
	}
}

// savedTranscript is the document written by :save.
type savedTranscript struct {
	Saved    time.Time `toml:"saved"`
	Kernel   string    `toml:"kernel,omitempty"`
	Language string    `toml:"language,omitempty"`
	prompt.Transcript
}

// saveTranscript writes the committed entries to path as TOML.
func saveTranscript(path string, info *kconsole.KernelInfoReply, records []prompt.Record) error {
	doc := savedTranscript{
		Saved:      time.Now().UTC().Truncate(time.Second),
		Transcript: prompt.Transcript{Cells: records},
	}
	if info != nil {
		doc.Kernel = info.KernelID
		doc.Language = info.LanguageInfo.Name
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(doc); err != nil {
		f.Close()
		return fmt.Errorf("encode transcript: %w", err)
	}
	return f.Close()
}

// loadTranscript reads a file written by saveTranscript.
func loadTranscript(path string) (*savedTranscript, error) {
	var doc savedTranscript
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &doc, nil
}
