package engine

import (
	"context"
	"fmt"
	"os"
	"strings"

	kconsole "github.com/Paranoid-AF/kconsole"
)

const (
	bold  = "\x1b[1m"
	faint = "\x1b[2m"
	reset = "\x1b[0m"
)

// maxInspectValue caps a variable's value in a tooltip.
const maxInspectValue = 512

// Inspect describes the word under cursorPos: a variable, a function, a
// builtin or an executable on PATH. The text/plain entry carries ANSI
// styling. detailLevel 1 adds a function's full definition, a variable's
// export status or an executable's file details.
func (e *Engine) Inspect(ctx context.Context, code string, cursorPos int, detailLevel int) (*kconsole.InspectReply, error) {
	if cursorPos < 0 || cursorPos > len(code) {
		return &kconsole.InspectReply{
			Status: kconsole.StatusError,
			Error:  &kconsole.Error{Code: "invalid_request", Message: "cursor_pos out of range"},
		}, nil
	}
	start := tokenStart(code, cursorPos)
	end := tokenEnd(code, cursorPos)
	word := code[start:end]
	if word == "" {
		return &kconsole.InspectReply{Status: kconsole.StatusOK}, nil
	}

	text, ok := e.describe(word, detailLevel)
	if !ok {
		return &kconsole.InspectReply{Status: kconsole.StatusOK}, nil
	}
	return &kconsole.InspectReply{
		Status: kconsole.StatusOK,
		Found:  true,
		Data:   kconsole.MimeBundle{kconsole.MimePlainText: text},
	}, nil
}

func (e *Engine) describe(word string, detail int) (string, bool) {
	snap := e.state()

	if name, ok := varName(word); ok {
		value, set := snap.vars[name]
		if !set {
			return "", false
		}
		if len(value) > maxInspectValue {
			value = value[:maxInspectValue] + "..."
		}
		text := bold + name + reset + "=" + value
		if detail > 0 {
			if _, env := os.LookupEnv(name); env {
				text += "\n" + faint + "inherited from the environment" + reset
			} else {
				text += "\n" + faint + "shell variable" + reset
			}
		}
		return text, true
	}

	if def, ok := snap.funcs[word]; ok {
		text := bold + word + reset + " is a function"
		if detail > 0 && def != "" {
			text += "\n" + def
		}
		return text, true
	}

	if summary, ok := builtins[word]; ok {
		text := bold + word + reset + " is a shell builtin"
		if detail > 0 {
			text += "\n" + faint + summary + reset
		}
		return text, true
	}

	if strings.Contains(word, "/") {
		return "", false
	}
	path, ok := Lookup(snap.path(), word)
	if !ok {
		return "", false
	}
	text := bold + word + reset + " is " + path
	if detail > 0 {
		if info, err := os.Stat(path); err == nil {
			text += "\n" + faint + fmt.Sprintf("%s %d bytes", info.Mode(), info.Size()) + reset
		}
	}
	return text, true
}

// varName extracts NAME from "$NAME" or "${NAME}".
func varName(word string) (string, bool) {
	switch {
	case strings.HasPrefix(word, "${"):
		name := strings.TrimSuffix(word[2:], "}")
		return name, name != ""
	case strings.HasPrefix(word, "$"):
		name := word[1:]
		return name, name != ""
	}
	return "", false
}
