package engine

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	kconsole "github.com/Paranoid-AF/kconsole"
)

// builtins are the interpreter's builtin commands, with a one-line summary
// used by inspection.
var builtins = map[string]string{
	":":         "null command; always succeeds",
	".":         "read and execute commands from a file",
	"[":         "evaluate a conditional expression",
	"alias":     "define or display aliases",
	"bg":        "resume a job in the background",
	"break":     "exit from a loop",
	"builtin":   "run a shell builtin",
	"cd":        "change the working directory",
	"command":   "run a command bypassing functions",
	"continue":  "resume the next loop iteration",
	"declare":   "set variable values and attributes",
	"dirs":      "display the directory stack",
	"echo":      "write arguments to standard output",
	"eval":      "execute arguments as a shell command",
	"exec":      "replace the shell with a command",
	"exit":      "exit the shell",
	"export":    "mark variables for export",
	"false":     "return an unsuccessful result",
	"getopts":   "parse option arguments",
	"local":     "define local variables",
	"mapfile":   "read lines into an array",
	"popd":      "pop a directory off the stack",
	"printf":    "format and print arguments",
	"pushd":     "push a directory onto the stack",
	"pwd":       "print the working directory",
	"read":      "read a line from standard input",
	"readarray": "read lines into an array",
	"readonly":  "mark variables read-only",
	"return":    "return from a function",
	"set":       "set shell options and positional parameters",
	"shift":     "shift positional parameters",
	"shopt":     "set shell options",
	"source":    "read and execute commands from a file",
	"test":      "evaluate a conditional expression",
	"times":     "display process times",
	"trap":      "trap signals",
	"true":      "return a successful result",
	"type":      "describe a command",
	"typeset":   "set variable values and attributes",
	"umask":     "display or set the file mode mask",
	"unalias":   "remove aliases",
	"unset":     "unset variables or functions",
	"wait":      "wait for background jobs",
}

// wordBreaks end a completion token in addition to whitespace.
const wordBreaks = ";|&<>()`\"'"

// Complete returns candidates for the token ending at cursorPos: variable
// names after '$', commands (builtins, functions, PATH executables) in
// command position, file names otherwise.
func (e *Engine) Complete(ctx context.Context, code string, cursorPos int) (*kconsole.CompleteReply, error) {
	if cursorPos < 0 || cursorPos > len(code) {
		return &kconsole.CompleteReply{
			Status: kconsole.StatusError,
			Error:  &kconsole.Error{Code: "invalid_request", Message: "cursor_pos out of range"},
		}, nil
	}
	start := tokenStart(code, cursorPos)
	prefix := code[start:cursorPos]
	snap := e.state()

	var matches []string
	switch {
	case strings.HasPrefix(prefix, "${"):
		matches = completeVars(snap, prefix[2:], "${", "}")
	case strings.HasPrefix(prefix, "$"):
		matches = completeVars(snap, prefix[1:], "$", "")
	case commandPosition(code, start) && !strings.Contains(prefix, "/"):
		matches = e.completeCommands(snap, prefix)
	default:
		matches = completeFiles(snap.dir, prefix)
	}
	if matches == nil {
		matches = []string{}
	}
	return &kconsole.CompleteReply{
		Status:      kconsole.StatusOK,
		Matches:     matches,
		CursorStart: start,
		CursorEnd:   cursorPos,
	}, nil
}

func (e *Engine) completeCommands(snap snapshot, prefix string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if strings.HasPrefix(name, prefix) && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range snap.funcNames() {
		add(name)
	}
	for name := range builtins {
		add(name)
	}
	for _, name := range e.paths.Executables(snap.path()) {
		add(name)
	}
	sort.Strings(out)
	return out
}

func completeVars(snap snapshot, prefix, lead, trail string) []string {
	var out []string
	for name := range snap.vars {
		if strings.HasPrefix(name, prefix) {
			out = append(out, lead+name+trail)
		}
	}
	sort.Strings(out)
	return out
}

func completeFiles(cwd, prefix string) []string {
	dirPart, base := filepath.Split(prefix)
	dir := dirPart
	switch {
	case strings.HasPrefix(dir, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir[2:])
		}
	case dir == "":
		dir = cwd
	case !filepath.IsAbs(dir):
		dir = filepath.Join(cwd, dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, ent := range entries {
		name := ent.Name()
		if !strings.HasPrefix(name, base) {
			continue
		}
		if strings.HasPrefix(name, ".") && !strings.HasPrefix(base, ".") {
			continue
		}
		if ent.IsDir() {
			name += "/"
		}
		out = append(out, dirPart+name)
	}
	sort.Strings(out)
	return out
}

// tokenStart returns the offset where the token ending at pos begins.
func tokenStart(code string, pos int) int {
	i := pos
	for i > 0 {
		c := code[i-1]
		if c == ' ' || c == '\t' || c == '\n' || strings.IndexByte(wordBreaks, c) >= 0 {
			break
		}
		i--
	}
	return i
}

// tokenEnd returns the offset where the token containing pos ends.
func tokenEnd(code string, pos int) int {
	i := pos
	for i < len(code) {
		c := code[i]
		if c == ' ' || c == '\t' || c == '\n' || strings.IndexByte(wordBreaks, c) >= 0 {
			break
		}
		i++
	}
	return i
}

// commandPosition reports whether the word starting at start names a
// command. Complete input is answered from the syntax tree; incomplete input
// falls back to looking at what precedes the word.
func commandPosition(code string, start int) bool {
	file, err := syntax.NewParser().Parse(strings.NewReader(code), "")
	if err == nil {
		found := false
		syntax.Walk(file, func(node syntax.Node) bool {
			if found {
				return false
			}
			if call, ok := node.(*syntax.CallExpr); ok && len(call.Args) > 0 {
				if int(call.Args[0].Pos().Offset()) == start {
					found = true
				}
			}
			return true
		})
		if found || start < len(code) {
			return found
		}
	}
	i := start - 1
	for i >= 0 && (code[i] == ' ' || code[i] == '\t') {
		i--
	}
	if i < 0 {
		return true
	}
	switch code[i] {
	case '\n', ';', '|', '&', '(', '`':
		return true
	}
	// Words that introduce a command.
	for _, kw := range []string{"then", "do", "else", "elif", "!", "if", "while", "until", "time"} {
		if strings.HasSuffix(code[:i+1], kw) {
			j := i + 1 - len(kw)
			if j == 0 || code[j-1] == ' ' || code[j-1] == '\t' || code[j-1] == '\n' || code[j-1] == ';' {
				return true
			}
		}
	}
	return false
}
