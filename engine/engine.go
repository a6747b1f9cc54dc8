// Package engine is a shell kernel: it executes, completes and inspects
// POSIX shell code with an in-process mvdan.cc/sh interpreter whose state
// (variables, functions, working directory) persists across executions.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	kconsole "github.com/Paranoid-AF/kconsole"
	defaults "github.com/Paranoid-AF/kconsole/default"
)

const (
	// DefaultHistoryLimit caps the inputs the kernel remembers.
	DefaultHistoryLimit = 1000
	// maxOutputBytes caps each captured stream of one execution.
	maxOutputBytes = 1 << 20
)

// Language is the language the engine reports in kernel info.
var Language = kconsole.LanguageInfo{
	Name:          "bash",
	Mimetype:      "text/x-sh",
	FileExtension: ".sh",
}

// Engine is safe for concurrent use. Executions are serialized; completion
// and inspection read a snapshot of the shell state taken after each
// execution, so they never wait for a running command.
type Engine struct {
	execMu sync.Mutex // held for the duration of an execution
	runner *interp.Runner
	dir    string

	mu       sync.RWMutex
	kernelID string
	count    int
	history  []string
	snap     snapshot

	paths     *PathCache
	closeOnce sync.Once
}

// snapshot is the shell state visible to completion and inspection.
type snapshot struct {
	dir   string
	vars  map[string]string
	funcs map[string]string // name -> printed definition
}

// New creates an engine whose shell starts in dir (the process working
// directory when empty).
func New(dir string) (*Engine, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		dir = wd
	}
	e := &Engine{
		dir:   dir,
		paths: NewPathCache(0),
	}
	if err := e.restart(); err != nil {
		e.paths.Close()
		return nil, err
	}
	return e, nil
}

// restart replaces the shell with a fresh one and a new kernel ID.
// Callers hold execMu or own e exclusively.
func (e *Engine) restart() error {
	r, err := interp.New(
		interp.Env(expand.ListEnviron(os.Environ()...)),
		interp.Dir(e.dir),
		interp.StdIO(nil, io.Discard, io.Discard),
	)
	if err != nil {
		return fmt.Errorf("create shell: %w", err)
	}
	e.runner = r
	e.paths.Invalidate()
	e.mu.Lock()
	e.kernelID = uuid.Must(uuid.NewV7()).String()
	e.snap = snapshot{dir: e.dir, vars: environ(), funcs: map[string]string{}}
	e.mu.Unlock()
	slog.Info("kernel started", "kernel_id", e.kernelID, "dir", e.dir)
	return nil
}

// Close releases the PATH cache.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.paths.Close()
	})
}

// KernelInfo describes the kernel.
func (e *Engine) KernelInfo(ctx context.Context) (*kconsole.KernelInfoReply, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &kconsole.KernelInfoReply{
		Status:       kconsole.StatusOK,
		KernelID:     e.kernelID,
		Banner:       defaults.DefaultBanner,
		LanguageInfo: Language,
	}, nil
}

// History returns up to n of the most recent inputs, oldest first.
func (e *Engine) History(ctx context.Context, n int) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := e.history
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	return append([]string(nil), h...), nil
}

// Execute runs code in the persistent shell. Parse errors and non-zero exit
// statuses produce an error reply with an error output; the execution count
// advances either way. Only one execution runs at a time; a concurrent call
// gets a "busy" error reply.
func (e *Engine) Execute(ctx context.Context, code string) (*kconsole.ExecuteReply, error) {
	if !e.execMu.TryLock() {
		return &kconsole.ExecuteReply{
			Status: kconsole.StatusError,
			Error:  &kconsole.Error{Code: "busy", Message: "another execution is in progress"},
		}, nil
	}
	defer e.execMu.Unlock()

	e.mu.Lock()
	e.count++
	count := e.count
	if strings.TrimSpace(code) != "" {
		e.history = append(e.history, code)
		if len(e.history) > DefaultHistoryLimit {
			e.history = e.history[len(e.history)-DefaultHistoryLimit:]
		}
	}
	e.mu.Unlock()

	reply := &kconsole.ExecuteReply{Status: kconsole.StatusOK, ExecutionCount: count}

	file, err := syntax.NewParser().Parse(strings.NewReader(code), "")
	if err != nil {
		reply.Status = kconsole.StatusError
		reply.Error = &kconsole.Error{Code: "syntax_error", Message: err.Error()}
		reply.Outputs = []kconsole.Output{errorOutput("SyntaxError", err.Error())}
		return reply, nil
	}

	stdout := &limitedBuffer{max: maxOutputBytes}
	stderr := &limitedBuffer{max: maxOutputBytes}
	interp.StdIO(nil, stdout, stderr)(e.runner)

	runErr := e.runner.Run(ctx, file)
	exited := e.runner.Exited()
	interp.StdIO(nil, io.Discard, io.Discard)(e.runner)

	if stdout.Len() > 0 {
		reply.Outputs = append(reply.Outputs, kconsole.Output{OutputType: kconsole.OutputStream, Name: "stdout", Text: stdout.String()})
	}
	if stderr.Len() > 0 {
		reply.Outputs = append(reply.Outputs, kconsole.Output{OutputType: kconsole.OutputStream, Name: "stderr", Text: stderr.String()})
	}

	if runErr != nil {
		var status interp.ExitStatus
		name := "RuntimeError"
		if errors.As(runErr, &status) {
			name = "ExitStatus"
		}
		reply.Status = kconsole.StatusError
		reply.Error = &kconsole.Error{Code: "execution_error", Message: runErr.Error()}
		reply.Outputs = append(reply.Outputs, errorOutput(name, runErr.Error()))
	}

	if exited {
		slog.Info("shell exited, restarting kernel")
		if err := e.restart(); err != nil {
			return nil, err
		}
		return reply, nil
	}
	e.takeSnapshot()
	return reply, nil
}

// takeSnapshot copies the runner's state for lock-free readers.
// Callers hold execMu.
func (e *Engine) takeSnapshot() {
	r := e.runner
	vars := environ()
	for name, v := range r.Vars {
		vars[name] = v.String()
	}
	funcs := make(map[string]string, len(r.Funcs))
	printer := syntax.NewPrinter()
	for name, body := range r.Funcs {
		var buf bytes.Buffer
		if err := printer.Print(&buf, body); err != nil {
			funcs[name] = ""
			continue
		}
		funcs[name] = name + "() " + strings.TrimSpace(buf.String())
	}
	e.mu.Lock()
	e.snap = snapshot{dir: r.Dir, vars: vars, funcs: funcs}
	e.mu.Unlock()
}

func (e *Engine) state() snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

func (s snapshot) path() string {
	if p, ok := s.vars["PATH"]; ok {
		return p
	}
	return os.Getenv("PATH")
}

func (s snapshot) funcNames() []string {
	names := make([]string, 0, len(s.funcs))
	for name := range s.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func environ() map[string]string {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if name, value, ok := strings.Cut(kv, "="); ok {
			vars[name] = value
		}
	}
	return vars
}

func errorOutput(name, value string) kconsole.Output {
	return kconsole.Output{
		OutputType: kconsole.OutputError,
		EName:      name,
		EValue:     value,
		Traceback:  []string{value},
	}
}

// limitedBuffer keeps the first max bytes written and discards the rest.
type limitedBuffer struct {
	bytes.Buffer
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.max - b.Buffer.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.Buffer.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.Buffer.Write(p)
}

func (b *limitedBuffer) String() string {
	if b.truncated {
		return b.Buffer.String() + "\n[output truncated]\n"
	}
	return b.Buffer.String()
}
