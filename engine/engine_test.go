package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	kconsole "github.com/Paranoid-AF/kconsole"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Close)
	return e
}

func execute(t *testing.T, e *Engine, code string) *kconsole.ExecuteReply {
	t.Helper()
	reply, err := e.Execute(context.Background(), code)
	if err != nil {
		t.Fatal(err)
	}
	return reply
}

func stdout(reply *kconsole.ExecuteReply) string {
	for _, o := range reply.Outputs {
		if o.OutputType == kconsole.OutputStream && o.Name == "stdout" {
			return o.Text
		}
	}
	return ""
}

func TestExecuteEcho(t *testing.T) {
	e := newTestEngine(t)
	reply := execute(t, e, "echo hello")
	if reply.Status != kconsole.StatusOK {
		t.Fatalf("expected ok, got %+v", reply)
	}
	if got := stdout(reply); got != "hello\n" {
		t.Errorf("expected hello, got %q", got)
	}
	if reply.ExecutionCount != 1 {
		t.Errorf("expected execution count 1, got %d", reply.ExecutionCount)
	}
}

func TestExecuteStatePersists(t *testing.T) {
	e := newTestEngine(t)
	execute(t, e, "GREETING=hi")
	execute(t, e, "greet() { echo \"$GREETING $1\"; }")
	reply := execute(t, e, "greet there")
	if got := stdout(reply); got != "hi there\n" {
		t.Errorf("expected state to persist, got %q", got)
	}
	if reply.ExecutionCount != 3 {
		t.Errorf("expected execution count 3, got %d", reply.ExecutionCount)
	}
}

func TestExecuteFailure(t *testing.T) {
	e := newTestEngine(t)
	reply := execute(t, e, "false")
	if reply.Status != kconsole.StatusError || reply.Error == nil {
		t.Fatalf("expected error reply, got %+v", reply)
	}
	last := reply.Outputs[len(reply.Outputs)-1]
	if last.OutputType != kconsole.OutputError || last.EName != "ExitStatus" {
		t.Errorf("expected exit status error output, got %+v", last)
	}
}

func TestExecuteSyntaxError(t *testing.T) {
	e := newTestEngine(t)
	reply := execute(t, e, "if then fi (")
	if reply.Status != kconsole.StatusError || reply.Error.Code != "syntax_error" {
		t.Fatalf("expected syntax error, got %+v", reply)
	}
	if reply.ExecutionCount != 1 {
		t.Errorf("expected count to advance on syntax error, got %d", reply.ExecutionCount)
	}
}

func TestExecuteStderr(t *testing.T) {
	e := newTestEngine(t)
	reply := execute(t, e, "echo oops >&2")
	var found bool
	for _, o := range reply.Outputs {
		if o.Name == "stderr" && o.Text == "oops\n" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected stderr stream, got %+v", reply.Outputs)
	}
}

func TestExitRestartsKernel(t *testing.T) {
	e := newTestEngine(t)
	before, _ := e.KernelInfo(context.Background())
	execute(t, e, "KCONSOLE_RESTART_VAR=1")
	execute(t, e, "exit 0")
	after, _ := e.KernelInfo(context.Background())
	if before.KernelID == after.KernelID {
		t.Error("expected a new kernel id after exit")
	}
	reply := execute(t, e, "echo \"[$KCONSOLE_RESTART_VAR]\"")
	if got := stdout(reply); got != "[]\n" {
		t.Errorf("expected fresh shell state, got %q", got)
	}
}

func TestExecuteBusy(t *testing.T) {
	e := newTestEngine(t)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.Execute(context.Background(), "sleep 0.3")
	}()
	time.Sleep(50 * time.Millisecond)
	reply := execute(t, e, "echo hi")
	if reply.Error == nil || reply.Error.Code != "busy" {
		t.Errorf("expected busy reply, got %+v", reply)
	}
	wg.Wait()
}

func TestExecuteContextCancel(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	reply, err := e.Execute(ctx, "sleep 5")
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("expected cancellation to stop the command")
	}
	if reply.Status != kconsole.StatusError {
		t.Errorf("expected error reply after cancellation, got %+v", reply)
	}
}

func TestKernelInfo(t *testing.T) {
	e := newTestEngine(t)
	info, err := e.KernelInfo(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != kconsole.StatusOK || info.KernelID == "" || info.Banner == "" {
		t.Errorf("unexpected kernel info %+v", info)
	}
	if got := kconsole.MimetypeForLanguage(info.LanguageInfo); got != "text/x-sh" {
		t.Errorf("expected text/x-sh, got %q", got)
	}
}

func TestHistory(t *testing.T) {
	e := newTestEngine(t)
	execute(t, e, "echo 1")
	execute(t, e, "   ")
	execute(t, e, "echo 2")
	execute(t, e, "echo 3")
	got, _ := e.History(context.Background(), 2)
	if len(got) != 2 || got[0] != "echo 2" || got[1] != "echo 3" {
		t.Errorf("unexpected history tail %v", got)
	}
	all, _ := e.History(context.Background(), 0)
	if len(all) != 3 {
		t.Errorf("expected blank input skipped, got %v", all)
	}
}

func complete(t *testing.T, e *Engine, code string, pos int) *kconsole.CompleteReply {
	t.Helper()
	reply, err := e.Complete(context.Background(), code, pos)
	if err != nil {
		t.Fatal(err)
	}
	return reply
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestCompleteBuiltinsAndFunctions(t *testing.T) {
	e := newTestEngine(t)
	execute(t, e, "export_all() { :; }")
	reply := complete(t, e, "expo", 4)
	if reply.CursorStart != 0 || reply.CursorEnd != 4 {
		t.Errorf("unexpected range %d-%d", reply.CursorStart, reply.CursorEnd)
	}
	if !contains(reply.Matches, "export") || !contains(reply.Matches, "export_all") {
		t.Errorf("expected builtin and function, got %v", reply.Matches)
	}
}

func TestCompletePathExecutables(t *testing.T) {
	e := newTestEngine(t)
	bin := t.TempDir()
	if err := os.WriteFile(filepath.Join(bin, "kconsole-tool"), []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bin, "kconsole-data"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	execute(t, e, "PATH="+bin)
	reply := complete(t, e, "kconsole-", 9)
	if !contains(reply.Matches, "kconsole-tool") {
		t.Errorf("expected PATH executable, got %v", reply.Matches)
	}
	if contains(reply.Matches, "kconsole-data") {
		t.Errorf("expected non-executable file skipped, got %v", reply.Matches)
	}
}

func TestCompleteVariables(t *testing.T) {
	e := newTestEngine(t)
	execute(t, e, "KCONSOLE_TEST_VAR=1")
	code := "echo $KCONSOLE_TE"
	reply := complete(t, e, code, len(code))
	if reply.CursorStart != 5 || !contains(reply.Matches, "$KCONSOLE_TEST_VAR") {
		t.Errorf("expected variable completion, got %+v", reply)
	}

	code = "echo ${KCONSOLE_TE"
	reply = complete(t, e, code, len(code))
	if !contains(reply.Matches, "${KCONSOLE_TEST_VAR}") {
		t.Errorf("expected braced variable completion, got %v", reply.Matches)
	}
}

func TestCompleteFiles(t *testing.T) {
	e := newTestEngine(t)
	dir := e.state().dir
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)
	os.Mkdir(filepath.Join(dir, "nested"), 0755)
	os.WriteFile(filepath.Join(dir, "nested", "inner.go"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0644)

	code := "cat n"
	reply := complete(t, e, code, len(code))
	if !contains(reply.Matches, "notes.txt") || !contains(reply.Matches, "nested/") {
		t.Errorf("expected file and dir, got %v", reply.Matches)
	}

	code = "cat nested/in"
	reply = complete(t, e, code, len(code))
	if len(reply.Matches) != 1 || reply.Matches[0] != "nested/inner.go" || reply.CursorStart != 4 {
		t.Errorf("expected nested file, got %+v", reply)
	}

	code = "cat "
	reply = complete(t, e, code, len(code))
	if contains(reply.Matches, ".hidden") {
		t.Errorf("expected hidden files skipped, got %v", reply.Matches)
	}
}

func TestCompleteFollowsCd(t *testing.T) {
	e := newTestEngine(t)
	dir := e.state().dir
	os.Mkdir(filepath.Join(dir, "sub"), 0755)
	os.WriteFile(filepath.Join(dir, "sub", "deep.txt"), []byte("x"), 0644)
	execute(t, e, "cd sub")
	code := "cat de"
	reply := complete(t, e, code, len(code))
	if !contains(reply.Matches, "deep.txt") {
		t.Errorf("expected completion relative to new cwd, got %v", reply.Matches)
	}
}

func TestCompleteOutOfRange(t *testing.T) {
	e := newTestEngine(t)
	reply := complete(t, e, "ls", 10)
	if reply.Status != kconsole.StatusError {
		t.Errorf("expected error for bad cursor, got %+v", reply)
	}
}

func TestCommandPosition(t *testing.T) {
	tests := []struct {
		code  string
		start int
		want  bool
	}{
		{"", 0, true},
		{"gi", 0, true},
		{"echo gi", 5, false},
		{"FOO=1 gi", 6, true},
		{"ls | gr", 5, true},
		{"ls && ", 6, true},
		{"ls ", 3, false},
		{"if tr", 3, true},
		{"cd /tmp; ma", 9, true},
	}
	for _, tt := range tests {
		if got := commandPosition(tt.code, tt.start); got != tt.want {
			t.Errorf("commandPosition(%q, %d) = %v, want %v", tt.code, tt.start, got, tt.want)
		}
	}
}

func inspect(t *testing.T, e *Engine, code string, pos, detail int) *kconsole.InspectReply {
	t.Helper()
	reply, err := e.Inspect(context.Background(), code, pos, detail)
	if err != nil {
		t.Fatal(err)
	}
	return reply
}

func TestInspectBuiltin(t *testing.T) {
	e := newTestEngine(t)
	reply := inspect(t, e, "cd /tmp", 1, 1)
	if !reply.Found {
		t.Fatal("expected builtin to be found")
	}
	text := reply.Data[kconsole.MimePlainText]
	if !strings.Contains(text, "\x1b[1mcd\x1b[0m is a shell builtin") || !strings.Contains(text, "working directory") {
		t.Errorf("unexpected text %q", text)
	}
}

func TestInspectFunction(t *testing.T) {
	e := newTestEngine(t)
	execute(t, e, "hello() { echo hi; }")
	brief := inspect(t, e, "hello", 5, 0)
	if !brief.Found || strings.Contains(brief.Data[kconsole.MimePlainText], "echo hi") {
		t.Errorf("expected summary only at detail 0, got %+v", brief)
	}
	full := inspect(t, e, "hello", 5, 1)
	if !strings.Contains(full.Data[kconsole.MimePlainText], "echo hi") {
		t.Errorf("expected definition at detail 1, got %q", full.Data[kconsole.MimePlainText])
	}
}

func TestInspectVariable(t *testing.T) {
	e := newTestEngine(t)
	execute(t, e, "KCONSOLE_V=value")
	reply := inspect(t, e, "echo $KCONSOLE_V", 10, 0)
	if !reply.Found || !strings.Contains(reply.Data[kconsole.MimePlainText], "=value") {
		t.Errorf("expected variable value, got %+v", reply)
	}
}

func TestInspectUnknown(t *testing.T) {
	e := newTestEngine(t)
	for _, code := range []string{"", "   ", "definitely-not-a-command-xyz", "$KCONSOLE_UNSET_VAR"} {
		reply := inspect(t, e, code, len(code), 0)
		if reply.Status != kconsole.StatusOK || reply.Found {
			t.Errorf("%q: expected ok and not found, got %+v", code, reply)
		}
	}
}

func TestPathCache(t *testing.T) {
	bin := t.TempDir()
	os.WriteFile(filepath.Join(bin, "one"), []byte("#!/bin/sh\n"), 0755)
	pc := NewPathCache(time.Minute)
	defer pc.Close()

	if got := pc.Executables(bin); len(got) != 1 || got[0] != "one" {
		t.Fatalf("unexpected scan %v", got)
	}
	os.WriteFile(filepath.Join(bin, "two"), []byte("#!/bin/sh\n"), 0755)
	if got := pc.Executables(bin); len(got) != 1 {
		t.Errorf("expected cached scan, got %v", got)
	}
	pc.Invalidate()
	if got := pc.Executables(bin); len(got) != 2 {
		t.Errorf("expected rescan after invalidate, got %v", got)
	}

	if path, ok := Lookup(bin, "two"); !ok || path != filepath.Join(bin, "two") {
		t.Errorf("expected lookup hit, got %q %v", path, ok)
	}
	if _, ok := Lookup(bin, "three"); ok {
		t.Error("expected lookup miss")
	}
}
