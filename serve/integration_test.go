package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	kconsole "github.com/Paranoid-AF/kconsole"
	"github.com/Paranoid-AF/kconsole/engine"
	"github.com/Paranoid-AF/kconsole/kernel"
	"github.com/Paranoid-AF/kconsole/loop"
	"github.com/Paranoid-AF/kconsole/prompt"
	"github.com/Paranoid-AF/kconsole/session"
)

func newEngineServer(t *testing.T) (*Server, *kernel.Client) {
	t.Helper()
	eng, err := engine.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(t, eng)
	client := kernel.New(srv.sockPath, kernel.WithTimeout(10*time.Second))
	t.Cleanup(client.Close)
	return srv, client
}

func stdout(reply *kconsole.ExecuteReply) string {
	var b strings.Builder
	for _, out := range reply.Outputs {
		if out.OutputType == kconsole.OutputStream && out.Name == "stdout" {
			b.WriteString(out.Text)
		}
	}
	return b.String()
}

func TestIntegrationExecuteKeepsState(t *testing.T) {
	_, client := newEngineServer(t)
	ctx := context.Background()

	if _, err := client.Execute(ctx, "answer=41"); err != nil {
		t.Fatal(err)
	}
	reply, err := client.Execute(ctx, "echo $((answer + 1))")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Status != kconsole.StatusOK {
		t.Fatalf("expected ok, got %+v", reply)
	}
	if got := stdout(reply); got != "42\n" {
		t.Errorf("expected 42, got %q", got)
	}
	if reply.ExecutionCount != 2 {
		t.Errorf("expected execution_count 2, got %d", reply.ExecutionCount)
	}
}

func TestIntegrationCompleteAndInspect(t *testing.T) {
	_, client := newEngineServer(t)
	ctx := context.Background()

	if _, err := client.Execute(ctx, "greet() { echo hello; }"); err != nil {
		t.Fatal(err)
	}

	comp, err := client.Complete(ctx, "gre", 3)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, m := range comp.Matches {
		if m == "greet" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected greet among %v", comp.Matches)
	}
	if comp.CursorStart != 0 || comp.CursorEnd != 3 {
		t.Errorf("unexpected range [%d,%d)", comp.CursorStart, comp.CursorEnd)
	}

	insp, err := client.Inspect(ctx, "greet", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !insp.Found || !strings.Contains(insp.Data[kconsole.MimePlainText], "function") {
		t.Errorf("expected function description, got %+v", insp)
	}
}

func TestIntegrationErrorReply(t *testing.T) {
	_, client := newEngineServer(t)

	reply, err := client.Execute(context.Background(), "if then")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Status != kconsole.StatusError || reply.Error == nil || reply.Error.Code != "syntax_error" {
		t.Errorf("expected syntax_error reply, got %+v", reply)
	}
}

func TestIntegrationHistory(t *testing.T) {
	_, client := newEngineServer(t)
	ctx := context.Background()

	for _, code := range []string{"true", "echo a", "echo b"} {
		if _, err := client.Execute(ctx, code); err != nil {
			t.Fatal(err)
		}
	}
	hist, err := client.History(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0] != "echo a" || hist[1] != "echo b" {
		t.Errorf("unexpected history %v", hist)
	}
}

func TestIntegrationMalformedRequest(t *testing.T) {
	srv, client := newEngineServer(t)

	sendGarbage(t, srv.sockPath)

	// Server should survive; send a valid request after
	info, err := client.KernelInfo(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.LanguageInfo.Name != "bash" {
		t.Errorf("expected bash kernel, got %+v", info.LanguageInfo)
	}
}

func TestIntegrationConcurrent(t *testing.T) {
	_, client := newEngineServer(t)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			code := fmt.Sprintf("echo %d", id)
			reply, err := client.Inspect(context.Background(), code, 2, 0)
			if err != nil {
				errs <- fmt.Sprintf("goroutine %d: %v", id, err)
				return
			}
			if !reply.Found {
				errs <- fmt.Sprintf("goroutine %d: echo not found", id)
			}
		}(i + 1)
	}

	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
}

func TestIntegrationConsoleSession(t *testing.T) {
	_, client := newEngineServer(t)

	m := loop.NewManual()
	s := session.New(m, client, session.Options{})
	t.Cleanup(s.Dispose)
	waitUntil(t, m, func() bool { return s.KernelInfo() != nil })

	if got := s.Live().Mimetype(); got != "text/x-sh" {
		t.Errorf("expected text/x-sh, got %q", got)
	}

	s.Dispatch(prompt.TextChanged{Change: prompt.Change{Value: "echo from-console", Ch: 17}})
	first := s.Live()
	if err := s.Execute(); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, m, func() bool { return first.ReadOnly() && !s.Busy() })

	outs := first.Outputs()
	if len(outs) != 1 || outs[0].Text != "from-console\n" {
		t.Errorf("unexpected outputs %+v", outs)
	}
	if first.ExecutionCount() != 1 {
		t.Errorf("expected execution count 1, got %d", first.ExecutionCount())
	}

	// The first navigation fetches kernel history before recalling.
	s.Dispatch(prompt.EdgeRequested{Location: prompt.Top})
	waitUntil(t, m, func() bool { return s.Live().Value() == "echo from-console" })
}

func waitUntil(t *testing.T, m *loop.Manual, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		m.RunPending()
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
