// Command kconsole is an interactive terminal console for a kconsole kernel.
// It reads raw terminal input, completes and inspects code as you type, and
// runs each entry on the kernel.
//
// Usage:
//
//	./kconsole             # connect to the kernel daemon
//	./kconsole -local      # run an in-process shell kernel
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	kconsole "github.com/Paranoid-AF/kconsole"
	"github.com/Paranoid-AF/kconsole/engine"
	"github.com/Paranoid-AF/kconsole/history"
	"github.com/Paranoid-AF/kconsole/kernel"
	"github.com/Paranoid-AF/kconsole/loop"
	"github.com/Paranoid-AF/kconsole/session"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// localTarget names the in-process kernel for -local and :connect.
const localTarget = "local"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	verbose := flag.Bool("verbose", false, "log at debug level (needs log.file in config)")
	local := flag.Bool("local", false, "run an in-process shell kernel instead of connecting")
	socket := flag.String("socket", "", "kernel socket path (overrides config and $KCONSOLE_SOCKET)")
	flag.Parse()

	if *showVersion {
		fmt.Println("kconsole", Version)
		os.Exit(0)
	}

	if err := run(*verbose, *local, *socket); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(verbose, local bool, socket string) error {
	cfg, err := kconsole.LoadConfig()
	if err != nil {
		return err
	}
	// The terminal belongs to the console; logs only go to log.file.
	logFile := kconsole.SetupLogging(cfg, verbose, io.Discard)
	defer logFile.Close()
	for _, w := range kconsole.ValidateConfig(cfg) {
		slog.Warn("config", "warning", w)
	}

	target := socket
	switch {
	case local:
		target = localTarget
	case target == "":
		target = kconsole.ResolveSocketPath(cfg)
	}
	dial := newDialer(cfg)
	backend, release, err := dial(target)
	if err != nil {
		return err
	}

	var index *history.Index
	indexPath := kconsole.ResolveHistoryFile(cfg)
	if kconsole.HistorySearchEnabled(cfg) {
		index = history.NewIndex(history.NewEmbedder(cfg.History.Dimensions), cfg.History.MaxEntries)
		if err := loadIndex(index, indexPath); err != nil {
			slog.Warn("failed to load history cache", "error", err)
		}
	}

	editor, err := NewEditor()
	if err != nil {
		release()
		return err
	}
	defer editor.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGHUP)
	defer stop()
	ctx, quit := context.WithCancel(ctx)
	defer quit()

	lp := loop.New(0)
	defer lp.Close()

	c := newConsole(editor.Tty(), lp, dial, session.Options{
		Index:       index,
		DetailLevel: cfg.Inspect.DetailLevel,
	}, quit)
	lp.Post(func() { c.start(backend, release) })

	go func() {
		for {
			k, err := editor.ReadKey()
			if err != nil {
				slog.Debug("tty read failed", "error", err)
				quit()
				return
			}
			if !lp.Post(func() { c.handleKey(k) }) {
				return
			}
		}
	}()

	err = lp.Run(ctx)
	c.close()
	fmt.Fprint(editor.Tty(), "\r\n")

	if index != nil {
		if err := index.SaveCache(indexPath); err != nil {
			slog.Warn("failed to save history cache", "error", err)
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newDialer returns a dialer connecting to kernel sockets, or to a fresh
// in-process engine for the local target.
func newDialer(cfg *kconsole.Config) dialer {
	return func(target string) (session.Backend, func(), error) {
		if target == localTarget {
			eng, err := engine.New("")
			if err != nil {
				return nil, nil, err
			}
			return eng, eng.Close, nil
		}
		if _, err := os.Stat(target); err != nil {
			return nil, nil, fmt.Errorf("kernel socket %s: %w", target, err)
		}
		client := kernel.New(target,
			kernel.WithTimeout(kconsole.KernelTimeout(cfg)),
			kernel.WithInspectCacheTTL(time.Duration(cfg.Inspect.CacheTTLSeconds)*time.Second),
		)
		return client, client.Close, nil
	}
}

// loadIndex reads the history index cache, ignoring a missing file.
func loadIndex(idx *history.Index, path string) error {
	if err := idx.LoadCache(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
