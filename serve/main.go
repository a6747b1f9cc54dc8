// Command kconsoled is the kconsole shell kernel daemon.
// It listens on a Unix domain socket for requests from consoles and
// executes, completes and inspects shell code in a persistent interpreter.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	kconsole "github.com/Paranoid-AF/kconsole"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	verbose := flag.Bool("verbose", false, "log every request and response")
	dir := flag.String("dir", "", "initial working directory of the shell")
	socket := flag.String("socket", "", "socket path (overrides config and $KCONSOLE_SOCKET)")
	flag.Parse()

	if *showVersion {
		fmt.Println("kconsoled", Version)
		os.Exit(0)
	}

	cfg, err := kconsole.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "kconsoled:", err)
		cfg = kconsole.DefaultConfig()
	}
	logFile := kconsole.SetupLogging(cfg, *verbose, os.Stderr)
	defer logFile.Close()
	for _, w := range kconsole.ValidateConfig(cfg) {
		slog.Warn("config", "warning", w)
	}

	socketPath := resolveSocketPath(*socket, cfg)

	slog.Info("starting", "socket", socketPath, "version", Version)

	srv, err := NewServer(socketPath, *dir)
	if err != nil {
		slog.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	defer srv.Close()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		slog.Info("shutting down")
		srv.Close()
		logFile.Close()
		os.Exit(0)
	}()

	slog.Info("ready")
	if err := srv.Serve(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// resolveSocketPath prefers the -socket flag over the configured path.
func resolveSocketPath(flagValue string, cfg *kconsole.Config) string {
	if flagValue != "" {
		return flagValue
	}
	return kconsole.ResolveSocketPath(cfg)
}
