package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/hpungsan/logtrains/internal/config"
	"github.com/hpungsan/logtrains/internal/logging"
	"github.com/hpungsan/logtrains/internal/mcp"
	"github.com/hpungsan/logtrains/internal/ops"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// isMCPMode reports whether the process should serve MCP over stdio.
func isMCPMode() bool {
	return len(os.Args) >= 2 && os.Args[1] == "mcp"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// stdinIsTerminal reports whether stdin is attached to a terminal.
// Replaced in tests.
var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func main() {
	// Handle --help/--version before touching the history (no store needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil, nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	baseDir, err := config.BaseDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = baseDir
	}

	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCloser := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
	})
	defer logCloser.Close()

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		fmt.Fprintf(os.Stderr, "warning: unknown tools in disabled_tools: %v\n", unknown)
	}

	st, err := ops.OpenStore(baseDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to open history: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	engine := ops.NewGateway(cfg)

	// MCP server mode: stdin and stdout carry the protocol
	if isMCPMode() {
		if err := mcp.Run(st, cfg, engine, Version); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newCLIApp(st, cfg, engine)
	if err := app.RunContext(ctx, os.Args); err != nil {
		code := 1
		if ec, ok := err.(interface{ ExitCode() int }); ok {
			code = ec.ExitCode()
		}
		if msg := err.Error(); msg != "" {
			fmt.Fprintf(os.Stderr, "error: %s\n", msg)
		}
		// Deferred closers do not run past os.Exit.
		stop()
		st.Close()
		logCloser.Close()
		os.Exit(code)
	}
}
