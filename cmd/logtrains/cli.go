package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/logtrains/internal/config"
	"github.com/hpungsan/logtrains/internal/errors"
	"github.com/hpungsan/logtrains/internal/inference"
	"github.com/hpungsan/logtrains/internal/logging"
	"github.com/hpungsan/logtrains/internal/mcp"
	"github.com/hpungsan/logtrains/internal/ops"
	"github.com/hpungsan/logtrains/internal/store"
)

// maxInputBytes bounds what is read from stdin or a file.
const maxInputBytes = 64 << 20

// newCLIApp creates the CLI application with all commands.
// A nil engine talks to the configured Ollama endpoint.
func newCLIApp(st *store.Store, cfg *config.Config, engine mcp.Engine) *cli.App {
	if engine == nil && cfg != nil {
		engine = ops.NewGateway(cfg)
	}

	app := &cli.App{
		Name:  "logtrains",
		Usage: "Explain errors in command output with a local model",
		UsageText: "logtrains [options] [FILE]        explain FILE, piped stdin, or the latest recorded output\n" +
			"   logtrains <command> [options]",
		Version: Version,
		Flags:   explainFlags(),
		Action: func(c *cli.Context) error {
			return runExplain(c, st, cfg, engine, true)
		},
		Commands: []*cli.Command{
			explainCmd(st, cfg, engine),
			recordCmd(st, cfg),
			runCmd(st, cfg),
			listCmd(st),
			showCmd(st),
			purgeCmd(st, cfg),
			reindexCmd(st),
			modelCmd(cfg, engine),
			configCmd(cfg),
			mcpCmd(st, cfg, engine),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// explainFlags are shared by the root command and explain.
func explainFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "last", Aliases: []string{"n"}, Usage: "Explain the N most recent entries together"},
		&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Explain only the entry N back from the newest (0 = latest)"},
		&cli.StringFlag{Name: "preset", Aliases: []string{"p"}, Usage: "Model preset: " + strings.Join(inference.PresetNames(), "|")},
		&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "Engine model tag overriding the preset's"},
		&cli.IntFlag{Name: "max-tokens", Usage: "Token budget for the whole prompt"},
		&cli.BoolFlag{Name: "no-headers", Usage: "Omit the command line before each entry"},
		&cli.BoolFlag{Name: "dry-run", Usage: "Print the assembled prompt instead of running the model"},
		&cli.BoolFlag{Name: "json", Usage: "Print the full result as JSON"},
	}
}

// explainCmd creates the explain command.
func explainCmd(st *store.Store, cfg *config.Config, engine mcp.Engine) *cli.Command {
	return &cli.Command{
		Name:      "explain",
		Usage:     "Explain recorded output (or FILE, - for stdin)",
		ArgsUsage: "[FILE]",
		Flags:     explainFlags(),
		Action: func(c *cli.Context) error {
			return runExplain(c, st, cfg, engine, false)
		},
	}
}

// runExplain explains FILE when given. Otherwise the bare command reads
// piped stdin, and everything else falls back to the recorded history.
func runExplain(c *cli.Context, st *store.Store, cfg *config.Config, engine mcp.Engine, bare bool) error {
	if c.NArg() > 1 {
		return outputError(errors.NewInvalidRequest(fmt.Sprintf("expected at most one FILE, got %d arguments", c.NArg())))
	}

	input := ops.ExplainInput{
		Last:      c.Int("last"),
		Preset:    c.String("preset"),
		Model:     c.String("model"),
		MaxTokens: c.Int("max-tokens"),
		DryRun:    c.Bool("dry-run"),
	}
	if c.IsSet("offset") {
		offset := c.Int("offset")
		input.Offset = &offset
	}
	if c.Bool("no-headers") {
		headers := false
		input.IncludeHeaders = &headers
	}

	fromHistory := c.IsSet("last") || c.IsSet("offset")
	switch {
	case c.NArg() == 1:
		text, err := readSource(c.Args().First())
		if err != nil {
			return outputError(err)
		}
		input.Text = &text
	case bare && !fromHistory && stdinHasData():
		text, err := readInput(os.Stdin, maxInputBytes)
		if err != nil {
			return outputError(err)
		}
		input.Text = &text
	}

	var gw inference.Gateway
	if engine != nil {
		gw = engine
	}
	result, err := ops.Explain(c.Context, ops.ExplainDeps{Store: st, Config: cfg, Gateway: gw}, input)
	if err != nil {
		return outputError(err)
	}

	if c.Bool("json") {
		return outputJSON(result)
	}
	if result.Window.Truncated {
		fmt.Fprintf(os.Stderr, "note: %s\n", truncationNote(result))
	}
	if input.DryRun {
		fmt.Fprintln(os.Stdout, result.Prompt)
		return nil
	}
	fmt.Fprintln(os.Stdout, strings.TrimSpace(result.Answer))
	return nil
}

// truncationNote describes how the input was cut to fit the budget.
func truncationNote(r *ops.ExplainOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "output truncated to fit %d tokens", r.MaxTokens)
	if r.Window.ElidedBytes > 0 {
		fmt.Fprintf(&b, ", elided %d bytes across %d lines", r.Window.ElidedBytes, r.Window.ElidedLines)
	}
	if n := r.Window.DroppedEntryCount; n == 1 {
		b.WriteString(", dropped 1 older entry")
	} else if n > 1 {
		fmt.Fprintf(&b, ", dropped %d older entries", n)
	}
	return b.String()
}

// recordCmd creates the record command.
func recordCmd(st *store.Store, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "Record command output (reads the output from stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "command", Aliases: []string{"c"}, Usage: "Command line that produced the output"},
			&cli.IntFlag{Name: "exit-code", Aliases: []string{"e"}, Usage: "Exit status of the command"},
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Record even if the command is in the ignore list"},
		},
		Action: func(c *cli.Context) error {
			// Require stdin input
			if !stdinHasData() {
				return outputError(errors.NewInvalidRequest("output must be piped via stdin"))
			}

			output, err := readInput(os.Stdin, maxInputBytes)
			if err != nil {
				return outputError(err)
			}

			input := ops.RecordInput{
				Command: c.String("command"),
				Output:  output,
				Force:   c.Bool("force"),
			}
			if c.IsSet("exit-code") {
				exitCode := c.Int("exit-code")
				input.ExitCode = &exitCode
			}

			result, err := ops.Record(c.Context, st, cfg, input)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(result)
		},
	}
}

// runCmd creates the run command. The child's output is passed through
// unchanged and recorded once it exits; its exit status becomes ours.
func runCmd(st *store.Store, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run a command, pass its output through and record it",
		ArgsUsage: "-- COMMAND [ARGS...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Record even if the command is in the ignore list"},
		},
		Action: func(c *cli.Context) error {
			args := c.Args().Slice()
			if len(args) == 0 {
				return outputError(errors.NewInvalidRequest("command is required"))
			}

			captured := newTailBuffer(maxInputBytes)
			cmd := exec.CommandContext(c.Context, args[0], args[1:]...)
			cmd.Stdin = os.Stdin
			cmd.Stdout = io.MultiWriter(os.Stdout, captured)
			cmd.Stderr = io.MultiWriter(os.Stderr, captured)

			exitCode := 0
			if err := cmd.Run(); err != nil {
				exitErr, ok := err.(*exec.ExitError)
				if !ok {
					return outputError(errors.NewInvalidRequest(fmt.Sprintf("cannot run %s: %v", args[0], err)))
				}
				exitCode = exitErr.ExitCode()
			}

			result, err := ops.Record(c.Context, st, cfg, ops.RecordInput{
				Command:  strings.Join(args, " "),
				Output:   captured.String(),
				ExitCode: &exitCode,
				Force:    c.Bool("force"),
			})
			if err != nil {
				return outputError(err)
			}
			logging.From(c.Context).Debug().
				Str("id", result.ID).
				Bool("skipped", result.Skipped).
				Int("exit_code", exitCode).
				Msg("run recorded")

			if exitCode != 0 {
				return cli.Exit("", exitCode)
			}
			return nil
		},
	}
}

// listCmd creates the list command.
func listCmd(st *store.Store) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List recorded outputs, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum entries to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Entries to skip"},
		},
		Action: func(c *cli.Context) error {
			result, err := ops.List(c.Context, st, ops.ListInput{
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(result)
		},
	}
}

// showCmd creates the show command.
func showCmd(st *store.Store) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one recorded entry by ID or offset (default: the latest)",
		ArgsUsage: "[ID]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "0 = most recent entry"},
			&cli.BoolFlag{Name: "raw", Usage: "Print only the captured output"},
		},
		Action: func(c *cli.Context) error {
			input := ops.ShowInput{ID: c.Args().First()}
			if c.IsSet("offset") {
				offset := c.Int("offset")
				input.Offset = &offset
			}

			result, err := ops.Show(c.Context, st, input)
			if err != nil {
				return outputError(err)
			}

			if c.Bool("raw") {
				_, err := io.WriteString(os.Stdout, result.Body)
				return err
			}
			return outputJSON(result)
		},
	}
}

// purgeCmd creates the purge command.
func purgeCmd(st *store.Store, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Remove recorded entries (default: apply the configured retention)",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "keep-last", Usage: "Keep only the N most recent entries"},
			&cli.StringFlag{Name: "older-than", Usage: "Remove entries older than duration (e.g., 7d)"},
			&cli.BoolFlag{Name: "all", Usage: "Remove every entry"},
		},
		Action: func(c *cli.Context) error {
			input := ops.PurgeInput{All: c.Bool("all")}

			if c.IsSet("keep-last") {
				keep := c.Int("keep-last")
				input.KeepLast = &keep
			}
			if olderThan := c.String("older-than"); olderThan != "" {
				days, err := parseDuration(olderThan)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				input.OlderThanDays = &days
			}

			result, err := ops.Purge(c.Context, st, cfg, input)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(result)
		},
	}
}

// reindexCmd creates the reindex command.
func reindexCmd(st *store.Store) *cli.Command {
	return &cli.Command{
		Name:  "reindex",
		Usage: "Rebuild the history index from the entry files",
		Action: func(c *cli.Context) error {
			result, err := ops.Reindex(c.Context, st)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(result)
		},
	}
}

// modelCmd creates the model command and its subcommands.
func modelCmd(cfg *config.Config, engine mcp.Engine) *cli.Command {
	return &cli.Command{
		Name:  "model",
		Usage: "Manage local models",
		Subcommands: []*cli.Command{
			{
				Name:  "pull",
				Usage: "Download the model for a preset into the local engine",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "preset", Aliases: []string{"p"}, Usage: "Model preset: " + strings.Join(inference.PresetNames(), "|")},
					&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "Engine model tag overriding the preset's"},
				},
				Action: func(c *cli.Context) error {
					result, err := ops.PullModel(c.Context, engine, cfg, ops.PullInput{
						Preset: c.String("preset"),
						Model:  c.String("model"),
					})
					if err != nil {
						return outputError(err)
					}

					return outputJSON(result)
				},
			},
			{
				Name:  "list",
				Usage: "List model presets",
				Action: func(c *cli.Context) error {
					models := make([]inference.ModelConfig, 0, len(inference.Presets))
					for _, name := range inference.PresetNames() {
						mc, err := inference.Resolve(name, "")
						if err != nil {
							return outputError(err)
						}
						models = append(models, mc)
					}

					return outputJSON(models)
				},
			},
		},
	}
}

// configCmd creates the config command.
func configCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Print the effective configuration",
		Action: func(c *cli.Context) error {
			return outputJSON(cfg)
		},
	}
}

// mcpCmd creates the mcp command. main normally routes here before
// building the CLI; the command exists so it shows up in help.
func mcpCmd(st *store.Store, cfg *config.Config, engine mcp.Engine) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the history tools over MCP (stdio)",
		Action: func(c *cli.Context) error {
			return mcp.Run(st, cfg, engine, Version)
		},
	}
}

// Helper functions

// outputJSON writes JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	e, ok := errors.As(err)
	if !ok {
		return cli.Exit(err.Error(), 1)
	}

	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if hint := e.RetryHint(); hint != "" {
		msg += "\nhint: " + hint
	}
	code := 1
	if e.Code == errors.ErrCancelled {
		code = 130
	}
	return cli.Exit(msg, code)
}

// stdinHasData returns true if stdin is piped (not a terminal).
func stdinHasData() bool {
	return !stdinIsTerminal()
}

// readInput reads r up to limit bytes. Larger input is rejected rather
// than silently cut.
func readInput(r io.Reader, limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", errors.NewIOFailure("read", "stdin", err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("input exceeds %d bytes", limit))
	}
	return string(data), nil
}

// readSource reads FILE, or stdin for "-".
func readSource(path string) (string, error) {
	if path == "-" {
		return readInput(os.Stdin, maxInputBytes)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("cannot read %s: %v", path, err))
	}
	defer f.Close()
	return readInput(f, maxInputBytes)
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
}

// tailBuffer collects a child's stdout and stderr, which are written
// from separate goroutines. It keeps only the newest limit bytes.
type tailBuffer struct {
	mu      sync.Mutex
	limit   int
	buf     []byte
	dropped int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > 2*b.limit {
		b.compact()
	}
	return len(p), nil
}

func (b *tailBuffer) compact() {
	if over := len(b.buf) - b.limit; over > 0 {
		b.dropped += over
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
}

// String returns the kept output, led by a note when earlier output was cut.
func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.compact()
	if b.dropped == 0 {
		return string(b.buf)
	}
	kept := b.buf
	for n := 0; n < utf8.UTFMax && len(kept) > 0 && !utf8.RuneStart(kept[0]); n++ {
		kept = kept[1:]
	}
	cut := b.dropped + len(b.buf) - len(kept)
	return fmt.Sprintf("[... first %d bytes of output not captured ...]\n", cut) + string(kept)
}
