package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/logtrains/internal/config"
	"github.com/hpungsan/logtrains/internal/inference"
	"github.com/hpungsan/logtrains/internal/ops"
	"github.com/hpungsan/logtrains/internal/store"
)

// Engine is the inference backend the server drives.
type Engine interface {
	inference.Gateway
	inference.Puller
}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var recordToolDef = mcp.NewTool("history_record",
	mcp.WithDescription("Record a command's output in the history so it can be explained later. "+
		"Navigation commands like ls and cd are skipped unless force is set."),
	mcp.WithString("output", mcp.Required(), mcp.Description("Captured output (stdout and stderr)")),
	mcp.WithString("command", mcp.Description("Command line that produced the output")),
	mcp.WithNumber("exit_code", mcp.Description("Exit status of the command")),
	mcp.WithBoolean("force", mcp.Description("Record even if the command is in the ignore list")),
)

var listToolDef = mcp.NewTool("history_list",
	mcp.WithDescription("List recorded command outputs, newest first. Offset 0 is the most recent entry."),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)"), mcp.Min(1), mcp.Max(ops.MaxListLimit)),
	mcp.WithNumber("offset", mcp.Description("Entries to skip"), mcp.Min(0)),
	mcp.WithReadOnlyHintAnnotation(true),
)

var showToolDef = mcp.NewTool("history_show",
	mcp.WithDescription("Show one recorded entry with its full output, by id or by offset from the newest."),
	mcp.WithString("id", mcp.Description("Entry id (ULID)")),
	mcp.WithNumber("offset", mcp.Description("0 = most recent entry"), mcp.Min(0)),
	mcp.WithReadOnlyHintAnnotation(true),
)

var explainToolDef = mcp.NewTool("history_explain",
	mcp.WithDescription("Explain errors in recorded command output (or in the given text) with a local model. "+
		"Long output is truncated in the middle to fit the model's context."),
	mcp.WithNumber("last", mcp.Description("Explain the N most recent entries together (default 1)"), mcp.Min(1), mcp.Max(ops.MaxExplainEntries)),
	mcp.WithNumber("offset", mcp.Description("Explain only the entry N back from the newest"), mcp.Min(0)),
	mcp.WithString("text", mcp.Description("Explain this text instead of the history")),
	mcp.WithString("preset", mcp.Description("Model preset"), mcp.Enum(inference.PresetNames()...)),
	mcp.WithNumber("max_tokens", mcp.Description("Token budget for the whole prompt"), mcp.Min(1)),
	mcp.WithBoolean("include_headers", mcp.Description("Prefix each entry with its command line")),
	mcp.WithBoolean("dry_run", mcp.Description("Return the assembled prompt without running the model")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var purgeToolDef = mcp.NewTool("history_purge",
	mcp.WithDescription("Remove recorded entries. Without arguments the configured retention policy is applied."),
	mcp.WithNumber("keep_last", mcp.Description("Keep only the N most recent entries"), mcp.Min(0)),
	mcp.WithNumber("older_than_days", mcp.Description("Remove entries captured more than N days ago"), mcp.Min(0)),
	mcp.WithBoolean("all", mcp.Description("Remove every entry")),
	mcp.WithDestructiveHintAnnotation(true),
)

var reindexToolDef = mcp.NewTool("history_reindex",
	mcp.WithDescription("Rebuild the history index from the entry files."),
	mcp.WithIdempotentHintAnnotation(true),
)

var pullToolDef = mcp.NewTool("model_pull",
	mcp.WithDescription("Download the model for a preset into the local inference engine."),
	mcp.WithString("preset", mcp.Description("Model preset"), mcp.Enum(inference.PresetNames()...)),
	mcp.WithString("model", mcp.Description("Engine model tag overriding the preset's")),
	mcp.WithIdempotentHintAnnotation(true),
)

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"history_record": {
		def:     recordToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecord },
	},
	"history_list": {
		def:     listToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"history_show": {
		def:     showToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleShow },
	},
	"history_explain": {
		def:     explainToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExplain },
	},
	"history_purge": {
		def:     purgeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePurge },
	},
	"history_reindex": {
		def:     reindexToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReindex },
	},
	"model_pull": {
		def:     pullToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePull },
	},
}

// AllToolNames returns all valid tool names, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with logtrains tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(st *store.Store, cfg *config.Config, engine Engine, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"logtrains",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(st, cfg, engine)

	disabled := make(map[string]bool)
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	// Register tools (skip disabled)
	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(st *store.Store, cfg *config.Config, engine Engine, version string) error {
	s := NewServer(st, cfg, engine, version)
	return server.ServeStdio(s)
}
