package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/logtrains/internal/config"
	"github.com/hpungsan/logtrains/internal/errors"
	"github.com/hpungsan/logtrains/internal/ops"
	"github.com/hpungsan/logtrains/internal/store"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	store  *store.Store
	cfg    *config.Config
	engine Engine
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(st *store.Store, cfg *config.Config, engine Engine) *Handlers {
	return &Handlers{store: st, cfg: cfg, engine: engine}
}

// Request types for each tool

// RecordRequest represents the arguments for history_record.
type RecordRequest struct {
	Command  string `json:"command,omitempty"`
	Output   string `json:"output"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Force    bool   `json:"force,omitempty"`
}

// ListRequest represents the arguments for history_list.
type ListRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ShowRequest represents the arguments for history_show.
type ShowRequest struct {
	ID     string `json:"id,omitempty"`
	Offset *int   `json:"offset,omitempty"`
}

// ExplainRequest represents the arguments for history_explain.
type ExplainRequest struct {
	Last           int     `json:"last,omitempty"`
	Offset         *int    `json:"offset,omitempty"`
	Text           *string `json:"text,omitempty"`
	Preset         string  `json:"preset,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
	IncludeHeaders *bool   `json:"include_headers,omitempty"`
	DryRun         bool    `json:"dry_run,omitempty"`
}

// PurgeRequest represents the arguments for history_purge.
type PurgeRequest struct {
	KeepLast      *int `json:"keep_last,omitempty"`
	OlderThanDays *int `json:"older_than_days,omitempty"`
	All           bool `json:"all,omitempty"`
}

// PullRequest represents the arguments for model_pull.
type PullRequest struct {
	Preset string `json:"preset,omitempty"`
	Model  string `json:"model,omitempty"`
}

// Handler implementations

// HandleRecord handles the history_record tool call.
func (h *Handlers) HandleRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecordRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Record(ctx, h.store, h.cfg, ops.RecordInput{
		Command:  input.Command,
		Output:   input.Output,
		ExitCode: input.ExitCode,
		Force:    input.Force,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleList handles the history_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.List(ctx, h.store, ops.ListInput{
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleShow handles the history_show tool call.
func (h *Handlers) HandleShow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ShowRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Show(ctx, h.store, ops.ShowInput{
		ID:     input.ID,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleExplain handles the history_explain tool call.
func (h *Handlers) HandleExplain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExplainRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	deps := ops.ExplainDeps{Store: h.store, Config: h.cfg}
	if h.engine != nil {
		deps.Gateway = h.engine
	}

	result, err := ops.Explain(ctx, deps, ops.ExplainInput{
		Last:           input.Last,
		Offset:         input.Offset,
		Text:           input.Text,
		Preset:         input.Preset,
		MaxTokens:      input.MaxTokens,
		IncludeHeaders: input.IncludeHeaders,
		DryRun:         input.DryRun,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePurge handles the history_purge tool call.
func (h *Handlers) HandlePurge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PurgeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Purge(ctx, h.store, h.cfg, ops.PurgeInput{
		KeepLast:      input.KeepLast,
		OlderThanDays: input.OlderThanDays,
		All:           input.All,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleReindex handles the history_reindex tool call.
func (h *Handlers) HandleReindex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Reindex(ctx, h.store)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePull handles the model_pull tool call.
func (h *Handlers) HandlePull(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PullRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	var puller Engine = h.engine
	if puller == nil {
		puller = ops.NewGateway(h.cfg)
	}

	result, err := ops.PullModel(ctx, puller, h.cfg, ops.PullInput{
		Preset: input.Preset,
		Model:  input.Model,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if e, ok := errors.As(err); ok && e.Code != errors.ErrInternal {
		message := e.Message
		// Keep context added by wrapping (fmt.Errorf("...: %w", e)).
		if err != error(e) {
			message = strings.TrimSuffix(err.Error(), e.Error()) + e.Message
		}
		errorObj := map[string]any{
			"code":      e.Code,
			"message":   message,
			"retryable": e.Retryable(),
		}
		if e.Stage != "" {
			errorObj["stage"] = e.Stage
		}
		if hint := e.RetryHint(); hint != "" {
			errorObj["retry_hint"] = hint
		}
		if e.Details != nil {
			errorObj["details"] = e.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		// Internal errors may carry file paths or SQL text; keep them out
		// of the tool response.
		payload = map[string]any{
			"error": map[string]any{
				"code":      errors.ErrInternal,
				"message":   "an internal error occurred",
				"retryable": false,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
