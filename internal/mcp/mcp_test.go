package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/logtrains/internal/config"
	"github.com/hpungsan/logtrains/internal/errors"
	"github.com/hpungsan/logtrains/internal/inference"
	"github.com/hpungsan/logtrains/internal/ops"
	"github.com/hpungsan/logtrains/internal/prompt"
	"github.com/hpungsan/logtrains/internal/store"
	"github.com/hpungsan/logtrains/internal/tokens"
)

// fakeEngine answers every prompt with a fixed text and remembers pulls.
type fakeEngine struct {
	answer  string
	err     error
	prompts []string
	pulled  []string
}

func (e *fakeEngine) Generate(ctx context.Context, p prompt.Prompt, cfg inference.ModelConfig) (string, error) {
	e.prompts = append(e.prompts, p.Text)
	return e.answer, e.err
}

func (e *fakeEngine) Pull(ctx context.Context, cfg inference.ModelConfig) error {
	e.pulled = append(e.pulled, cfg.Model)
	return e.err
}

// testSetup creates a temporary store and config for testing.
func testSetup(t *testing.T) (*store.Store, *config.Config) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Tokenizer = tokens.HeuristicName
	st, err := ops.OpenStore(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st, cfg
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func recordEntry(t *testing.T, h *Handlers, command, output string) string {
	t.Helper()
	result, err := h.HandleRecord(context.Background(), makeRequest(map[string]any{
		"command":   command,
		"output":    output,
		"exit_code": 1,
	}))
	if err != nil {
		t.Fatalf("record handler returned error: %v", err)
	}
	out := parseOutput(t, result)
	id, _ := out["id"].(string)
	if id == "" {
		t.Fatalf("record returned no id: %v", out)
	}
	return id
}

func TestHandleRecord(t *testing.T) {
	st, cfg := testSetup(t)
	h := NewHandlers(st, cfg, &fakeEngine{})
	ctx := context.Background()

	t.Run("records", func(t *testing.T) {
		recordEntry(t, h, "go build", "undefined: x")
	})

	t.Run("skips ignored", func(t *testing.T) {
		result, err := h.HandleRecord(ctx, makeRequest(map[string]any{"command": "pwd", "output": "/tmp"}))
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		out := parseOutput(t, result)
		if out["skipped"] != true {
			t.Errorf("skipped = %v, want true", out["skipped"])
		}
	})

	t.Run("rejects unknown argument", func(t *testing.T) {
		result, _ := h.HandleRecord(ctx, makeRequest(map[string]any{"output": "x", "exitcode": 1}))
		assertErrorCode(t, result, "INVALID_REQUEST")
	})

	t.Run("rejects wrong type", func(t *testing.T) {
		result, _ := h.HandleRecord(ctx, makeRequest(map[string]any{"output": 42}))
		assertErrorCode(t, result, "INVALID_REQUEST")
	})
}

func TestHandleList(t *testing.T) {
	st, cfg := testSetup(t)
	h := NewHandlers(st, cfg, &fakeEngine{})
	ctx := context.Background()

	recordEntry(t, h, "make a", "one")
	newest := recordEntry(t, h, "make b", "two")

	result, err := h.HandleList(ctx, makeRequest(map[string]any{"limit": 1}))
	if err != nil {
		t.Fatalf("list handler returned error: %v", err)
	}
	out := parseOutput(t, result)

	items := out["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	first := items[0].(map[string]any)
	if first["id"] != newest || first["offset"] != float64(0) || first["command"] != "make b" {
		t.Errorf("items[0] = %v", first)
	}
	pagination := out["pagination"].(map[string]any)
	if pagination["has_more"] != true || pagination["total"] != float64(2) {
		t.Errorf("pagination = %v", pagination)
	}
}

func TestHandleShow(t *testing.T) {
	st, cfg := testSetup(t)
	h := NewHandlers(st, cfg, &fakeEngine{})
	ctx := context.Background()

	oldest := recordEntry(t, h, "cargo build", "error[E0308]: mismatched types")
	recordEntry(t, h, "cargo test", "test result: FAILED")

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"default newest", map[string]any{}, "test result: FAILED"},
		{"by offset", map[string]any{"offset": 1}, "E0308"},
		{"by id", map[string]any{"id": oldest}, "E0308"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleShow(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("show handler returned error: %v", err)
			}
			out := parseOutput(t, result)
			if body, _ := out["body"].(string); !strings.Contains(body, tt.want) {
				t.Errorf("body = %q, want it to contain %q", body, tt.want)
			}
		})
	}

	t.Run("out of range", func(t *testing.T) {
		result, _ := h.HandleShow(ctx, makeRequest(map[string]any{"offset": 5}))
		assertErrorCode(t, result, "OUT_OF_RANGE")

		payload := errorPayload(t, result)
		details := payload["details"].(map[string]any)
		if details["offset"] != float64(5) || details["available"] != float64(2) {
			t.Errorf("details = %v", details)
		}
		if payload["stage"] != "select" || payload["retryable"] != false {
			t.Errorf("payload = %v", payload)
		}
	})

	t.Run("id and offset", func(t *testing.T) {
		result, _ := h.HandleShow(ctx, makeRequest(map[string]any{"id": oldest, "offset": 0}))
		assertErrorCode(t, result, "INVALID_REQUEST")
	})
}

func TestHandleExplain(t *testing.T) {
	st, cfg := testSetup(t)
	engine := &fakeEngine{answer: "## Summary\nType mismatch."}
	h := NewHandlers(st, cfg, engine)
	ctx := context.Background()

	id := recordEntry(t, h, "go vet ./...", "printf: Sprintf format %d has arg of wrong type")

	result, err := h.HandleExplain(ctx, makeRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("explain handler returned error: %v", err)
	}
	out := parseOutput(t, result)
	if out["answer"] != engine.answer {
		t.Errorf("answer = %v", out["answer"])
	}
	ids := out["entry_ids"].([]any)
	if len(ids) != 1 || ids[0] != id {
		t.Errorf("entry_ids = %v", ids)
	}
	if len(engine.prompts) != 1 || !strings.Contains(engine.prompts[0], "Sprintf format") {
		t.Errorf("prompts = %v", engine.prompts)
	}
	w := out["window"].(map[string]any)
	if w["truncated"] != false {
		t.Errorf("window = %v", w)
	}
}

func TestHandleExplain_DryRunText(t *testing.T) {
	st, cfg := testSetup(t)
	engine := &fakeEngine{}
	h := NewHandlers(st, cfg, engine)

	result, err := h.HandleExplain(context.Background(), makeRequest(map[string]any{
		"text":    "java.lang.NullPointerException\n\tat Main.main(Main.java:3)",
		"dry_run": true,
		"preset":  "medium",
	}))
	if err != nil {
		t.Fatalf("explain handler returned error: %v", err)
	}
	out := parseOutput(t, result)
	p, _ := out["prompt"].(string)
	if !strings.HasPrefix(p, "<s>[INST] ") || !strings.Contains(p, "NullPointerException") {
		t.Errorf("prompt = %q", p)
	}
	if len(engine.prompts) != 0 {
		t.Error("dry run should not call the engine")
	}
}

func TestHandleExplain_Errors(t *testing.T) {
	st, cfg := testSetup(t)
	h := NewHandlers(st, cfg, &fakeEngine{})
	ctx := context.Background()

	result, _ := h.HandleExplain(ctx, makeRequest(map[string]any{}))
	assertErrorCode(t, result, "EMPTY")

	recordEntry(t, h, "make", "boom")

	result, _ = h.HandleExplain(ctx, makeRequest(map[string]any{"max_tokens": 5}))
	assertErrorCode(t, result, "BUDGET_EXHAUSTED")

	unavailable := &fakeEngine{err: errors.NewModelUnavailable("tinyllama", fmt.Errorf("not found"))}
	h = NewHandlers(st, cfg, unavailable)
	result, _ = h.HandleExplain(ctx, makeRequest(map[string]any{}))
	assertErrorCode(t, result, "MODEL_UNAVAILABLE")

	payload := errorPayload(t, result)
	if payload["retryable"] != true {
		t.Errorf("retryable = %v, want true", payload["retryable"])
	}
	if hint, _ := payload["retry_hint"].(string); !strings.Contains(hint, "model pull") {
		t.Errorf("retry_hint = %q", hint)
	}
}

func TestHandlePurge(t *testing.T) {
	st, cfg := testSetup(t)
	h := NewHandlers(st, cfg, &fakeEngine{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		recordEntry(t, h, "make", fmt.Sprintf("failure %d", i))
	}

	result, err := h.HandlePurge(ctx, makeRequest(map[string]any{"keep_last": 1}))
	if err != nil {
		t.Fatalf("purge handler returned error: %v", err)
	}
	out := parseOutput(t, result)
	if out["purged"] != float64(2) {
		t.Errorf("purged = %v, want 2", out["purged"])
	}

	result, _ = h.HandlePurge(ctx, makeRequest(map[string]any{"keep_last": -1}))
	assertErrorCode(t, result, "INVALID_REQUEST")

	result, _ = h.HandlePurge(ctx, makeRequest(map[string]any{"all": true}))
	if out := parseOutput(t, result); out["purged"] != float64(1) {
		t.Errorf("purge all = %v", out)
	}

	result, _ = h.HandleShow(ctx, makeRequest(map[string]any{}))
	assertErrorCode(t, result, "EMPTY")
}

func TestHandleReindex(t *testing.T) {
	st, cfg := testSetup(t)
	h := NewHandlers(st, cfg, &fakeEngine{})

	recordEntry(t, h, "make", "boom")
	result, err := h.HandleReindex(context.Background(), makeRequest(nil))
	if err != nil {
		t.Fatalf("reindex handler returned error: %v", err)
	}
	if out := parseOutput(t, result); out["indexed"] != float64(1) {
		t.Errorf("indexed = %v, want 1", out["indexed"])
	}
}

func TestHandlePull(t *testing.T) {
	st, cfg := testSetup(t)
	engine := &fakeEngine{}
	h := NewHandlers(st, cfg, engine)

	result, err := h.HandlePull(context.Background(), makeRequest(map[string]any{"preset": "medium"}))
	if err != nil {
		t.Fatalf("pull handler returned error: %v", err)
	}
	out := parseOutput(t, result)
	if out["model"] != "mistral:7b-instruct-v0.2-q4_K_M" {
		t.Errorf("model = %v", out["model"])
	}
	if len(engine.pulled) != 1 || engine.pulled[0] != "mistral:7b-instruct-v0.2-q4_K_M" {
		t.Errorf("pulled = %v", engine.pulled)
	}

	result, _ = h.HandlePull(context.Background(), makeRequest(map[string]any{"preset": "huge"}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestServerRegistration(t *testing.T) {
	st, cfg := testSetup(t)

	s := NewServer(st, cfg, &fakeEngine{}, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"history_record",
		"history_list",
		"history_show",
		"history_explain",
		"history_purge",
		"history_reindex",
		"model_pull",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}

	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	st, cfg := testSetup(t)

	cfg.DisabledTools = []string{"history_purge", "model_pull", "history_purge"}
	s := NewServer(st, cfg, &fakeEngine{}, "test")
	tools := s.ListTools()

	if len(tools) != 5 {
		t.Errorf("registered tool count = %d, want 5", len(tools))
	}
	for _, name := range []string{"history_purge", "model_pull"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
	if _, ok := tools["history_explain"]; !ok {
		t.Error("history_explain should be registered")
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	st, cfg := testSetup(t)

	cfg.DisabledTools = AllToolNames()
	s := NewServer(st, cfg, &fakeEngine{}, "test")

	if tools := s.ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{"all valid", []string{"history_purge", "model_pull"}, 0},
		{"one unknown", []string{"history_purge", "history_delete"}, 1},
		{"all unknown", []string{"foo", "bar", "baz"}, 3},
		{"empty list", []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown := ValidateDisabledTools(tt.input)
			if len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	if len(names) != 7 {
		t.Errorf("AllToolNames() returned %d names, want 7", len(names))
	}
	if names[0] != "history_explain" {
		t.Errorf("names not sorted: %v", names)
	}
	if unknown := ValidateDisabledTools(names); len(unknown) != 0 {
		t.Errorf("AllToolNames() returned invalid names: %v", unknown)
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("open /home/me/.logtrains/index.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	payload := errorPayload(t, r)
	if payload["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", payload["code"], errors.ErrInternal)
	}
	if _, ok := payload["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
	if strings.Contains(payload["message"].(string), "index.db") {
		t.Error("internal message leaked")
	}
}

func TestErrorResult_PlainErrorIsInternal(t *testing.T) {
	payload := errorPayload(t, errorResult(fmt.Errorf("boom")))
	if payload["code"] != string(errors.ErrInternal) {
		t.Errorf("code = %v", payload["code"])
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrapped := fmt.Errorf("entry 3: %w", errors.NewCorrupt("01ARZ3NDEKTSV4RRFFQ69G5FAV", "checksum mismatch"))

	payload := errorPayload(t, errorResult(wrapped))
	if payload["code"] != string(errors.ErrCorrupt) {
		t.Errorf("code=%v, want %v", payload["code"], errors.ErrCorrupt)
	}
	msg := payload["message"].(string)
	if !strings.HasPrefix(msg, "entry 3: ") || !strings.Contains(msg, "checksum mismatch") {
		t.Errorf("message = %q", msg)
	}
	if strings.Contains(msg, "CORRUPT:") {
		t.Errorf("message should not repeat the code: %q", msg)
	}
}

// Helper functions

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

// errorPayload returns the "error" object of a failed result.
func errorPayload(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if !result.IsError {
		t.Fatalf("expected error result, got: %v", extractErrorMessage(result))
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in payload: %v", payload)
	}
	return errObj
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()
	if code := errorPayload(t, result)["code"]; code != expectedCode {
		t.Errorf("got error code %v, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}

	return text.Text
}
