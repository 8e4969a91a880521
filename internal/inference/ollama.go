package inference

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hpungsan/logtrains/internal/errors"
	"github.com/hpungsan/logtrains/internal/logging"
	"github.com/hpungsan/logtrains/internal/prompt"
)

const (
	// DefaultEndpoint is a local Ollama server.
	DefaultEndpoint = "http://localhost:11434"

	// maxResponseSize prevents OOM on unexpectedly large responses (10MB).
	maxResponseSize = 10 * 1024 * 1024

	// maxErrorBodyLen limits error bodies carried into error messages.
	maxErrorBodyLen = 500
)

// Ollama talks to an Ollama server over its HTTP API.
type Ollama struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

// OllamaOptions tunes the adapter.
type OllamaOptions struct {
	// HTTPClient overrides the default client. Timeouts come from the
	// request context, not the client.
	HTTPClient *http.Client

	// Timeout bounds one request; 0 means no limit beyond ctx.
	Timeout time.Duration
}

// NewOllama returns an adapter for the server at endpoint.
func NewOllama(endpoint string, opts OllamaOptions) *Ollama {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Ollama{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
		timeout:  opts.Timeout,
	}
}

// Generate submits p as a raw (pre-templated) prompt and returns the
// completion text unchanged.
func (o *Ollama) Generate(ctx context.Context, p prompt.Prompt, cfg ModelConfig) (string, error) {
	body, err := generateBody(p, cfg)
	if err != nil {
		return "", errors.NewInternal(err)
	}

	start := time.Now()
	resp, err := o.post(ctx, "/api/generate", body, cfg.Model)
	if err != nil {
		return "", err
	}

	text := gjson.GetBytes(resp, "response").String()
	logging.From(ctx).Debug().
		Str("model", cfg.Model).
		Dur("duration", time.Since(start)).
		Int64("prompt_eval_count", gjson.GetBytes(resp, "prompt_eval_count").Int()).
		Int64("eval_count", gjson.GetBytes(resp, "eval_count").Int()).
		Str("done_reason", gjson.GetBytes(resp, "done_reason").String()).
		Msg("generation complete")
	return text, nil
}

// Pull asks the server to download cfg.Model and waits for it to finish.
func (o *Ollama) Pull(ctx context.Context, cfg ModelConfig) error {
	body, err := sjson.SetBytes([]byte(`{}`), "model", cfg.Model)
	if err != nil {
		return errors.NewInternal(err)
	}
	if body, err = sjson.SetBytes(body, "stream", false); err != nil {
		return errors.NewInternal(err)
	}

	resp, err := o.post(ctx, "/api/pull", body, cfg.Model)
	if err != nil {
		return err
	}
	if status := gjson.GetBytes(resp, "status").String(); status != "success" {
		return errors.NewModelUnavailable(cfg.Model, fmt.Errorf("pull finished with status %q", status))
	}
	return nil
}

func generateBody(p prompt.Prompt, cfg ModelConfig) ([]byte, error) {
	stop := p.Stop
	if stop == nil {
		stop = []string{}
	}
	fields := []struct {
		path  string
		value any
	}{
		{"model", cfg.Model},
		{"prompt", p.Text},
		{"raw", true},
		{"stream", false},
		{"options.num_ctx", cfg.ContextWindow},
		{"options.num_predict", cfg.GenerationReserve},
		{"options.temperature", cfg.Temperature},
		{"options.top_p", cfg.TopP},
		{"options.seed", cfg.Seed},
		{"options.stop", stop},
	}

	body := []byte(`{}`)
	var err error
	for _, f := range fields {
		if body, err = sjson.SetBytes(body, f.path, f.value); err != nil {
			return nil, fmt.Errorf("set %s: %w", f.path, err)
		}
	}
	return body, nil
}

func (o *Ollama) post(ctx context.Context, path string, body []byte, model string) ([]byte, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, model, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, classifyTransport(ctx, model, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(respBody, "error").String()
		if msg == "" {
			msg = string(respBody)
		}
		if len(msg) > maxErrorBodyLen {
			msg = msg[:maxErrorBodyLen] + "... (truncated)"
		}
		return nil, classifyStatus(model, resp.StatusCode, msg)
	}
	// A 200 can still carry an error when the runner dies mid-request.
	if msg := gjson.GetBytes(respBody, "error").String(); msg != "" {
		return nil, classifyStatus(model, resp.StatusCode, msg)
	}
	return respBody, nil
}

// classifyTransport maps a failed round trip. Cancellation wins over
// whatever the transport reported.
func classifyTransport(ctx context.Context, model string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.NewCancelled(ctxErr)
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewCancelled(err)
	}
	if stderrors.Is(err, syscall.ECONNREFUSED) || strings.Contains(err.Error(), "connection refused") {
		return errors.NewModelUnavailable(model, fmt.Errorf("inference engine not reachable: %w", err))
	}
	return errors.NewModelUnavailable(model, err)
}

func classifyStatus(model string, status int, msg string) error {
	cause := fmt.Errorf("engine returned status %d: %s", status, msg)
	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusNotFound || strings.Contains(lower, "not found"):
		return errors.NewModelUnavailable(model, cause)
	case strings.Contains(lower, "out of memory") || strings.Contains(lower, "insufficient") ||
		strings.Contains(lower, "requires more system memory") || status == http.StatusServiceUnavailable:
		return errors.NewResourceExhausted(model, cause)
	}
	e := errors.NewInternal(cause)
	e.Stage = errors.StageInference
	return e.WithDetail("status", status).WithDetail("model", model)
}
