package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hpungsan/logtrains/internal/config"
	"github.com/hpungsan/logtrains/internal/errors"
	"github.com/hpungsan/logtrains/internal/inference"
	"github.com/hpungsan/logtrains/internal/logging"
	"github.com/hpungsan/logtrains/internal/prompt"
	"github.com/hpungsan/logtrains/internal/selector"
	"github.com/hpungsan/logtrains/internal/store"
	"github.com/hpungsan/logtrains/internal/tokens"
	"github.com/hpungsan/logtrains/internal/window"
)

// ExplainDeps wires the explain pipeline.
type ExplainDeps struct {
	Store   *store.Store
	Config  *config.Config
	Gateway inference.Gateway // default: Ollama at Config.Endpoint
	Counter tokens.Counter    // default: tokens.New(Config.Tokenizer)
}

// ExplainInput contains parameters for the Explain operation.
type ExplainInput struct {
	Last   int  // explain the N most recent entries together (default: 1)
	Offset *int // explain only the entry N back from the newest

	// Text is explained directly, bypassing the history.
	Text *string

	Preset         string // default: config preset
	Model          string // default: config model
	MaxTokens      int    // default: config max_tokens, then the preset's prompt budget
	IncludeHeaders *bool  // default: config include_headers

	// DryRun builds the prompt and returns it without calling the engine.
	DryRun bool
}

// ExplainOutput contains the result of the Explain operation.
type ExplainOutput struct {
	RequestID           string        `json:"request_id"`
	Answer              string        `json:"answer"`
	Preset              string        `json:"preset"`
	Model               string        `json:"model"`
	Template            string        `json:"template"`
	Selection           string        `json:"selection,omitempty"`
	EntryIDs            []string      `json:"entry_ids,omitempty"`
	MaxTokens           int           `json:"max_tokens"`
	ReservedForPreamble int           `json:"reserved_for_preamble"`
	Window              window.Window `json:"window"`
	Prompt              string        `json:"prompt,omitempty"`
}

// Explain selects history entries (or takes input.Text), fits them into
// the model's token budget, wraps them in the chat template and asks the
// engine for an explanation. Entry bodies are fully loaded before
// generation starts, so retention may run while the engine works.
func Explain(ctx context.Context, deps ExplainDeps, input ExplainInput) (*ExplainOutput, error) {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	requestID := uuid.NewString()
	ctx = logging.WithRequestID(ctx, requestID)
	logger := logging.From(ctx)

	if input.Text != nil && (input.Last != 0 || input.Offset != nil) {
		return nil, errors.NewInvalidRequest("text cannot be combined with last or offset")
	}
	if input.Last > MaxExplainEntries {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("last must be <= %d", MaxExplainEntries))
	}
	if input.MaxTokens < 0 {
		return nil, errors.NewInvalidRequest("max_tokens must be >= 0")
	}

	mc, err := resolveModel(cfg, input.Preset, input.Model)
	if err != nil {
		return nil, err
	}
	tmpl := mc.PromptTemplate()
	if cfg.PromptTemplate != "" {
		if tmpl, err = prompt.Custom(cfg.PromptTemplate, tmpl); err != nil {
			return nil, err
		}
	}

	counter := deps.Counter
	if counter == nil {
		counter = tokens.New(cfg.Tokenizer)
	}

	budget := window.Budget{MaxTokens: input.MaxTokens}
	if budget.MaxTokens == 0 {
		budget.MaxTokens = cfg.MaxTokens
	}
	if budget.MaxTokens == 0 {
		budget.MaxTokens = mc.MaxPromptTokens()
	}
	if budget.MaxTokens > mc.MaxPromptTokens() {
		logger.Warn().Int("max_tokens", budget.MaxTokens).Int("context_window", mc.ContextWindow).
			Msg("budget exceeds the model's prompt capacity; the engine may truncate or fail")
	}
	budget.ReservedForPreamble = cfg.ReservedForPreamble
	if budget.ReservedForPreamble == 0 {
		budget.ReservedForPreamble = prompt.ReservedTokens(tmpl, counter)
	}

	includeHeaders := cfg.Headers()
	if input.IncludeHeaders != nil {
		includeHeaders = *input.IncludeHeaders
	}

	output := &ExplainOutput{
		RequestID:           requestID,
		Preset:              mc.Preset,
		Model:               mc.Model,
		Template:            tmpl.Name,
		MaxTokens:           budget.MaxTokens,
		ReservedForPreamble: budget.ReservedForPreamble,
	}

	var blocks []string
	if input.Text != nil {
		text := strings.ToValidUTF8(*input.Text, "�")
		if strings.TrimSpace(text) == "" {
			return nil, errors.NewInvalidRequest("input is empty")
		}
		blocks = []string{prompt.Neutralize(text, tmpl)}
	} else {
		if deps.Store == nil {
			return nil, errors.NewInternal(fmt.Errorf("explain: no entry store"))
		}
		req, err := selector.ParseRequest(input.Last, input.Offset)
		if err != nil {
			return nil, err
		}
		sel, bodies, err := loadSelection(ctx, deps.Store, req)
		if err != nil {
			return nil, err
		}
		output.Selection = req.String()
		output.EntryIDs = sel.IDs()
		logger.Debug().Str("selection", output.Selection).Strs("entry_ids", output.EntryIDs).Msg("entries selected")

		// Neutralized as one text: what Assemble measures is what Build sends.
		blocks = prompt.NeutralizeBlocks(window.RenderBlocks(sel.Entries, bodies, includeHeaders), tmpl)
	}

	opts := window.DefaultOptions()
	if f, ok := cfg.HeadShare(); ok {
		opts.HeadFraction = f
	}
	w, err := window.Assemble(blocks, budget, counter, opts)
	if err != nil {
		return nil, err
	}
	output.Window = w
	logger.Debug().
		Int("token_count", w.TokenCount).
		Int("usable", budget.Usable()).
		Bool("truncated", w.Truncated).
		Int("dropped", w.DroppedEntryCount).
		Int("elided_bytes", w.ElidedBytes).
		Msg("window assembled")

	p := prompt.Build(w, tmpl)
	if input.DryRun {
		output.Prompt = p.Text
		return output, nil
	}

	gateway := deps.Gateway
	if gateway == nil {
		gateway = NewGateway(cfg)
	}
	answer, err := gateway.Generate(ctx, p, mc)
	if err != nil {
		logger.Debug().Err(err).Msg("generation failed")
		return nil, err
	}
	output.Answer = answer
	logger.Debug().Int("answer_bytes", len(answer)).Msg("generated")

	return output, nil
}

// loadSelection selects entries and reads their bodies under one store
// view, so retention cannot remove a selected entry halfway through.
func loadSelection(ctx context.Context, st *store.Store, req selector.Request) (selector.Selection, []string, error) {
	var (
		sel    selector.Selection
		bodies []string
	)
	err := st.View(ctx, func(v *store.View) error {
		metas, err := v.ListOrdered(ctx)
		if err != nil {
			return err
		}
		if sel, err = selector.Select(metas, req); err != nil {
			return err
		}
		bodies = make([]string, len(sel.Entries))
		for i, m := range sel.Entries {
			if bodies[i], err = v.LoadBody(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return selector.Selection{}, nil, err
	}
	return sel, bodies, nil
}
