// Package inference is the seam between the pipeline and a text-generation
// engine. The pipeline only ever calls Gateway.Generate; model loading,
// weights and sampling belong to the engine behind it.
package inference

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hpungsan/logtrains/internal/errors"
	"github.com/hpungsan/logtrains/internal/prompt"
)

// DefaultQuantization is the fixed weight quantization for every preset.
const DefaultQuantization = "q4_K_M"

// Sampling defaults.
const (
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
	DefaultSeed        = 299792458
)

// Gateway generates a completion for a fully built prompt.
type Gateway interface {
	Generate(ctx context.Context, p prompt.Prompt, cfg ModelConfig) (string, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, p prompt.Prompt, cfg ModelConfig) (string, error)

// Generate calls f.
func (f GatewayFunc) Generate(ctx context.Context, p prompt.Prompt, cfg ModelConfig) (string, error) {
	return f(ctx, p, cfg)
}

// Puller downloads model weights into the engine.
type Puller interface {
	Pull(ctx context.Context, cfg ModelConfig) error
}

// Preset is a named model choice.
type Preset struct {
	Name              string
	Family            string // model family shown to users
	Tag               string // engine model tag, without quantization
	Template          string // prompt template name
	ContextWindow     int
	GenerationReserve int
}

// Presets by name.
var Presets = map[string]Preset{
	"tiny": {
		Name:              "tiny",
		Family:            "TinyLlama-1.1B-Chat",
		Tag:               "tinyllama:1.1b-chat-v1",
		Template:          "zephyr",
		ContextWindow:     4096,
		GenerationReserve: 512,
	},
	"medium": {
		Name:              "medium",
		Family:            "Mistral-7B-Instruct-v0.2",
		Tag:               "mistral:7b-instruct-v0.2",
		Template:          "mistral",
		ContextWindow:     8192,
		GenerationReserve: 512,
	},
}

// PresetNames returns the preset names, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for n := range Presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ModelConfig is everything the engine needs besides the prompt.
type ModelConfig struct {
	Preset            string  `json:"preset"`
	Model             string  `json:"model"`
	Quantization      string  `json:"quantization"`
	Template          string  `json:"template"`
	ContextWindow     int     `json:"context_window"`
	GenerationReserve int     `json:"generation_reserve"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	Seed              int     `json:"seed"`
}

// Resolve builds the model config for a preset. A non-empty model
// overrides the preset's engine tag.
func Resolve(preset, model string) (ModelConfig, error) {
	p, ok := Presets[strings.ToLower(preset)]
	if !ok {
		return ModelConfig{}, errors.NewInvalidRequest(fmt.Sprintf("unknown preset %q (want one of %s)", preset, strings.Join(PresetNames(), ", ")))
	}
	cfg := ModelConfig{
		Preset:            p.Name,
		Model:             p.Tag + "-" + DefaultQuantization,
		Quantization:      DefaultQuantization,
		Template:          p.Template,
		ContextWindow:     p.ContextWindow,
		GenerationReserve: p.GenerationReserve,
		Temperature:       DefaultTemperature,
		TopP:              DefaultTopP,
		Seed:              DefaultSeed,
	}
	if model != "" {
		cfg.Model = model
	}
	return cfg, nil
}

// MaxPromptTokens is the context window minus the generation reserve.
func (c ModelConfig) MaxPromptTokens() int {
	return c.ContextWindow - c.GenerationReserve
}

// PromptTemplate returns the built-in template for the config.
func (c ModelConfig) PromptTemplate() prompt.Template {
	if t, ok := prompt.Lookup(c.Template); ok {
		return t
	}
	return prompt.Zephyr
}
