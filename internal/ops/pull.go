package ops

import (
	"context"
	"strings"
	"time"

	"github.com/hpungsan/logtrains/internal/config"
	"github.com/hpungsan/logtrains/internal/inference"
	"github.com/hpungsan/logtrains/internal/logging"
)

// PullInput contains parameters for the PullModel operation.
type PullInput struct {
	Preset string // default: config preset
	Model  string // default: config model, then the preset's tag
}

// PullOutput contains the result of the PullModel operation.
type PullOutput struct {
	Preset string `json:"preset"`
	Model  string `json:"model"`
}

// PullModel downloads the model for a preset so later explain requests
// do not fail with MODEL_UNAVAILABLE.
func PullModel(ctx context.Context, puller inference.Puller, cfg *config.Config, input PullInput) (*PullOutput, error) {
	mc, err := resolveModel(cfg, input.Preset, input.Model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := puller.Pull(ctx, mc); err != nil {
		return nil, err
	}
	logging.From(ctx).Info().Str("model", mc.Model).Dur("duration", time.Since(start)).Msg("model pulled")

	return &PullOutput{Preset: mc.Preset, Model: mc.Model}, nil
}

// resolveModel applies request overrides on top of the configured model.
// The configured model tag only applies to the configured preset.
func resolveModel(cfg *config.Config, preset, model string) (inference.ModelConfig, error) {
	if preset == "" || strings.EqualFold(preset, cfg.Preset) {
		preset = cfg.Preset
		if model == "" {
			model = cfg.Model
		}
	}
	return inference.Resolve(preset, model)
}
