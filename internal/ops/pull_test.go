package ops

import (
	"context"
	"fmt"
	"testing"

	"github.com/hpungsan/logtrains/internal/errors"
	"github.com/hpungsan/logtrains/internal/inference"
)

type pullerFunc func(ctx context.Context, mc inference.ModelConfig) error

func (f pullerFunc) Pull(ctx context.Context, mc inference.ModelConfig) error { return f(ctx, mc) }

func TestPullModel(t *testing.T) {
	cfg := testConfig()
	cfg.Model = "tinyllama:custom"

	tests := []struct {
		name      string
		input     PullInput
		wantModel string
	}{
		{"configured", PullInput{}, "tinyllama:custom"},
		{"same preset keeps configured model", PullInput{Preset: "TINY"}, "tinyllama:custom"},
		{"other preset ignores configured model", PullInput{Preset: "medium"}, "mistral:7b-instruct-v0.2-q4_K_M"},
		{"explicit model", PullInput{Preset: "medium", Model: "mistral:latest"}, "mistral:latest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			puller := pullerFunc(func(ctx context.Context, mc inference.ModelConfig) error {
				got = mc.Model
				return nil
			})
			out, err := PullModel(context.Background(), puller, cfg, tt.input)
			if err != nil {
				t.Fatalf("PullModel failed: %v", err)
			}
			if got != tt.wantModel || out.Model != tt.wantModel {
				t.Errorf("pulled %q (out %q), want %q", got, out.Model, tt.wantModel)
			}
		})
	}
}

func TestPullModel_Errors(t *testing.T) {
	cfg := testConfig()
	failing := pullerFunc(func(ctx context.Context, mc inference.ModelConfig) error {
		return errors.NewModelUnavailable(mc.Model, fmt.Errorf("manifest unknown"))
	})

	if _, err := PullModel(context.Background(), failing, cfg, PullInput{}); !errors.Is(err, errors.ErrModelUnavailable) {
		t.Errorf("error = %v, want MODEL_UNAVAILABLE", err)
	}
	if _, err := PullModel(context.Background(), failing, cfg, PullInput{Preset: "huge"}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("error = %v, want INVALID_REQUEST", err)
	}
}
