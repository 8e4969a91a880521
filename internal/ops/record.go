package ops

import (
	"context"
	"time"

	"github.com/hpungsan/logtrains/internal/capture"
	"github.com/hpungsan/logtrains/internal/config"
	"github.com/hpungsan/logtrains/internal/logging"
	"github.com/hpungsan/logtrains/internal/store"
)

// RecordInput contains parameters for the Record operation.
type RecordInput struct {
	Command  string // optional; empty for piped input
	Output   string
	ExitCode *int
	Force    bool // record even if the command is in the ignore list
}

// RecordOutput contains the result of the Record operation.
type RecordOutput struct {
	ID         string `json:"id,omitempty"`
	Skipped    bool   `json:"skipped"`
	Reason     string `json:"reason,omitempty"`
	ByteLength int    `json:"byte_length"`
	Removed    int    `json:"removed"`
}

// Record appends a finished command's output to the history, then applies
// the configured retention policy. Ignored commands and empty output are
// skipped, not rejected.
func Record(ctx context.Context, st *store.Store, cfg *config.Config, input RecordInput) (*RecordOutput, error) {
	if !input.Force && input.Command != "" && capture.IsTrivial(input.Command, cfg.IgnoredCommands) {
		return &RecordOutput{Skipped: true, Reason: "ignored command: " + capture.Program(input.Command)}, nil
	}

	e := capture.Build(input.Command, input.Output, input.ExitCode, time.Now())
	if e.Body == "" && !input.Force {
		return &RecordOutput{Skipped: true, Reason: "no output"}, nil
	}

	meta, err := st.Append(ctx, e)
	if err != nil {
		return nil, err
	}

	// The entry is durable at this point; a retention failure only means
	// old entries linger until the next run.
	removed, err := st.ApplyRetention(ctx, RetentionPolicy(cfg))
	if err != nil {
		logging.From(ctx).Warn().Err(err).Msg("retention failed")
	}

	return &RecordOutput{
		ID:         meta.ID.String(),
		ByteLength: meta.ByteLength,
		Removed:    removed,
	}, nil
}
