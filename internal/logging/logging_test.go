package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_FileOutputJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logtrains.log")

	logger, closer := New(Options{Level: "info", Format: "json", Output: path})
	logger.Info().Str("stage", "select").Msg("selected entries")
	logger.Debug().Msg("should be filtered")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"stage":"select"`) {
		t.Errorf("log output missing structured field: %s", out)
	}
	if strings.Contains(out, "should be filtered") {
		t.Errorf("debug message written at info level: %s", out)
	}
}

func TestNew_InvalidLevelDefaultsToWarn(t *testing.T) {
	logger, closer := New(Options{Level: "chatty", Output: "stderr"})
	defer closer.Close()

	if logger.GetLevel() != zerolog.WarnLevel {
		t.Errorf("level = %v, want warn", logger.GetLevel())
	}
}

func TestRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("RequestID() = %q, want req-123", got)
	}
	if got := RequestID(context.Background()); got != "" {
		t.Errorf("RequestID() on bare context = %q, want empty", got)
	}
	if From(ctx) == nil || From(context.Background()) == nil {
		t.Error("From() must never return nil")
	}
}
