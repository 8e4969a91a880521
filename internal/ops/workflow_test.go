package ops

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/logtrains/internal/errors"
	"github.com/hpungsan/logtrains/internal/inference"
	"github.com/hpungsan/logtrains/internal/prompt"
)

// TestFullWorkflow exercises the complete history lifecycle:
// record → list → show → explain → purge → reindex → explain (empty)
func TestFullWorkflow(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	st := openTestStore(t, cfg)

	// 1. Record (one ignored, two kept)
	skipped, err := Record(ctx, st, cfg, RecordInput{Command: "cd /srv/app", Output: ""})
	require.NoError(t, err)
	require.True(t, skipped.Skipped)

	buildOut, err := Record(ctx, st, cfg, RecordInput{
		Command:  "go build ./...",
		Output:   "./main.go:12:2: undefined: cfg\n",
		ExitCode: intPtr(1),
	})
	require.NoError(t, err)
	require.NotEmpty(t, buildOut.ID)

	testOut, err := Record(ctx, st, cfg, RecordInput{
		Command:  "go test ./...",
		Output:   "--- FAIL: TestLoad (0.00s)\n    config_test.go:40: got 0, want 3\nFAIL\n",
		ExitCode: intPtr(1),
	})
	require.NoError(t, err)

	// 2. List - newest first
	listOut, err := List(ctx, st, ListInput{})
	require.NoError(t, err)
	require.Len(t, listOut.Items, 2)
	require.Equal(t, testOut.ID, listOut.Items[0].ID)
	require.Equal(t, buildOut.ID, listOut.Items[1].ID)

	// 3. Show by id
	showOut, err := Show(ctx, st, ShowInput{ID: buildOut.ID})
	require.NoError(t, err)
	require.Equal(t, 1, showOut.Offset)
	require.Contains(t, showOut.Body, "undefined: cfg")

	// 4. Explain both entries
	var seen prompt.Prompt
	gw := inference.GatewayFunc(func(ctx context.Context, p prompt.Prompt, mc inference.ModelConfig) (string, error) {
		seen = p
		return "The build fails because `cfg` is undefined.", nil
	})
	explainOut, err := Explain(ctx, ExplainDeps{Store: st, Config: cfg, Gateway: gw}, ExplainInput{Last: 2})
	require.NoError(t, err)
	require.Equal(t, []string{buildOut.ID, testOut.ID}, explainOut.EntryIDs)
	require.Contains(t, explainOut.Answer, "undefined")
	require.False(t, explainOut.Window.Truncated)
	require.Less(t, strings.Index(seen.Text, "undefined: cfg"), strings.Index(seen.Text, "--- FAIL: TestLoad"))
	require.Equal(t, explainOut.Window.TokenCount, seen.WindowTokens)

	// 5. Purge all but the newest
	purgeOut, err := Purge(ctx, st, cfg, PurgeInput{KeepLast: intPtr(1)})
	require.NoError(t, err)
	require.Equal(t, 1, purgeOut.Purged)

	_, err = Show(ctx, st, ShowInput{ID: buildOut.ID})
	require.True(t, errors.Is(err, errors.ErrNotFound))

	// 6. Reindex
	reindexOut, err := Reindex(ctx, st)
	require.NoError(t, err)
	require.Equal(t, 1, reindexOut.Indexed)

	// 7. Purge everything, explain reports an empty history
	_, err = Purge(ctx, st, cfg, PurgeInput{All: true})
	require.NoError(t, err)

	_, err = Explain(ctx, ExplainDeps{Store: st, Config: cfg, Gateway: gw}, ExplainInput{})
	require.True(t, errors.Is(err, errors.ErrEmpty))
}

// TestWorkflow_PullThenExplain mirrors the first-run path: the model is
// missing, pulled, and the retry succeeds.
func TestWorkflow_PullThenExplain(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	pulled := map[string]bool{}
	puller := pullerFunc(func(ctx context.Context, mc inference.ModelConfig) error {
		pulled[mc.Model] = true
		return nil
	})
	gw := inference.GatewayFunc(func(ctx context.Context, p prompt.Prompt, mc inference.ModelConfig) (string, error) {
		if !pulled[mc.Model] {
			return "", errors.NewModelUnavailable(mc.Model, fmt.Errorf("model %q not found", mc.Model))
		}
		return "explained", nil
	})
	deps := ExplainDeps{Config: cfg, Gateway: gw}
	input := ExplainInput{Text: stringPtr("make: *** [all] Error 2")}

	_, err := Explain(ctx, deps, input)
	require.True(t, errors.Is(err, errors.ErrModelUnavailable))
	e, ok := errors.As(err)
	require.True(t, ok)
	require.Contains(t, e.RetryHint(), "model pull")

	pullOut, err := PullModel(ctx, puller, cfg, PullInput{})
	require.NoError(t, err)
	require.Equal(t, "tiny", pullOut.Preset)

	out, err := Explain(ctx, deps, input)
	require.NoError(t, err)
	require.Equal(t, "explained", out.Answer)
}
