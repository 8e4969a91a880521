package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/hpungsan/logtrains/internal/config"
	"github.com/hpungsan/logtrains/internal/errors"
	"github.com/hpungsan/logtrains/internal/store"
)

// PurgeInput contains parameters for the Purge operation. Unset fields
// fall back to the configured retention policy.
type PurgeInput struct {
	KeepLast      *int // keep only the N most recent entries; 0 removes all
	OlderThanDays *int // remove entries captured more than N days ago; 0 lifts the age limit
	All           bool // remove every entry
}

// PurgeOutput contains the result of the Purge operation.
type PurgeOutput struct {
	Purged  int    `json:"purged"`
	Message string `json:"message"`
}

// Purge removes entries by count and age.
func Purge(ctx context.Context, st *store.Store, cfg *config.Config, input PurgeInput) (*PurgeOutput, error) {
	policy := RetentionPolicy(cfg)
	if input.KeepLast != nil {
		if *input.KeepLast < 0 {
			return nil, errors.NewInvalidRequest("keep_last must be >= 0")
		}
		policy.MaxEntries = *input.KeepLast
		policy.All = *input.KeepLast == 0
	}
	if input.OlderThanDays != nil {
		if *input.OlderThanDays < 0 {
			return nil, errors.NewInvalidRequest("older_than_days must be >= 0")
		}
		policy.MaxAge = time.Duration(*input.OlderThanDays) * 24 * time.Hour
	}
	if input.All {
		policy.All = true
	}

	count, err := st.ApplyRetention(ctx, policy)
	if err != nil {
		return nil, err
	}

	return &PurgeOutput{
		Purged:  count,
		Message: formatPurgeMessage(count, input),
	}, nil
}

// formatPurgeMessage creates a human-readable message for the purge result.
func formatPurgeMessage(count int, input PurgeInput) string {
	if count == 0 {
		return "No entries to purge"
	}

	entryWord := "entry"
	if count > 1 {
		entryWord = "entries"
	}

	msg := fmt.Sprintf("Removed %d %s", count, entryWord)

	switch {
	case input.All, input.KeepLast != nil && *input.KeepLast == 0:
	case input.KeepLast != nil && input.OlderThanDays != nil:
		msg += fmt.Sprintf(" (keeping the last %d, none older than %d days)", *input.KeepLast, *input.OlderThanDays)
	case input.KeepLast != nil:
		msg += fmt.Sprintf(" (keeping the last %d)", *input.KeepLast)
	case input.OlderThanDays != nil:
		msg += fmt.Sprintf(" (captured more than %d days ago)", *input.OlderThanDays)
	}

	return msg
}
