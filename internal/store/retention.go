package store

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"time"

	"github.com/hpungsan/logtrains/internal/db"
	"github.com/hpungsan/logtrains/internal/entry"
	"github.com/hpungsan/logtrains/internal/errors"
	"github.com/hpungsan/logtrains/internal/logging"
)

// Policy bounds the history. Zero fields are unlimited.
type Policy struct {
	MaxEntries int
	MaxAge     time.Duration

	// All removes every entry regardless of the limits.
	All bool
}

// IsZero reports whether the policy removes nothing.
func (p Policy) IsZero() bool {
	return !p.All && p.MaxEntries <= 0 && p.MaxAge <= 0
}

// Victims returns the entries p removes from metas (ascending by ID),
// oldest first.
func (p Policy) Victims(metas []entry.Meta, now time.Time) []entry.Meta {
	if p.IsZero() {
		return nil
	}
	if p.All {
		return append([]entry.Meta(nil), metas...)
	}

	var victims []entry.Meta
	i := 0
	if p.MaxAge > 0 {
		cutoff := now.Add(-p.MaxAge)
		for i < len(metas) && metas[i].CapturedAt.Before(cutoff) {
			victims = append(victims, metas[i])
			i++
		}
		// IDs derive from capture time, but check the rest anyway in case
		// an entry was recorded with an explicit older timestamp.
		rest := metas[i:]
		metas = make([]entry.Meta, 0, len(rest))
		for _, m := range rest {
			if m.CapturedAt.Before(cutoff) {
				victims = append(victims, m)
				continue
			}
			metas = append(metas, m)
		}
	} else {
		metas = metas[i:]
	}

	if p.MaxEntries > 0 && len(metas) > p.MaxEntries {
		victims = append(victims, metas[:len(metas)-p.MaxEntries]...)
	}
	return victims
}

// ApplyRetention removes entries older than p.MaxAge and, after that, the
// oldest entries beyond p.MaxEntries. Returns the number removed.
func (s *Store) ApplyRetention(ctx context.Context, p Policy) (int, error) {
	if p.IsZero() {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.dir); stderrors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	unlock, err := s.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()

	metas, err := s.listOrdered(ctx)
	if err != nil {
		return 0, err
	}

	victims := p.Victims(metas, s.opts.Now())
	if len(victims) == 0 {
		return 0, nil
	}

	removed := make([]string, 0, len(victims))
	for _, m := range victims {
		path := s.path(m.ID)
		if err := os.Remove(path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			// Drop what was already removed from the index before failing.
			_ = db.Delete(ctx, s.index, removed...)
			return len(removed), errors.NewIOFailure("remove", path, err)
		}
		removed = append(removed, m.ID.String())
	}

	if err := db.Delete(ctx, s.index, removed...); err != nil {
		logging.From(ctx).Warn().Err(err).Msg("index prune after retention failed")
	}
	logging.From(ctx).Debug().Int("removed", len(removed)).Int("max_entries", p.MaxEntries).
		Dur("max_age", p.MaxAge).Msg("retention applied")
	return len(removed), nil
}
