// Package store persists captured entries as one file per capture.
//
// Entry files under <base>/entries are the source of truth. The SQLite
// index in <base>/index.db only caches header metadata so listing does not
// have to open every file; ListOrdered scans the directory, backfills rows
// the index is missing and prunes rows whose file is gone.
//
// Append and retention are mutually exclusive: in-process through an
// RWMutex and across processes through an advisory lock on entries/.lock.
// Reads never take the file lock; a body removed by another process between
// listing and loading surfaces as NOT_FOUND.
package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/logtrains/internal/db"
	"github.com/hpungsan/logtrains/internal/entry"
	"github.com/hpungsan/logtrains/internal/errors"
	"github.com/hpungsan/logtrains/internal/logging"
)

const (
	entriesDir = "entries"
	lockName   = ".lock"
	tmpPrefix  = ".tmp-"
)

// Options tunes a Store.
type Options struct {
	// CompressThreshold is the body size from which records are zstd-compressed.
	// 0 disables compression.
	CompressThreshold int

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Store is a handle on one history directory.
type Store struct {
	dir   string
	index *sql.DB
	opts  Options
	mu    sync.RWMutex
}

// Open opens the store rooted at baseDir. The entries directory itself is
// created lazily on first append.
func Open(baseDir string, opts Options) (*Store, error) {
	index, err := db.Init(baseDir)
	if err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		dir:   filepath.Join(baseDir, entriesDir),
		index: index,
		opts:  opts,
	}, nil
}

// Close releases the metadata index.
func (s *Store) Close() error {
	return s.index.Close()
}

// Index exposes the metadata index (pool tuning).
func (s *Store) Index() *sql.DB {
	return s.index
}

// Dir returns the entries directory.
func (s *Store) Dir() string {
	return s.dir
}

// Append persists e as a new immutable record. A zero ID is assigned from
// CapturedAt (or now when that is zero too). The record is written to a
// temp file, synced and renamed into place, so readers only ever see
// complete records.
func (s *Store) Append(ctx context.Context, e entry.Entry) (entry.Meta, error) {
	if !utf8.ValidString(e.Body) {
		return entry.Meta{}, errors.NewInvalidRequest("entry body must be valid UTF-8")
	}
	if e.CapturedAt.IsZero() {
		e.CapturedAt = s.opts.Now()
	}
	e.CapturedAt = e.CapturedAt.UTC()
	if e.ID == (ulid.ULID{}) {
		e.ID = entry.NewID(e.CapturedAt)
	}
	e.ByteLength = len(e.Body)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return entry.Meta{}, errors.NewIOFailure("mkdir", s.dir, err)
	}
	unlock, err := s.lock()
	if err != nil {
		return entry.Meta{}, err
	}
	defer unlock()

	final := s.path(e.ID)
	if _, err := os.Stat(final); err == nil {
		return entry.Meta{}, errors.NewInvalidRequest("entry already exists: " + e.ID.String())
	}

	data, err := entry.Encode(&e, s.opts.CompressThreshold)
	if err != nil {
		return entry.Meta{}, errors.NewInternal(err)
	}
	if err := writeAtomic(s.dir, final, data); err != nil {
		return entry.Meta{}, err
	}

	meta := e.ToMeta()
	if err := db.Upsert(ctx, s.index, meta); err != nil {
		// The next directory scan backfills the row.
		logging.From(ctx).Warn().Err(err).Str("id", meta.ID.String()).Msg("index upsert failed")
	}
	return meta, nil
}

// ListOrdered returns metadata for every entry, ascending by ID. Bodies
// are not read.
func (s *Store) ListOrdered(ctx context.Context) ([]entry.Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listOrdered(ctx)
}

// LoadBody reads the body of the entry described by m.
func (s *Store) LoadBody(ctx context.Context, m entry.Meta) (string, error) {
	e, err := s.load(m.ID)
	if err != nil {
		return "", err
	}
	return e.Body, nil
}

// Get loads a full entry by ID.
func (s *Store) Get(ctx context.Context, id ulid.ULID) (*entry.Entry, error) {
	return s.load(id)
}

// View runs fn with listing and body loading serialized against
// retention in this process. Everything fn needs from the store should be
// loaded before it returns.
func (s *Store) View(ctx context.Context, fn func(v *View) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&View{s: s})
}

// View is a read-only handle valid for the duration of Store.View.
type View struct {
	s *Store
}

// ListOrdered is Store.ListOrdered without re-acquiring the read lock.
func (v *View) ListOrdered(ctx context.Context) ([]entry.Meta, error) {
	return v.s.listOrdered(ctx)
}

// LoadBody is Store.LoadBody.
func (v *View) LoadBody(ctx context.Context, m entry.Meta) (string, error) {
	return v.s.LoadBody(ctx, m)
}

// Rebuild drops the metadata index and rebuilds it from a directory scan.
// Returns the number of entries indexed.
func (s *Store) Rebuild(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := db.Clear(ctx, s.index); err != nil {
		return 0, errors.NewIOFailure("clear", db.FileName, err)
	}
	metas, err := s.listOrdered(ctx)
	if err != nil {
		return 0, err
	}
	return len(metas), nil
}

func (s *Store) listOrdered(ctx context.Context) ([]entry.Meta, error) {
	log := logging.From(ctx)

	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return []entry.Meta{}, nil
		}
		return nil, errors.NewIOFailure("readdir", s.dir, err)
	}

	indexed, err := db.ListAll(ctx, s.index)
	if err != nil {
		log.Warn().Err(err).Msg("metadata index unreadable, falling back to headers")
		indexed = map[string]entry.Meta{}
	}

	metas := make([]entry.Meta, 0, len(dirEntries))
	onDisk := make(map[string]bool, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, entry.FileExt) {
			continue
		}
		idStr := strings.TrimSuffix(name, entry.FileExt)
		id, err := entry.ParseID(idStr)
		if err != nil {
			log.Debug().Str("file", name).Msg("skipping file with non-ULID name")
			continue
		}
		onDisk[idStr] = true

		if m, ok := indexed[idStr]; ok {
			metas = append(metas, m)
			continue
		}

		m, err := s.readMeta(id)
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				continue // removed since ReadDir
			}
			// Keep it listed so loading it reports CORRUPT instead of the
			// entry silently disappearing from offsets.
			log.Warn().Err(err).Str("id", idStr).Msg("unreadable entry header")
			metas = append(metas, entry.Meta{ID: id, CapturedAt: ulid.Time(id.Time()).UTC()})
			continue
		}
		if err := db.Upsert(ctx, s.index, m); err != nil {
			log.Warn().Err(err).Str("id", idStr).Msg("index backfill failed")
		}
		metas = append(metas, m)
	}

	var stale []string
	for id := range indexed {
		if !onDisk[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := db.Delete(ctx, s.index, stale...); err != nil {
			log.Warn().Err(err).Int("count", len(stale)).Msg("index prune failed")
		}
	}

	slices.SortFunc(metas, func(a, b entry.Meta) int { return a.ID.Compare(b.ID) })
	return metas, nil
}

func (s *Store) readMeta(id ulid.ULID) (entry.Meta, error) {
	f, err := os.Open(s.path(id))
	if err != nil {
		return entry.Meta{}, err
	}
	defer f.Close()
	return entry.DecodeMeta(f)
}

func (s *Store) load(id ulid.ULID) (*entry.Entry, error) {
	path := s.path(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.NewNotFound(id.String())
		}
		return nil, errors.NewIOFailure("read", path, err)
	}
	e, err := entry.Decode(data)
	if err != nil {
		return nil, errors.NewCorrupt(id.String(), err.Error())
	}
	if e.ID != id {
		return nil, errors.NewCorrupt(id.String(), "header id "+e.ID.String()+" does not match file name")
	}
	return e, nil
}

func (s *Store) path(id ulid.ULID) string {
	return filepath.Join(s.dir, id.String()+entry.FileExt)
}

// lock takes the cross-process lock. Callers must hold s.mu.
func (s *Store) lock() (func(), error) {
	path := filepath.Join(s.dir, lockName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, errors.NewIOFailure("open", path, err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, errors.NewIOFailure("lock", path, err)
	}
	return func() {
		_ = unlockFile(f)
		f.Close()
	}, nil
}

// writeAtomic writes data to a temp file in dir, syncs it and renames it to final.
func writeAtomic(dir, final string, data []byte) error {
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return errors.NewIOFailure("create", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return errors.NewIOFailure("write", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return errors.NewIOFailure("sync", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.NewIOFailure("close", tmpName, err)
	}
	_ = os.Chmod(tmpName, 0600)
	if err := os.Rename(tmpName, final); err != nil {
		cleanup()
		return errors.NewIOFailure("rename", final, err)
	}
	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry for a rename (best-effort; not
// supported on every platform).
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}
