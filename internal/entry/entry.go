// Package entry defines captured command-output records and their on-disk form.
package entry

import (
	"crypto/rand"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Entry is one captured command-output record. Entries are immutable once
// persisted: they are appended or removed by retention, never edited.
type Entry struct {
	// ID is a ULID: unique within the store, its order is recency order.
	ID ulid.ULID

	// CapturedAt is the wall-clock time the command completed.
	CapturedAt time.Time

	// Command is the invoked command line (nil for raw piped input).
	Command *string

	// ExitCode is the command's exit status, when known.
	ExitCode *int

	// Body is the captured output text.
	Body string

	// ByteLength is len(Body), cached for cheap size decisions.
	ByteLength int
}

// Meta is an Entry without its body. Listing and selection work on Meta so
// bodies are only read for entries that are actually used.
type Meta struct {
	ID         ulid.ULID `json:"id"`
	CapturedAt time.Time `json:"captured_at"`
	Command    *string   `json:"command,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	ByteLength int       `json:"byte_length"`
}

// ToMeta strips the body.
func (e *Entry) ToMeta() Meta {
	return Meta{
		ID:         e.ID,
		CapturedAt: e.CapturedAt,
		Command:    e.Command,
		ExitCode:   e.ExitCode,
		ByteLength: e.ByteLength,
	}
}

// CommandText returns the command line or "" for piped input.
func (m Meta) CommandText() string {
	if m.Command == nil {
		return ""
	}
	return *m.Command
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// ExitTrailer is the line appended to the body of a failed command.
func ExitTrailer(code int) string {
	return "[exit status " + strconv.Itoa(code) + "]\n"
}

// NewID returns a ULID for t. IDs minted within the same millisecond are
// strictly increasing.
func NewID(t time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy)
}

// ParseID parses a ULID string.
func ParseID(s string) (ulid.ULID, error) {
	return ulid.ParseStrict(s)
}
