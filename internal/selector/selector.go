// Package selector resolves history requests to concrete entries.
//
// There are two request kinds and they never overlap: MostRecent(n)
// concatenates the last n entries, AtOffset(k) picks the single k-th most
// recent one.
package selector

import (
	"fmt"

	"github.com/hpungsan/logtrains/internal/entry"
	"github.com/hpungsan/logtrains/internal/errors"
)

// Kind distinguishes request variants.
type Kind int

const (
	KindMostRecent Kind = iota
	KindAtOffset
)

// String returns the kind name used in logs and tool output.
func (k Kind) String() string {
	switch k {
	case KindMostRecent:
		return "most_recent"
	case KindAtOffset:
		return "at_offset"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Request is a resolved history request. Build it with MostRecent or AtOffset.
type Request struct {
	Kind   Kind
	Count  int // KindMostRecent
	Offset int // KindAtOffset
}

// MostRecent requests the n newest entries, oldest-first. n <= 0 means 1.
func MostRecent(n int) Request {
	if n <= 0 {
		n = 1
	}
	return Request{Kind: KindMostRecent, Count: n}
}

// AtOffset requests the k-th most recent entry (0 is the newest).
func AtOffset(k int) Request {
	return Request{Kind: KindAtOffset, Offset: k}
}

// String renders the request, e.g. "most_recent(3)".
func (r Request) String() string {
	if r.Kind == KindAtOffset {
		return fmt.Sprintf("at_offset(%d)", r.Offset)
	}
	return fmt.Sprintf("most_recent(%d)", r.Count)
}

// ParseRequest builds a request from the caller surface: last is the
// number of recent entries to concatenate, offset picks a single entry.
// Setting both is rejected rather than guessing which was meant.
func ParseRequest(last int, offset *int) (Request, error) {
	if offset != nil {
		if last > 0 {
			return Request{}, errors.NewInvalidRequest("last and offset are mutually exclusive")
		}
		if *offset < 0 {
			return Request{}, errors.NewInvalidRequest(fmt.Sprintf("offset must be >= 0, got %d", *offset))
		}
		return AtOffset(*offset), nil
	}
	if last < 0 {
		return Request{}, errors.NewInvalidRequest(fmt.Sprintf("last must be >= 1, got %d", last))
	}
	return MostRecent(last), nil
}

// Selection is an ordered subset of entries, oldest-first.
type Selection struct {
	Request Request
	Entries []entry.Meta
}

// Select resolves req against metas, which must be ascending by ID (as
// returned by the store's ListOrdered). The returned entries share no
// backing array with metas.
func Select(metas []entry.Meta, req Request) (Selection, error) {
	if len(metas) == 0 {
		return Selection{}, errors.NewEmpty()
	}

	switch req.Kind {
	case KindMostRecent:
		n := req.Count
		if n <= 0 {
			n = 1
		}
		if n > len(metas) {
			n = len(metas)
		}
		picked := make([]entry.Meta, n)
		copy(picked, metas[len(metas)-n:])
		return Selection{Request: req, Entries: picked}, nil

	case KindAtOffset:
		if req.Offset < 0 {
			return Selection{}, errors.NewInvalidRequest(fmt.Sprintf("offset must be >= 0, got %d", req.Offset))
		}
		if req.Offset >= len(metas) {
			return Selection{}, errors.NewOutOfRange(req.Offset, len(metas))
		}
		return Selection{Request: req, Entries: []entry.Meta{metas[len(metas)-1-req.Offset]}}, nil
	}

	return Selection{}, errors.NewInvalidRequest("unknown request kind " + req.Kind.String())
}

// IDs returns the selected entry IDs as strings, oldest-first.
func (s Selection) IDs() []string {
	ids := make([]string, len(s.Entries))
	for i, m := range s.Entries {
		ids[i] = m.ID.String()
	}
	return ids
}
