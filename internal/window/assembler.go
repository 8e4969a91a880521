// Package window fits selected history into a token budget.
//
// Text within budget passes through untouched. Text over budget keeps a
// head slice from the start of the oldest block and a tail slice from the
// end of the newest, joined by an elision marker that states how much was
// cut. All measuring and slicing uses the caller's token counter.
package window

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/logtrains/internal/errors"
	"github.com/hpungsan/logtrains/internal/tokens"
)

// Unlimited is a MaxTokens value that never truncates.
const Unlimited = math.MaxInt32

const (
	DefaultHeadFraction   = 0.15
	DefaultLineSnapWindow = 256
)

// Budget is the token allowance for one generation request.
type Budget struct {
	MaxTokens           int
	ReservedForPreamble int
}

// Usable is what remains for data after the preamble.
func (b Budget) Usable() int {
	return b.MaxTokens - b.ReservedForPreamble
}

// Options tunes truncation.
type Options struct {
	// HeadFraction of the usable budget goes to the head slice, in [0, 1).
	HeadFraction float64

	// LineSnapWindow is how far (bytes) a cut may move to land on a line
	// boundary. 0 cuts at the exact character boundary.
	LineSnapWindow int
}

// DefaultOptions returns the standard head/tail split.
func DefaultOptions() Options {
	return Options{HeadFraction: DefaultHeadFraction, LineSnapWindow: DefaultLineSnapWindow}
}

// Window is the assembled, budgeted text.
type Window struct {
	Text              string `json:"-"`
	TokenCount        int    `json:"token_count"`
	Truncated         bool   `json:"truncated"`
	DroppedEntryCount int    `json:"dropped_entry_count"`
	ElidedBytes       int    `json:"elided_bytes"`
	ElidedLines       int    `json:"elided_lines"`
}

// Marker returns the elision marker for a cut of n bytes over m lines.
func Marker(bytes, lines int) string {
	return fmt.Sprintf("\n[... elided %d bytes across %d lines ...]\n", bytes, lines)
}

// Assemble concatenates blocks (oldest-first) and fits them into budget.
func Assemble(blocks []string, budget Budget, counter tokens.Counter, opts Options) (Window, error) {
	usable := budget.Usable()
	if usable <= 0 {
		return Window{}, errors.NewBudgetExhausted(budget.MaxTokens, budget.ReservedForPreamble)
	}
	if opts.HeadFraction < 0 || opts.HeadFraction >= 1 || math.IsNaN(opts.HeadFraction) {
		return Window{}, errors.NewInvalidRequest(fmt.Sprintf("head fraction must be in [0, 1), got %v", opts.HeadFraction))
	}

	full := strings.Join(blocks, "")
	total := counter.Count(full)
	if total <= usable {
		return Window{Text: full, TokenCount: total}, nil
	}

	a := &assembly{
		blocks:  blocks,
		full:    full,
		usable:  usable,
		counter: counter,
		snap:    opts.LineSnapWindow,
	}
	// Sized for the whole text so the real marker is never longer.
	a.markerCost = counter.Count(Marker(len(full), lineCount(full)))

	headBudget := int(float64(usable) * opts.HeadFraction)
	if len(blocks) > 0 && headBudget > 0 && usable-headBudget-a.markerCost > 0 {
		if w, ok := a.headAndTail(headBudget); ok {
			return w, nil
		}
	}
	return a.tailOnly(), nil
}

type assembly struct {
	blocks     []string
	full       string
	usable     int
	markerCost int
	counter    tokens.Counter
	snap       int
}

// headAndTail takes a head from the oldest block, then fills every token
// the head and the real marker leave over from the end of the text.
func (a *assembly) headAndTail(headBudget int) (Window, bool) {
	for headBudget > 0 {
		head := prefixWithin(a.blocks[0], headBudget, a.counter, a.snap)
		if head == "" {
			break
		}
		// Head and marker with an empty tail must fit before any tail can.
		if bare := a.compose(head, len(a.full)); bare.TokenCount > a.usable {
			headBudget -= bare.TokenCount - a.usable
			continue
		}
		cut := a.fill(len(head), func(p int) int { return a.compose(head, p).TokenCount })
		w := a.compose(head, cut)
		w.DroppedEntryCount = a.dropped(len(head), cut)
		return w, true
	}
	return Window{}, false
}

// tailOnly keeps as much of the newest content as fits, with no head or
// marker. Used when usable cannot hold a head plus the marker.
func (a *assembly) tailOnly() Window {
	cut := a.fill(0, func(p int) int { return a.counter.Count(a.full[p:]) })
	tail := a.full[cut:]
	elided := a.full[:cut]
	return Window{
		Text:              tail,
		TokenCount:        a.counter.Count(tail),
		Truncated:         true,
		DroppedEntryCount: a.dropped(0, cut),
		ElidedBytes:       len(elided),
		ElidedLines:       lineCount(elided),
	}
}

// fill returns the earliest character boundary p after from where the
// result measured by size stays within usable. size(len(full)) must fit
// and size(from) must not. The character before p would overflow, so with
// counters that grow by at most one token per character the window
// measures exactly usable. This cut is never line-snapped.
func (a *assembly) fill(from int, size func(p int) int) int {
	lo, hi := from+1, len(a.full)
	for lo < hi {
		mid := lo + (hi-lo)/2
		if size(runeCeil(a.full, mid)) <= a.usable {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return runeCeil(a.full, lo)
}

// compose joins head, the marker, and the text from tailStart on.
func (a *assembly) compose(head string, tailStart int) Window {
	elided := a.full[len(head):tailStart]
	tail := a.full[tailStart:]
	var text string
	if elided == "" {
		text = head + tail
	} else {
		text = head + Marker(len(elided), lineCount(elided)) + tail
	}
	return Window{
		Text:        text,
		TokenCount:  a.counter.Count(text),
		Truncated:   true,
		ElidedBytes: len(elided),
		ElidedLines: lineCount(elided),
	}
}

// dropped counts blocks lying wholly inside the elided span
// [headEnd, tailStart) of the joined text.
func (a *assembly) dropped(headEnd, tailStart int) int {
	n, pos := 0, 0
	for _, b := range a.blocks {
		start, end := pos, pos+len(b)
		pos = end
		if start >= headEnd && end <= tailStart && b != "" {
			n++
		}
	}
	return n
}

// prefixWithin returns the longest prefix of s measuring at most budget
// tokens, cut on a character boundary and pulled back to the end of a line
// when one lies within snap bytes.
func prefixWithin(s string, budget int, counter tokens.Counter, snap int) string {
	if budget <= 0 || s == "" {
		return ""
	}
	if counter.Count(s) <= budget {
		return s
	}

	// Largest p with count(s[:runeFloor(p)]) <= budget.
	lo, hi := 0, len(s)
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if counter.Count(s[:runeFloor(s, mid)]) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	cut := runeFloor(s, lo)

	if snap > 0 && cut > 0 {
		from := max(0, cut-snap)
		if i := strings.LastIndexByte(s[from:cut], '\n'); i >= 0 {
			cut = from + i + 1
		}
	}
	return s[:cut]
}

// runeFloor moves p back to the start of the rune containing it.
func runeFloor(s string, p int) int {
	if p >= len(s) {
		return len(s)
	}
	for p > 0 && !utf8.RuneStart(s[p]) {
		p--
	}
	return p
}

// runeCeil moves p forward to the next rune start.
func runeCeil(s string, p int) int {
	for p < len(s) && !utf8.RuneStart(s[p]) {
		p++
	}
	return p
}

// lineCount counts lines in s; a trailing partial line counts as one.
func lineCount(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
