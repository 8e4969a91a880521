// Package tokens provides the token-counting capability the window
// assembler measures with.
package tokens

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// HeuristicName selects the byte-length estimator.
const HeuristicName = "heuristic"

// Counter measures text in model tokens. Implementations must be
// deterministic and safe for concurrent use.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(text string) int

// Count calls f(text).
func (f CounterFunc) Count(text string) int { return f(text) }

// Heuristic estimates one token per four bytes, rounded up.
var Heuristic Counter = CounterFunc(func(text string) int {
	return (len(text) + 3) / 4
})

// Tiktoken counts with a BPE encoding.
type Tiktoken struct {
	name string
	enc  *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding (e.g. "cl100k_base"). The BPE ranks
// are fetched and cached by tiktoken-go on first use.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &Tiktoken{name: encoding, enc: enc}, nil
}

// Count returns the number of BPE tokens in text. Special-token text that
// appears in captured output is counted, not rejected.
func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, []string{"all"}, nil))
}

// Name returns the encoding name.
func (t *Tiktoken) Name() string {
	return t.name
}

// New returns the counter for name. Unknown or unloadable encodings fall
// back to Heuristic so a missing BPE file never blocks explaining a log.
func New(name string) Counter {
	if name == "" || name == HeuristicName {
		return Heuristic
	}
	c, err := NewTiktoken(name)
	if err != nil {
		log.Warn().Err(err).Str("encoding", name).Msg("tokenizer unavailable, using byte heuristic")
		return Heuristic
	}
	return c
}
