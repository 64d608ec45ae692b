// Package segmenter cuts a streamed completion into clauses small enough to
// synthesize while the model is still generating.
package segmenter

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMinChars is the clause length that must be buffered before a
// punctuation mark may close a sentence.
const DefaultMinChars = 10

var terminal = regexp.MustCompile(`[,.!?，。？！、]`)

// Kind tells consumers what a Fragment carries.
type Kind int

const (
	KindChar     Kind = iota // one upstream delta, unchanged
	KindSentence             // a clause ready for synthesis
	KindFinish               // the whole reply
)

func (k Kind) String() string {
	switch k {
	case KindChar:
		return "char"
	case KindSentence:
		return "sentence"
	case KindFinish:
		return "finish"
	}
	return "unknown"
}

// MarshalText encodes a Kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Fragment is one unit of segmenter output.
type Fragment struct {
	Kind Kind   `json:"type"`
	Text string `json:"content"`
}

// Segmenter holds the state for one completion. It is not safe for
// concurrent use and cannot be reused after Finish.
type Segmenter struct {
	minChars int
	pending  strings.Builder
	full     strings.Builder
}

// New returns a Segmenter. minChars <= 0 selects DefaultMinChars.
func New(minChars int) *Segmenter {
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	return &Segmenter{minChars: minChars}
}

// Push consumes one delta. The first fragment returned is always the char
// passthrough; a sentence fragment follows when the delta closes a clause.
func (s *Segmenter) Push(delta string) []Fragment {
	s.full.WriteString(delta)
	out := []Fragment{{Kind: KindChar, Text: delta}}

	loc := terminal.FindStringIndex(delta)
	if loc == nil || !s.longEnough() {
		s.pending.WriteString(delta)
		return out
	}

	// Cutting at the end of the punctuation mark covers all three cases: a mark
	// at the start closes the buffered text, a mark at the end closes the whole
	// delta, and a mark in the middle splits it.
	end := loc[1]
	sentence := s.pending.String() + delta[:end]
	s.pending.Reset()
	s.pending.WriteString(delta[end:])

	return append(out, Fragment{Kind: KindSentence, Text: sentence})
}

// Finish flushes the unterminated tail and reports the full reply.
func (s *Segmenter) Finish() []Fragment {
	var out []Fragment
	if s.pending.Len() > 0 {
		out = append(out, Fragment{Kind: KindSentence, Text: s.pending.String()})
		s.pending.Reset()
	}
	return append(out, Fragment{Kind: KindFinish, Text: s.full.String()})
}

func (s *Segmenter) longEnough() bool {
	return utf8.RuneCountInString(strings.TrimSpace(s.pending.String())) > s.minChars
}

// Split runs a complete delta sequence through a fresh Segmenter.
func Split(deltas []string, minChars int) []Fragment {
	s := New(minChars)
	var out []Fragment
	for _, d := range deltas {
		out = append(out, s.Push(d)...)
	}
	return append(out, s.Finish()...)
}
