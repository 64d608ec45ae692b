// Package stt turns one committed utterance of PCM16 audio into text.
package stt

import (
	"context"
	"regexp"
	"strings"
)

// Result carries the recognizer output in three forms.
type Result struct {
	// RawText is exactly what the recognizer returned, markup tags included.
	RawText string `json:"raw_text"`
	// Text is the trimmed, human readable transcript.
	Text string `json:"text"`
	// CleanText has every <|...|> span removed.
	CleanText string `json:"clean_text"`
}

// Transcriber recognizes a complete utterance. pcm is mono little-endian
// PCM16 at sampleRate.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (Result, error)
}

// tagPattern is greedy on purpose: everything from the first "<|" to the
// last "|>" on a line goes.
var tagPattern = regexp.MustCompile(`<\|.*\|>`)

// Clean builds a Result from raw recognizer output.
func Clean(raw string) Result {
	clean := tagPattern.ReplaceAllString(raw, "")
	return Result{
		RawText:   raw,
		Text:      strings.TrimSpace(clean),
		CleanText: clean,
	}
}

// Empty reports whether nothing intelligible was recognized.
func (r Result) Empty() bool {
	return strings.TrimSpace(r.CleanText) == ""
}
