// Package orchestrator turns one committed utterance into one streamed,
// cancellable reply.
package orchestrator

import (
	"context"

	"github.com/lexiqai/voice-interview/internal/llm"
)

// Outbound event types.
const (
	EventReady      = "ready"
	EventTranscript = "transcript"
	EventDelta      = "delta"
	EventSentence   = "sentence"
	EventStop       = "stop"
	EventStart      = "start"
	EventEnd        = "end"
	EventFinished   = "finished"
	EventError      = "error"
)

// Event is a control message sent to the client.
type Event struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	RecordID   int64  `json:"cid,omitempty,string"`
	SampleRate int    `json:"sample_rate,omitempty"`
	OutputRate int    `json:"output_sample_rate,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Sink delivers a turn's output. Implementations must be safe for
// concurrent use: text events and audio are produced by different goroutines.
type Sink interface {
	Send(ev Event) error
	SendAudio(data []byte) error
}

// Conversation is the memory a turn reads from and writes to. Context
// returns nil once the conversation accepts no further turns.
type Conversation interface {
	Append(ctx context.Context, role, content string) error
	Context(ctx context.Context) ([]llm.Message, error)
}
