// Package llm adapts chat-completion providers to a single streaming handle.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lexiqai/voice-interview/internal/observability"
	"github.com/lexiqai/voice-interview/internal/resilience"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn as submitted to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Stream is a handle on one in-flight completion. Recv returns the next text
// delta, or io.EOF once the provider signals the end of the reply. Close
// abandons the completion and may be called at any time, from any goroutine,
// including while Recv is blocked.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Completer starts streaming completions. Cancelling ctx has the same effect
// as closing the returned Stream.
type Completer interface {
	Stream(ctx context.Context, messages []Message) (Stream, error)
}

// Options tune every provider.
type Options struct {
	Model       string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	Breaker     *resilience.CircuitBreaker
}

// NewCompleter builds the provider named by provider (openai or gemini).
func NewCompleter(ctx context.Context, provider, apiKey string, opts Options) (Completer, error) {
	switch provider {
	case "openai":
		return NewOpenAI(apiKey, opts), nil
	case "gemini":
		return NewGemini(ctx, apiKey, opts)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, gemini", provider)
	}
}

// Drain runs a completion to the end and returns the full text. purpose labels
// the request in metrics (turn, summary, judge).
func Drain(ctx context.Context, c Completer, purpose string, messages []Message) (string, error) {
	stream, err := c.Stream(ctx, messages)
	if err != nil {
		observability.RecordLLMRequest(purpose, false)
		return "", err
	}
	defer stream.Close()

	var b strings.Builder
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			observability.RecordLLMRequest(purpose, false)
			return "", err
		}
		b.WriteString(delta)
	}
	observability.RecordLLMRequest(purpose, true)
	return b.String(), nil
}

// guard opens a stream behind the breaker, if there is one.
func guard(ctx context.Context, cb *resilience.CircuitBreaker, open func(ctx context.Context) error) error {
	if cb == nil {
		return open(ctx)
	}
	return cb.Execute(ctx, open)
}

// firstToken reports time to first delta once per stream.
type firstToken struct {
	start time.Time
	seen  bool
}

func (f *firstToken) observe() {
	if f.seen {
		return
	}
	f.seen = true
	observability.ObserveFirstToken(time.Since(f.start))
}
