// Package tts renders sentences to audio and encodes it for the client.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lexiqai/voice-interview/internal/observability"
)

// chunkBytes is the read size for streamed provider audio, 100ms at 24kHz PCM16.
const chunkBytes = 4800

// Sink receives mono PCM16 audio at the synthesizer's SampleRate. Returning an
// error aborts the synthesis.
type Sink func(pcm []byte) error

// Synthesizer turns text into streamed PCM16. Cancelling ctx stops the stream.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, sink Sink) error
	SampleRate() int
}

// New builds the provider named by provider (openai or cartesia).
func New(provider string, opts Options) (Synthesizer, error) {
	switch provider {
	case "openai":
		return NewOpenAIClient(opts), nil
	case "cartesia":
		return NewCartesiaClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown TTS provider %q: supported providers are openai, cartesia", provider)
	}
}

// streamPCM copies body into sink in sample-aligned chunks.
func streamPCM(ctx context.Context, body io.Reader, sink Sink) error {
	buf := make([]byte, chunkBytes)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(body, buf)
		n -= n % 2
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if serr := sink(chunk); serr != nil {
				return serr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read synthesized audio: %w", err)
		}
	}
}

func observe(start time.Time, err error) {
	observability.ObserveTTS(time.Since(start), err == nil || errors.Is(err, context.Canceled))
}
