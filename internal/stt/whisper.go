package stt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/lexiqai/voice-interview/internal/audio"
	"github.com/lexiqai/voice-interview/internal/observability"
	"github.com/lexiqai/voice-interview/internal/resilience"
)

// WhisperOptions configures the OpenAI-compatible transcription endpoint.
type WhisperOptions struct {
	Model    string
	Language string
	BaseURL  string
	Breaker  *resilience.CircuitBreaker
}

// WhisperClient uploads each utterance as a WAV file.
type WhisperClient struct {
	client  *openai.Client
	opts    WhisperOptions
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewWhisperClient creates a transcription client.
func NewWhisperClient(apiKey string, opts WhisperOptions) *WhisperClient {
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Model == "" {
		opts.Model = openai.Whisper1
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("whisper", 5, 30*time.Second)
	}
	return &WhisperClient{
		client:  openai.NewClientWithConfig(cfg),
		opts:    opts,
		breaker: breaker,
		logger:  observability.Component("whisper"),
	}
}

func (w *WhisperClient) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (Result, error) {
	wav, err := audio.WAV(pcm, sampleRate)
	if err != nil {
		return Result{}, fmt.Errorf("encode wav: %w", err)
	}

	var resp openai.AudioResponse
	err = w.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = w.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    w.opts.Model,
			FilePath: "utterance.wav",
			Reader:   bytes.NewReader(wav),
			Language: w.opts.Language,
			Format:   openai.AudioResponseFormatJSON,
		})
		return err
	})
	observability.UpdateCircuitBreakerState(w.breaker.Name(), int(w.breaker.GetState()))
	if err != nil {
		if ctx.Err() == nil {
			observability.IncrementCircuitBreakerFailures(w.breaker.Name())
		}
		return Result{}, fmt.Errorf("whisper transcription: %w", err)
	}

	w.logger.Debug().Int("bytes", len(pcm)).Str("text", resp.Text).Msg("Whisper transcription complete")
	return Clean(resp.Text), nil
}
