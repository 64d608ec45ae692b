package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/lexiqai/voice-interview/internal/observability"
	"github.com/lexiqai/voice-interview/internal/resilience"
)

// openAIPCMRate is fixed by the API for response_format=pcm.
const openAIPCMRate = 24000

// OpenAIClient renders speech through the OpenAI audio/speech endpoint.
type OpenAIClient struct {
	client  *openai.Client
	opts    Options
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

func NewOpenAIClient(opts Options) *OpenAIClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Model == "" {
		opts.Model = string(openai.TTSModel1)
	}
	if opts.Voice == "" {
		opts.Voice = string(openai.VoiceAlloy)
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("openai-tts", 5, 30*time.Second)
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(cfg),
		opts:    opts,
		breaker: breaker,
		logger:  observability.Component("openai_tts"),
	}
}

func (o *OpenAIClient) SampleRate() int { return openAIPCMRate }

func (o *OpenAIClient) Synthesize(ctx context.Context, text string, sink Sink) (err error) {
	start := time.Now()
	defer func() { observe(start, err) }()

	var resp openai.RawResponse
	err = o.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
			Model:          openai.SpeechModel(o.opts.Model),
			Input:          text,
			Voice:          openai.SpeechVoice(o.opts.Voice),
			ResponseFormat: openai.SpeechResponseFormatPcm,
		})
		return err
	})
	observability.UpdateCircuitBreakerState(o.breaker.Name(), int(o.breaker.GetState()))
	if err != nil {
		if ctx.Err() == nil {
			observability.IncrementCircuitBreakerFailures(o.breaker.Name())
		}
		return fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()

	if err := streamPCM(ctx, resp, sink); err != nil {
		return err
	}
	o.logger.Debug().Int("chars", len([]rune(text))).Dur("elapsed", time.Since(start)).Msg("OpenAI synthesis complete")
	return nil
}
