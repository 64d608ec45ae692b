package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-interview/internal/observability"
	"github.com/lexiqai/voice-interview/internal/resilience"
)

const (
	cartesiaURL     = "https://api.cartesia.ai"
	cartesiaVersion = "2024-06-10"
)

// CartesiaClient streams raw PCM from Cartesia's bytes endpoint.
type CartesiaClient struct {
	opts       Options
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// cartesiaRequest is the payload for POST /tts/bytes.
type cartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoice        `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

// NewCartesiaClient creates a new Cartesia TTS client
func NewCartesiaClient(opts Options) *CartesiaClient {
	if opts.BaseURL == "" {
		opts.BaseURL = cartesiaURL
	}
	if opts.Model == "" {
		opts.Model = "sonic"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 24000
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("cartesia", 5, 30*time.Second)
	}
	return &CartesiaClient{
		opts:       opts,
		httpClient: &http.Client{},
		breaker:    breaker,
		logger:     observability.Component("cartesia"),
	}
}

func (c *CartesiaClient) SampleRate() int { return c.opts.SampleRate }

// Synthesize converts text to audio and streams it to sink.
func (c *CartesiaClient) Synthesize(ctx context.Context, text string, sink Sink) (err error) {
	start := time.Now()
	defer func() { observe(start, err) }()

	var resp *http.Response
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.request(ctx, text)
		return err
	})
	observability.UpdateCircuitBreakerState(c.breaker.Name(), int(c.breaker.GetState()))
	if err != nil {
		if ctx.Err() == nil {
			observability.IncrementCircuitBreakerFailures(c.breaker.Name())
		}
		return err
	}
	defer resp.Body.Close()

	err = streamPCM(ctx, resp.Body, sink)
	if err == nil {
		c.logger.Debug().Int("chars", len([]rune(text))).Dur("elapsed", time.Since(start)).Msg("Cartesia synthesis complete")
	}
	return err
}

func (c *CartesiaClient) request(ctx context.Context, text string) (*http.Response, error) {
	payload, err := json.Marshal(cartesiaRequest{
		ModelID:    c.opts.Model,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: c.opts.Voice},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.opts.SampleRate,
		},
		Language: c.opts.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/tts/bytes", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.opts.APIKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("cartesia API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return resp, nil
}
