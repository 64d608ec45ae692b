package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-interview/internal/observability"
	"github.com/lexiqai/voice-interview/internal/resilience"
)

// utteranceEndMs is the trailing silence Deepgram needs before it emits UtteranceEnd.
const utteranceEndMs = 1000

// DeepgramOptions configures the Deepgram recognizer.
type DeepgramOptions struct {
	Model    string
	Language string
	// Timeout bounds the wait for final results after the audio is sent.
	Timeout time.Duration
	Breaker *resilience.CircuitBreaker
}

// DeepgramClient transcribes each utterance over its own live websocket.
type DeepgramClient struct {
	apiKey  string
	opts    DeepgramOptions
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewDeepgramClient creates a Deepgram recognizer.
func NewDeepgramClient(apiKey string, opts DeepgramOptions) *DeepgramClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("deepgram", 5, 30*time.Second)
	}
	return &DeepgramClient{
		apiKey:  apiKey,
		opts:    opts,
		breaker: breaker,
		logger:  observability.Component("deepgram"),
	}
}

// utteranceCollector gathers final transcripts for one connection.
type utteranceCollector struct {
	mu    sync.Mutex
	parts []string
	err   error
	done  chan struct{}
	once  sync.Once
}

func newUtteranceCollector() *utteranceCollector {
	return &utteranceCollector{done: make(chan struct{})}
}

func (u *utteranceCollector) finish(err error) {
	u.once.Do(func() {
		u.mu.Lock()
		u.err = err
		u.mu.Unlock()
		close(u.done)
	})
}

func (u *utteranceCollector) Open(*msginterfaces.OpenResponse) error { return nil }

func (u *utteranceCollector) Metadata(*msginterfaces.MetadataResponse) error { return nil }

func (u *utteranceCollector) SpeechStarted(*msginterfaces.SpeechStartedResponse) error { return nil }

func (u *utteranceCollector) UnhandledEvent([]byte) error { return nil }

func (u *utteranceCollector) Message(mr *msginterfaces.MessageResponse) error {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	if mr.IsFinal {
		if text := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript); text != "" {
			u.mu.Lock()
			u.parts = append(u.parts, text)
			u.mu.Unlock()
		}
	}
	if mr.SpeechFinal {
		u.finish(nil)
	}
	return nil
}

func (u *utteranceCollector) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	u.finish(nil)
	return nil
}

func (u *utteranceCollector) Close(*msginterfaces.CloseResponse) error {
	u.finish(nil)
	return nil
}

func (u *utteranceCollector) Error(er *msginterfaces.ErrorResponse) error {
	if er == nil {
		u.finish(errors.New("deepgram: unknown error"))
		return nil
	}
	u.finish(fmt.Errorf("deepgram %s: %s", er.ErrCode, er.ErrMsg))
	return nil
}

func (u *utteranceCollector) transcript() (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return strings.Join(u.parts, " "), u.err
}

// Transcribe sends pcm followed by enough silence to close the utterance and
// returns the joined final transcripts.
func (d *DeepgramClient) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (Result, error) {
	var text string
	err := d.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		text, err = d.transcribe(ctx, pcm, sampleRate)
		return err
	})
	observability.UpdateCircuitBreakerState(d.breaker.Name(), int(d.breaker.GetState()))
	if err != nil {
		if ctx.Err() == nil {
			observability.IncrementCircuitBreakerFailures(d.breaker.Name())
		}
		return Result{}, err
	}
	return Clean(text), nil
}

func (d *DeepgramClient) transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.opts.Model,
		Language:       d.opts.Language,
		Encoding:       "linear16",
		SampleRate:     sampleRate,
		Channels:       1,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true, // required for UtteranceEnd
		UtteranceEndMs: fmt.Sprintf("%d", utteranceEndMs),
		VadEvents:      true,
	}

	collector := newUtteranceCollector()
	dgClient, err := listenClient.NewWSUsingCallback(ctx, d.apiKey, &interfaces.ClientOptions{}, tOptions, collector)
	if err != nil {
		return "", fmt.Errorf("create deepgram client: %w", err)
	}
	if connected := dgClient.Connect(); !connected {
		return "", errors.New("deepgram connection failed")
	}
	defer dgClient.Stop()

	trailer := make([]byte, sampleRate*2*(utteranceEndMs+200)/1000)
	for _, chunk := range [][]byte{pcm, trailer} {
		if _, err := dgClient.Write(chunk); err != nil {
			return "", fmt.Errorf("send audio to deepgram: %w", err)
		}
	}

	timer := time.NewTimer(d.opts.Timeout)
	defer timer.Stop()

	select {
	case <-collector.done:
	case <-timer.C:
		d.logger.Warn().Dur("timeout", d.opts.Timeout).Msg("Deepgram result timeout, using partial transcript")
	case <-ctx.Done():
		return "", ctx.Err()
	}

	text, err := collector.transcript()
	if err != nil {
		return "", err
	}
	d.logger.Debug().Int("bytes", len(pcm)).Str("text", text).Msg("Deepgram transcription complete")
	return text, nil
}
