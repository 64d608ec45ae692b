// Package session is the per-connection audio state machine: it buffers
// inbound PCM, finds utterance endpoints, runs recognition and starts or
// interrupts reply turns.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-interview/internal/audio"
	"github.com/lexiqai/voice-interview/internal/llm"
	"github.com/lexiqai/voice-interview/internal/observability"
	"github.com/lexiqai/voice-interview/internal/orchestrator"
	"github.com/lexiqai/voice-interview/internal/stt"
)

var (
	// ErrInvalidConfig rejects a bad or conflicting sample rate.
	ErrInvalidConfig = errors.New("invalid session config")
	// ErrNotInitialized rejects audio before init.
	ErrNotInitialized = errors.New("session not initialized")
	// ErrInvalidAudio rejects a chunk that cannot be decoded.
	ErrInvalidAudio = errors.New("invalid audio chunk")
)

// Input encodings accepted by Init. An empty encoding means PCM16.
const (
	EncodingPCM16 = "pcm16"
	EncodingMulaw = "mulaw"
)

// State is the controller lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateIdle
	StateListening
	StateCommitting
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateCommitting:
		return "committing"
	default:
		return "unknown"
	}
}

// VAD finds voiced intervals in PCM16 samples.
type VAD interface {
	Detect(samples []int16, sampleRate int) ([]audio.Interval, error)
}

// TurnRunner generates one reply for a conversation.
type TurnRunner interface {
	Run(ctx context.Context, conv orchestrator.Conversation, sink orchestrator.Sink) error
}

// Options configures a Controller.
type Options struct {
	ID                  string
	RecordID            int64
	Policy              EndpointPolicy
	MaxUtteranceSeconds int
	OutputEncoding      string
	OutputSampleRate    int
	Logger              zerolog.Logger
	Metrics             *observability.Metrics
}

// Controller owns one connection's audio. Init, Record and Finish must be
// called from a single goroutine (the session worker); reply turns run on
// their own goroutines.
type Controller struct {
	opts   Options
	conv   orchestrator.Conversation
	asr    stt.Transcriber
	vad    VAD
	runner TurnRunner
	sink   orchestrator.Sink
	turns  orchestrator.Turns
	logger zerolog.Logger

	// ctx bounds every turn; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	sampleRate int
	encoding   string
	buffer     *audio.RingBuffer
}

// NewController wires a controller to its collaborators.
func NewController(conv orchestrator.Conversation, asr stt.Transcriber, vad VAD, runner TurnRunner, sink orchestrator.Sink, opts Options) *Controller {
	if opts.Policy == (EndpointPolicy{}) {
		opts.Policy = DefaultEndpointPolicy()
	}
	if opts.MaxUtteranceSeconds <= 0 {
		opts.MaxUtteranceSeconds = 30
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewSessionMetrics(opts.ID, "unknown")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		opts:   opts,
		conv:   conv,
		asr:    asr,
		vad:    vad,
		runner: runner,
		sink:   sink,
		logger: opts.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// SampleRate is the rate fixed by Init, or 0.
func (c *Controller) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampleRate
}

// BufferedMs is the duration of audio awaiting a decision.
func (c *Controller) BufferedMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buffer == nil {
		return 0
	}
	return c.buffer.DurationMs(c.sampleRate)
}

// Encoding is the input encoding fixed by Init, or "".
func (c *Controller) Encoding() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoding
}

// Init fixes the input sample rate and encoding. Repeating it with the same
// values is a no-op; a different rate or encoding is rejected.
func (c *Controller) Init(sampleRate int, encoding string) error {
	if sampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, sampleRate)
	}
	switch encoding {
	case "":
		encoding = EncodingPCM16
	case EncodingPCM16, EncodingMulaw:
	default:
		return fmt.Errorf("%w: unsupported encoding %q", ErrInvalidConfig, encoding)
	}

	c.mu.Lock()
	if c.sampleRate != 0 && c.sampleRate != sampleRate {
		current := c.sampleRate
		c.mu.Unlock()
		return fmt.Errorf("%w: sample rate already set to %d", ErrInvalidConfig, current)
	}
	if c.encoding != "" && c.encoding != encoding {
		current := c.encoding
		c.mu.Unlock()
		return fmt.Errorf("%w: encoding already set to %s", ErrInvalidConfig, current)
	}
	if c.sampleRate == 0 {
		c.sampleRate = sampleRate
		c.encoding = encoding
		c.buffer = audio.NewRingBuffer(sampleRate * audio.BytesPerSample * c.opts.MaxUtteranceSeconds)
		c.state = StateIdle
	}
	c.mu.Unlock()

	c.logger.Info().Int("sample_rate", sampleRate).Str("encoding", encoding).Msg("Session initialized")
	return c.sink.Send(orchestrator.Event{
		Type:       orchestrator.EventReady,
		SessionID:  c.opts.ID,
		RecordID:   c.opts.RecordID,
		SampleRate: sampleRate,
		OutputRate: c.opts.OutputSampleRate,
		Encoding:   c.opts.OutputEncoding,
	})
}

// Record buffers a chunk and commits the utterance once an endpoint is found.
// PCM16 chunks must hold whole samples; mu-law chunks are decoded first.
// Recognition failures drop the utterance and are not returned.
func (c *Controller) Record(ctx context.Context, chunk []byte) error {
	c.mu.Lock()
	if c.state == StateUninitialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	pcm := chunk
	switch {
	case len(chunk) == 0:
	case c.encoding == EncodingMulaw:
		decoded, err := audio.ConvertPCMUToPCM(chunk)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrInvalidAudio, err)
		}
		pcm = decoded
	case len(chunk)%audio.BytesPerSample != 0:
		c.mu.Unlock()
		return fmt.Errorf("%w: %d bytes is not a whole number of PCM16 samples", ErrInvalidAudio, len(chunk))
	}
	if dropped := c.buffer.Write(pcm); dropped > 0 {
		c.logger.Warn().Int("dropped_bytes", dropped).Msg("Utterance exceeds buffer, oldest audio overwritten")
	}
	c.state = StateListening
	rate := c.sampleRate
	bufferMs := c.buffer.DurationMs(rate)
	c.mu.Unlock()

	c.opts.Metrics.RecordAudioBytes("in", int64(len(chunk)))

	if !c.opts.Policy.Evaluate(bufferMs) {
		return nil
	}

	intervals, err := c.vad.Detect(audio.DecodePCM16(c.bytes()), rate)
	if err != nil {
		c.logger.Error().Err(err).Msg("Voice activity detection failed, dropping utterance")
		c.opts.Metrics.RecordError("vad_error", "session")
		c.drop("vad_error")
		return nil
	}

	switch c.opts.Policy.Decide(bufferMs, intervals) {
	case DecisionDiscard:
		c.drop("discarded")
	case DecisionCommit:
		c.commit(ctx)
	}
	return nil
}

// Finish commits whatever is buffered without waiting for the endpoint gap.
func (c *Controller) Finish(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateUninitialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	empty := c.buffer.IsEmpty()
	c.mu.Unlock()

	if !empty {
		c.commit(ctx)
	}
	return nil
}

// Close cancels the running turn and discards buffered audio.
func (c *Controller) Close() {
	c.cancel()
	c.turns.Cancel()
	c.mu.Lock()
	if c.buffer != nil {
		c.buffer.Clear()
	}
	c.mu.Unlock()
}

func (c *Controller) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.Bytes()
}

func (c *Controller) drop(reason string) {
	c.mu.Lock()
	c.buffer.Clear()
	c.state = StateListening
	c.mu.Unlock()
	c.opts.Metrics.RecordUtterance(reason)
}

// commit interrupts any reply, recognizes the buffer and starts a new turn
// when the transcript has content.
func (c *Controller) commit(ctx context.Context) {
	c.setState(StateCommitting)

	// Stop drops queued reply audio, which also releases a turn blocked on a
	// full sink.
	wait := c.turns.Interrupt()
	_ = c.sink.Send(orchestrator.Event{Type: orchestrator.EventStop})
	if wait() {
		c.opts.Metrics.RecordBargeIn()
		c.logger.Info().Msg("Barge-in, reply interrupted")
	}

	pcm := c.bytes()
	rate := c.SampleRate()

	c.opts.Metrics.RecordASRStart()
	res, err := c.asr.Transcribe(ctx, pcm, rate)
	c.opts.Metrics.RecordASREnd(err == nil)

	c.mu.Lock()
	c.buffer.Clear()
	c.state = StateListening
	c.mu.Unlock()

	if err != nil {
		c.logger.Error().Err(err).Int64("duration_ms", audio.DurationMs(len(pcm), rate)).Msg("Recognition failed, dropping utterance")
		c.opts.Metrics.RecordError("asr_error", "session")
		c.opts.Metrics.RecordUtterance("asr_error")
		return
	}
	if res.Empty() {
		c.opts.Metrics.RecordUtterance("empty")
		return
	}

	c.logger.Info().Str("text", res.Text).Msg("Utterance committed")
	c.opts.Metrics.RecordUtterance("committed")
	_ = c.sink.Send(orchestrator.Event{Type: orchestrator.EventTranscript, Text: res.Text})

	if err := c.conv.Append(ctx, llm.RoleUser, res.Text); err != nil {
		c.logger.Error().Err(err).Msg("Failed to record utterance")
		_ = c.sink.Send(orchestrator.Event{Type: orchestrator.EventError, Message: "failed to record utterance"})
		return
	}

	c.turns.Start(c.ctx, func(ctx context.Context) {
		err := c.runner.Run(ctx, c.conv, c.sink)
		switch {
		case err == nil, errors.Is(err, orchestrator.ErrFinished):
		case ctx.Err() != nil:
			c.logger.Debug().Msg("Turn cancelled")
		default:
			c.logger.Error().Err(err).Msg("Turn failed")
			c.opts.Metrics.RecordError("turn_failed", "orchestrator")
			_ = c.sink.Send(orchestrator.Event{Type: orchestrator.EventError, Message: "reply generation failed"})
		}
	})
}
