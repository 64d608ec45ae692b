package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-interview/internal/audio"
	"github.com/lexiqai/voice-interview/internal/config"
	"github.com/lexiqai/voice-interview/internal/idgen"
	"github.com/lexiqai/voice-interview/internal/interview"
	"github.com/lexiqai/voice-interview/internal/memory"
	"github.com/lexiqai/voice-interview/internal/observability"
	"github.com/lexiqai/voice-interview/internal/orchestrator"
	"github.com/lexiqai/voice-interview/internal/session"
	"github.com/lexiqai/voice-interview/internal/stt"
)

const (
	ModeChat      = "chat"
	ModeInterview = "interview"

	maxMessageBytes = 1 << 20
)

var upgrader = websocket.Upgrader{
	// Browser clients connect from any origin; restrict with a proxy if needed.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Deps are the shared collaborators every session uses.
type Deps struct {
	Chats      *memory.Registry[*memory.Memory]
	Interviews *memory.Registry[*interview.Interview]
	IDs        *idgen.Generator
	ASR        stt.Transcriber
	Runner     session.TurnRunner
	// NewVAD builds a detector per session; nil uses the energy detector from config.
	NewVAD func() session.VAD
}

// Handler upgrades /ws requests and runs one session per connection.
type Handler struct {
	cfg    *config.Config
	deps   Deps
	logger zerolog.Logger
}

func NewHandler(cfg *config.Config, deps Deps) *Handler {
	if deps.NewVAD == nil {
		vadCfg := &audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
			FrameMs:         cfg.VADFrameMs,
			MinSpeechFrames: cfg.VADMinSpeechFrames,
		}
		deps.NewVAD = func() session.VAD { return audio.NewEnergyVAD(vadCfg) }
	}
	return &Handler{cfg: cfg, deps: deps, logger: observability.Component("transport")}
}

type closableConversation interface {
	orchestrator.Conversation
	Close() error
}

// open leases the conversation for mode and id.
func (h *Handler) open(mode string, id int64) (closableConversation, error) {
	switch mode {
	case ModeChat:
		lease, err := h.deps.Chats.Acquire(id)
		if err != nil {
			return nil, err
		}
		return orchestrator.NewChatConversation(lease), nil
	case ModeInterview:
		lease, err := h.deps.Interviews.Acquire(id)
		if err != nil {
			return nil, err
		}
		return orchestrator.NewInterviewConversation(lease), nil
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("mode")
	if mode == "" {
		mode = ModeChat
	}
	if mode != ModeChat && mode != ModeInterview {
		http.Error(w, "mode must be chat or interview", http.StatusBadRequest)
		return
	}

	var id int64
	if raw := q.Get("cid"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "cid must be an integer", http.StatusBadRequest)
			return
		}
		id = parsed
	} else {
		id = h.deps.IDs.Next()
	}

	conv, err := h.open(mode, id)
	if err != nil {
		h.logger.Error().Err(err).Int64("record_id", id).Msg("Failed to open conversation")
		http.Error(w, "failed to open conversation", http.StatusInternalServerError)
		return
	}
	defer conv.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	h.serve(r.Context(), conn, conv, mode, id)
}

func (h *Handler) serve(parent context.Context, conn *websocket.Conn, conv orchestrator.Conversation, mode string, id int64) {
	correlationID := observability.NewCorrelationID()
	logger := observability.WithCorrelationID(correlationID).With().
		Str("session_id", correlationID).
		Str("mode", mode).
		Int64("record_id", id).
		Logger()

	metrics := observability.NewSessionMetrics(correlationID, mode)
	metrics.RecordSessionStart()
	defer metrics.RecordSessionEnd()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	wr := newWriter(conn, h.cfg.SessionQueueSize, metrics)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := wr.run(ctx); err != nil {
			logger.Debug().Err(err).Msg("Writer stopped")
		}
		cancel()
		// unblocks the read loop
		_ = conn.Close()
	}()

	ctrl := session.NewController(conv, h.deps.ASR, h.deps.NewVAD(), h.deps.Runner, wr, session.Options{
		ID:       correlationID,
		RecordID: id,
		Policy: session.EndpointPolicy{
			MinBufferMs: int64(h.cfg.EndpointMinBufferMs),
			SilenceMs:   int64(h.cfg.EndpointSilenceMs),
			NoiseMs:     int64(h.cfg.EndpointNoiseMs),
		},
		MaxUtteranceSeconds: h.cfg.MaxUtteranceSeconds,
		OutputEncoding:      h.cfg.OutputEncoding,
		OutputSampleRate:    h.cfg.OutputRate(),
		Logger:              logger,
		Metrics:             metrics,
	})
	worker := session.NewWorker(ctrl, h.cfg.SessionQueueSize)
	go worker.Run(ctx)

	logger.Info().Msg("Session connected")

	h.readLoop(ctx, conn, worker, wr, logger)

	cancel()
	<-worker.Done()
	ctrl.Close()
	<-writerDone
	logger.Info().Msg("Session closed")
}

// readLoop never blocks on processing: requests are queued for the worker.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, worker *session.Worker, sink orchestrator.Sink, logger zerolog.Logger) {
	conn.SetReadLimit(maxMessageBytes)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		req, err := decodeRequest(kind, data)
		if err != nil {
			logger.Warn().Err(err).Msg("Rejected client message")
			_ = sink.Send(orchestrator.Event{Type: orchestrator.EventError, Message: err.Error()})
			continue
		}

		if err := worker.Submit(ctx, req); err != nil {
			if errors.Is(err, session.ErrQueueFull) {
				logger.Warn().Msg("Session queue full, audio dropped")
				continue
			}
			return
		}
	}
}
