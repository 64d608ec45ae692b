// Package api is the request/response variant of the interview service:
// clients post a message, then fetch the reply as plain text.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-interview/internal/idgen"
	"github.com/lexiqai/voice-interview/internal/interview"
	"github.com/lexiqai/voice-interview/internal/llm"
	"github.com/lexiqai/voice-interview/internal/memory"
	"github.com/lexiqai/voice-interview/internal/observability"
	"github.com/lexiqai/voice-interview/internal/orchestrator"
	"github.com/lexiqai/voice-interview/internal/segmenter"
	"github.com/lexiqai/voice-interview/internal/session"
)

// Handler serves /api. Runner should be text only; audio is discarded.
type Handler struct {
	interviews *memory.Registry[*interview.Interview]
	ids        *idgen.Generator
	runner     session.TurnRunner
	logger     zerolog.Logger
}

func NewHandler(interviews *memory.Registry[*interview.Interview], ids *idgen.Generator, runner session.TurnRunner) *Handler {
	return &Handler{
		interviews: interviews,
		ids:        ids,
		runner:     runner,
		logger:     observability.Component("api"),
	}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/id", h.newID)
	mux.HandleFunc("PUT /api/interview", h.putMessage)
	mux.HandleFunc("GET /api/interview", h.getReply)
	mux.HandleFunc("GET /api/interview/{cid}", h.getRecord)
}

func (h *Handler) newID(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, strconv.FormatInt(h.ids.Next(), 10))
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, errors.New("cid must be an integer")
	}
	return id, nil
}

// putMessage appends the user message and answers with the record id.
func (h *Handler) putMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeText(w, http.StatusBadRequest, "invalid form")
		return
	}
	msg := strings.TrimSpace(r.PostFormValue("msg"))
	if msg == "" {
		writeText(w, http.StatusBadRequest, "msg is required")
		return
	}

	var id int64
	if raw := r.FormValue("cid"); raw != "" {
		parsed, err := parseID(raw)
		if err != nil {
			writeText(w, http.StatusBadRequest, err.Error())
			return
		}
		id = parsed
	} else {
		id = h.ids.Next()
	}

	err := h.interviews.Do(id, func(iv *interview.Interview) error {
		return iv.Append(r.Context(), llm.RoleUser, msg)
	})
	if err != nil {
		h.logger.Error().Err(err).Int64("record_id", id).Msg("Failed to append message")
		writeText(w, http.StatusInternalServerError, "failed to record message")
		return
	}
	writeText(w, http.StatusOK, strconv.FormatInt(id, 10))
}

// getReply streams the reply sentence by sentence. A reply that is already
// recorded is replayed instead of generating a new one.
func (h *Handler) getReply(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.URL.Query().Get("cid"))
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	lease, err := h.interviews.Acquire(id)
	if err != nil {
		h.logger.Error().Err(err).Int64("record_id", id).Msg("Failed to open interview")
		writeText(w, http.StatusInternalServerError, "failed to open interview")
		return
	}
	conv := orchestrator.NewInterviewConversation(lease)
	defer conv.Close()

	var replay string
	err = lease.With(func(iv *interview.Interview) error {
		if last, ok := iv.Messages().Last(); ok && last.Role == llm.RoleAssistant {
			replay = last.Content
		}
		return nil
	})
	if err != nil {
		h.logger.Error().Err(err).Int64("record_id", id).Msg("Failed to read interview")
		writeText(w, http.StatusInternalServerError, "failed to read interview")
		return
	}
	sink := &textSink{w: w}
	if replay != "" {
		for _, f := range segmenter.Split([]string{replay}, segmenter.DefaultMinChars) {
			if f.Kind != segmenter.KindSentence {
				continue
			}
			if err := sink.Send(orchestrator.Event{Type: orchestrator.EventSentence, Text: f.Text}); err != nil {
				return
			}
		}
		return
	}

	err = h.runner.Run(r.Context(), conv, sink)
	switch {
	case err == nil:
		if !sink.wrote {
			// empty reply
			w.WriteHeader(http.StatusOK)
		}
	case errors.Is(err, orchestrator.ErrFinished):
		if !sink.wrote {
			writeText(w, http.StatusGone, "interview finished")
		}
	case r.Context().Err() != nil:
		h.logger.Debug().Int64("record_id", id).Msg("Client went away during reply")
	default:
		h.logger.Error().Err(err).Int64("record_id", id).Msg("Reply generation failed")
		if !sink.wrote {
			writeText(w, http.StatusBadGateway, "reply generation failed")
		}
	}
}

type recordView struct {
	ID       int64            `json:"id"`
	Progress int              `json:"progress"`
	Topic    string           `json:"topic,omitempty"`
	Finished bool             `json:"finished"`
	Record   interview.Record `json:"record"`
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("cid"))
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	var view recordView
	err = h.interviews.Do(id, func(iv *interview.Interview) error {
		topic, _ := iv.Topic()
		view = recordView{
			ID:       id,
			Progress: iv.Progress(),
			Topic:    topic,
			Finished: iv.Finished(),
			Record:   iv.Snapshot(),
		}
		return nil
	})
	if err != nil {
		h.logger.Error().Err(err).Int64("record_id", id).Msg("Failed to load interview")
		writeText(w, http.StatusInternalServerError, "failed to load interview")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to write record")
	}
}

func writeText(w http.ResponseWriter, code int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(text))
}

// textSink writes sentence events to the response as they arrive.
type textSink struct {
	w     http.ResponseWriter
	wrote bool
}

func (s *textSink) Send(ev orchestrator.Event) error {
	if ev.Type != orchestrator.EventSentence || ev.Text == "" {
		return nil
	}
	if !s.wrote {
		s.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		s.w.WriteHeader(http.StatusOK)
		s.wrote = true
	}
	if _, err := s.w.Write([]byte(ev.Text)); err != nil {
		return err
	}
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (s *textSink) SendAudio([]byte) error { return nil }
