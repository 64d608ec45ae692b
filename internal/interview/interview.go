// Package interview walks a conversation through a fixed list of topics,
// moving on when a judge model decides the current one is resolved.
package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-interview/internal/llm"
	"github.com/lexiqai/voice-interview/internal/memory"
	"github.com/lexiqai/voice-interview/internal/observability"
	"github.com/lexiqai/voice-interview/internal/resilience"
	"github.com/lexiqai/voice-interview/internal/storage"
)

// ErrFinished is returned when an interview is asked to advance past its last topic.
var ErrFinished = errors.New("interview finished")

// Record is the persisted state of one interview.
type Record struct {
	ID       int64          `json:"id"`
	Progress int            `json:"progress"`
	Topics   []string       `json:"questions"`
	History  *memory.Window `json:"history"`
	Messages *memory.Window `json:"messages"`
}

// Store persists records as JSON keyed by id. Get returns storage.ErrNotFound
// for unknown ids.
type Store interface {
	Get(ctx context.Context, id int64) ([]byte, error)
	Put(ctx context.Context, id int64, data []byte) error
}

// Options configure an Interview.
type Options struct {
	MaxLen int
	Retry  *resilience.RetryConfig // persistence and maintenance completions
}

// Interview is the state machine over one Record. It does no locking; callers
// serialize access through a memory.Registry.
type Interview struct {
	rec   *Record
	store Store
	opts  Options
	log   zerolog.Logger
}

// Open loads the record for id, or creates it with topics and persists it.
func Open(ctx context.Context, store Store, id int64, topics []string, opts Options) (*Interview, error) {
	data, err := store.Get(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		iv := New(id, topics, store, opts)
		if err := iv.persist(ctx); err != nil {
			return nil, err
		}
		return iv, nil
	case err != nil:
		return nil, fmt.Errorf("load interview %d: %w", id, err)
	}

	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode interview %d: %w", id, err)
	}
	if rec.History == nil {
		rec.History = memory.NewWindow()
	}
	if rec.Messages == nil {
		rec.Messages = memory.NewWindow()
	}
	return fromRecord(rec, store, opts), nil
}

// New creates an unstarted interview without touching the store.
func New(id int64, topics []string, store Store, opts Options) *Interview {
	return fromRecord(&Record{
		ID:       id,
		Progress: -1,
		Topics:   append([]string(nil), topics...),
		History:  memory.NewWindow(),
		Messages: memory.NewWindow(),
	}, store, opts)
}

func fromRecord(rec *Record, store Store, opts Options) *Interview {
	if opts.MaxLen <= 0 {
		opts.MaxLen = memory.DefaultMaxLen
	}
	return &Interview{
		rec:   rec,
		store: store,
		opts:  opts,
		log:   observability.Component("interview").With().Int64("record_id", rec.ID).Logger(),
	}
}

func (iv *Interview) ID() int64 {
	return iv.rec.ID
}

func (iv *Interview) Progress() int {
	return iv.rec.Progress
}

// Finished reports whether every topic has been covered.
func (iv *Interview) Finished() bool {
	return iv.rec.Progress >= len(iv.rec.Topics)
}

// Topic returns the current topic, if the interview is on one.
func (iv *Interview) Topic() (string, bool) {
	if iv.rec.Progress < 0 || iv.Finished() {
		return "", false
	}
	return iv.rec.Topics[iv.rec.Progress], true
}

// Messages exposes the context window.
func (iv *Interview) Messages() *memory.Window {
	return iv.rec.Messages
}

// Snapshot returns a deep copy of the record.
func (iv *Interview) Snapshot() Record {
	return Record{
		ID:       iv.rec.ID,
		Progress: iv.rec.Progress,
		Topics:   append([]string(nil), iv.rec.Topics...),
		History:  memory.NewWindow(iv.rec.History.Messages()...),
		Messages: memory.NewWindow(iv.rec.Messages.Messages()...),
	}
}

// Append records a turn in both the full history and the context window.
func (iv *Interview) Append(ctx context.Context, role, content string) error {
	iv.rec.History.Append(role, content)
	iv.rec.Messages.Append(role, content)
	return iv.persist(ctx)
}

// BuildContext returns the interviewer prompt followed by the window.
func (iv *Interview) BuildContext() []llm.Message {
	return append([]llm.Message{{Role: llm.RoleSystem, Content: Prompts.System}}, iv.rec.Messages.LLM()...)
}

// Advance moves to the next topic and reseeds the window for it. It reports
// whether a topic remains; advancing an interview that has already finished
// is an error.
func (iv *Interview) Advance(ctx context.Context) (bool, error) {
	if iv.Finished() {
		return false, ErrFinished
	}

	iv.rec.Progress++
	next := !iv.Finished()
	if next {
		topic := iv.rec.Topics[iv.rec.Progress]
		iv.rec.Messages.Reset(
			memory.Message{Role: llm.RoleAssistant, Content: fmt.Sprintf(topicSeed, topic)},
			memory.Message{Role: llm.RoleUser, Content: openerSeed},
		)
		observability.RecordTopicAdvance()
		iv.log.Info().Int("progress", iv.rec.Progress).Str("topic", topic).Msg("Interview moved to next topic")
	} else {
		iv.log.Info().Msg("Interview finished")
	}

	return next, iv.persist(ctx)
}

// ContextOrAdvance starts the interview on first use and returns the
// completion context, or nil once the interview has finished.
func (iv *Interview) ContextOrAdvance(ctx context.Context) ([]llm.Message, error) {
	if iv.rec.Progress < 0 {
		if _, err := iv.Advance(ctx); err != nil {
			return nil, err
		}
	}
	if iv.Finished() {
		return nil, nil
	}
	return iv.BuildContext(), nil
}

// CheckAndSummarize compacts the context window when it is too large.
func (iv *Interview) CheckAndSummarize(ctx context.Context, c llm.Completer) (bool, error) {
	done, err := memory.Summarize(ctx, c, iv.rec.Messages, Prompts, iv.opts.MaxLen)
	if err != nil || !done {
		return done, err
	}
	return true, iv.summarized(ctx)
}

func (iv *Interview) summarized(ctx context.Context) error {
	iv.log.Info().Int("size", iv.rec.Messages.Size()).Msg("Interview context summarized")
	return iv.persist(ctx)
}

// JudgeCompletion asks the judge model whether the current topic is resolved.
func (iv *Interview) JudgeCompletion(ctx context.Context, c llm.Completer) (bool, error) {
	topic, ok := iv.Topic()
	if !ok {
		return false, fmt.Errorf("judge interview %d: no current topic", iv.rec.ID)
	}

	transcript := iv.rec.Messages.Transcript(func(role string) bool {
		return role == llm.RoleUser || role == llm.RoleAssistant
	})
	text, err := llm.Drain(ctx, c, "judge", []llm.Message{
		{Role: llm.RoleSystem, Content: judgePrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(judgeRequest, topic, transcript)},
	})
	if err != nil {
		return false, fmt.Errorf("judge interview %d: %w", iv.rec.ID, err)
	}

	verdict := ParseVerdict(text)
	observability.RecordJudgeVerdict(verdict)
	iv.log.Debug().Bool("verdict", verdict).Str("response", text).Msg("Judge responded")
	return verdict, nil
}

// ParseVerdict reads a judge response. Any occurrence of "true" counts as
// complete, so reasoning that merely mentions the word also matches.
func ParseVerdict(text string) bool {
	return strings.Contains(text, "true")
}

// Maintain is the periodic upkeep: summarize, then judge the current topic
// and advance when it is resolved. Completions are retried per opts.Retry.
func (iv *Interview) Maintain(ctx context.Context, c llm.Completer) error {
	var summarized bool
	err := resilience.Retry(ctx, iv.opts.Retry, resilience.IsRetryableNetworkError, func(ctx context.Context) error {
		var err error
		summarized, err = memory.Summarize(ctx, c, iv.rec.Messages, Prompts, iv.opts.MaxLen)
		return err
	})
	if err != nil {
		return err
	}
	if summarized {
		if err := iv.summarized(ctx); err != nil {
			return err
		}
	}

	if _, ok := iv.Topic(); !ok {
		return nil
	}

	var complete bool
	err = resilience.Retry(ctx, iv.opts.Retry, resilience.IsRetryableNetworkError, func(ctx context.Context) error {
		var err error
		complete, err = iv.JudgeCompletion(ctx, c)
		return err
	})
	if err != nil || !complete {
		return err
	}
	_, err = iv.Advance(ctx)
	return err
}

func (iv *Interview) persist(ctx context.Context) error {
	if iv.store == nil {
		return nil
	}
	data, err := json.Marshal(iv.rec)
	if err != nil {
		return fmt.Errorf("encode interview %d: %w", iv.rec.ID, err)
	}
	err = resilience.Retry(ctx, iv.opts.Retry, resilience.IsRetryableNetworkError, func(ctx context.Context) error {
		return iv.store.Put(ctx, iv.rec.ID, data)
	})
	if err != nil {
		return fmt.Errorf("save interview %d: %w", iv.rec.ID, err)
	}
	return nil
}
