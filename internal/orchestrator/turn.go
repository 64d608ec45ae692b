package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/voice-interview/internal/llm"
	"github.com/lexiqai/voice-interview/internal/observability"
	"github.com/lexiqai/voice-interview/internal/segmenter"
	"github.com/lexiqai/voice-interview/internal/tts"
)

// ErrFinished is returned by Run when the conversation takes no more turns.
var ErrFinished = errors.New("conversation finished")

// Turn outcomes, as counted in metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
	OutcomeFinished  = "finished"
)

// Runner generates replies: completion deltas go through the segmenter, each
// sentence is synthesized in order, and the full reply is recorded only once
// everything has been delivered.
type Runner struct {
	completer llm.Completer
	synth     tts.Synthesizer
	encoder   *tts.Encoder
	minChars  int
}

// NewRunner creates a Runner. A nil synth produces text events only.
func NewRunner(c llm.Completer, synth tts.Synthesizer, enc *tts.Encoder, minChars int) *Runner {
	return &Runner{completer: c, synth: synth, encoder: enc, minChars: minChars}
}

// Run produces the reply to the conversation's current context. When ctx is
// cancelled before the reply is complete nothing is appended and ctx.Err()
// is returned.
func (r *Runner) Run(ctx context.Context, conv Conversation, sink Sink) (err error) {
	defer func() { observability.RecordTurn(outcome(ctx, err)) }()

	msgs, err := conv.Context(ctx)
	if err != nil {
		return fmt.Errorf("build context: %w", err)
	}
	if msgs == nil {
		_ = sink.Send(Event{Type: EventFinished})
		return ErrFinished
	}

	reply, err := r.generate(ctx, msgs, sink)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if strings.TrimSpace(reply) != "" {
		if err := conv.Append(ctx, llm.RoleAssistant, reply); err != nil {
			return fmt.Errorf("record reply: %w", err)
		}
	}
	return sink.Send(Event{Type: EventEnd, Text: reply})
}

// generate streams one completion through synthesis and returns its full text.
func (r *Runner) generate(ctx context.Context, msgs []llm.Message, sink Sink) (string, error) {
	stream, err := r.completer.Stream(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("start completion: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	sentences := make(chan string, 16)
	var reply string

	g.Go(func() error {
		defer close(sentences)
		defer stream.Close()

		seg := segmenter.New(r.minChars)
		for {
			delta, err := stream.Recv()
			var frags []segmenter.Fragment
			switch {
			case errors.Is(err, io.EOF):
				frags = seg.Finish()
			case err != nil:
				return fmt.Errorf("completion stream: %w", err)
			default:
				frags = seg.Push(delta)
			}

			for _, f := range frags {
				switch f.Kind {
				case segmenter.KindChar:
					if err := sink.Send(Event{Type: EventDelta, Text: f.Text}); err != nil {
						return err
					}
				case segmenter.KindSentence:
					select {
					case sentences <- f.Text:
					case <-gctx.Done():
						return gctx.Err()
					}
				case segmenter.KindFinish:
					reply = f.Text
					return nil
				}
			}
		}
	})

	g.Go(func() error {
		started := false
		for text := range sentences {
			if err := sink.Send(Event{Type: EventSentence, Text: text}); err != nil {
				return err
			}
			if r.synth == nil {
				continue
			}
			err := r.synth.Synthesize(gctx, text, func(pcm []byte) error {
				if !started {
					started = true
					if err := sink.Send(Event{Type: EventStart}); err != nil {
						return err
					}
				}
				out, err := r.encode(pcm)
				if err != nil {
					return err
				}
				return sink.SendAudio(out)
			})
			if err != nil {
				return fmt.Errorf("synthesize: %w", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return reply, nil
}

func (r *Runner) encode(pcm []byte) ([]byte, error) {
	if r.encoder == nil {
		return pcm, nil
	}
	return r.encoder.Encode(pcm)
}

func outcome(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, ErrFinished):
		return OutcomeFinished
	case ctx.Err() != nil:
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}
