// Package maintenance runs the periodic upkeep of live conversations:
// summarizing long windows, judging interview topics and evicting idle
// entries.
package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-interview/internal/llm"
	"github.com/lexiqai/voice-interview/internal/memory"
	"github.com/lexiqai/voice-interview/internal/observability"
)

// Target is a registry the sweeper walks. *memory.Registry satisfies it.
type Target interface {
	Name() string
	IDs() []int64
	Len() int
	Maintain(ctx context.Context, id int64, c llm.Completer) error
	EvictIdle(ttl time.Duration) []int64
}

// Options configures a Sweeper.
type Options struct {
	Interval      time.Duration
	IdleTTL       time.Duration
	RecordTimeout time.Duration // bound on one record's upkeep; 0 means none
}

// Sweeper maintains every record of its targets, one at a time.
type Sweeper struct {
	completer llm.Completer
	targets   []Target
	opts      Options
	logger    zerolog.Logger
}

func New(c llm.Completer, opts Options, targets ...Target) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	return &Sweeper{
		completer: c,
		targets:   targets,
		opts:      opts,
		logger:    observability.Component("maintenance"),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.opts.Interval).Msg("Maintenance started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Maintenance stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep maintains each record in turn. A failing record is logged and
// skipped; it never stops the rest of the sweep.
func (s *Sweeper) Sweep(ctx context.Context) {
	start := time.Now()
	defer func() { observability.ObserveMaintenanceSweep(time.Since(start)) }()

	for _, t := range s.targets {
		failed := 0
		for _, id := range t.IDs() {
			if ctx.Err() != nil {
				return
			}
			if err := s.maintain(ctx, t, id); err != nil {
				failed++
				s.logger.Warn().Err(err).Str("registry", t.Name()).Int64("record_id", id).Msg("Record maintenance failed")
				observability.RecordError("maintenance_failed", "maintenance")
			}
		}

		if evicted := t.EvictIdle(s.opts.IdleTTL); len(evicted) > 0 {
			s.logger.Info().Str("registry", t.Name()).Ints64("record_ids", evicted).Msg("Evicted idle conversations")
		}
		observability.SetRegistryEntries(t.Name(), t.Len())

		if failed > 0 {
			s.logger.Debug().Str("registry", t.Name()).Int("failed", failed).Msg("Sweep finished with failures")
		}
	}
}

func (s *Sweeper) maintain(ctx context.Context, t Target, id int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("maintenance panicked")
			s.logger.Error().Interface("panic", r).Int64("record_id", id).Msg("Recovered from maintenance panic")
		}
	}()

	if s.opts.RecordTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RecordTimeout)
		defer cancel()
	}

	err = t.Maintain(ctx, id, s.completer)
	if errors.Is(err, memory.ErrNotFound) {
		// evicted between listing and visiting
		return nil
	}
	return err
}
