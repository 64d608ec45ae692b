package session

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-interview/internal/orchestrator"
)

// Client actions.
const (
	ActionInit   = "init"
	ActionRecord = "record"
	ActionFinish = "finish"
)

// ErrQueueFull is returned by Submit when audio arrives faster than the
// worker can process it.
var ErrQueueFull = errors.New("session queue full")

// Request is one inbound client event.
type Request struct {
	Action     string
	SampleRate int
	Encoding   string
	Audio      []byte
}

// Worker applies requests to a Controller one at a time, in arrival order,
// so a slow recognition never stalls the connection's read loop.
type Worker struct {
	ctrl   *Controller
	queue  chan *Request
	done   chan struct{}
	logger zerolog.Logger
}

// NewWorker creates a worker with a queue of size requests.
func NewWorker(ctrl *Controller, size int) *Worker {
	if size <= 0 {
		size = 64
	}
	return &Worker{
		ctrl:   ctrl,
		queue:  make(chan *Request, size),
		done:   make(chan struct{}),
		logger: ctrl.logger,
	}
}

// Submit enqueues req. Audio is dropped rather than blocking when the queue
// is full; control requests wait for room.
func (w *Worker) Submit(ctx context.Context, req Request) error {
	select {
	case w.queue <- &req:
		return nil
	case <-w.done:
		return context.Canceled
	default:
	}
	if req.Action == ActionRecord {
		w.ctrl.opts.Metrics.RecordUtterance("queue_full")
		return ErrQueueFull
	}
	select {
	case w.queue <- &req:
		return nil
	case <-w.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes requests until Stop or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.queue:
			w.handle(ctx, req)
		}
	}
}

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) handle(ctx context.Context, req *Request) {
	var err error
	switch req.Action {
	case ActionInit:
		err = w.ctrl.Init(req.SampleRate, req.Encoding)
	case ActionRecord:
		err = w.ctrl.Record(ctx, req.Audio)
	case ActionFinish:
		err = w.ctrl.Finish(ctx)
	default:
		w.logger.Warn().Str("action", req.Action).Msg("Unknown action")
		return
	}
	if err == nil {
		return
	}

	w.logger.Warn().Err(err).Str("action", req.Action).Msg("Request rejected")
	_ = w.ctrl.sink.Send(orchestrator.Event{Type: orchestrator.EventError, Message: err.Error()})
}
