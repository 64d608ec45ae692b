package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/voice-interview/internal/observability"
	"github.com/lexiqai/voice-interview/internal/orchestrator"
)

var errWriterClosed = errors.New("connection writer closed")

type frame struct {
	kind int
	data []byte
	// epoch is the stop count when a reply frame was sent; frames from
	// before the latest stop are never written.
	epoch uint64
}

// wsConn is the subset of *websocket.Conn the writer uses.
type wsConn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// writer is the only goroutine that writes to the socket. Control events go
// on the priority queue; reply text and audio go on the stream queue, which
// a stop event flushes.
type writer struct {
	conn         wsConn
	priority     chan frame
	stream       chan frame
	writeTimeout time.Duration
	pingInterval time.Duration
	metrics      *observability.Metrics
	epoch        atomic.Uint64

	done   chan struct{}
	closed sync.Once
}

func newWriter(conn wsConn, queue int, metrics *observability.Metrics) *writer {
	return &writer{
		conn:         conn,
		priority:     make(chan frame, 16),
		stream:       make(chan frame, queue),
		writeTimeout: 5 * time.Second,
		pingInterval: 20 * time.Second,
		metrics:      metrics,
		done:         make(chan struct{}),
	}
}

// priorityEvents bypass queued reply audio.
var priorityEvents = map[string]bool{
	orchestrator.EventReady:      true,
	orchestrator.EventStop:       true,
	orchestrator.EventTranscript: true,
	orchestrator.EventFinished:   true,
	orchestrator.EventError:      true,
}

// Send implements orchestrator.Sink.
func (w *writer) Send(ev orchestrator.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	f := frame{kind: websocket.TextMessage, data: data, epoch: w.epoch.Load()}
	if !priorityEvents[ev.Type] {
		return w.enqueue(w.stream, f)
	}
	if ev.Type == orchestrator.EventStop {
		w.epoch.Add(1)
		w.flush()
	}
	return w.enqueue(w.priority, f)
}

// SendAudio implements orchestrator.Sink.
func (w *writer) SendAudio(data []byte) error {
	return w.enqueue(w.stream, frame{kind: websocket.BinaryMessage, data: data, epoch: w.epoch.Load()})
}

func (w *writer) enqueue(ch chan frame, f frame) error {
	select {
	case <-w.done:
		return errWriterClosed
	default:
	}
	select {
	case ch <- f:
		return nil
	case <-w.done:
		return errWriterClosed
	}
}

// flush drops reply frames that have not been written yet.
func (w *writer) flush() {
	for {
		select {
		case <-w.stream:
		default:
			return
		}
	}
}

// run writes frames until ctx is cancelled or a write fails.
func (w *writer) run(ctx context.Context) error {
	defer w.close()

	ping := time.NewTicker(w.pingInterval)
	defer ping.Stop()

	for {
		// Control frames first.
		select {
		case f := <-w.priority:
			if err := w.write(f); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			_ = w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(w.writeTimeout))
			return nil
		case <-ping.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeTimeout)); err != nil {
				return err
			}
		case f := <-w.priority:
			if err := w.write(f); err != nil {
				return err
			}
		case f := <-w.stream:
			if f.epoch != w.epoch.Load() {
				continue
			}
			if err := w.write(f); err != nil {
				return err
			}
		}
	}
}

func (w *writer) write(f frame) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	if err := w.conn.WriteMessage(f.kind, f.data); err != nil {
		return err
	}
	if f.kind == websocket.BinaryMessage && w.metrics != nil {
		w.metrics.RecordAudioBytes("out", int64(len(f.data)))
	}
	return nil
}

func (w *writer) close() {
	w.closed.Do(func() { close(w.done) })
}
