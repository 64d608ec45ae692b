package orchestrator

import (
	"context"
	"sync"
)

// Turns keeps at most one turn running for a session.
type Turns struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Start cancels the running turn, waits for it to exit and then runs fn in a
// new goroutine with a context derived from parent.
func (t *Turns) Start(parent context.Context, fn func(ctx context.Context)) {
	t.Cancel()

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	t.mu.Lock()
	t.cancel, t.done = cancel, done
	t.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		fn(ctx)
	}()
}

// Cancel stops the running turn and waits for it to exit. It reports whether
// a turn was still in progress.
func (t *Turns) Cancel() bool {
	return t.Interrupt()()
}

// Interrupt cancels the running turn without waiting. The returned function
// blocks until the turn has exited and reports whether it was still in
// progress when interrupted.
func (t *Turns) Interrupt() (wait func() bool) {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return func() bool { return false }
	}
	active := true
	select {
	case <-done:
		active = false
	default:
	}
	cancel()
	return func() bool {
		<-done
		return active
	}
}
