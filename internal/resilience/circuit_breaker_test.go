package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func call(cb *CircuitBreaker, fn func() error) error {
	return cb.Execute(context.Background(), func(context.Context) error { return fn() })
}

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state to be Closed, got %s", cb.GetState())
	}
	if !cb.allowRequest() {
		t.Error("Expected to allow request in Closed state")
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	cb.RecordResult(false)
	cb.RecordResult(false)
	if cb.GetState() != StateClosed {
		t.Error("Expected state to still be Closed after 2 failures")
	}

	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Error("Expected state to be Open after 3 failures")
	}
	if cb.allowRequest() {
		t.Error("Expected to not allow request in Open state")
	}
}

func TestCircuitBreaker_HalfOpenThenClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 50*time.Millisecond)
	cb.RecordResult(false)

	time.Sleep(80 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := call(cb, func() error { return nil }); err != nil {
			t.Fatalf("Expected probe %d to pass, got %v", i, err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected Closed after successful probes, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_OpenAfterFailureInHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 50*time.Millisecond)
	cb.RecordResult(false)

	time.Sleep(80 * time.Millisecond)

	_ = call(cb, func() error { return errors.New("still down") })
	if cb.GetState() != StateOpen {
		t.Errorf("Expected Open after failed probe, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_CallOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Minute)
	cb.RecordResult(false)

	called := false
	err := call(cb, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected fn not to run while open")
	}
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	err := cb.Execute(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected breaker to stay Closed, got %s", cb.GetState())
	}
	_, requests, _, _ := cb.GetStats()
	if requests != 0 {
		t.Errorf("Expected 0 recorded requests, got %d", requests)
	}
}

func TestCircuitBreaker_StateChangeHook(t *testing.T) {
	cb := NewCircuitBreaker("llm", 2, 20*time.Millisecond)

	var transitions []string
	cb.OnStateChange(func(name string, from, to CircuitState) {
		transitions = append(transitions, name+":"+from.String()+"->"+to.String())
	})

	cb.RecordResult(false)
	cb.RecordResult(false)
	time.Sleep(40 * time.Millisecond)
	_ = call(cb, func() error { return nil })

	expected := []string{"llm:closed->open", "llm:open->half_open"}
	if len(transitions) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, transitions)
	}
	for i := range expected {
		if transitions[i] != expected[i] {
			t.Errorf("Expected %s, got %s", expected[i], transitions[i])
		}
	}
}

func TestCircuitBreaker_GetStats(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	cb.RecordResult(true)
	cb.RecordResult(true)
	cb.RecordResult(false)

	state, requestCount, failureCount, failureRate := cb.GetStats()
	if state != StateClosed {
		t.Errorf("Expected state Closed, got %s", state)
	}
	if requestCount != 3 {
		t.Errorf("Expected 3 requests, got %d", requestCount)
	}
	if failureCount != 1 {
		t.Errorf("Expected 1 failure, got %d", failureCount)
	}
	if failureRate < 33.0 || failureRate > 34.0 {
		t.Errorf("Expected failure rate around 33.33%%, got %.2f%%", failureRate)
	}
}
