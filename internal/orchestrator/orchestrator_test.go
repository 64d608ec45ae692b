package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/voice-interview/internal/llm"
	"github.com/lexiqai/voice-interview/internal/memory"
	"github.com/lexiqai/voice-interview/internal/tts"
)

type fakeStream struct {
	ctx    context.Context
	deltas []string
	hold   chan struct{} // closed when the stream has sent everything and blocks
	fail   error
}

func (s *fakeStream) Recv() (string, error) {
	if len(s.deltas) > 0 {
		d := s.deltas[0]
		s.deltas = s.deltas[1:]
		return d, nil
	}
	if s.fail != nil {
		return "", s.fail
	}
	if s.hold != nil {
		close(s.hold)
		s.hold = nil
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error { return nil }

type fakeCompleter struct {
	deltas []string
	hold   chan struct{}
	fail   error
}

func (c *fakeCompleter) Stream(ctx context.Context, _ []llm.Message) (llm.Stream, error) {
	return &fakeStream{ctx: ctx, deltas: append([]string(nil), c.deltas...), hold: c.hold, fail: c.fail}, nil
}

type fakeSynth struct {
	mu    sync.Mutex
	texts []string
	fail  error
}

func (f *fakeSynth) SampleRate() int { return 24000 }

func (f *fakeSynth) Synthesize(ctx context.Context, text string, sink tts.Sink) error {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	return sink(make([]byte, 480))
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	audio  int
}

func (s *recordingSink) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) SendAudio(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio += len(data)
	return nil
}

func (s *recordingSink) texts(kind string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.events {
		if ev.Type == kind {
			out = append(out, ev.Text)
		}
	}
	return out
}

func newChat(t *testing.T) (*ChatConversation, *memory.Memory) {
	t.Helper()
	m := memory.NewChat(0)
	r := memory.NewRegistry("chat", func(id int64) (*memory.Memory, error) { return m, nil })
	lease, err := r.Acquire(1)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	t.Cleanup(lease.Release)
	return NewChatConversation(lease), m
}

func TestRunCompletesTurn(t *testing.T) {
	conv, m := newChat(t)
	_ = conv.Append(context.Background(), llm.RoleUser, "你好")

	c := &fakeCompleter{deltas: []string{"你好，", "很高兴认识你。", "请问你", "是做什么的？"}}
	synth := &fakeSynth{}
	enc, _ := tts.NewEncoder(tts.EncodingMulaw, 24000, 8000)
	sink := &recordingSink{}

	r := NewRunner(c, synth, enc, 2)
	if err := r.Run(context.Background(), conv, sink); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := "你好，很高兴认识你。请问你是做什么的？"
	deltas := sink.texts(EventDelta)
	if len(deltas) != 4 {
		t.Errorf("Expected 4 deltas, got %d", len(deltas))
	}
	var joined string
	for _, s := range sink.texts(EventSentence) {
		joined += s
	}
	if joined != want {
		t.Errorf("Expected sentences to rebuild %q, got %q", want, joined)
	}
	if len(synth.texts) != len(sink.texts(EventSentence)) {
		t.Errorf("Expected one synthesis per sentence, got %d", len(synth.texts))
	}
	if sink.audio != 80*len(synth.texts) {
		t.Errorf("Expected %d mu-law bytes, got %d", 80*len(synth.texts), sink.audio)
	}
	if len(sink.texts(EventStart)) != 1 {
		t.Errorf("Expected a single start event")
	}
	if ends := sink.texts(EventEnd); len(ends) != 1 || ends[0] != want {
		t.Errorf("Expected end event with full reply, got %v", ends)
	}

	last, _ := m.Window().Last()
	if last.Role != llm.RoleAssistant || last.Content != want {
		t.Errorf("Expected assistant reply in memory, got %+v", last)
	}
}

func TestRunCancelledAppendsNothing(t *testing.T) {
	conv, m := newChat(t)
	_ = conv.Append(context.Background(), llm.RoleUser, "你好")
	before := m.Window().Len()

	hold := make(chan struct{})
	c := &fakeCompleter{deltas: []string{"我想问一下，", "你"}, hold: hold}
	sink := &recordingSink{}
	r := NewRunner(c, &fakeSynth{}, nil, 2)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx, conv, sink) }()

	<-hold
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if m.Window().Len() != before {
		t.Errorf("Expected %d messages after barge-in, got %d", before, m.Window().Len())
	}
	if len(sink.texts(EventEnd)) != 0 {
		t.Error("Expected no end event for a cancelled turn")
	}
}

func TestRunGenerationFailure(t *testing.T) {
	tests := []struct {
		name  string
		c     *fakeCompleter
		synth *fakeSynth
	}{
		{"completion", &fakeCompleter{deltas: []string{"半句"}, fail: errors.New("upstream reset")}, &fakeSynth{}},
		{"synthesis", &fakeCompleter{deltas: []string{"这是一个足够长的句子。"}}, &fakeSynth{fail: errors.New("tts down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv, m := newChat(t)
			_ = conv.Append(context.Background(), llm.RoleUser, "你好")

			err := NewRunner(tt.c, tt.synth, nil, 2).Run(context.Background(), conv, &recordingSink{})
			if err == nil {
				t.Fatal("Expected error")
			}
			if m.Window().Len() != 1 {
				t.Errorf("Expected only the user message, got %d", m.Window().Len())
			}
		})
	}
}

type finishedConv struct{}

func (finishedConv) Append(context.Context, string, string) error    { return nil }
func (finishedConv) Context(context.Context) ([]llm.Message, error) { return nil, nil }

func TestRunFinishedConversation(t *testing.T) {
	sink := &recordingSink{}
	err := NewRunner(&fakeCompleter{}, nil, nil, 0).Run(context.Background(), finishedConv{}, sink)
	if !errors.Is(err, ErrFinished) {
		t.Errorf("Expected ErrFinished, got %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].Type != EventFinished {
		t.Errorf("Expected a finished event, got %+v", sink.events)
	}
}

func TestRunTextOnly(t *testing.T) {
	conv, _ := newChat(t)
	sink := &recordingSink{}
	if err := NewRunner(&fakeCompleter{deltas: []string{"好"}}, nil, nil, 0).Run(context.Background(), conv, sink); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sink.audio != 0 || len(sink.texts(EventStart)) != 0 {
		t.Error("Expected no audio without a synthesizer")
	}
	if s := sink.texts(EventSentence); len(s) != 1 || s[0] != "好" {
		t.Errorf("Expected tail sentence, got %v", s)
	}
}

func TestTurnsSingleActive(t *testing.T) {
	var turns Turns
	if turns.Cancel() {
		t.Error("Expected no active turn")
	}

	firstStarted := make(chan struct{})
	firstDone := make(chan struct{})
	turns.Start(context.Background(), func(ctx context.Context) {
		close(firstStarted)
		<-ctx.Done()
		close(firstDone)
	})
	<-firstStarted

	secondStarted := make(chan struct{})
	turns.Start(context.Background(), func(ctx context.Context) {
		close(secondStarted)
		<-ctx.Done()
	})
	select {
	case <-firstDone:
	default:
		t.Error("Expected first turn to have exited before the second started")
	}
	<-secondStarted

	wait := turns.Interrupt()
	if turns.Cancel() {
		t.Error("Expected nothing left to cancel after Interrupt")
	}
	if !wait() {
		t.Error("Expected interrupted turn to report it was running")
	}

	turns.Start(context.Background(), func(ctx context.Context) {})
	time.Sleep(10 * time.Millisecond)
	if turns.Cancel() {
		t.Error("Expected a finished turn to report inactive")
	}
}
