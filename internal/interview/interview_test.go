package interview

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/lexiqai/voice-interview/internal/llm"
	"github.com/lexiqai/voice-interview/internal/resilience"
	"github.com/lexiqai/voice-interview/internal/storage"
)

type memStore struct {
	mu      sync.Mutex
	data    map[int64][]byte
	puts    int
	failPut error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[int64][]byte)}
}

func (s *memStore) Get(ctx context.Context, id int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return d, nil
}

func (s *memStore) Put(ctx context.Context, id int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return s.failPut
	}
	s.puts++
	s.data[id] = append([]byte(nil), data...)
	return nil
}

type oneShot struct{ text string }

func (s *oneShot) Recv() (string, error) {
	if s.text == "" {
		return "", io.EOF
	}
	t := s.text
	s.text = ""
	return t, nil
}

func (s *oneShot) Close() error { return nil }

type judgeCompleter struct {
	replies []string
	calls   [][]llm.Message
}

func (c *judgeCompleter) Stream(ctx context.Context, messages []llm.Message) (llm.Stream, error) {
	c.calls = append(c.calls, messages)
	reply := ""
	if len(c.replies) > 0 {
		reply, c.replies = c.replies[0], c.replies[1:]
	}
	return &oneShot{text: reply}, nil
}

var noRetry = Options{Retry: &resilience.RetryConfig{MaxAttempts: 1}}

func TestProgression(t *testing.T) {
	ctx := context.Background()
	iv := New(1, []string{"A", "B"}, nil, noRetry)

	if iv.Progress() != -1 {
		t.Fatalf("Expected progress -1, got %d", iv.Progress())
	}

	msgs, err := iv.ContextOrAdvance(ctx)
	if err != nil {
		t.Fatalf("ContextOrAdvance failed: %v", err)
	}
	if iv.Progress() != 0 {
		t.Errorf("Expected progress 0, got %d", iv.Progress())
	}
	window := iv.Messages().Messages()
	if len(window) != 2 {
		t.Fatalf("Expected 2 seed messages, got %d", len(window))
	}
	if window[0].Role != llm.RoleAssistant || window[0].Content != "当前的访谈核心应该聚焦在`A`。" {
		t.Errorf("Unexpected topic seed %+v", window[0])
	}
	if window[1].Role != llm.RoleUser || window[1].Content != "您好，接下来要做些什么呢？" {
		t.Errorf("Unexpected opener seed %+v", window[1])
	}
	if len(msgs) != 3 || msgs[0].Role != llm.RoleSystem {
		t.Errorf("Expected system prompt plus seeds, got %d messages", len(msgs))
	}

	next, err := iv.Advance(ctx)
	if err != nil || !next {
		t.Fatalf("Expected second topic, got %v, %v", next, err)
	}
	if iv.Progress() != 1 {
		t.Errorf("Expected progress 1, got %d", iv.Progress())
	}
	if first := iv.Messages().Messages()[0]; first.Content != "当前的访谈核心应该聚焦在`B`。" {
		t.Errorf("Unexpected topic seed %q", first.Content)
	}

	next, err = iv.Advance(ctx)
	if err != nil || next {
		t.Fatalf("Expected terminal advance to return false, got %v, %v", next, err)
	}
	if iv.Progress() != 2 || !iv.Finished() {
		t.Errorf("Expected finished at progress 2, got %d", iv.Progress())
	}

	msgs, err = iv.ContextOrAdvance(ctx)
	if err != nil || msgs != nil {
		t.Errorf("Expected no context after finish, got %v, %v", msgs, err)
	}

	if _, err := iv.Advance(ctx); !errors.Is(err, ErrFinished) {
		t.Errorf("Expected ErrFinished, got %v", err)
	}
	if iv.Progress() != 2 {
		t.Errorf("Expected progress to stay 2, got %d", iv.Progress())
	}
}

func TestNoTopicsFinishesImmediately(t *testing.T) {
	iv := New(1, nil, nil, noRetry)
	msgs, err := iv.ContextOrAdvance(context.Background())
	if err != nil || msgs != nil {
		t.Errorf("Expected nil context, got %v, %v", msgs, err)
	}
	if !iv.Finished() {
		t.Error("Expected interview to be finished")
	}
}

func TestAdvanceKeepsHistory(t *testing.T) {
	ctx := context.Background()
	iv := New(1, []string{"A", "B"}, nil, noRetry)
	_, _ = iv.ContextOrAdvance(ctx)
	_ = iv.Append(ctx, llm.RoleUser, "我是学生")
	_ = iv.Append(ctx, llm.RoleAssistant, "好的")
	_, _ = iv.Advance(ctx)

	snap := iv.Snapshot()
	if snap.History.Len() != 2 {
		t.Errorf("Expected history of 2, got %d", snap.History.Len())
	}
	if snap.Messages.Len() != 2 {
		t.Errorf("Expected reseeded window of 2, got %d", snap.Messages.Len())
	}
}

func TestPersistAfterMutation(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	iv, err := Open(ctx, store, 9, []string{"A"}, noRetry)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if store.puts != 1 {
		t.Errorf("Expected new record to be saved, got %d puts", store.puts)
	}

	_, _ = iv.ContextOrAdvance(ctx)
	_ = iv.Append(ctx, llm.RoleUser, "hello")
	if store.puts != 3 {
		t.Errorf("Expected 3 puts, got %d", store.puts)
	}

	var saved map[string]any
	if err := json.Unmarshal(store.data[9], &saved); err != nil {
		t.Fatalf("decode saved record: %v", err)
	}
	for _, key := range []string{"id", "progress", "questions", "history", "messages"} {
		if _, ok := saved[key]; !ok {
			t.Errorf("Expected key %q in saved record", key)
		}
	}

	reopened, err := Open(ctx, store, 9, []string{"ignored"}, noRetry)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.Progress() != 0 {
		t.Errorf("Expected progress 0 after reload, got %d", reopened.Progress())
	}
	if topic, _ := reopened.Topic(); topic != "A" {
		t.Errorf("Expected stored topics to win, got %q", topic)
	}
	last, _ := reopened.Messages().Last()
	if last.Content != "您好，接下来要做些什么呢？,hello" {
		t.Errorf("Unexpected last message %q", last.Content)
	}
}

func TestPersistFailureIsReported(t *testing.T) {
	store := newMemStore()
	iv := New(3, []string{"A"}, store, noRetry)
	store.failPut = errors.New("disk full")

	if err := iv.Append(context.Background(), llm.RoleUser, "x"); err == nil {
		t.Error("Expected save error")
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"当前对话中被试没有明确回答访谈的核心问题，所以访谈继续。\n当前议题未结束：false", false},
		{"被试已经回答了所有问题。\n已确认结束：true", true},
		{"TRUE", false},
		{"", false},
		{"虽然用户说了true这个词，但访谈未结束：false", true},
	}
	for _, tt := range tests {
		if got := ParseVerdict(tt.text); got != tt.want {
			t.Errorf("ParseVerdict(%q): expected %v, got %v", tt.text, tt.want, got)
		}
	}
}

func TestJudgeCompletion(t *testing.T) {
	ctx := context.Background()
	iv := New(1, []string{"你的职业"}, nil, noRetry)
	_, _ = iv.ContextOrAdvance(ctx)
	_ = iv.Append(ctx, llm.RoleAssistant, "你是做什么工作的？")

	c := &judgeCompleter{replies: []string{"当前对话中被试没有明确回答...：false"}}
	done, err := iv.JudgeCompletion(ctx, c)
	if err != nil || done {
		t.Errorf("Expected false verdict, got %v, %v", done, err)
	}

	req := c.calls[0]
	if req[0].Role != llm.RoleSystem || req[0].Content != judgePrompt {
		t.Errorf("Expected judge prompt, got %+v", req[0])
	}
	wantPrefix := "访谈议题:你的职业\n访谈内容:研究者:'当前的访谈核心应该聚焦在`你的职业`。'\n"
	if !strings.HasPrefix(req[1].Content, wantPrefix) {
		t.Errorf("Unexpected judge request %q", req[1].Content)
	}

	c = &judgeCompleter{replies: []string{"...已确认结束：true"}}
	if done, _ := iv.JudgeCompletion(ctx, c); !done {
		t.Error("Expected true verdict")
	}
}

func TestJudgeWithoutTopic(t *testing.T) {
	iv := New(1, []string{"A"}, nil, noRetry)
	if _, err := iv.JudgeCompletion(context.Background(), &judgeCompleter{}); err == nil {
		t.Error("Expected error before interview start")
	}
}

func TestMaintainAdvancesOnVerdict(t *testing.T) {
	ctx := context.Background()
	iv := New(1, []string{"A", "B"}, nil, noRetry)
	_, _ = iv.ContextOrAdvance(ctx)

	if err := iv.Maintain(ctx, &judgeCompleter{replies: []string{"未结束：false"}}); err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}
	if iv.Progress() != 0 {
		t.Errorf("Expected progress 0, got %d", iv.Progress())
	}

	if err := iv.Maintain(ctx, &judgeCompleter{replies: []string{"结束：true"}}); err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}
	if iv.Progress() != 1 {
		t.Errorf("Expected progress 1, got %d", iv.Progress())
	}
}

func TestMaintainSummarizesFirst(t *testing.T) {
	ctx := context.Background()
	iv := New(1, []string{"A"}, nil, Options{MaxLen: 60, Retry: &resilience.RetryConfig{MaxAttempts: 1}})
	_, _ = iv.ContextOrAdvance(ctx)
	_ = iv.Append(ctx, llm.RoleAssistant, strings.Repeat("问", 40))

	c := &judgeCompleter{replies: []string{"摘要", "false"}}
	if err := iv.Maintain(ctx, c); err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}
	if len(c.calls) != 2 {
		t.Fatalf("Expected summary and judge calls, got %d", len(c.calls))
	}
	if c.calls[0][0].Content != Prompts.Abstract {
		t.Error("Expected summary request first")
	}
	window := iv.Messages().Messages()
	if len(window) != 2 || window[0].Content != Prompts.Continuation || window[1].Content != "摘要" {
		t.Errorf("Unexpected window after summary %+v", window)
	}
}

func TestMaintainFinishedIsNoop(t *testing.T) {
	ctx := context.Background()
	iv := New(1, nil, nil, noRetry)
	_, _ = iv.ContextOrAdvance(ctx)

	c := &judgeCompleter{}
	if err := iv.Maintain(ctx, c); err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}
	if len(c.calls) != 0 {
		t.Errorf("Expected no completion calls, got %d", len(c.calls))
	}
}
