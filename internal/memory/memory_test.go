package memory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/lexiqai/voice-interview/internal/llm"
)

type scriptedStream struct {
	deltas []string
}

func (s *scriptedStream) Recv() (string, error) {
	if len(s.deltas) == 0 {
		return "", io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *scriptedStream) Close() error { return nil }

type scriptedCompleter struct {
	reply string
	err   error
	calls [][]llm.Message
}

func (c *scriptedCompleter) Stream(ctx context.Context, messages []llm.Message) (llm.Stream, error) {
	c.calls = append(c.calls, messages)
	if c.err != nil {
		return nil, c.err
	}
	return &scriptedStream{deltas: []string{c.reply}}, nil
}

func TestAppendMerge(t *testing.T) {
	w := NewWindow()
	w.Append(llm.RoleUser, "你好")
	w.Append(llm.RoleUser, "我叫小明")
	w.Append(llm.RoleAssistant, "你好小明")

	msgs := w.Messages()
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "你好,我叫小明" {
		t.Errorf("Expected merged content, got %q", msgs[0].Content)
	}
	if len(msgs[0].Parts) != 2 || msgs[0].Parts[1] != "我叫小明" {
		t.Errorf("Expected parts to keep each contribution, got %q", msgs[0].Parts)
	}
	if msgs[1].Parts != nil {
		t.Errorf("Expected no parts on unmerged message, got %q", msgs[1].Parts)
	}
}

func TestMergeInvariant(t *testing.T) {
	roles := []string{llm.RoleUser, llm.RoleAssistant, llm.RoleSystem}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		w := NewWindow()
		for j := 0; j < rng.Intn(40); j++ {
			w.Append(roles[rng.Intn(len(roles))], "x")
		}
		msgs := w.Messages()
		for j := 1; j < len(msgs); j++ {
			if msgs[j].Role == msgs[j-1].Role {
				t.Fatalf("Adjacent messages %d and %d share role %s", j-1, j, msgs[j].Role)
			}
		}
	}
}

func TestSize(t *testing.T) {
	w := NewWindow()
	w.Append(llm.RoleUser, "你好")
	w.Append(llm.RoleAssistant, "hi")

	want := "用户:'你好'\n研究者:'hi'\n"
	if got := w.Transcript(nil); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if got := w.Size(); got != 17 {
		t.Errorf("Expected size 17, got %d", got)
	}
}

func TestBuildContext(t *testing.T) {
	m := NewChat(0)
	m.Append(llm.RoleUser, "hello")

	ctx := m.BuildContext()
	if len(ctx) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(ctx))
	}
	if ctx[0].Role != llm.RoleSystem || ctx[0].Content != ChatPrompts.System {
		t.Errorf("Expected system prompt first, got %+v", ctx[0])
	}
	if ctx[1].Role != llm.RoleUser || ctx[1].Content != "hello" {
		t.Errorf("Unexpected message %+v", ctx[1])
	}
}

func TestCheckAndSummarizeBelowLimit(t *testing.T) {
	c := &scriptedCompleter{reply: "summary"}
	m := NewChat(100)
	m.Append(llm.RoleUser, "short")

	done, err := m.CheckAndSummarize(context.Background(), c)
	if err != nil || done {
		t.Errorf("Expected no-op, got %v, %v", done, err)
	}
	if len(c.calls) != 0 {
		t.Errorf("Expected no completion calls, got %d", len(c.calls))
	}
}

func TestCheckAndSummarize(t *testing.T) {
	c := &scriptedCompleter{reply: "用户介绍了自己"}
	m := NewChat(50)
	m.Append(llm.RoleUser, strings.Repeat("长", 30))
	m.Append(llm.RoleAssistant, strings.Repeat("回", 30))

	done, err := m.CheckAndSummarize(context.Background(), c)
	if err != nil || !done {
		t.Fatalf("Expected summary, got %v, %v", done, err)
	}

	req := c.calls[0]
	if req[0].Role != llm.RoleSystem || req[0].Content != ChatPrompts.Abstract {
		t.Errorf("Expected abstract prompt, got %+v", req[0])
	}
	if !strings.HasPrefix(req[1].Content, "下面是先前访谈的内容:\n用户:'") {
		t.Errorf("Unexpected summary request %q", req[1].Content)
	}

	msgs := m.Window().Messages()
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser || msgs[0].Content != ChatPrompts.Continuation {
		t.Errorf("Unexpected first seed %+v", msgs[0])
	}
	if msgs[1].Role != llm.RoleUser || msgs[1].Content != "用户介绍了自己" {
		t.Errorf("Unexpected summary seed %+v", msgs[1])
	}
	if m.Size() >= 50 {
		t.Errorf("Expected size below 50, got %d", m.Size())
	}
}

func TestSummaryIsTruncatedToBound(t *testing.T) {
	c := &scriptedCompleter{reply: strings.Repeat("总", 500)}
	m := NewChat(60)
	m.Append(llm.RoleUser, strings.Repeat("a", 80))

	if _, err := m.CheckAndSummarize(context.Background(), c); err != nil {
		t.Fatalf("CheckAndSummarize failed: %v", err)
	}
	if m.Window().Len() != 2 {
		t.Errorf("Expected 2 messages, got %d", m.Window().Len())
	}
	if m.Size() >= 60 {
		t.Errorf("Expected size below 60, got %d", m.Size())
	}
}

func TestSummarizeErrorKeepsWindow(t *testing.T) {
	c := &scriptedCompleter{err: errors.New("provider down")}
	m := NewChat(10)
	m.Append(llm.RoleUser, strings.Repeat("a", 20))
	before := m.Window().Messages()

	if _, err := m.CheckAndSummarize(context.Background(), c); err == nil {
		t.Fatal("Expected error")
	}
	after := m.Window().Messages()
	if len(after) != len(before) || after[0].Content != before[0].Content {
		t.Error("Expected window unchanged after failed summary")
	}
}

func TestWindowJSON(t *testing.T) {
	w := NewWindow()
	w.Append(llm.RoleUser, "a")
	w.Append(llm.RoleUser, "b")

	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var back Window
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	last, _ := back.Last()
	if last.Content != "a,b" || len(last.Parts) != 2 {
		t.Errorf("Unexpected message after reload %+v", last)
	}

	empty, _ := json.Marshal(NewWindow())
	if string(empty) != "[]" {
		t.Errorf("Expected [], got %s", empty)
	}
}
