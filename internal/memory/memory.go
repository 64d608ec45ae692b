// Package memory keeps bounded conversation context and compacts it by
// summarization when it grows too large.
package memory

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/lexiqai/voice-interview/internal/llm"
	"github.com/lexiqai/voice-interview/internal/observability"
)

// DefaultMaxLen is the transcript size at which a window is summarized.
const DefaultMaxLen = 5000

// Prompts are the fixed texts a conversation kind summarizes with.
type Prompts struct {
	System       string // persona prepended to every completion
	Abstract     string // instruction for the summarizer
	Continuation string // first seed after a summary
}

// Summarize compacts w when its size has reached maxLen: the transcript is
// summarized and the window replaced by the continuation instruction plus the
// summary, truncated so that Size stays below maxLen. It reports whether the
// window was replaced. On error w is left untouched.
func Summarize(ctx context.Context, c llm.Completer, w *Window, p Prompts, maxLen int) (bool, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if w.Size() < maxLen {
		return false, nil
	}

	summary, err := llm.Drain(ctx, c, "summary", []llm.Message{
		{Role: llm.RoleSystem, Content: p.Abstract},
		{Role: llm.RoleUser, Content: "下面是先前访谈的内容:\n" + w.Transcript(nil)},
	})
	if err != nil {
		return false, fmt.Errorf("summarize window: %w", err)
	}

	w.Reset(
		Message{Role: llm.RoleUser, Content: p.Continuation},
		Message{Role: llm.RoleUser, Content: fitSummary(summary, p.Continuation, maxLen)},
	)
	observability.RecordSummary()
	return true, nil
}

// fitSummary truncates summary so that the two seed lines total less than maxLen.
func fitSummary(summary, continuation string, maxLen int) string {
	used := utf8.RuneCountInString(Line(llm.RoleUser, continuation)) + utf8.RuneCountInString(Line(llm.RoleUser, ""))
	budget := maxLen - 1 - used
	if budget <= 0 {
		return ""
	}
	if utf8.RuneCountInString(summary) <= budget {
		return summary
	}
	return string([]rune(summary)[:budget])
}

// Memory is a free-form chat conversation.
type Memory struct {
	window  *Window
	prompts Prompts
	maxLen  int
}

// New returns an empty conversation.
func New(p Prompts, maxLen int) *Memory {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Memory{window: NewWindow(), prompts: p, maxLen: maxLen}
}

// NewChat returns a conversation with the chat persona.
func NewChat(maxLen int) *Memory {
	return New(ChatPrompts, maxLen)
}

// Append records a turn, merging consecutive turns of the same role.
func (m *Memory) Append(role, content string) {
	m.window.Append(role, content)
}

// BuildContext returns the system prompt followed by the window.
func (m *Memory) BuildContext() []llm.Message {
	return append([]llm.Message{{Role: llm.RoleSystem, Content: m.prompts.System}}, m.window.LLM()...)
}

// Size is the transcript length of the window.
func (m *Memory) Size() int {
	return m.window.Size()
}

// Window exposes the underlying window.
func (m *Memory) Window() *Window {
	return m.window
}

// CheckAndSummarize compacts the window if it has reached the size limit.
func (m *Memory) CheckAndSummarize(ctx context.Context, c llm.Completer) (bool, error) {
	return Summarize(ctx, c, m.window, m.prompts, m.maxLen)
}

// Maintain is the periodic upkeep for a chat: summarization only.
func (m *Memory) Maintain(ctx context.Context, c llm.Completer) error {
	_, err := m.CheckAndSummarize(ctx, c)
	return err
}
