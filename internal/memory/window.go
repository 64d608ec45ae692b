package memory

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/lexiqai/voice-interview/internal/llm"
)

// mergeSeparator joins consecutive same-role contributions.
const mergeSeparator = ","

// Message is one turn of a conversation. Parts keeps every contribution that
// was merged into it; Content is their rendered form.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Parts   []string `json:"parts,omitempty"`
}

// LLM converts the message to its wire form.
func (m Message) LLM() llm.Message {
	return llm.Message{Role: m.Role, Content: m.Content}
}

func (m *Message) merge(content string) {
	if len(m.Parts) == 0 {
		m.Parts = []string{m.Content}
	}
	m.Parts = append(m.Parts, content)
	m.Content = m.Content + mergeSeparator + content
}

// Label is the speaker prefix used in transcripts.
func Label(role string) string {
	if role == llm.RoleUser {
		return "用户"
	}
	return "研究者"
}

// Line renders one transcript line.
func Line(role, content string) string {
	return Label(role) + ":'" + content + "'\n"
}

// Window is an ordered message list in which no two neighbours share a role.
// It does no locking; the owning conversation serializes access.
type Window struct {
	msgs []Message
}

// NewWindow returns a window holding seed as-is.
func NewWindow(seed ...Message) *Window {
	w := &Window{}
	w.Reset(seed...)
	return w
}

// Append adds a turn, merging it into the last message when the role repeats.
func (w *Window) Append(role, content string) {
	if n := len(w.msgs); n > 0 && w.msgs[n-1].Role == role {
		w.msgs[n-1].merge(content)
		return
	}
	w.msgs = append(w.msgs, Message{Role: role, Content: content})
}

// Reset replaces the whole window. Seeds are installed verbatim, without
// merging, so a seed may hold two messages with the same role.
func (w *Window) Reset(seed ...Message) {
	w.msgs = append([]Message(nil), seed...)
}

// Messages returns a copy of the window.
func (w *Window) Messages() []Message {
	out := make([]Message, len(w.msgs))
	for i, m := range w.msgs {
		out[i] = m
		out[i].Parts = append([]string(nil), m.Parts...)
	}
	return out
}

func (w *Window) Len() int {
	return len(w.msgs)
}

// Last returns the newest message.
func (w *Window) Last() (Message, bool) {
	if len(w.msgs) == 0 {
		return Message{}, false
	}
	return w.msgs[len(w.msgs)-1], true
}

// Transcript serializes the window one labelled line per message. A nil
// filter keeps every role.
func (w *Window) Transcript(keep func(role string) bool) string {
	var b strings.Builder
	for _, m := range w.msgs {
		if keep != nil && !keep(m.Role) {
			continue
		}
		b.WriteString(Line(m.Role, m.Content))
	}
	return b.String()
}

// Size is the transcript length in code points.
func (w *Window) Size() int {
	return utf8.RuneCountInString(w.Transcript(nil))
}

// LLM returns the window in wire form.
func (w *Window) LLM() []llm.Message {
	out := make([]llm.Message, len(w.msgs))
	for i, m := range w.msgs {
		out[i] = m.LLM()
	}
	return out
}

func (w *Window) MarshalJSON() ([]byte, error) {
	if w.msgs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(w.msgs)
}

func (w *Window) UnmarshalJSON(data []byte) error {
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}
	w.msgs = msgs
	return nil
}
