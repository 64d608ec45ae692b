package orchestrator

import (
	"context"

	"github.com/lexiqai/voice-interview/internal/interview"
	"github.com/lexiqai/voice-interview/internal/llm"
	"github.com/lexiqai/voice-interview/internal/memory"
)

// ChatConversation is a leased free-form chat memory.
type ChatConversation struct {
	lease *memory.Lease[*memory.Memory]
}

func NewChatConversation(lease *memory.Lease[*memory.Memory]) *ChatConversation {
	return &ChatConversation{lease: lease}
}

func (c *ChatConversation) ID() int64 { return c.lease.ID() }

func (c *ChatConversation) Append(_ context.Context, role, content string) error {
	return c.lease.With(func(m *memory.Memory) error {
		m.Append(role, content)
		return nil
	})
}

func (c *ChatConversation) Context(context.Context) ([]llm.Message, error) {
	var msgs []llm.Message
	err := c.lease.With(func(m *memory.Memory) error {
		msgs = m.BuildContext()
		return nil
	})
	return msgs, err
}

// Close releases the lease.
func (c *ChatConversation) Close() error {
	c.lease.Release()
	return nil
}

// InterviewConversation is a leased interview record.
type InterviewConversation struct {
	lease *memory.Lease[*interview.Interview]
}

func NewInterviewConversation(lease *memory.Lease[*interview.Interview]) *InterviewConversation {
	return &InterviewConversation{lease: lease}
}

func (c *InterviewConversation) ID() int64 { return c.lease.ID() }

func (c *InterviewConversation) Append(ctx context.Context, role, content string) error {
	return c.lease.With(func(iv *interview.Interview) error {
		return iv.Append(ctx, role, content)
	})
}

// Context starts the interview on first use; it returns nil once every topic
// is covered.
func (c *InterviewConversation) Context(ctx context.Context) ([]llm.Message, error) {
	var msgs []llm.Message
	err := c.lease.With(func(iv *interview.Interview) error {
		var err error
		msgs, err = iv.ContextOrAdvance(ctx)
		return err
	})
	return msgs, err
}

func (c *InterviewConversation) Close() error {
	c.lease.Release()
	return nil
}
