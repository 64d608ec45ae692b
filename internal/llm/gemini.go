package llm

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"google.golang.org/genai"
)

// Gemini streams completions from the Gemini API.
type Gemini struct {
	client *genai.Client
	opts   Options
}

// NewGemini creates a client. opts.BaseURL overrides the API endpoint.
func NewGemini(ctx context.Context, apiKey string, opts Options) (*Gemini, error) {
	config := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if opts.BaseURL != "" {
		config.HTTPOptions.BaseURL = opts.BaseURL
	}

	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, opts: opts}, nil
}

func convertGeminiMessages(messages []Message) (*genai.Content, []*genai.Content) {
	var systemInstruction *genai.Content
	var contents []*genai.Content

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			systemInstruction = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
		case RoleUser:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}

	return systemInstruction, contents
}

type geminiChunk struct {
	text string
	err  error
}

// Stream implements Completer. The call counts as opened once the first
// response chunk arrives, so the breaker sees connection and auth failures.
func (c *Gemini) Stream(ctx context.Context, messages []Message) (Stream, error) {
	systemInstruction, contents := convertGeminiMessages(messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("gemini: no conversation messages provided")
	}

	config := &genai.GenerateContentConfig{SystemInstruction: systemInstruction}
	if c.opts.Temperature > 0 {
		temperature := c.opts.Temperature
		config.Temperature = &temperature
	}
	if c.opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(c.opts.MaxTokens)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &geminiStream{
		ctx:    ctx,
		cancel: cancel,
		chunks: make(chan geminiChunk),
		ft:     firstToken{start: time.Now()},
	}

	go func() {
		defer close(s.chunks)
		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.opts.Model, contents, config) {
			chunk := geminiChunk{err: err}
			if err == nil {
				chunk.text = resp.Text()
			}
			select {
			case s.chunks <- chunk:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	err := guard(ctx, c.opts.Breaker, func(ctx context.Context) error {
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				s.done = true
				return nil
			}
			if chunk.err != nil {
				return fmt.Errorf("gemini stream: %w", chunk.err)
			}
			s.head = &chunk
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

type geminiStream struct {
	ctx       context.Context
	cancel    context.CancelFunc
	chunks    chan geminiChunk
	head      *geminiChunk
	done      bool
	ft        firstToken
	closeOnce sync.Once
}

func (s *geminiStream) Recv() (string, error) {
	for {
		var chunk geminiChunk
		switch {
		case s.head != nil:
			chunk, s.head = *s.head, nil
		case s.done:
			return "", io.EOF
		default:
			select {
			case c, ok := <-s.chunks:
				if !ok {
					if err := s.ctx.Err(); err != nil {
						return "", err
					}
					s.done = true
					return "", io.EOF
				}
				chunk = c
			case <-s.ctx.Done():
				return "", s.ctx.Err()
			}
		}

		if chunk.err != nil {
			return "", fmt.Errorf("gemini stream recv: %w", chunk.err)
		}
		if chunk.text == "" {
			continue
		}
		s.ft.observe()
		return chunk.text, nil
	}
}

func (s *geminiStream) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}
