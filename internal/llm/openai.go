package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lexiqai/voice-interview/internal/resilience"
)

// OpenAI streams completions from any OpenAI-compatible endpoint.
type OpenAI struct {
	client *openai.Client
	opts   Options
}

// NewOpenAI creates a client. opts.BaseURL points it at a compatible server.
func NewOpenAI(apiKey string, opts Options) *OpenAI {
	config := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(config), opts: opts}
}

// Stream implements Completer.
func (c *OpenAI) Stream(ctx context.Context, messages []Message) (Stream, error) {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	req := openai.ChatCompletionRequest{
		Model:       c.opts.Model,
		Messages:    msgs,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
		Stream:      true,
	}

	ctx, cancel := context.WithCancel(ctx)
	start := time.Now()

	var raw *openai.ChatCompletionStream
	err := guard(ctx, c.opts.Breaker, func(ctx context.Context) error {
		s, err := c.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return classify(fmt.Errorf("openai stream: %w", err))
		}
		raw = s
		return nil
	})
	if err != nil {
		cancel()
		return nil, err
	}

	return &openAIStream{ctx: ctx, cancel: cancel, raw: raw, ft: firstToken{start: start}}, nil
}

// classify marks rate limits and server errors as retryable.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return resilience.NewRetryableError(err)
	}
	return err
}

type openAIStream struct {
	ctx       context.Context
	cancel    context.CancelFunc
	raw       *openai.ChatCompletionStream
	ft        firstToken
	closeOnce sync.Once
}

func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.raw.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("openai stream recv: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		s.ft.observe()
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *openAIStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.raw.Close()
	})
	return nil
}
