// Package llmtest provides a scripted llms.Model for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// Responder computes the reply for one call.
type Responder func(messages []llms.MessageContent) (string, error)

// Model is a fake chat model. Streaming replies are split on spaces.
type Model struct {
	mu      sync.Mutex
	respond Responder
	calls   [][]llms.MessageContent
}

func NewModel(respond Responder) *Model {
	return &Model{respond: respond}
}

// Static replies with the same text to every call.
func Static(reply string) *Model {
	return NewModel(func([]llms.MessageContent) (string, error) { return reply, nil })
}

func (m *Model) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	m.mu.Lock()
	m.calls = append(m.calls, messages)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reply, err := m.respond(messages)
	if err != nil {
		return nil, err
	}
	if opts.StreamingFunc != nil {
		for _, word := range strings.SplitAfter(reply, " ") {
			if word == "" {
				continue
			}
			if err := opts.StreamingFunc(ctx, []byte(word)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
}

func (m *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// Calls returns the messages of every call so far.
func (m *Model) Calls() [][]llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]llms.MessageContent(nil), m.calls...)
}

// Text flattens the text parts of a message.
func Text(m llms.MessageContent) string {
	var sb strings.Builder
	for _, part := range m.Parts {
		if p, ok := part.(llms.TextContent); ok {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}
