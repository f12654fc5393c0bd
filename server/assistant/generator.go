package assistant

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"

	"github.com/incometax/taxbot/plugin/llm"
)

// Generator produces grounded answers.
type Generator struct {
	model      ChatModel
	template   prompts.ChatPromptTemplate
	examples   []llms.ChatMessage
	tokenLimit int
	count      TokenCounter
	logger     zerolog.Logger
}

func NewGenerator(model ChatModel, examples []ExamplePair, tokenLimit int, logger zerolog.Logger) (*Generator, error) {
	exampleMessages, err := formatExamples(examples)
	if err != nil {
		return nil, err
	}
	return &Generator{
		model:      model,
		template:   newAnswerTemplate(),
		examples:   exampleMessages,
		tokenLimit: tokenLimit,
		count:      CountTokens,
		logger:     logger,
	}, nil
}

// SetTokenCounter replaces the history token counter.
func (g *Generator) SetTokenCounter(count TokenCounter) {
	g.count = count
}

// BuildPrompt assembles the messages sent to the model.
func (g *Generator) BuildPrompt(req Request) ([]llms.MessageContent, error) {
	history := trimHistory(req.History, g.tokenLimit, g.count)
	if dropped := len(req.History) - len(history); dropped > 0 {
		g.logger.Debug().Int("dropped", dropped).Int("limit", g.tokenLimit).Msg("history trimmed to token limit")
	}
	messages, err := g.template.FormatMessages(map[string]any{
		"context":      formatContext(req.Fragments),
		"examples":     g.examples,
		"chat_history": toChatMessages(history),
		"input":        req.Question,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to format answer prompt")
	}
	return toMessageContents(messages), nil
}

// Generate streams the answer to fn and returns the full text.
func (g *Generator) Generate(ctx context.Context, req Request, fn llm.StreamFunc) (string, error) {
	messages, err := g.BuildPrompt(req)
	if err != nil {
		return "", err
	}
	var answer strings.Builder
	err = g.model.Stream(ctx, messages, func(ctx context.Context, chunk string) error {
		answer.WriteString(chunk)
		if fn == nil {
			return nil
		}
		return fn(ctx, chunk)
	})
	if err != nil {
		return "", err
	}
	return answer.String(), nil
}
