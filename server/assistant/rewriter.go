package assistant

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/prompts"

	"github.com/incometax/taxbot/store"
)

const contextualizeSystemPrompt = "Given a chat history and the latest user question " +
	"which might reference context in the chat history, formulate a standalone question " +
	"which can be understood without the chat history. Do NOT answer the question, " +
	"just reformulate it if needed and otherwise return it as is."

// Rewriter turns a follow-up question into one that stands on its own.
type Rewriter struct {
	model    ChatModel
	template prompts.ChatPromptTemplate
	logger   zerolog.Logger
}

func NewRewriter(model ChatModel, logger zerolog.Logger) *Rewriter {
	return &Rewriter{
		model: model,
		template: prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
			prompts.NewSystemMessagePromptTemplate(contextualizeSystemPrompt, nil),
			prompts.MessagesPlaceholder{VariableName: "chat_history"},
			prompts.NewHumanMessagePromptTemplate("{{.input}}", []string{"input"}),
		}),
		logger: logger,
	}
}

// Rewrite returns question unchanged when there is no history to resolve against.
func (r *Rewriter) Rewrite(ctx context.Context, question string, history []*store.ChatMessage) (string, error) {
	if len(history) == 0 {
		return question, nil
	}
	messages, err := r.template.FormatMessages(map[string]any{
		"chat_history": toChatMessages(history),
		"input":        question,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to format rewrite prompt")
	}
	out, err := r.model.Generate(ctx, toMessageContents(messages))
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return question, nil
	}
	r.logger.Debug().Str("question", question).Str("standalone", out).Int("turns", len(history)).Msg("rewrote question")
	return out, nil
}
