package assistant

import (
	"context"

	"github.com/tmc/langchaingo/llms"

	"github.com/incometax/taxbot/plugin/llm"
	"github.com/incometax/taxbot/plugin/vectorstore"
	"github.com/incometax/taxbot/store"
)

// ChatModel is the chat completion service. *llm.Client implements it.
type ChatModel interface {
	Generate(ctx context.Context, messages []llms.MessageContent) (string, error)
	Stream(ctx context.Context, messages []llms.MessageContent, fn llm.StreamFunc) error
}

// Retriever finds the passages relevant to a question. *vectorstore.Store implements it.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]vectorstore.Fragment, error)
}

func toChatMessages(history []*store.ChatMessage) []llms.ChatMessage {
	list := make([]llms.ChatMessage, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case store.RoleAI:
			list = append(list, llms.AIChatMessage{Content: m.Content})
		default:
			list = append(list, llms.HumanChatMessage{Content: m.Content})
		}
	}
	return list
}

func toMessageContents(messages []llms.ChatMessage) []llms.MessageContent {
	list := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		list = append(list, llms.TextParts(m.GetType(), m.GetContent()))
	}
	return list
}
