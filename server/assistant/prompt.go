package assistant

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"

	"github.com/incometax/taxbot/plugin/vectorstore"
	"github.com/incometax/taxbot/store"
)

// CitationPrefix starts every answer.
const CitationPrefix = "소득세법 (XX조)에 따르면"

const answerSystemPrompt = "당신은 소득세법 전문가입니다. 사용자의 소득세법에 관한 질문에 답변을 해주세요. " +
	"아래에 제공된 문서를 활용해서 답변해 주시고 " +
	"답변을 알 수 없다면 모른다고 답변해 주세요. " +
	"답변을 제공할 때는 " + CitationPrefix + " 이라고 시작하면서 답변해주시고 " +
	"2-3 문장정도의 짧은 내용의 답변을 원합니다.\n\n" +
	"{{.context}}"

// Request is everything the answer depends on.
type Request struct {
	Question  string
	Fragments []vectorstore.Fragment
	History   []*store.ChatMessage
}

func newAnswerTemplate() prompts.ChatPromptTemplate {
	return prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
		prompts.NewSystemMessagePromptTemplate(answerSystemPrompt, []string{"context"}),
		prompts.MessagesPlaceholder{VariableName: "examples"},
		prompts.MessagesPlaceholder{VariableName: "chat_history"},
		prompts.NewHumanMessagePromptTemplate("{{.input}}", []string{"input"}),
	})
}

func newExampleTemplate() prompts.ChatPromptTemplate {
	return prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
		prompts.NewHumanMessagePromptTemplate("{{.input}}", []string{"input"}),
		prompts.NewAIMessagePromptTemplate("{{.answer}}", []string{"answer"}),
	})
}

// formatExamples renders every example as a human/ai message pair.
func formatExamples(examples []ExamplePair) ([]llms.ChatMessage, error) {
	template := newExampleTemplate()
	list := []llms.ChatMessage{}
	for _, example := range examples {
		messages, err := template.FormatMessages(map[string]any{
			"input":  example.Input,
			"answer": example.Answer,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to format example")
		}
		list = append(list, messages...)
	}
	return list, nil
}

// formatContext joins the passages the way they are stuffed into the system prompt.
func formatContext(fragments []vectorstore.Fragment) string {
	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		parts = append(parts, f.Content)
	}
	return strings.Join(parts, "\n\n")
}
