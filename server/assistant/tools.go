package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/tools"
)

const previewRunes = 400

type searchLawTool struct {
	assistant *Assistant
}

// NewSearchTool exposes passage search as a langchaingo tool.
func NewSearchTool(a *Assistant) tools.Tool {
	return &searchLawTool{assistant: a}
}

func (t *searchLawTool) Name() string { return "search_tax_law" }

func (t *searchLawTool) Description() string {
	return "Search the Korean Income Tax Act (소득세법) for passages relevant to a question. Input should be the question."
}

func (t *searchLawTool) Call(ctx context.Context, input string) (string, error) {
	question, fragments, err := t.assistant.Search(ctx, input)
	if err != nil {
		return "", err
	}
	t.assistant.logger.Info().Str("tool", t.Name()).Str("question", question).Int("fragments", len(fragments)).Msg("tool call")
	if len(fragments) == 0 {
		return "No relevant passages found.", nil
	}
	var sb strings.Builder
	for i, f := range fragments {
		preview := []rune(f.Content)
		text := f.Content
		if len(preview) > previewRunes {
			text = string(preview[:previewRunes]) + "..."
		}
		source := f.Metadata["source"]
		if source == "" {
			source = f.ID
		}
		sb.WriteString(fmt.Sprintf("[%d] %s (score %.2f):\n%s\n\n", i+1, source, f.Score, text))
	}
	return sb.String(), nil
}
