package assistant

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/incometax/taxbot/store"
)

// TokenCounter returns the number of model tokens in text.
type TokenCounter func(text string) int

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// CountTokens counts with cl100k_base, or estimates four runes per token when
// the encoding cannot be loaded.
func CountTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return EstimateTokens(text)
	}
	return len(encoding.Encode(text, nil, nil))
}

func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// trimHistory drops the oldest exchanges until the remaining turns fit in limit.
func trimHistory(history []*store.ChatMessage, limit int, count TokenCounter) []*store.ChatMessage {
	if limit <= 0 {
		return history
	}
	total := 0
	for _, m := range history {
		total += count(m.Content)
	}
	for total > limit && len(history) > 0 {
		drop := 2
		if len(history) < drop {
			drop = len(history)
		}
		for _, m := range history[:drop] {
			total -= count(m.Content)
		}
		history = history[drop:]
	}
	return history
}
