package assistant

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/text/unicode/norm"

	"github.com/incometax/taxbot/internal/util"
	"github.com/incometax/taxbot/plugin/llm"
	"github.com/incometax/taxbot/plugin/llm/llmtest"
)

func defaultRules(t *testing.T) []Rule {
	t.Helper()
	rules, err := DefaultDictionary()
	require.NoError(t, err)
	require.NotEmpty(t, rules)
	return rules
}

func TestDefaultDictionary(t *testing.T) {
	rules := defaultRules(t)
	assert.Equal(t, "사람을 나타내는 표현 -> 거주자", rules[0].String())
}

func TestNormalizeLiteralRules(t *testing.T) {
	n := NewNormalizer(defaultRules(t), nil, false, zerolog.Nop())
	tests := []struct {
		question string
		want     string
	}{
		{"직장인의 종합소득세율은?", "거주자의 종합소득세율은?"},
		{"회사원도 상여금이 근로소득인가요?", "거주자도 상여금이 근로소득인가요?"},
		{"연봉 5천만원인 사람의 소득세는?", "연봉 5천만원인 거주자의 소득세는?"},
		{"양도소득의 과세표준은?", "양도소득의 과세표준은?"},
		{"거주자의 정의는?", "거주자의 정의는?"},
		{"사람은 기본공제를 받을 수 있나요?", "거주자는 기본공제를 받을 수 있나요?"},
		{"직장인이 연말정산을 하면 환급되나요?", "거주자가 연말정산을 하면 환급되나요?"},
		{"사람을 부양하면 공제되나요?", "거주자를 부양하면 공제되나요?"},
		{"회사원과 자영업자의 세율 차이는?", "거주자와 자영업자의 세율 차이는?"},
		{"사람으로서 납세의무가 있나요?", "거주자로서 납세의무가 있나요?"},
		{"사람들은 모두 신고해야 하나요?", "거주자들은 모두 신고해야 하나요?"},
		{"외국사람이 한국에서 일하면 세금은?", "외국사람이 한국에서 일하면 세금은?"},
		{"사람사람", "거주자사람"},
	}
	for _, tt := range tests {
		got, err := n.Normalize(context.Background(), tt.question)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.question)
	}
}

func TestNormalizeDecomposedInput(t *testing.T) {
	n := NewNormalizer(defaultRules(t), nil, false, zerolog.Nop())
	got, err := n.Normalize(context.Background(), norm.NFD.String("직장인의 세금"))
	require.NoError(t, err)
	assert.Equal(t, "거주자의 세금", got)
}

func TestNormalizeModelFallback(t *testing.T) {
	model := llmtest.NewModel(func(messages []llms.MessageContent) (string, error) {
		return "  70세 이상 거주자 공제는?  ", nil
	})
	client := llm.New(model, util.RetryPolicy{Attempts: 1}, 0, zerolog.Nop())
	n := NewNormalizer(defaultRules(t), client, true, zerolog.Nop())

	got, err := n.Normalize(context.Background(), "70세 이상 어르신 공제는?")
	require.NoError(t, err)
	assert.Equal(t, "70세 이상 거주자 공제는?", got)

	calls := model.Calls()
	require.Len(t, calls, 1)
	prompt := llmtest.Text(calls[0][0])
	assert.Contains(t, prompt, "사전: ['사람을 나타내는 표현 -> 거주자']")
	assert.True(t, strings.HasSuffix(prompt, "질문: 70세 이상 어르신 공제는?"))
}

func TestNormalizeModelEmptyOutputKeepsQuestion(t *testing.T) {
	client := llm.New(llmtest.Static("   "), util.RetryPolicy{Attempts: 1}, 0, zerolog.Nop())
	n := NewNormalizer(defaultRules(t), client, true, zerolog.Nop())

	got, err := n.Normalize(context.Background(), "양도소득의 과세표준은?")
	require.NoError(t, err)
	assert.Equal(t, "양도소득의 과세표준은?", got)
}

func TestNormalizeLiteralSkipsModel(t *testing.T) {
	model := llmtest.Static("should not be used")
	client := llm.New(model, util.RetryPolicy{Attempts: 1}, 0, zerolog.Nop())
	n := NewNormalizer(defaultRules(t), client, true, zerolog.Nop())

	got, err := n.Normalize(context.Background(), "직장인 연말정산")
	require.NoError(t, err)
	assert.Equal(t, "거주자 연말정산", got)
	assert.Empty(t, model.Calls())
}

func TestNormalizeParticleAfterConsonantTarget(t *testing.T) {
	rules := []Rule{{Description: "급여를 나타내는 표현", Target: "봉급", Aliases: []string{"페이"}}}
	n := NewNormalizer(rules, nil, false, zerolog.Nop())
	tests := []struct {
		question string
		want     string
	}{
		{"페이는 과세되나요?", "봉급은 과세되나요?"},
		{"페이가 오르면 세율도 오르나요?", "봉급이 오르면 세율도 오르나요?"},
		{"페이를 현금으로 받으면?", "봉급을 현금으로 받으면?"},
		{"페이로 받은 상여금은?", "봉급으로 받은 상여금은?"},
		{"페이와 상여금의 차이는?", "봉급과 상여금의 차이는?"},
	}
	for _, tt := range tests {
		got, err := n.Normalize(context.Background(), tt.question)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.question)
	}
}

func TestNormalizeCompoundFallsThroughToModel(t *testing.T) {
	model := llmtest.NewModel(func(messages []llms.MessageContent) (string, error) {
		return "비거주자가 한국에서 일하면 세금은?", nil
	})
	client := llm.New(model, util.RetryPolicy{Attempts: 1}, 0, zerolog.Nop())
	n := NewNormalizer(defaultRules(t), client, true, zerolog.Nop())

	got, err := n.Normalize(context.Background(), "외국사람이 한국에서 일하면 세금은?")
	require.NoError(t, err)
	assert.Equal(t, "비거주자가 한국에서 일하면 세금은?", got)
	assert.Len(t, model.Calls(), 1)
}
