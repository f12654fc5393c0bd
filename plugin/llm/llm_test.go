package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/incometax/taxbot/internal/util"
	"github.com/incometax/taxbot/plugin/llm/llmtest"
)

var testPolicy = util.RetryPolicy{Attempts: 3, Delay: time.Millisecond, Timeout: time.Second}

func question(text string) []llms.MessageContent {
	return []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, text)}
}

func TestGenerate(t *testing.T) {
	model := llmtest.Static("소득세법 (제12조)에 따르면 비과세입니다.")
	client := New(model, testPolicy, 0, zerolog.Nop())

	answer, err := client.Generate(context.Background(), question("비과세 소득은?"))
	require.NoError(t, err)
	assert.Equal(t, "소득세법 (제12조)에 따르면 비과세입니다.", answer)
	require.Len(t, model.Calls(), 1)
}

func TestGenerateRetriesThenFails(t *testing.T) {
	down := errors.New("503 service unavailable")
	model := llmtest.NewModel(func([]llms.MessageContent) (string, error) { return "", down })
	client := New(model, testPolicy, 0, zerolog.Nop())

	_, err := client.Generate(context.Background(), question("q"))
	require.ErrorIs(t, err, ErrModelUnavailable)
	require.ErrorIs(t, err, down)
	assert.Len(t, model.Calls(), 3)
}

func TestGenerateRecovers(t *testing.T) {
	calls := 0
	model := llmtest.NewModel(func([]llms.MessageContent) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("timeout")
		}
		return "ok", nil
	})
	client := New(model, testPolicy, 0, zerolog.Nop())

	answer, err := client.Generate(context.Background(), question("q"))
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
}

func TestStreamConcatenatesChunks(t *testing.T) {
	model := llmtest.Static("소득세법 (제50조)에 따르면 기본공제는 1인당 150만원입니다.")
	client := New(model, testPolicy, 0, zerolog.Nop())

	var chunks []string
	err := client.Stream(context.Background(), question("기본공제는?"), func(_ context.Context, chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
	assert.Equal(t, "소득세법 (제50조)에 따르면 기본공제는 1인당 150만원입니다.", strings.Join(chunks, ""))
}

func TestStreamCallbackErrorIsNotRetried(t *testing.T) {
	model := llmtest.Static("a b c")
	client := New(model, testPolicy, 0, zerolog.Nop())
	stop := errors.New("client went away")

	err := client.Stream(context.Background(), question("q"), func(context.Context, string) error {
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.NotErrorIs(t, err, ErrModelUnavailable)
	assert.Len(t, model.Calls(), 1)
}

func TestStreamRetriesBeforeFirstChunk(t *testing.T) {
	calls := 0
	model := llmtest.NewModel(func([]llms.MessageContent) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset")
		}
		return "done", nil
	})
	client := New(model, testPolicy, 0, zerolog.Nop())

	var got strings.Builder
	err := client.Stream(context.Background(), question("q"), func(_ context.Context, chunk string) error {
		got.WriteString(chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", got.String())
	assert.Equal(t, 3, calls)
}

func TestGenerateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := llmtest.Static("never")
	client := New(model, testPolicy, 0, zerolog.Nop())

	_, err := client.Generate(ctx, question("q"))
	require.ErrorIs(t, err, ErrModelUnavailable)
	require.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, len(model.Calls()), 1)
}
