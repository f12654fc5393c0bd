package assistant

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/incometax/taxbot/internal/util"
	"github.com/incometax/taxbot/plugin/llm"
	"github.com/incometax/taxbot/plugin/llm/llmtest"
	"github.com/incometax/taxbot/plugin/vectorstore"
	"github.com/incometax/taxbot/store"
	"github.com/incometax/taxbot/store/db/memory"
)

var testFragments = []vectorstore.Fragment{
	{ID: "a50", Content: "제50조(기본공제) 종합소득이 있는 거주자에 대해서는 1명당 연 150만원을 공제한다.", Score: 0.91},
	{ID: "a51", Content: "제51조(추가공제) 기본공제대상자가 70세 이상인 경우 1명당 연 100만원을 추가로 공제한다.", Score: 0.84},
}

type fakeRetriever struct {
	mu        sync.Mutex
	fragments []vectorstore.Fragment
	err       error
	queries   []string
}

func (r *fakeRetriever) Retrieve(_ context.Context, query string) ([]vectorstore.Fragment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	if r.err != nil {
		return nil, r.err
	}
	return r.fragments, nil
}

type callKind int

const (
	callDictionary callKind = iota
	callRewrite
	callAnswer
)

func kindOf(messages []llms.MessageContent) callKind {
	first := llmtest.Text(messages[0])
	switch {
	case first == contextualizeSystemPrompt:
		return callRewrite
	case strings.HasPrefix(first, "당신은 소득세법 전문가입니다"):
		return callAnswer
	default:
		return callDictionary
	}
}

// lastHuman returns the text of the final message, the current question.
func lastHuman(messages []llms.MessageContent) string {
	return llmtest.Text(messages[len(messages)-1])
}

// scriptedResponder answers every question with a citation and echoes rewrites.
func scriptedResponder(messages []llms.MessageContent) (string, error) {
	switch kindOf(messages) {
	case callRewrite:
		return "standalone: " + lastHuman(messages), nil
	case callAnswer:
		return "소득세법 (제50조)에 따르면 " + lastHuman(messages) + " 에 대한 답변입니다.", nil
	default:
		return lastHuman(messages), nil
	}
}

type fixture struct {
	assistant *Assistant
	store     *store.Store
	model     *llmtest.Model
	retriever *fakeRetriever
}

func newFixture(t *testing.T, respond llmtest.Responder) *fixture {
	t.Helper()
	model := llmtest.NewModel(respond)
	client := llm.New(model, util.RetryPolicy{Attempts: 2, Delay: time.Millisecond}, 0, zerolog.Nop())
	s := store.New(memory.NewDB(), store.ExpiryPolicy{})
	retriever := &fakeRetriever{fragments: testFragments}
	a, err := New(s, client, retriever, Config{}, zerolog.Nop())
	require.NoError(t, err)
	return &fixture{assistant: a, store: s, model: model, retriever: retriever}
}

func (f *fixture) callsOf(kind callKind) [][]llms.MessageContent {
	list := [][]llms.MessageContent{}
	for _, call := range f.model.Calls() {
		if kindOf(call) == kind {
			list = append(list, call)
		}
	}
	return list
}

func (f *fixture) turns(t *testing.T, uid string) []*store.ChatMessage {
	t.Helper()
	messages, err := f.store.ListChatMessages(context.Background(), &store.FindChatMessage{SessionUID: uid})
	require.NoError(t, err)
	return messages
}

func TestAskAppendsExchange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scriptedResponder)

	stream, err := f.assistant.Ask(ctx, "google", "기본공제는 얼마인가요?")
	require.NoError(t, err)
	var chunks []string
	for chunk := range stream.Chunks() {
		chunks = append(chunks, chunk.Text)
	}
	require.NoError(t, stream.Err())
	answer := strings.Join(chunks, "")
	assert.NotEmpty(t, answer)
	assert.Equal(t, answer, stream.Answer())
	assert.True(t, strings.HasPrefix(answer, "소득세법 (제50조)에 따르면"))

	turns := f.turns(t, "google")
	require.Len(t, turns, 2)
	assert.Equal(t, store.RoleHuman, turns[0].Role)
	assert.Equal(t, "기본공제는 얼마인가요?", turns[0].Content)
	assert.Equal(t, store.RoleAI, turns[1].Role)
	assert.Equal(t, answer, turns[1].Content)
	assert.Equal(t, 0, f.assistant.locks.len())
}

func TestAskFirstQuestionSkipsRewrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scriptedResponder)

	stream, err := f.assistant.Ask(ctx, "fresh", "기본공제는 얼마인가요?")
	require.NoError(t, err)
	_, err = stream.Collect()
	require.NoError(t, err)

	assert.Empty(t, f.callsOf(callRewrite))
	assert.Equal(t, []string{"기본공제는 얼마인가요?"}, f.retriever.queries)
}

func TestAskFollowUpIsRewrittenWithHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scriptedResponder)

	stream, err := f.assistant.Ask(ctx, "s1", "What is the standard deduction?")
	require.NoError(t, err)
	first, err := stream.Collect()
	require.NoError(t, err)
	require.Len(t, f.turns(t, "s1"), 2)

	stream, err = f.assistant.Ask(ctx, "s1", "How much is it for dependents over 70?")
	require.NoError(t, err)
	_, err = stream.Collect()
	require.NoError(t, err)

	rewrites := f.callsOf(callRewrite)
	require.Len(t, rewrites, 1)
	got := []string{}
	for _, m := range rewrites[0] {
		got = append(got, string(m.Role)+": "+llmtest.Text(m))
	}
	want := []string{
		"system: " + contextualizeSystemPrompt,
		"human: What is the standard deduction?",
		"ai: " + first,
		"human: How much is it for dependents over 70?",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rewrite prompt mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "standalone: How much is it for dependents over 70?", f.retriever.queries[1])
	assert.Equal(t, "standalone: How much is it for dependents over 70?", stream.Standalone)
	assert.Len(t, f.turns(t, "s1"), 4)
}

func TestAskAnswerSeesFullHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scriptedResponder)

	for _, q := range []string{"q1", "q2", "q3"} {
		stream, err := f.assistant.Ask(ctx, "long", q)
		require.NoError(t, err)
		_, err = stream.Collect()
		require.NoError(t, err)
	}
	answers := f.callsOf(callAnswer)
	require.Len(t, answers, 3)
	// system + 3 example pairs + 4 prior turns + question
	assert.Len(t, answers[2], 1+6+4+1)
}

func TestAskAppliesLiteralDictionary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scriptedResponder)

	stream, err := f.assistant.Ask(ctx, "dict", "연봉 5천만원인 직장인의 소득세는 얼마인가요?")
	require.NoError(t, err)
	_, err = stream.Collect()
	require.NoError(t, err)

	assert.Equal(t, "연봉 5천만원인 직장인의 소득세는 얼마인가요?", stream.Input)
	assert.Equal(t, "연봉 5천만원인 거주자의 소득세는 얼마인가요?", stream.Question)
	assert.Empty(t, f.callsOf(callDictionary))
	answers := f.callsOf(callAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, "연봉 5천만원인 거주자의 소득세는 얼마인가요?", lastHuman(answers[0]))
	assert.Equal(t, "연봉 5천만원인 직장인의 소득세는 얼마인가요?", f.turns(t, "dict")[0].Content)
}

func TestAskEmptyQuestion(t *testing.T) {
	f := newFixture(t, scriptedResponder)
	_, err := f.assistant.Ask(context.Background(), "google", "   ")
	require.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Empty(t, f.model.Calls())
}

func TestAskRetrievalUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scriptedResponder)
	f.retriever.err = fmt.Errorf("%w: index %q not found", vectorstore.ErrRetrievalUnavailable, "tax-markdown-index")

	_, err := f.assistant.Ask(ctx, "google", "기본공제는?")
	require.ErrorIs(t, err, vectorstore.ErrRetrievalUnavailable)
	assert.Empty(t, f.turns(t, "google"))
	assert.Equal(t, 0, f.assistant.locks.len())
}

func TestAskGenerationFailureAppendsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(messages []llms.MessageContent) (string, error) {
		if kindOf(messages) == callAnswer {
			return "", fmt.Errorf("429 rate limited")
		}
		return scriptedResponder(messages)
	})

	stream, err := f.assistant.Ask(ctx, "google", "기본공제는?")
	require.NoError(t, err)
	answer, err := stream.Collect()
	require.ErrorIs(t, err, llm.ErrModelUnavailable)
	assert.Empty(t, answer)
	assert.Empty(t, f.turns(t, "google"))
	assert.Len(t, f.callsOf(callAnswer), 2)
}

func TestAskCancelledAppendsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gate := make(chan struct{})
	f := newFixture(t, func(messages []llms.MessageContent) (string, error) {
		if kindOf(messages) == callAnswer {
			<-gate
		}
		return scriptedResponder(messages)
	})

	stream, err := f.assistant.Ask(ctx, "google", "기본공제는?")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(f.callsOf(callAnswer)) == 1
	}, time.Second, time.Millisecond)

	cancel()
	close(gate)
	answer, err := stream.Collect()
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, answer)
	assert.Empty(t, f.turns(t, "google"))
	assert.Len(t, f.callsOf(callAnswer), 1)
	assert.Equal(t, 0, f.assistant.locks.len())
}

func TestAskSerializesSameSession(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	f := newFixture(t, func(messages []llms.MessageContent) (string, error) {
		if kindOf(messages) == callAnswer && lastHuman(messages) == "first" {
			<-gate
		}
		return scriptedResponder(messages)
	})

	firstStream, err := f.assistant.Ask(ctx, "shared", "first")
	require.NoError(t, err)

	secondReady := make(chan *Stream, 1)
	go func() {
		stream, err := f.assistant.Ask(ctx, "shared", "second")
		assert.NoError(t, err)
		secondReady <- stream
	}()

	select {
	case <-secondReady:
		t.Fatal("second exchange started while the first was generating")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	_, err = firstStream.Collect()
	require.NoError(t, err)
	secondStream := <-secondReady
	require.NotNil(t, secondStream)
	_, err = secondStream.Collect()
	require.NoError(t, err)

	turns := f.turns(t, "shared")
	require.Len(t, turns, 4)
	assert.Equal(t, "first", turns[0].Content)
	assert.Equal(t, "second", turns[2].Content)
}

func TestAskDifferentSessionsRunInParallel(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	f := newFixture(t, func(messages []llms.MessageContent) (string, error) {
		if kindOf(messages) == callAnswer && lastHuman(messages) == "blocked" {
			<-gate
		}
		return scriptedResponder(messages)
	})

	blocked, err := f.assistant.Ask(ctx, "a", "blocked")
	require.NoError(t, err)

	other, err := f.assistant.Ask(ctx, "b", "free")
	require.NoError(t, err)
	_, err = other.Collect()
	require.NoError(t, err)

	close(gate)
	_, err = blocked.Collect()
	require.NoError(t, err)
}

func TestSearch(t *testing.T) {
	f := newFixture(t, scriptedResponder)
	question, fragments, err := f.assistant.Search(context.Background(), "직장인 기본공제")
	require.NoError(t, err)
	assert.Equal(t, "거주자 기본공제", question)
	assert.Equal(t, testFragments, fragments)
}

func TestSearchTool(t *testing.T) {
	f := newFixture(t, scriptedResponder)
	tool := NewSearchTool(f.assistant)
	assert.Equal(t, "search_tax_law", tool.Name())

	out, err := tool.Call(context.Background(), "기본공제")
	require.NoError(t, err)
	assert.Contains(t, out, "[1] a50 (score 0.91)")
	assert.Contains(t, out, testFragments[1].Content)

	_, err = tool.Call(context.Background(), " ")
	require.ErrorIs(t, err, ErrEmptyQuestion)
}
