package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incometax/taxbot/internal/profile"
	"github.com/incometax/taxbot/internal/util"
	"github.com/incometax/taxbot/plugin/llm"
	"github.com/incometax/taxbot/plugin/llm/llmtest"
	"github.com/incometax/taxbot/plugin/vectorstore"
	"github.com/incometax/taxbot/server/assistant"
	"github.com/incometax/taxbot/store"
	"github.com/incometax/taxbot/store/db/memory"
)

type emptyIndex struct{}

func (emptyIndex) Retrieve(context.Context, string) ([]vectorstore.Fragment, error) {
	return nil, vectorstore.ErrRetrievalUnavailable
}

func (emptyIndex) IndexName() string { return "tax-markdown-index" }

func (emptyIndex) TopK() int { return 4 }

func (emptyIndex) Count() int { return 0 }

func newTestServer(t *testing.T, policy store.ExpiryPolicy) *Server {
	t.Helper()
	p := &profile.Profile{Mode: "dev", Addr: "127.0.0.1", Port: 0, SweepInterval: time.Millisecond}
	s := store.New(memory.NewDB(), policy)
	client := llm.New(llmtest.Static("ok"), util.RetryPolicy{Attempts: 1}, 0, zerolog.Nop())
	a, err := assistant.New(s, client, emptyIndex{}, assistant.Config{}, zerolog.Nop())
	require.NoError(t, err)
	return NewServer(p, s, a, emptyIndex{}, zerolog.Nop())
}

func TestHandlerServesHealthz(t *testing.T) {
	srv := newTestServer(t, store.ExpiryPolicy{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t, store.ExpiryPolicy{TTL: time.Hour})
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	srv.Store.SetClock(func() time.Time { return now })

	_, err := srv.Store.GetOrCreateHistory(ctx, "idle")
	require.NoError(t, err)
	now = now.Add(2 * time.Hour)
	srv.Sweep(ctx)

	session, err := srv.Store.GetChatSession(ctx, "idle")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestStartStopsOnCancel(t *testing.T) {
	srv := newTestServer(t, store.ExpiryPolicy{MaxSessions: 10})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Start(ctx)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
