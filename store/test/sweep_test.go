package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/incometax/taxbot/store"
)

func TestSweepEvictsIdleSessions(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStoreWithPolicy(ctx, t, store.ExpiryPolicy{TTL: time.Hour})
	clock := &FixedClock{T: baseTime}
	ts.SetClock(clock.Now)

	_, err := ts.GetOrCreateHistory(ctx, "idle")
	require.NoError(t, err)
	clock.Advance(50 * minute)
	active, err := ts.GetOrCreateHistory(ctx, "active")
	require.NoError(t, err)
	require.NoError(t, active.AddExchange(ctx, "q", "a"))

	clock.Advance(20 * minute)
	evicted, err := ts.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"idle"}, evicted)

	session, err := ts.GetChatSession(ctx, "active")
	require.NoError(t, err)
	require.NotNil(t, session)
}

func TestSweepEnforcesMaxSessions(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStoreWithPolicy(ctx, t, store.ExpiryPolicy{MaxSessions: 2})
	clock := &FixedClock{T: baseTime}
	ts.SetClock(clock.Now)

	for _, uid := range []string{"oldest", "middle", "newest"} {
		_, err := ts.GetOrCreateHistory(ctx, uid)
		require.NoError(t, err)
		clock.Advance(minute)
	}

	evicted, err := ts.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"oldest"}, evicted)

	sessions, err := ts.ListChatSessions(ctx, &store.FindChatSession{})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
}

func TestSweepZeroPolicyKeepsEverything(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	clock := &FixedClock{T: baseTime}
	ts.SetClock(clock.Now)

	_, err := ts.GetOrCreateHistory(ctx, "forever")
	require.NoError(t, err)
	clock.Advance(24 * 365 * time.Hour)

	evicted, err := ts.Sweep(ctx)
	require.NoError(t, err)
	require.Empty(t, evicted)
}

func TestSweepKeepsResumedSession(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStoreWithPolicy(ctx, t, store.ExpiryPolicy{TTL: time.Hour})
	clock := &FixedClock{T: baseTime}
	ts.SetClock(clock.Now)

	history, err := ts.GetOrCreateHistory(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, history.AddExchange(ctx, "기본공제는?", "소득세법 (제50조)에 따르면 ..."))

	// The next question arrives just before the session would expire and is
	// still being answered when the sweeper runs.
	clock.Advance(59 * minute)
	resumed, err := ts.GetOrCreateHistory(ctx, "s1")
	require.NoError(t, err)
	clock.Advance(2 * minute)
	evicted, err := ts.Sweep(ctx)
	require.NoError(t, err)
	require.Empty(t, evicted)

	require.NoError(t, resumed.AddExchange(ctx, "그럼 추가공제는?", "소득세법 (제51조)에 따르면 ..."))
	messages, err := resumed.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 4)
}

func TestSweepMaxSessionsCountsResumeAsActivity(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStoreWithPolicy(ctx, t, store.ExpiryPolicy{MaxSessions: 2})
	clock := &FixedClock{T: baseTime}
	ts.SetClock(clock.Now)

	for _, uid := range []string{"first", "second", "third"} {
		_, err := ts.GetOrCreateHistory(ctx, uid)
		require.NoError(t, err)
		clock.Advance(minute)
	}
	_, err := ts.GetOrCreateHistory(ctx, "first")
	require.NoError(t, err)

	evicted, err := ts.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"second"}, evicted)
}
