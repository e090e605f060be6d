package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/circuitbreaker"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rw := circuitbreaker.NewRedisWrapper(client, zap.NewNop())
	return NewManager(rw, time.Hour, 5, zap.NewNop())
}

func TestGetOrCreateRoundTrip(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	s, err := m.GetOrCreate(ctx, "sess-1", "farmer-7")
	require.NoError(t, err)
	require.Equal(t, "sess-1", s.ID)
	require.Equal(t, "farmer-7", s.UserID)
	require.Empty(t, s.History)

	again, err := m.GetOrCreate(ctx, "sess-1", "ignored")
	require.NoError(t, err)
	require.Equal(t, "farmer-7", again.UserID)
}

func TestGetUnknownSession(t *testing.T) {
	m := testManager(t)

	_, err := m.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRecordExchangeBoundsHistory(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	_, err := m.GetOrCreate(ctx, "sess-2", "farmer-1")
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		err := m.RecordExchange(ctx, "sess-2", Exchange{
			QueryID:  fmt.Sprintf("q-%d", i),
			Question: fmt.Sprintf("question %d", i),
			Answer:   "answer",
		})
		require.NoError(t, err)
	}

	s, err := m.Get(ctx, "sess-2")
	require.NoError(t, err)
	require.Len(t, s.History, 5)
	require.Equal(t, "q-1", s.History[0].QueryID)
	require.Equal(t, "q-5", s.History[4].QueryID)
	require.Equal(t, "question 5", s.LastQuestion())
}

func TestRecordExchangeUnknownSession(t *testing.T) {
	m := testManager(t)

	err := m.RecordExchange(context.Background(), "nope", Exchange{QueryID: "q"})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRecentHistory(t *testing.T) {
	s := &Session{History: []Exchange{
		{QueryID: "a"}, {QueryID: "b"}, {QueryID: "c"},
	}}

	recent := s.RecentHistory(2)
	require.Len(t, recent, 2)
	require.Equal(t, "b", recent[0].QueryID)

	require.Len(t, s.RecentHistory(10), 3)
}

func TestDelete(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	_, err := m.GetOrCreate(ctx, "sess-3", "farmer")
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, "sess-3"))

	_, err = m.Get(ctx, "sess-3")
	require.ErrorIs(t, err, ErrSessionNotFound)
}
