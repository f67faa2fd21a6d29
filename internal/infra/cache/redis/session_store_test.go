package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/contract-review/internal/domain/qa"
)

func setupTestSessionStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSessionStore(client, time.Hour), mr
}

func testSession() *qa.Session {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &qa.Session{
		ID:           "sess-1",
		TenantID:     "acme",
		ReviewID:     "rev-1",
		ContractText: "contract",
		Report:       "# Report",
		Turns:        []qa.Turn{{Question: "q", Answer: "a", AskedAt: now}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store, mr := setupTestSessionStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testSession()))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, testSession(), got)
	assert.Equal(t, time.Hour, mr.TTL(sessionPrefix+"sess-1"))
}

func TestSessionStoreGetMissing(t *testing.T) {
	store, _ := setupTestSessionStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, qa.ErrNotFound)
}

func TestSessionStoreExpires(t *testing.T) {
	store, mr := setupTestSessionStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, testSession()))

	mr.FastForward(2 * time.Hour)

	_, err := store.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, qa.ErrNotFound)
}

func TestSessionStoreDeleteAndList(t *testing.T) {
	store, _ := setupTestSessionStore(t)
	ctx := context.Background()

	other := testSession()
	other.ID = "sess-2"
	require.NoError(t, store.Save(ctx, testSession()))
	require.NoError(t, store.Save(ctx, other))

	list, err := store.ListByReview(ctx, "rev-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, store.Delete(ctx, "sess-1"))
	require.NoError(t, store.Delete(ctx, "sess-1"))

	list, err = store.ListByReview(ctx, "rev-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sess-2", list[0].ID)
}

func TestSessionStoreAppendTurnKeepsConcurrentTurns(t *testing.T) {
	store, mr := setupTestSessionStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, testSession()))

	const writers = 4
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.AppendTurn(ctx, "sess-1", qa.Turn{Question: fmt.Sprintf("q%d", i), Answer: "a"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, got.Turns, 1+writers)
	assert.Equal(t, time.Hour, mr.TTL(sessionPrefix+"sess-1"))
}

func TestSessionStoreAppendTurnMissing(t *testing.T) {
	store, _ := setupTestSessionStore(t)

	_, err := store.AppendTurn(context.Background(), "nope", qa.Turn{Question: "q"})
	assert.ErrorIs(t, err, qa.ErrNotFound)
}
