package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisStore creates a test Redis store with miniredis
func setupRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, opts...)
	return store, mr
}

func TestRedisStore_LoadNotFound(t *testing.T) {
	store, _ := setupRedisStore(t)

	_, err := store.Load(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_InvalidID(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.ErrorIs(t, store.Begin(ctx, "", "", time.Now()), ErrInvalidID)
	assert.ErrorIs(t, store.Append(ctx, "", Entry{}), ErrInvalidID)
	assert.ErrorIs(t, store.Complete(ctx, "", "", time.Now()), ErrInvalidID)
	assert.ErrorIs(t, store.Delete(ctx, ""), ErrInvalidID)
}

func TestRedisStore_BeginAppendLoad(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	started := time.Now().Truncate(time.Millisecond)

	require.NoError(t, store.Begin(ctx, "s-1", "realtime", started))
	require.NoError(t, store.Append(ctx, "s-1",
		Entry{Role: RoleUser, Kind: KindTranscription, Text: "Hello"},
		Entry{Role: RoleAgent, Kind: "ai-response", Text: "Hi.", Meta: map[string]any{"part": "intro"}},
	))
	require.NoError(t, store.Append(ctx, "s-1", Entry{Role: RoleUser, Text: "Thanks"}))

	tr, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", tr.SessionID)
	assert.Equal(t, "realtime", tr.Mode)
	assert.True(t, tr.StartedAt.Equal(started))
	require.Len(t, tr.Entries, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{tr.Entries[0].Seq, tr.Entries[1].Seq, tr.Entries[2].Seq})
	assert.Equal(t, "intro", tr.Entries[1].Meta["part"])
}

func TestRedisStore_AppendBeforeBegin(t *testing.T) {
	store, _ := setupRedisStore(t)

	err := store.Append(context.Background(), "s-1", Entry{Text: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_TTLAndPrefix(t *testing.T) {
	store, mr := setupRedisStore(t, WithTTL(time.Hour), WithPrefix("test"))
	ctx := context.Background()

	require.NoError(t, store.Begin(ctx, "s-1", "streaming", time.Now()))
	require.NoError(t, store.Append(ctx, "s-1", Entry{Text: "a"}))

	assert.True(t, mr.Exists("test:transcript:s-1"))
	assert.True(t, mr.Exists("test:transcript:s-1:entries"))
	assert.Equal(t, time.Hour, mr.TTL("test:transcript:s-1"))
	assert.Equal(t, time.Hour, mr.TTL("test:transcript:s-1:entries"))

	mr.FastForward(2 * time.Hour)
	_, err := store.Load(ctx, "s-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_NoTTL(t *testing.T) {
	store, mr := setupRedisStore(t, WithTTL(0))
	ctx := context.Background()

	require.NoError(t, store.Begin(ctx, "s-1", "streaming", time.Now()))
	assert.Equal(t, time.Duration(0), mr.TTL("voicekit:transcript:s-1"))
}

func TestRedisStore_CompleteOnce(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	ended := time.Now().Truncate(time.Millisecond)

	require.NoError(t, store.Begin(ctx, "s-1", "streaming", time.Now()))
	require.NoError(t, store.Append(ctx, "s-1", Entry{Text: "a"}))
	require.NoError(t, store.Complete(ctx, "s-1", "end", ended))
	require.NoError(t, store.Complete(ctx, "s-1", "max_duration", time.Now()))
	assert.ErrorIs(t, store.Append(ctx, "s-1", Entry{Text: "late"}), ErrCompleted)

	tr, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, tr.Complete)
	assert.Equal(t, "end", tr.EndReason)
	assert.True(t, tr.EndedAt.Equal(ended))
	assert.Len(t, tr.Entries, 1)

	assert.ErrorIs(t, store.Complete(ctx, "missing", "end", time.Now()), ErrNotFound)
}

func TestRedisStore_WaitReceivesPublishedCompletion(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, store.Begin(ctx, "s-1", "streaming", time.Now()))
	require.NoError(t, store.Append(ctx, "s-1", Entry{Text: "a"}, Entry{Text: "b"}))

	done := make(chan Completion, 1)
	errs := make(chan error, 1)
	go func() {
		c, err := store.Wait(ctx, "s-1")
		if err != nil {
			errs <- err
			return
		}
		done <- c
	}()

	// Let the waiter subscribe so the pub/sub path is exercised.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, store.Complete(ctx, "s-1", "end", time.Now()))

	select {
	case c := <-done:
		assert.Equal(t, "s-1", c.SessionID)
		assert.Equal(t, "end", c.Reason)
		assert.Equal(t, 2, c.Entries)
	case err := <-errs:
		t.Fatalf("wait failed: %v", err)
	case <-ctx.Done():
		t.Fatal("completion not received")
	}
}

func TestRedisStore_WaitAlreadyComplete(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, store.Begin(ctx, "s-1", "streaming", time.Now()))
	require.NoError(t, store.Complete(ctx, "s-1", "transport_lost", time.Now()))

	c, err := store.Wait(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "transport_lost", c.Reason)
	assert.Equal(t, 0, c.Entries)
}

func TestRedisStore_WaitTimesOut(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := store.Wait(ctx, "never")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisStore_ListAndDelete(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, store.Begin(ctx, "old", "", base.Add(-2*time.Hour)))
	require.NoError(t, store.Begin(ctx, "new", "", base))
	require.NoError(t, store.Begin(ctx, "mid", "", base.Add(-time.Hour)))

	ids, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "mid", "old"}, ids)

	ids, err = store.List(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "mid"}, ids)

	require.NoError(t, store.Delete(ctx, "mid"))
	assert.ErrorIs(t, store.Delete(ctx, "mid"), ErrNotFound)

	ids, err = store.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, ids)
}

func TestRedisStore_ListPrunesExpired(t *testing.T) {
	store, _ := setupRedisStore(t, WithTTL(time.Hour))
	ctx := context.Background()

	require.NoError(t, store.Begin(ctx, "stale", "", time.Now().Add(-3*time.Hour)))
	require.NoError(t, store.Begin(ctx, "fresh", "", time.Now()))

	ids, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, ids)
}
