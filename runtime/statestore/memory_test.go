package statestore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/VoiceKit/runtime/events"
)

func TestMemoryStore_BeginAppendLoad(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	started := time.Now()

	require.NoError(t, store.Begin(ctx, "s-1", "streaming", started))
	require.NoError(t, store.Append(ctx, "s-1",
		Entry{Role: RoleUser, Text: "Hello"},
		Entry{Role: RoleAgent, Text: "Hi there.", Meta: map[string]any{"part": 1}},
	))
	require.NoError(t, store.Append(ctx, "s-1", Entry{Role: RoleUser, Text: "Bye"}))

	tr, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "streaming", tr.Mode)
	assert.True(t, tr.StartedAt.Equal(started))
	require.Len(t, tr.Entries, 3)
	for i, e := range tr.Entries {
		assert.Equal(t, int64(i+1), e.Seq)
	}
	assert.False(t, tr.Complete)
}

func TestMemoryStore_BeginTwiceKeepsOriginal(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Begin(ctx, "s-1", "realtime", time.Now()))
	require.NoError(t, store.Append(ctx, "s-1", Entry{Role: RoleUser, Text: "a"}))
	require.NoError(t, store.Begin(ctx, "s-1", "streaming", time.Now()))

	tr, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "realtime", tr.Mode)
	assert.Len(t, tr.Entries, 1)
}

func TestMemoryStore_Errors(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	assert.ErrorIs(t, store.Begin(ctx, "", "", time.Now()), ErrInvalidID)
	assert.ErrorIs(t, store.Append(ctx, "missing", Entry{Text: "x"}), ErrNotFound)
	assert.ErrorIs(t, store.Complete(ctx, "missing", "end", time.Now()), ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "missing"), ErrNotFound)
	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Load(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestMemoryStore_CompleteRejectsAppends(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	ended := time.Now()

	require.NoError(t, store.Begin(ctx, "s-1", "streaming", time.Now()))
	require.NoError(t, store.Complete(ctx, "s-1", "end", ended))
	require.NoError(t, store.Complete(ctx, "s-1", "max_duration", time.Now()))
	assert.ErrorIs(t, store.Append(ctx, "s-1", Entry{Text: "late"}), ErrCompleted)

	tr, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, tr.Complete)
	assert.Equal(t, "end", tr.EndReason)
	assert.True(t, tr.EndedAt.Equal(ended))
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Begin(ctx, "s-1", "streaming", time.Now()))
	require.NoError(t, store.Append(ctx, "s-1", Entry{Text: "a", Meta: map[string]any{"k": "v"}}))

	tr, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	tr.Entries[0].Text = "mutated"
	tr.Entries[0].Meta["k"] = "mutated"

	again, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Entries[0].Text)
	assert.Equal(t, "v", again.Entries[0].Meta["k"])
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, store.Begin(ctx, "old", "", base.Add(-2*time.Hour)))
	require.NoError(t, store.Begin(ctx, "new", "", base))
	require.NoError(t, store.Begin(ctx, "mid", "", base.Add(-time.Hour)))

	ids, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "mid", "old"}, ids)

	ids, err = store.List(ctx, ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"mid"}, ids)

	ids, err = store.List(ctx, ListOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Begin(ctx, "s-1", "", time.Now()))
	require.NoError(t, store.Delete(ctx, "s-1"))
	_, err := store.Load(ctx, "s-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_WaitWakesOnComplete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Begin(ctx, "s-1", "streaming", time.Now()))
	require.NoError(t, store.Append(ctx, "s-1", Entry{Text: "a"}, Entry{Text: "b"}))

	var wg sync.WaitGroup
	results := make([]Completion, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := store.Wait(ctx, "s-1")
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}

	require.Eventually(t, func() bool {
		store.mu.RLock()
		defer store.mu.RUnlock()
		return len(store.waiters["s-1"]) == 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, store.Complete(ctx, "s-1", "end", time.Now()))
	wg.Wait()

	for _, c := range results {
		assert.Equal(t, "s-1", c.SessionID)
		assert.Equal(t, "end", c.Reason)
		assert.Equal(t, 2, c.Entries)
	}
}

func TestMemoryStore_WaitAlreadyComplete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Begin(ctx, "s-1", "", time.Now()))
	require.NoError(t, store.Complete(ctx, "s-1", "transport_lost", time.Now()))

	c, err := store.Wait(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "transport_lost", c.Reason)
}

func TestMemoryStore_WaitCancelled(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := store.Wait(ctx, "never")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	store.mu.RLock()
	defer store.mu.RUnlock()
	assert.Empty(t, store.waiters, "cancelled waiter must be removed")
}

func TestTranscriptRecorder(t *testing.T) {
	store := NewMemoryStore()
	bus := events.NewEventBus()
	defer bus.Close()
	unsubscribe := NewTranscriptRecorder(store).Attach(bus)
	defer unsubscribe()

	em := events.NewEmitter(bus, "", "")
	em.SessionNegotiating()
	active := em.WithSession("relay-1", "streaming")
	active.SessionStarted("relay")
	active.Transcription("item-1", "Hel", true)
	active.Transcription("item-1", "Hello there", false)
	active.AgentMessage("ai-response", "Hi! How can I help?", map[string]any{"part": "intro"})
	active.Feedback(map[string]any{"fluency": 4}, "Good pace")
	active.SessionEnded("end", time.Minute)

	tr, err := store.Load(context.Background(), "relay-1")
	require.NoError(t, err)
	assert.Equal(t, "streaming", tr.Mode)
	assert.True(t, tr.Complete)
	assert.Equal(t, "end", tr.EndReason)

	require.Len(t, tr.Entries, 3)
	assert.Equal(t, RoleUser, tr.Entries[0].Role)
	assert.Equal(t, KindTranscription, tr.Entries[0].Kind)
	assert.Equal(t, "Hello there", tr.Entries[0].Text)
	assert.Equal(t, "item-1", tr.Entries[0].ItemID)
	assert.Equal(t, RoleAgent, tr.Entries[1].Role)
	assert.Equal(t, "ai-response", tr.Entries[1].Kind)
	assert.Equal(t, "intro", tr.Entries[1].Meta["part"])
	assert.Equal(t, RoleFeedback, tr.Entries[2].Role)
	assert.Equal(t, "Good pace", tr.Entries[2].Text)

	ids, err := store.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"relay-1"}, ids, "sessionless events are not recorded")
}
