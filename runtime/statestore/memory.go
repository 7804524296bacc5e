package statestore

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// MemoryStore provides an in-memory implementation of Store and CompletionNotifier.
// It is thread-safe and suitable for development, testing, and single-process use.
type MemoryStore struct {
	mu          sync.RWMutex
	transcripts map[string]*Transcript
	waiters     map[string][]chan Completion
}

// NewMemoryStore creates a new in-memory transcript store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transcripts: make(map[string]*Transcript),
		waiters:     make(map[string][]chan Completion),
	}
}

// Begin creates the transcript for a session.
func (s *MemoryStore) Begin(_ context.Context, sessionID, mode string, startedAt time.Time) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transcripts[sessionID]; ok {
		return nil
	}
	s.transcripts[sessionID] = &Transcript{SessionID: sessionID, Mode: mode, StartedAt: startedAt}
	return nil
}

// Append adds entries to a begun transcript.
func (s *MemoryStore) Append(_ context.Context, sessionID string, entries ...Entry) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[sessionID]
	if !ok {
		return ErrNotFound
	}
	if t.Complete {
		return ErrCompleted
	}
	for _, e := range entries {
		e.Seq = int64(len(t.Entries) + 1)
		e.Meta = maps.Clone(e.Meta)
		t.Entries = append(t.Entries, e)
	}
	return nil
}

// Complete marks the transcript finished and wakes every waiter.
func (s *MemoryStore) Complete(_ context.Context, sessionID, reason string, at time.Time) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	t, ok := s.transcripts[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if t.Complete {
		s.mu.Unlock()
		return nil
	}
	t.Complete = true
	t.EndedAt = at
	t.EndReason = reason
	c := completionOf(t)
	waiters := s.waiters[sessionID]
	delete(s.waiters, sessionID)
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- c
	}
	return nil
}

// Wait blocks until the transcript is complete.
func (s *MemoryStore) Wait(ctx context.Context, sessionID string) (Completion, error) {
	if sessionID == "" {
		return Completion{}, ErrInvalidID
	}
	s.mu.Lock()
	if t, ok := s.transcripts[sessionID]; ok && t.Complete {
		c := completionOf(t)
		s.mu.Unlock()
		return c, nil
	}
	ch := make(chan Completion, 1)
	s.waiters[sessionID] = append(s.waiters[sessionID], ch)
	s.mu.Unlock()

	select {
	case c := <-ch:
		return c, nil
	case <-ctx.Done():
		s.removeWaiter(sessionID, ch)
		return Completion{}, ctx.Err()
	}
}

func (s *MemoryStore) removeWaiter(sessionID string, ch chan Completion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.waiters[sessionID]
	for i, w := range list {
		if w == ch {
			s.waiters[sessionID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(s.waiters[sessionID]) == 0 {
		delete(s.waiters, sessionID)
	}
}

// Load returns a deep copy of the transcript.
func (s *MemoryStore) Load(_ context.Context, sessionID string) (*Transcript, error) {
	if sessionID == "" {
		return nil, ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transcripts[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTranscript(t), nil
}

// Delete removes a transcript.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transcripts[sessionID]; !ok {
		return ErrNotFound
	}
	delete(s.transcripts, sessionID)
	return nil
}

// List returns session IDs ordered by start time, newest first.
func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.transcripts))
	started := make(map[string]time.Time, len(s.transcripts))
	for id, t := range s.transcripts {
		ids = append(ids, id)
		started[id] = t.StartedAt
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		ti, tj := started[ids[i]], started[ids[j]]
		if ti.Equal(tj) {
			return ids[i] < ids[j]
		}
		return ti.After(tj)
	})
	return paginate(ids, opts), nil
}

func completionOf(t *Transcript) Completion {
	return Completion{SessionID: t.SessionID, Reason: t.EndReason, Entries: len(t.Entries), At: t.EndedAt}
}

func copyTranscript(t *Transcript) *Transcript {
	out := *t
	if t.Entries != nil {
		out.Entries = make([]Entry, len(t.Entries))
		for i, e := range t.Entries {
			e.Meta = maps.Clone(e.Meta)
			out.Entries[i] = e
		}
	}
	return &out
}
