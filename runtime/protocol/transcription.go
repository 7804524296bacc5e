package protocol

import (
	"strings"
	"sync"
)

// TranscriptionUpdate is the user-facing view of a transcript for one item.
// Later updates for the same item supersede earlier partials.
type TranscriptionUpdate struct {
	Transcript string
	IsPartial  bool
	IsComplete bool
	ItemID     string
}

// TranscriptionTracker folds transcription deltas into cumulative updates.
type TranscriptionTracker struct {
	mu       sync.Mutex
	partials map[string]*strings.Builder
}

// NewTranscriptionTracker returns an empty tracker.
func NewTranscriptionTracker() *TranscriptionTracker {
	return &TranscriptionTracker{partials: make(map[string]*strings.Builder)}
}

// Delta appends a partial fragment for itemID and returns the running transcript.
func (t *TranscriptionTracker) Delta(itemID, delta string) TranscriptionUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.partials[itemID]
	if !ok {
		b = &strings.Builder{}
		t.partials[itemID] = b
	}
	b.WriteString(delta)
	return TranscriptionUpdate{Transcript: b.String(), IsPartial: true, ItemID: itemID}
}

// Complete finalizes itemID. An empty transcript falls back to the accumulated partials.
func (t *TranscriptionTracker) Complete(itemID, transcript string) TranscriptionUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	if transcript == "" {
		if b, ok := t.partials[itemID]; ok {
			transcript = b.String()
		}
	}
	delete(t.partials, itemID)
	return TranscriptionUpdate{Transcript: transcript, IsComplete: true, ItemID: itemID}
}

// Discard drops partial state for itemID.
func (t *TranscriptionTracker) Discard(itemID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.partials, itemID)
}
