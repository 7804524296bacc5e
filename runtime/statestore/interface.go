// Package statestore persists conversation transcripts and announces their completion.
package statestore

import (
	"context"
	"errors"
	"time"
)

// Store persists transcripts keyed by session ID.
type Store interface {
	// Begin creates the transcript for a session. Beginning an existing
	// session is a no-op.
	Begin(ctx context.Context, sessionID, mode string, startedAt time.Time) error

	// Append adds entries in order. Sequence numbers are assigned by the store.
	// Appending before Begin returns ErrNotFound; appending to a completed
	// transcript returns ErrCompleted.
	Append(ctx context.Context, sessionID string, entries ...Entry) error

	// Complete marks the transcript finished and notifies waiters.
	// Completing twice is a no-op.
	Complete(ctx context.Context, sessionID, reason string, at time.Time) error

	// Load returns the transcript with all its entries.
	Load(ctx context.Context, sessionID string) (*Transcript, error)

	// Delete removes a transcript.
	Delete(ctx context.Context, sessionID string) error

	// List returns session IDs, newest first.
	List(ctx context.Context, opts ListOptions) ([]string, error)
}

// CompletionNotifier lets a consumer wait for a transcript to finish instead
// of polling the store.
type CompletionNotifier interface {
	// Wait blocks until the session's transcript is complete or ctx is done.
	// It returns immediately for a transcript that is already complete.
	Wait(ctx context.Context, sessionID string) (Completion, error)
}

// ErrNotFound is returned when a transcript doesn't exist in the store.
var ErrNotFound = errors.New("transcript not found")

// ErrInvalidID is returned when an empty session ID is provided.
var ErrInvalidID = errors.New("invalid session ID")

// ErrCompleted is returned when appending to a completed transcript.
var ErrCompleted = errors.New("transcript already complete")
