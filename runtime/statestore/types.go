package statestore

import (
	"time"
)

// Entry roles.
const (
	RoleUser     = "user"
	RoleAgent    = "agent"
	RoleFeedback = "feedback"
)

// defaultTTLHours is the default TTL for stored transcripts (24 hours).
const defaultTTLHours = 24

// defaultListLimit caps List when no limit is given.
const defaultListLimit = 100

// Entry is one line of a conversation transcript.
type Entry struct {
	Seq       int64          `json:"seq"`
	Role      string         `json:"role"`
	Kind      string         `json:"kind,omitempty"` // agent message type or "transcription"
	ItemID    string         `json:"item_id,omitempty"`
	Text      string         `json:"text"`
	Meta      map[string]any `json:"meta,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Transcript is the stored record of one conversation.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Mode      string    `json:"mode"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	EndReason string    `json:"end_reason,omitempty"`
	Complete  bool      `json:"complete"`
	Entries   []Entry   `json:"entries,omitempty"`
}

// Completion announces that a transcript will receive no further entries.
type Completion struct {
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason"`
	Entries   int       `json:"entries"`
	At        time.Time `json:"at"`
}

// ListOptions provides pagination for List. Results are newest first.
type ListOptions struct {
	// Limit is the maximum number of session IDs to return. Zero means 100.
	Limit  int
	Offset int
}

func paginate(ids []string, opts ListOptions) []string {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if opts.Offset >= len(ids) {
		return []string{}
	}
	end := opts.Offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	return ids[opts.Offset:end]
}
