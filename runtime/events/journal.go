package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AltairaLabs/VoiceKit/runtime/logger"
)

// File system constants.
const (
	dirPermissions  = 0750
	filePermissions = 0600
	scannerBufSize  = 1024 * 1024
)

// ErrNoSessionID is returned when journaling an event outside a session.
var ErrNoSessionID = errors.New("event has no session ID")

// Record is one journaled event. Data keeps the raw JSON payload because the
// concrete type is not recovered on read.
type Record struct {
	Sequence  int64           `json:"seq"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id"`
	Mode      string          `json:"mode,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Filter selects journal records.
type Filter struct {
	Types []EventType
	Since time.Time
	Limit int
}

// Journal writes session events as JSON Lines, one file per session.
type Journal struct {
	dir      string
	mu       sync.Mutex
	files    map[string]*os.File
	sequence atomic.Int64
}

// NewJournal creates a journal under dir.
func NewJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return &Journal{dir: dir, files: make(map[string]*os.File)}, nil
}

// Append writes one event.
func (j *Journal) Append(event *Event) error {
	if event.SessionID == "" {
		return ErrNoSessionID
	}
	rec := Record{
		Sequence:  j.sequence.Add(1),
		Type:      event.Type,
		Timestamp: event.Timestamp,
		SessionID: event.SessionID,
		Mode:      event.Mode,
	}
	if event.Data != nil {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("serialize event: %w", err)
		}
		rec.Data = data
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := j.fileFor(event.SessionID)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Attach journals every session-scoped event published on bus. Events
// published before a session id exists are skipped.
func (j *Journal) Attach(bus *EventBus) func() {
	return bus.SubscribeAll(func(e *Event) {
		if e.SessionID == "" {
			return
		}
		if err := j.Append(e); err != nil {
			logger.Warn("Journal: append failed", "event", string(e.Type), "error", err)
		}
	})
}

// Query reads the records of one session matching filter.
func (j *Journal) Query(ctx context.Context, sessionID string, filter Filter) ([]Record, error) {
	f, err := os.Open(j.path(sessionID)) //nolint:gosec // path is built from a session id
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, scannerBufSize), scannerBufSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if !filter.matches(rec) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, scanner.Err()
}

func (f Filter) matches(rec Record) bool {
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	return len(f.Types) == 0 || slices.Contains(f.Types, rec.Type)
}

// Close syncs and closes every open file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var errs []error
	for _, f := range j.files {
		if err := f.Sync(); err != nil {
			errs = append(errs, err)
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	j.files = make(map[string]*os.File)
	return errors.Join(errs...)
}

func (j *Journal) path(sessionID string) string {
	return filepath.Join(j.dir, filepath.Base(sessionID)+".jsonl")
}

// fileFor returns the open file of a session. Caller holds j.mu.
func (j *Journal) fileFor(sessionID string) (*os.File, error) {
	if f, ok := j.files[sessionID]; ok {
		return f, nil
	}
	//nolint:gosec // path is built from a session id
	f, err := os.OpenFile(j.path(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePermissions)
	if err != nil {
		return nil, fmt.Errorf("create journal file: %w", err)
	}
	j.files[sessionID] = f
	return f, nil
}
