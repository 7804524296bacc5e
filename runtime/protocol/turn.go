package protocol

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AgentTurn is one agent response as it is assembled from streamed fragments.
type AgentTurn struct {
	ID         string
	ResponseID string
	Text       string
	IsFinal    bool
	Source     AgentSource
	StartedAt  time.Time
}

// TurnFlushFunc receives each closed turn exactly once.
type TurnFlushFunc func(AgentTurn)

// TurnAccumulator assembles agent deltas into turns. At most one turn is open
// at a time. It is safe for concurrent use, though inbound events for a turn
// are expected in arrival order from a single reader.
type TurnAccumulator struct {
	mu      sync.Mutex
	open    *AgentTurn
	buf     strings.Builder
	closed  map[string]struct{}
	onFlush TurnFlushFunc
	now     func() time.Time
}

// NewTurnAccumulator creates an accumulator that reports closed turns to onFlush.
func NewTurnAccumulator(onFlush TurnFlushFunc) *TurnAccumulator {
	return &TurnAccumulator{
		closed:  make(map[string]struct{}),
		onFlush: onFlush,
		now:     time.Now,
	}
}

// Delta appends a fragment. A fragment for a different response id closes the
// open turn first.
func (a *TurnAccumulator) Delta(responseID, text string, source AgentSource) {
	a.mu.Lock()
	if a.isClosed(responseID) {
		a.mu.Unlock()
		return
	}
	var flushed *AgentTurn
	if a.open != nil && a.open.ResponseID != responseID {
		flushed = a.closeLocked("")
	}
	if a.open == nil {
		a.startLocked(responseID, source)
	}
	a.buf.WriteString(text)
	a.open.Text = a.buf.String()
	a.mu.Unlock()

	a.emit(flushed)
}

// Complete closes the turn for responseID. A non-empty text replaces the
// accumulated fragments. Completions for a turn that already closed are ignored.
func (a *TurnAccumulator) Complete(responseID, text string, source AgentSource) {
	a.mu.Lock()
	if a.isClosed(responseID) {
		a.mu.Unlock()
		return
	}
	var previous *AgentTurn
	if a.open != nil && a.open.ResponseID != responseID {
		previous = a.closeLocked("")
	}
	if a.open == nil {
		a.startLocked(responseID, source)
	}
	flushed := a.closeLocked(text)
	a.mu.Unlock()

	a.emit(previous)
	a.emit(flushed)
}

// Flush closes the open turn with whatever text it holds. It is used when the
// response ends without a text completion or the session is torn down.
func (a *TurnAccumulator) Flush() {
	a.mu.Lock()
	var flushed *AgentTurn
	if a.open != nil {
		flushed = a.closeLocked("")
	}
	a.mu.Unlock()
	a.emit(flushed)
}

// Current returns a copy of the open turn, if any.
func (a *TurnAccumulator) Current() (AgentTurn, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open == nil {
		return AgentTurn{}, false
	}
	return *a.open, true
}

// Reset discards the open turn without flushing it.
func (a *TurnAccumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = nil
	a.buf.Reset()
}

func (a *TurnAccumulator) isClosed(responseID string) bool {
	if responseID == "" {
		return false
	}
	_, ok := a.closed[responseID]
	return ok
}

func (a *TurnAccumulator) startLocked(responseID string, source AgentSource) {
	a.buf.Reset()
	a.open = &AgentTurn{
		ID:         uuid.NewString(),
		ResponseID: responseID,
		Source:     source,
		StartedAt:  a.now(),
	}
}

func (a *TurnAccumulator) closeLocked(finalText string) *AgentTurn {
	turn := a.open
	if finalText != "" {
		turn.Text = finalText
	} else {
		turn.Text = a.buf.String()
	}
	turn.IsFinal = true
	if turn.ResponseID != "" {
		a.closed[turn.ResponseID] = struct{}{}
	}
	a.open = nil
	a.buf.Reset()
	return turn
}

func (a *TurnAccumulator) emit(turn *AgentTurn) {
	if turn == nil || a.onFlush == nil {
		return
	}
	a.onFlush(*turn)
}
