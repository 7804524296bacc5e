package audio

import (
	"fmt"
	"sync"

	"github.com/AltairaLabs/VoiceKit/runtime/logger"
)

// BargeInStrategy determines how to handle the user speaking over the agent.
type BargeInStrategy int

const (
	// BargeInIgnore ignores user speech during agent output.
	BargeInIgnore BargeInStrategy = iota
	// BargeInImmediate stops agent output and starts recording at once.
	BargeInImmediate
	// BargeInDeferred starts recording once the agent finishes its current output.
	BargeInDeferred
)

// String returns a human-readable representation of the strategy.
func (s BargeInStrategy) String() string {
	switch s {
	case BargeInIgnore:
		return "ignore"
	case BargeInImmediate:
		return "immediate"
	case BargeInDeferred:
		return "deferred"
	default:
		return unknownState
	}
}

// ParseBargeInStrategy parses a strategy name. Empty means immediate.
func ParseBargeInStrategy(name string) (BargeInStrategy, error) {
	switch name {
	case "ignore":
		return BargeInIgnore, nil
	case "", "immediate":
		return BargeInImmediate, nil
	case "deferred":
		return BargeInDeferred, nil
	default:
		return BargeInIgnore, fmt.Errorf("unknown barge-in strategy %q", name)
	}
}

// SegmentRecorder is the part of Recorder the guard drives.
type SegmentRecorder interface {
	StartSegment() error
	StopSegment(reason SegmentReason)
	IsRecording() bool
}

// TurnGuard enforces half-duplex turn taking between the recorder and agent
// output. VAD keeps running while the agent speaks so the user can barge in.
type TurnGuard struct {
	strategy BargeInStrategy
	recorder SegmentRecorder

	mu              sync.Mutex
	agentSpeaking   bool
	userSpeaking    bool
	interrupted     bool
	deferredPending bool
	onInterrupt     func()
	onRearm         func()
}

// NewTurnGuard creates a guard over recorder.
func NewTurnGuard(strategy BargeInStrategy, recorder SegmentRecorder) *TurnGuard {
	return &TurnGuard{
		strategy: strategy,
		recorder: recorder,
	}
}

// OnInterrupt registers the callback that silences agent output on barge-in.
func (g *TurnGuard) OnInterrupt(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onInterrupt = fn
}

// OnRearm registers the callback that resets speech detection after a cycle
// is abandoned, so speech that carries on is seen as a fresh onset.
func (g *TurnGuard) OnRearm(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onRearm = fn
}

// HandleRecorderState follows the recorder's cycle changes. A cycle cut at
// the ceiling while the user is still talking is replaced at once. A cycle
// that timed out or was stopped by hand stays closed; the utterance is dropped
// and detection re-armed so the next speech frame opens a new cycle.
func (g *TurnGuard) HandleRecorderState(recording bool, reason SegmentReason) {
	if recording {
		return
	}

	g.mu.Lock()
	active := g.userSpeaking && !g.agentSpeaking
	switch reason {
	case ReasonCeiling:
		g.mu.Unlock()
		if active {
			logger.Debug("Recording ceiling reached mid-utterance: opening next cycle")
			g.startRecording()
		}

	case ReasonTimeout, ReasonStop:
		var rearm func()
		if active {
			g.userSpeaking = false
			rearm = g.onRearm
		}
		g.mu.Unlock()
		if rearm != nil {
			rearm()
		}

	default:
		g.mu.Unlock()
	}
}

// SetAgentSpeaking records whether agent audio is being output. Agent output
// closes any open recording cycle; when it ends, a deferred barge-in starts
// recording.
func (g *TurnGuard) SetAgentSpeaking(speaking bool) {
	g.mu.Lock()
	if g.agentSpeaking == speaking {
		g.mu.Unlock()
		return
	}
	g.agentSpeaking = speaking
	startDeferred := !speaking && g.deferredPending && g.userSpeaking
	if !speaking {
		g.deferredPending = false
	}
	g.mu.Unlock()

	if speaking {
		g.recorder.StopSegment(ReasonPlayback)
		return
	}
	if startDeferred {
		g.startRecording()
	}
}

// IsAgentSpeaking returns true if agent audio is being output.
func (g *TurnGuard) IsAgentSpeaking() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.agentSpeaking
}

// HandleVADEvent applies a VAD transition. It returns true if the event
// interrupted agent output.
func (g *TurnGuard) HandleVADEvent(ev VADEvent) bool {
	if ev.State == VADStateQuiet {
		g.mu.Lock()
		g.userSpeaking = false
		g.deferredPending = false
		g.mu.Unlock()
		g.recorder.StopSegment(ReasonSilence)
		return false
	}

	g.mu.Lock()
	g.userSpeaking = true
	if !g.agentSpeaking {
		g.mu.Unlock()
		g.startRecording()
		return false
	}

	switch g.strategy {
	case BargeInImmediate:
		g.interrupted = true
		g.agentSpeaking = false
		onInterrupt := g.onInterrupt
		g.mu.Unlock()

		logger.Debug("Barge-in: interrupting agent output")
		if onInterrupt != nil {
			onInterrupt()
		}
		g.startRecording()
		return true

	case BargeInDeferred:
		g.deferredPending = true
		g.mu.Unlock()
		return false

	default:
		g.mu.Unlock()
		return false
	}
}

// NotifySentenceBoundary lets a deferred barge-in take effect at the end of
// the agent's current sentence.
func (g *TurnGuard) NotifySentenceBoundary() {
	g.mu.Lock()
	if !g.deferredPending || !g.agentSpeaking {
		g.mu.Unlock()
		return
	}
	g.deferredPending = false
	g.interrupted = true
	g.agentSpeaking = false
	onInterrupt := g.onInterrupt
	g.mu.Unlock()

	if onInterrupt != nil {
		onInterrupt()
	}
	g.startRecording()
}

// WasInterrupted returns true if a barge-in occurred since the last Reset.
func (g *TurnGuard) WasInterrupted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.interrupted
}

// Reset clears guard state for a new session.
func (g *TurnGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.agentSpeaking = false
	g.userSpeaking = false
	g.interrupted = false
	g.deferredPending = false
}

func (g *TurnGuard) startRecording() {
	if err := g.recorder.StartSegment(); err != nil {
		logger.Debug("Recording not started", "error", err)
	}
}
