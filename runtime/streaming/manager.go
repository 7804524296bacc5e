package streaming

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AltairaLabs/VoiceKit/pkg/config"
	pkgerrors "github.com/AltairaLabs/VoiceKit/pkg/errors"
	"github.com/AltairaLabs/VoiceKit/runtime/audio"
	"github.com/AltairaLabs/VoiceKit/runtime/logger"
	"github.com/AltairaLabs/VoiceKit/runtime/protocol"
)

// Defaults.
const (
	DefaultResponseTimeout = 15 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
)

// Manager errors.
var (
	ErrNotStarted    = errors.New("streaming session not started")
	ErrAlreadyActive = errors.New("streaming session already started")
	ErrNoResponse    = errors.New("no response from relay")
)

// SegmentStopper ends the current recording cycle when a response times out.
type SegmentStopper interface {
	StopSegment(reason audio.SegmentReason)
}

// Handlers are the optional callbacks of a Manager.
type Handlers struct {
	OnTranscription func(protocol.TranscriptionUpdate)
	OnAgentMessage  func(protocol.AgentMessage)
	// OnAgentAudio receives an encoded audio payload and the text it speaks.
	// payload is empty for text-only responses.
	OnAgentAudio func(payload, text string)
	// OnNoResponse reports a recoverable response timeout.
	OnNoResponse func(error)
	// OnFatal reports loss of the relay connection or a relay-side session end.
	OnFatal func(error)
	OnDrop  func(reason string)
}

// Manager runs one fallback conversation over the relay.
type Manager struct {
	cfg      config.StreamingConfig
	handlers Handlers
	stopper  SegmentStopper

	turns       *protocol.TurnAccumulator
	transcripts *protocol.TranscriptionTracker

	mu         sync.Mutex
	relay      *RelayClient
	sessionID  string
	started    chan string
	processing bool
	timer      *time.Timer
	timerGen   uint64
	responseN  int
	// streamed is set once a chunk of the current response carried audio.
	streamed bool
	ending   bool
	ctx      context.Context
}

// NewManager creates a manager. stopper may be nil.
func NewManager(cfg config.StreamingConfig, h Handlers, stopper SegmentStopper) *Manager {
	m := &Manager{
		cfg:         cfg,
		handlers:    h,
		stopper:     stopper,
		transcripts: protocol.NewTranscriptionTracker(),
		ctx:         context.Background(),
	}
	m.turns = protocol.NewTurnAccumulator(m.flushTurn)
	return m
}

// Start connects to the relay and waits for session-started. The returned id
// is the relay-issued session id.
func (m *Manager) Start(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.relay != nil {
		m.mu.Unlock()
		return "", ErrAlreadyActive
	}
	m.started = make(chan string, 1)
	m.ending = false
	started := m.started
	m.mu.Unlock()

	timeout := m.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	relay, err := DialRelay(dialCtx, m.cfg.URL, RelayOptions{
		MaxSendsPerSecond: m.cfg.MaxSendsPerSecond,
		OnDrop:            m.handlers.OnDrop,
	}, m.handle)
	if err != nil {
		return "", negotiationError("Connect", err)
	}

	m.mu.Lock()
	m.relay = relay
	m.mu.Unlock()

	if err := relay.Send(dialCtx, OutboundMessage{Type: TypeStart}); err != nil {
		m.teardown()
		return "", negotiationError("Start", err)
	}

	select {
	case id := <-started:
		m.mu.Lock()
		m.ctx = logger.WithSessionID(ctx, id)
		sessionCtx := m.ctx
		m.mu.Unlock()
		go m.watch(relay)
		logger.InfoContext(sessionCtx, "Streaming session started")
		return id, nil
	case <-relay.Done():
		m.teardown()
		return "", negotiationError("Start", fmt.Errorf("relay closed before session-started: %w", relay.Err()))
	case <-dialCtx.Done():
		m.teardown()
		return "", negotiationError("Start", fmt.Errorf("waiting for session-started: %w", dialCtx.Err()))
	}
}

func negotiationError(op string, err error) error {
	return pkgerrors.New("streaming", op, err).WithCategory(pkgerrors.CategoryNegotiation)
}

// SessionID returns the relay-issued id, or "" before Start.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// IsProcessing reports whether a segment is awaiting its response.
func (m *Manager) IsProcessing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processing
}

// SendSegment transmits a segment as soon as it is produced and arms the
// response timeout. Chunks go out as streaming-audio, final segments as audio-chunk.
func (m *Manager) SendSegment(ctx context.Context, seg audio.Segment) error {
	if seg.Reason == audio.ReasonTimeout {
		logger.Debug("Streaming: discarding segment flushed by response timeout", "segment_id", seg.ID)
		return nil
	}

	m.mu.Lock()
	relay, sessionID := m.relay, m.sessionID
	m.mu.Unlock()
	if relay == nil || sessionID == "" {
		return pkgerrors.New("streaming", "SendSegment", ErrNotStarted)
	}

	msgType := TypeStreamingAudio
	if seg.Final {
		msgType = TypeAudioChunk
	}
	err := relay.Send(ctx, OutboundMessage{
		Type:      msgType,
		SessionID: sessionID,
		AudioData: base64.StdEncoding.EncodeToString(seg.Data),
		MimeType:  seg.MimeType,
		SegmentID: seg.ID,
	})
	if err != nil {
		return pkgerrors.New("streaming", "SendSegment", err).WithCategory(pkgerrors.CategoryTransport)
	}

	logger.DebugContext(logger.WithSegmentID(ctx, seg.ID), "Streaming: segment sent",
		"type", msgType, "bytes", seg.Size, "reason", string(seg.Reason))
	m.armTimeout()
	return nil
}

func (m *Manager) responseTimeout() time.Duration {
	if m.cfg.ResponseTimeout > 0 {
		return m.cfg.ResponseTimeout
	}
	return DefaultResponseTimeout
}

func (m *Manager) armTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armLocked()
}

// armLocked starts a fresh response deadline. Caller holds m.mu.
func (m *Manager) armLocked() {
	m.processing = true
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timerGen++
	gen := m.timerGen
	m.timer = time.AfterFunc(m.responseTimeout(), func() { m.onTimeout(gen) })
}

// disarmLocked stops the response timer. Caller holds m.mu.
func (m *Manager) disarmLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
}

func (m *Manager) onTimeout(gen uint64) {
	m.mu.Lock()
	if gen != m.timerGen || m.relay == nil {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.processing = false
	m.streamed = false
	ctx := m.ctx
	m.mu.Unlock()

	logger.WarnContext(ctx, "Streaming: response timed out", "timeout", m.responseTimeout())
	if m.stopper != nil {
		m.stopper.StopSegment(audio.ReasonTimeout)
	}
	if m.handlers.OnNoResponse != nil {
		m.handlers.OnNoResponse(pkgerrors.New("streaming", "AwaitResponse", ErrNoResponse).
			WithCategory(pkgerrors.CategoryNoResponse))
	}
}

func (m *Manager) handle(msg *InboundMessage) {
	action, err := ClassifyMessage(msg)

	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()

	switch action {
	case ResponseActionIgnore:
		logger.ProtocolDrop(ctx, "relay", "unknown_type", []byte(msg.Type))
		if m.handlers.OnDrop != nil {
			m.handlers.OnDrop("unknown_type")
		}

	case ResponseActionContinue:
		if msg.Type == TypeSessionStarted {
			m.sessionStarted(msg.SessionID)
			return
		}
		// A response in progress keeps the agent busy; each chunk extends
		// the deadline so a relay that stalls mid-response still times out.
		m.mu.Lock()
		m.armLocked()
		key := m.responseKeyLocked()
		if msg.AudioData != "" {
			m.streamed = true
		}
		m.mu.Unlock()
		if msg.AudioData != "" && m.handlers.OnAgentAudio != nil {
			m.handlers.OnAgentAudio(msg.AudioData, "")
		}
		m.turns.Delta(key, msg.Message, protocol.SourceText)
		if cur, ok := m.turns.Current(); ok && m.handlers.OnAgentMessage != nil {
			m.handlers.OnAgentMessage(protocol.AgentMessage{
				Type: protocol.MessageAgentDelta,
				Text: cur.Text,
				Meta: map[string]any{"response_id": key},
			})
		}

	case ResponseActionComplete:
		m.mu.Lock()
		m.disarmLocked()
		m.processing = false
		key := m.responseKeyLocked()
		m.responseN++
		streamed := m.streamed
		m.streamed = false
		m.mu.Unlock()

		if msg.UserTranscript != "" && m.handlers.OnTranscription != nil {
			m.handlers.OnTranscription(m.transcripts.Complete(key, msg.UserTranscript))
		}
		m.turns.Complete(key, msg.Message, protocol.SourceText)
		// Text-only responses still go to playback, which speaks them, unless
		// the reply was already heard from its chunks.
		speak := msg.AudioData != "" || (msg.Message != "" && !streamed)
		if speak && m.handlers.OnAgentAudio != nil {
			m.handlers.OnAgentAudio(msg.AudioData, msg.Message)
		}

	case ResponseActionError:
		m.mu.Lock()
		m.disarmLocked()
		m.processing = false
		m.streamed = false
		m.mu.Unlock()
		logger.WarnContext(ctx, "Streaming: relay reported an error", "error", err)
		if m.handlers.OnNoResponse != nil {
			m.handlers.OnNoResponse(pkgerrors.New("streaming", "AwaitResponse", err).
				WithCategory(pkgerrors.CategoryNoResponse))
		}

	case ResponseActionEnded:
		m.mu.Lock()
		ending := m.ending
		m.mu.Unlock()
		logger.InfoContext(ctx, "Streaming: relay ended the session")
		if !ending && m.handlers.OnFatal != nil {
			m.handlers.OnFatal(pkgerrors.New("streaming", "Session", errors.New("relay ended the session")).
				WithCategory(pkgerrors.CategoryTransport))
		}
	}
}

func (m *Manager) responseKeyLocked() string {
	return fmt.Sprintf("%s-%d", m.sessionID, m.responseN)
}

func (m *Manager) sessionStarted(id string) {
	m.mu.Lock()
	if m.sessionID != "" {
		m.mu.Unlock()
		return
	}
	m.sessionID = id
	started := m.started
	m.mu.Unlock()
	if started != nil {
		started <- id
	}
}

func (m *Manager) flushTurn(turn protocol.AgentTurn) {
	if m.handlers.OnAgentMessage == nil {
		return
	}
	m.handlers.OnAgentMessage(protocol.AgentMessage{
		Type: protocol.MessageAgentTurn,
		Text: turn.Text,
		Meta: map[string]any{
			"turn_id":     turn.ID,
			"response_id": turn.ResponseID,
			"source":      string(turn.Source),
			"is_final":    turn.IsFinal,
		},
	})
}

func (m *Manager) watch(relay *RelayClient) {
	<-relay.Done()
	err := relay.Err()
	if err == nil {
		return
	}
	m.mu.Lock()
	ending := m.ending
	m.mu.Unlock()
	if !ending && m.handlers.OnFatal != nil {
		m.handlers.OnFatal(pkgerrors.New("streaming", "Transport", err).WithCategory(pkgerrors.CategoryTransport))
	}
}

// End sends end, closes the relay and clears every pending timer. It is
// safe to call more than once.
func (m *Manager) End(ctx context.Context) error {
	m.mu.Lock()
	relay, sessionID := m.relay, m.sessionID
	m.ending = true
	m.mu.Unlock()
	if relay == nil {
		return nil
	}

	if sessionID != "" {
		if err := relay.Send(ctx, OutboundMessage{Type: TypeEnd, SessionID: sessionID}); err != nil {
			logger.Debug("Streaming: end not delivered", "error", err)
		}
	}
	m.turns.Flush()
	m.teardown()
	return nil
}

func (m *Manager) teardown() {
	m.mu.Lock()
	relay := m.relay
	m.relay = nil
	m.sessionID = ""
	m.processing = false
	m.disarmLocked()
	m.mu.Unlock()
	if relay != nil {
		_ = relay.Close()
	}
}
