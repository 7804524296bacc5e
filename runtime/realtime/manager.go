package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/AltairaLabs/VoiceKit/pkg/config"
	pkgerrors "github.com/AltairaLabs/VoiceKit/pkg/errors"
	"github.com/AltairaLabs/VoiceKit/pkg/httputil"
	"github.com/AltairaLabs/VoiceKit/runtime/audio"
	"github.com/AltairaLabs/VoiceKit/runtime/logger"
	"github.com/AltairaLabs/VoiceKit/runtime/protocol"
)

// DefaultConnectTimeout bounds token fetch, offer/answer and channel open.
const DefaultConnectTimeout = 15 * time.Second

// Negotiation failure reasons reported in Result.Reason.
const (
	ReasonToken       = "token"
	ReasonOfferAnswer = "offer_answer"
	ReasonTimeout     = "timeout"
	ReasonHandshake   = "handshake"
	ReasonClosed      = "closed"
)

// ErrManagerClosed is returned when negotiating on a closed manager.
var ErrManagerClosed = errors.New("realtime manager is closed")

// Result is the outcome of Negotiate. A failed negotiation is recoverable:
// the caller falls back to another transport.
type Result struct {
	OK        bool
	Reason    string
	Transport string
	Model     string
	Duration  time.Duration
}

// Dispatcher receives inbound control-channel payloads.
type Dispatcher interface {
	Dispatch(ctx context.Context, data []byte)
}

// Manager negotiates and owns one realtime session: token exchange, channel
// setup, the one-time handshake and capture arming.
type Manager struct {
	cfg         config.RealtimeConfig
	tokens      *TokenClient
	dialer      Dialer
	dispatcher  Dispatcher
	httpClient  *http.Client
	captureRate int
	health      *healthTracker

	mu            sync.Mutex
	ch            ControlChannel
	ctx           context.Context
	handshakeSent bool
	armed         bool
	closed        bool
	inline        *deltaTrack
	onTrack       func(audio.RemoteTrack)
	onFatal       func(error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for token and SDP requests.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// WithDialer replaces the transport selected by config.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithCaptureRate sets the sample rate of PCM given to SendPCM.
func WithCaptureRate(rate int) Option {
	return func(m *Manager) { m.captureRate = rate }
}

// NewManager creates a manager for cfg. Inbound payloads go to dispatcher.
func NewManager(cfg config.RealtimeConfig, dispatcher Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		cfg:         cfg,
		dispatcher:  dispatcher,
		captureRate: 16000,
		health:      newHealthTracker(),
		ctx:         context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.httpClient = httputil.OrDefault(m.httpClient)
	m.tokens = NewTokenClient(cfg.TokenURL, cfg.TokenMethod, m.httpClient)
	if m.dialer == nil {
		m.dialer = m.defaultDialer()
	}
	m.health.onFatal = func(h ConnectionHealth) {
		m.fail(fmt.Errorf("transport %s", h.TransportState))
	}
	return m
}

func (m *Manager) defaultDialer() Dialer {
	if m.cfg.Transport == config.TransportWebSocket {
		return &SocketDialer{Endpoint: m.cfg.Endpoint}
	}
	return &PeerDialer{
		Endpoint:          m.cfg.Endpoint,
		ICEServers:        m.cfg.ICEServers,
		HTTPClient:        m.httpClient,
		CaptureRate:       m.captureRate,
		PlaybackRate:      protocol.DefaultSampleRate,
		OnRemoteTrack:     m.remoteTrack,
		OnConnectionState: m.health.setTransport,
	}
}

// OnRemoteTrack registers the receiver of agent audio.
func (m *Manager) OnRemoteTrack(fn func(audio.RemoteTrack)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTrack = fn
}

// OnFatal registers a callback for transport loss after a successful negotiation.
// It fires at most once.
func (m *Manager) OnFatal(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFatal = fn
}

// Negotiate fetches a token, opens the control channel and performs the
// handshake. Failures return a Result with OK false and a negotiation error.
func (m *Manager) Negotiate(ctx context.Context) (Result, error) {
	start := time.Now()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Result{Reason: ReasonClosed}, pkgerrors.New("realtime", "Negotiate", ErrManagerClosed).
			WithCategory(pkgerrors.CategoryNegotiation)
	}
	if m.ch != nil {
		res := Result{OK: true, Transport: m.ch.Transport()}
		m.mu.Unlock()
		return res, nil
	}
	m.mu.Unlock()

	timeout := m.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m.health.setTransport(TransportConnecting)

	tok, err := m.tokens.Fetch(dialCtx)
	if err != nil {
		return m.negotiationFailed(dialCtx, ReasonToken, "FetchToken", err, start)
	}

	sessionCtx := logger.WithTransport(ctx, m.transportName())
	ch, err := m.dialer.Dial(dialCtx, tok, func(data []byte) {
		if m.dispatcher != nil {
			m.dispatcher.Dispatch(sessionCtx, data)
		}
	})
	if err != nil {
		return m.negotiationFailed(dialCtx, ReasonOfferAnswer, "Connect", err, start)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = ch.Close()
		return Result{Reason: ReasonClosed}, pkgerrors.New("realtime", "Negotiate", ErrManagerClosed).
			WithCategory(pkgerrors.CategoryNegotiation)
	}
	m.ch = ch
	m.ctx = sessionCtx
	m.mu.Unlock()
	m.health.setTransport(TransportConnected)

	if err := m.handshake(); err != nil {
		m.mu.Lock()
		m.ch = nil
		m.mu.Unlock()
		_ = ch.Close()
		return m.negotiationFailed(dialCtx, ReasonHandshake, "Handshake", err, start)
	}

	go m.watch(ch)

	res := Result{OK: true, Transport: ch.Transport(), Model: tok.Model, Duration: time.Since(start)}
	logger.InfoContext(sessionCtx, "Realtime session negotiated",
		"model", tok.Model, "duration", res.Duration)
	return res, nil
}

func (m *Manager) transportName() string {
	if m.cfg.Transport == "" {
		return config.TransportWebRTC
	}
	return m.cfg.Transport
}

func (m *Manager) negotiationFailed(ctx context.Context, reason, op string, err error, start time.Time) (Result, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = ReasonTimeout
	}
	m.health.setTransport(TransportClosed)

	var ce *pkgerrors.ContextualError
	if !errors.As(err, &ce) {
		ce = pkgerrors.New("realtime", op, err)
		var se *statusError
		if errors.As(err, &se) {
			ce = ce.WithStatusCode(se.Code)
		}
	}
	ce = ce.WithCategory(pkgerrors.CategoryNegotiation)
	logger.Warn("Realtime unavailable", "reason", reason, "error", err)
	return Result{Reason: reason, Duration: time.Since(start)}, ce
}

// handshake sends session.update exactly once, requests the opening turn and
// arms capture.
func (m *Manager) handshake() error {
	m.mu.Lock()
	if m.handshakeSent {
		m.mu.Unlock()
		return nil
	}
	m.handshakeSent = true
	ch := m.ch
	m.mu.Unlock()

	td := protocol.TurnDetectionConfig{
		Type:              protocol.TurnDetectionVAD,
		Threshold:         m.cfg.TurnDetection.Threshold,
		PrefixPaddingMs:   m.cfg.TurnDetection.PrefixPaddingMs,
		SilenceDurationMs: m.cfg.TurnDetection.SilenceDurationMs,
	}
	if err := ch.Send(protocol.NewSessionUpdate(m.cfg.Instructions, m.cfg.Voice, m.cfg.Modalities, td)); err != nil {
		return fmt.Errorf("send session.update: %w", err)
	}
	if err := ch.Send(protocol.NewResponseCreate(m.cfg.GreetingInstructions, nil)); err != nil {
		return fmt.Errorf("send response.create: %w", err)
	}
	if err := ch.Send(protocol.NewInputAudioBufferStart()); err != nil {
		return fmt.Errorf("send input_audio_buffer.start: %w", err)
	}

	m.mu.Lock()
	m.armed = true
	m.mu.Unlock()
	return nil
}

func (m *Manager) watch(ch ControlChannel) {
	<-ch.Done()
	if err := ch.Err(); err != nil {
		m.health.setTransport(TransportFailed)
	}
}

func (m *Manager) fail(cause error) {
	m.mu.Lock()
	if m.closed || m.ch == nil {
		m.mu.Unlock()
		return
	}
	fn := m.onFatal
	m.onFatal = nil
	ctx := m.ctx
	m.mu.Unlock()

	logger.ErrorContext(ctx, "Realtime transport lost", "error", cause)
	if fn != nil {
		fn(pkgerrors.New("realtime", "Transport", cause).WithCategory(pkgerrors.CategoryTransport))
	}
}

// IsArmed reports whether capture audio is being accepted.
func (m *Manager) IsArmed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed && !m.closed
}

// Health returns the current connection health.
func (m *Manager) Health() ConnectionHealth {
	return m.health.snapshot()
}

func (m *Manager) channel() (ControlChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.ch == nil {
		return nil, ErrChannelClosed
	}
	return m.ch, nil
}

// Send writes an arbitrary client event.
func (m *Manager) Send(v any) error {
	ch, err := m.channel()
	if err != nil {
		return err
	}
	return ch.Send(v)
}

// SendPCM forwards capture PCM. Audio is only accepted while armed.
func (m *Manager) SendPCM(pcm []byte) error {
	m.mu.Lock()
	armed, ch, closed := m.armed, m.ch, m.closed
	m.mu.Unlock()
	if closed || ch == nil {
		return ErrChannelClosed
	}
	if !armed {
		return ErrNotArmed
	}
	return ch.SendAudio(pcm, m.captureRate)
}

// Commit closes the current utterance.
func (m *Manager) Commit() error {
	return m.Send(protocol.NewInputAudioBufferCommit())
}

// CancelResponse cancels the agent's in-progress response and drops any
// inline audio not yet played.
func (m *Manager) CancelResponse() error {
	m.mu.Lock()
	inline := m.inline
	m.mu.Unlock()
	if inline != nil {
		inline.Clear()
	}
	return m.Send(protocol.NewResponseCancel())
}

// HandleAudio feeds inline audio deltas to a RemoteTrack. Transports with a
// media track never produce these events.
func (m *Manager) HandleAudio(ev protocol.Event) {
	delta, ok := ev.(*protocol.AudioDelta)
	if !ok {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(delta.Delta)
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	if err != nil {
		logger.ProtocolDrop(ctx, "realtime", "bad_audio", []byte(delta.Delta))
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	track := m.inline
	created := false
	if track == nil {
		track = newDeltaTrack("inline-audio")
		m.inline = track
		created = true
	}
	m.mu.Unlock()

	if created {
		m.remoteTrack(track)
	}
	track.Push(pcm)
}

func (m *Manager) remoteTrack(track audio.RemoteTrack) {
	m.health.setMedia(MediaMuted)
	track.OnStateChange(func(s audio.TrackState) {
		switch s {
		case audio.TrackLive:
			m.health.setMedia(MediaLive)
		case audio.TrackEnded:
			m.health.setMedia(MediaEnded)
		default:
			m.health.setMedia(MediaMuted)
		}
	})

	m.mu.Lock()
	fn := m.onTrack
	m.mu.Unlock()
	if fn != nil {
		fn(track)
	}
}

// Close tears the session down. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.armed = false
	ch := m.ch
	inline := m.inline
	m.mu.Unlock()

	if inline != nil {
		inline.End()
	}
	m.health.setTransport(TransportClosed)
	if ch == nil {
		return nil
	}
	return ch.Close()
}
