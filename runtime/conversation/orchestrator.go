package conversation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AltairaLabs/VoiceKit/pkg/config"
	pkgerrors "github.com/AltairaLabs/VoiceKit/pkg/errors"
	"github.com/AltairaLabs/VoiceKit/pkg/httputil"
	"github.com/AltairaLabs/VoiceKit/runtime/audio"
	"github.com/AltairaLabs/VoiceKit/runtime/events"
	"github.com/AltairaLabs/VoiceKit/runtime/logger"
	"github.com/AltairaLabs/VoiceKit/runtime/protocol"
	"github.com/AltairaLabs/VoiceKit/runtime/realtime"
	"github.com/AltairaLabs/VoiceKit/runtime/streaming"
)

// Orchestrator errors.
var (
	// ErrSessionClosed is returned by operations that need an active session.
	ErrSessionClosed = errors.New("conversation: no active session")
	// ErrNoTransport is returned when neither transport is enabled.
	ErrNoTransport = errors.New("conversation: no transport enabled")
)

// TransportRelay names the streaming transport in events and Session.Transport.
const TransportRelay = "relay"

// streamingEndTimeout bounds the relay end message during teardown.
const streamingEndTimeout = 2 * time.Second

// Callbacks are the UI-facing notifications. All are optional and may be
// called from any goroutine.
type Callbacks struct {
	OnConnected           func(Session)
	OnTranscriptionUpdate func(protocol.TranscriptionUpdate)
	OnAgentMessage        func(protocol.AgentMessage)
	OnFeedback            func(scores map[string]any, comment string)
	// OnError receives recoverable errors and session-start failures. Errors
	// are categorized; use pkgerrors.Describe for display.
	OnError       func(error)
	OnStateChange func(State)
	// OnLevel receives the microphone level (0..100) every analysed frame.
	OnLevel func(level int)
}

// Dependencies are the devices and shared services an orchestrator drives.
type Dependencies struct {
	Capture audio.CaptureDevice
	// Sink is borrowed: sessions never close it.
	Sink        audio.Sink
	Synthesizer audio.Synthesizer
	Permission  *audio.PlaybackPermission
	Bus         *events.EventBus
	HTTPClient  *http.Client
	// RealtimeDialer replaces the transport chosen by realtime.transport.
	RealtimeDialer realtime.Dialer
}

// Orchestrator owns at most one conversation session and is the only writer
// of top-level state. Start negotiates realtime first and falls back to the
// streaming relay; End tears everything down synchronously.
type Orchestrator struct {
	deps    Dependencies
	cb      Callbacks
	emitter *events.Emitter

	mu           sync.Mutex
	state        State
	cur          *session
	negCancel    context.CancelFunc
	negDone      chan struct{}
	endRequested bool
}

// New creates an idle orchestrator.
func New(deps Dependencies, cb Callbacks) *Orchestrator {
	if deps.Permission == nil {
		deps.Permission = audio.NewPlaybackPermission(true)
	}
	deps.HTTPClient = httputil.OrDefault(deps.HTTPClient)
	return &Orchestrator{
		deps:    deps,
		cb:      cb,
		emitter: events.NewEmitter(deps.Bus, "", ""),
	}
}

// State returns the current top-level state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) current() *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cur
}

// Session returns a snapshot of the active session.
func (o *Orchestrator) Session() (Session, bool) {
	s := o.current()
	if s == nil {
		return Session{}, false
	}
	return s.snapshot(), true
}

// Mode returns the active mode, or ModeNone when idle.
func (o *Orchestrator) Mode() Mode {
	s := o.current()
	if s == nil {
		return ModeNone
	}
	return s.mode()
}

// IsRecording reports whether a recording cycle is open.
func (o *Orchestrator) IsRecording() bool {
	s := o.current()
	return s != nil && s.recorder.IsRecording()
}

// IsPlaying reports whether agent audio is being output.
func (o *Orchestrator) IsPlaying() bool {
	s := o.current()
	return s != nil && s.isPlaying()
}

// IsProcessing reports whether the agent is working on a response.
func (o *Orchestrator) IsProcessing() bool {
	s := o.current()
	return s != nil && s.isProcessing()
}

// Health returns the realtime connection health. ok is false outside
// realtime mode.
func (o *Orchestrator) Health() (h realtime.ConnectionHealth, ok bool) {
	s := o.current()
	if s == nil {
		return h, false
	}
	rt := s.realtime()
	if rt == nil {
		return h, false
	}
	return rt.Health(), true
}

// GrantPlayback releases playback held back for lack of permission.
func (o *Orchestrator) GrantPlayback() {
	o.deps.Permission.Grant()
}

// Interrupt silences the agent as a manual barge-in.
func (o *Orchestrator) Interrupt() error {
	s := o.current()
	if s == nil {
		return pkgerrors.New("conversation", "Interrupt", ErrSessionClosed)
	}
	s.interrupt()
	s.em().BargeIn()
	return nil
}

// Commit ends the user's turn now, as push-to-talk does. The open recording
// cycle is flushed as a final segment; in realtime mode the server's input
// buffer is committed as well.
func (o *Orchestrator) Commit() error {
	s := o.current()
	if s == nil {
		return pkgerrors.New("conversation", "Commit", ErrSessionClosed)
	}
	return s.commit()
}

// Start negotiates a new session. Calling Start while a session exists is a
// no-op. When every transport fails the orchestrator returns to Idle and the
// categorized error is both returned and passed to OnError.
func (o *Orchestrator) Start(ctx context.Context, cfg *config.Config) error {
	o.mu.Lock()
	if o.state != StateIdle {
		state := o.state
		o.mu.Unlock()
		logger.DebugContext(ctx, "Start ignored, a session already exists", "state", state.String())
		return nil
	}
	negCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.negCancel = cancel
	o.negDone = done
	o.endRequested = false
	from := o.setStateLocked(StateNegotiating)
	o.mu.Unlock()
	defer func() {
		cancel()
		close(done)
	}()
	o.notifyState(ctx, from, StateNegotiating)

	if cfg == nil {
		cfg = config.Defaults()
	}
	s, err := o.newSession(ctx, cfg)
	if err != nil {
		return o.startFailed(ctx, nil, err)
	}
	s.em().SessionNegotiating()

	if err := o.negotiate(negCtx, s); err != nil {
		return o.startFailed(ctx, s, err)
	}

	o.mu.Lock()
	if o.endRequested {
		o.mu.Unlock()
		s.teardown()
		o.transition(ctx, StateIdle)
		return pkgerrors.New("conversation", "Start", ErrSessionClosed)
	}
	if lost := s.lostErr(); lost != nil {
		o.mu.Unlock()
		return o.startFailed(ctx, s, lost)
	}
	o.cur = s
	o.negCancel = nil
	from = o.setStateLocked(StateActive)
	o.mu.Unlock()

	o.activate(s)
	o.notifyState(s.logContext(), from, StateActive)
	return nil
}

func (o *Orchestrator) negotiate(ctx context.Context, s *session) error {
	var rtErr error
	if s.cfg.Realtime.Enabled {
		reason, err := o.tryRealtime(ctx, s)
		if err == nil {
			return nil
		}
		rtErr = err
		if o.cancelled() {
			return err
		}
		logger.WarnContext(ctx, "Realtime negotiation failed, falling back to streaming",
			"reason", reason, "error", err)
		s.em().SessionFallback(reason)
	}
	if !s.cfg.Streaming.Enabled {
		if rtErr != nil {
			return rtErr
		}
		return pkgerrors.New("conversation", "Start", ErrNoTransport).WithCategory(pkgerrors.CategoryNegotiation)
	}
	return o.tryStreaming(ctx, s)
}

func (o *Orchestrator) cancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.endRequested
}

// tryRealtime returns the failure reason alongside the error.
func (o *Orchestrator) tryRealtime(ctx context.Context, s *session) (string, error) {
	if err := s.openMicrophone(); err != nil {
		return "microphone", err
	}

	mux := protocol.NewMultiplexer("realtime", s.realtimeHandlers())
	opts := []realtime.Option{
		realtime.WithHTTPClient(o.deps.HTTPClient),
		realtime.WithCaptureRate(s.recorder.SampleRate()),
	}
	if o.deps.RealtimeDialer != nil {
		opts = append(opts, realtime.WithDialer(o.deps.RealtimeDialer))
	}
	rt := realtime.NewManager(s.cfg.Realtime, mux, opts...)
	rt.OnRemoteTrack(func(track audio.RemoteTrack) {
		s.playback.AttachTrack(s.ctx, track)
	})
	rt.OnFatal(s.fatal)
	s.mu.Lock()
	s.rt = rt
	s.mu.Unlock()

	res, err := rt.Negotiate(ctx)
	s.em().NegotiationCompleted(events.NegotiationData{
		Transport: res.Transport,
		OK:        res.OK,
		Reason:    res.Reason,
		Model:     res.Model,
		Duration:  res.Duration,
	})
	if err != nil {
		s.mu.Lock()
		s.rt = nil
		s.mu.Unlock()
		_ = rt.Close()
		return res.Reason, err
	}

	s.recorder.SetStreaming(false)
	s.mu.Lock()
	s.info.ID = RealtimeSessionPrefix + uuid.NewString()
	s.info.Mode = ModeRealtime
	s.info.Transport = res.Transport
	s.info.Model = res.Model
	s.mu.Unlock()
	return "", nil
}

func (o *Orchestrator) tryStreaming(ctx context.Context, s *session) error {
	if err := s.openMicrophone(); err != nil {
		return err
	}

	sm := streaming.NewManager(s.cfg.Streaming, s.streamingHandlers(), s.recorder)
	start := time.Now()
	id, err := sm.Start(ctx)
	data := events.NegotiationData{Transport: TransportRelay, OK: err == nil, Duration: time.Since(start)}
	if err != nil {
		data.Reason = string(pkgerrors.CategoryOf(err))
	}
	s.em().NegotiationCompleted(data)
	if err != nil {
		return err
	}

	s.recorder.SetStreaming(true)
	s.mu.Lock()
	s.stream = sm
	s.info.ID = id
	s.info.Mode = ModeStreaming
	s.info.Transport = TransportRelay
	s.mu.Unlock()
	return nil
}

func (o *Orchestrator) activate(s *session) {
	s.mu.Lock()
	s.info.StartedAt = time.Now()
	s.info.MaxDuration = s.cfg.Session.MaxDuration
	s.logCtx = logger.WithMode(logger.WithSessionID(s.logCtx, s.info.ID), string(s.info.Mode))
	s.emitter = o.emitter.WithSession(s.info.ID, string(s.info.Mode))
	if s.info.MaxDuration > 0 {
		s.timer = time.AfterFunc(s.info.MaxDuration, func() {
			logger.InfoContext(s.logContext(), "Maximum session duration reached")
			_ = o.endSession(s, EndReasonMaxDuration)
		})
	}
	info := s.info
	s.mu.Unlock()

	s.detector.Start(s.ctx)
	go s.playReplies()
	logger.InfoContext(s.logContext(), "Conversation active", "transport", info.Transport)
	s.em().SessionStarted(info.Transport)
	if o.cb.OnConnected != nil {
		o.cb.OnConnected(info)
	}
}

func (o *Orchestrator) startFailed(ctx context.Context, s *session, err error) error {
	if s != nil {
		s.teardown()
	}
	if o.cancelled() {
		o.transition(ctx, StateIdle)
		return pkgerrors.New("conversation", "Start", ErrSessionClosed)
	}
	if pkgerrors.CategoryOf(err) == pkgerrors.CategoryUnknown {
		err = pkgerrors.New("conversation", "Start", err).WithCategory(pkgerrors.CategoryNegotiation)
	}
	logger.ErrorContext(ctx, "Conversation could not start", "error", err)
	o.emitter.SessionFailed(err)
	o.transition(ctx, StateIdle)
	o.surface(o.emitter, err)
	return err
}

// surface reports a categorized error to the UI and the bus.
func (o *Orchestrator) surface(em *events.Emitter, err error) {
	em.Error(err)
	if o.cb.OnError != nil {
		o.cb.OnError(err)
	}
}

// End tears the session down and returns to Idle. It is safe to call in any
// state; during negotiation it cancels the attempt and waits for it.
func (o *Orchestrator) End() error {
	o.mu.Lock()
	if o.state == StateNegotiating {
		o.endRequested = true
		cancel, done := o.negCancel, o.negDone
		o.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if done != nil {
			<-done
		}
		return nil
	}
	s := o.cur
	o.mu.Unlock()
	if s == nil {
		return nil
	}
	return o.endSession(s, EndReasonUser)
}

// endSession is the single teardown path for End, max duration and fatal
// transport loss. Stale sessions are ignored.
func (o *Orchestrator) endSession(s *session, reason string) error {
	o.mu.Lock()
	if o.cur != s {
		o.mu.Unlock()
		return nil
	}
	o.cur = nil
	from := o.setStateLocked(StateEnding)
	o.mu.Unlock()
	ctx := s.logContext()
	o.notifyState(ctx, from, StateEnding)

	info := s.snapshot()
	s.teardown()
	s.em().SessionEnded(reason, info.Elapsed())
	logger.InfoContext(ctx, "Conversation ended", "reason", reason, "duration", info.Elapsed())

	o.transition(ctx, StateIdle)
	return nil
}

// setStateLocked records a new state and returns the previous one. Caller holds o.mu.
func (o *Orchestrator) setStateLocked(to State) State {
	from := o.state
	o.state = to
	return from
}

func (o *Orchestrator) transition(ctx context.Context, to State) {
	o.mu.Lock()
	from := o.setStateLocked(to)
	o.mu.Unlock()
	o.notifyState(ctx, from, to)
}

func (o *Orchestrator) notifyState(ctx context.Context, from, to State) {
	if from == to {
		return
	}
	logger.Transition(ctx, "conversation", from.String(), to.String())
	if o.cb.OnStateChange != nil {
		o.cb.OnStateChange(to)
	}
}
