package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/AltairaLabs/VoiceKit/pkg/config"
	pkgerrors "github.com/AltairaLabs/VoiceKit/pkg/errors"
	"github.com/AltairaLabs/VoiceKit/runtime/audio"
	"github.com/AltairaLabs/VoiceKit/runtime/events"
	"github.com/AltairaLabs/VoiceKit/runtime/logger"
	"github.com/AltairaLabs/VoiceKit/runtime/protocol"
	"github.com/AltairaLabs/VoiceKit/runtime/realtime"
	"github.com/AltairaLabs/VoiceKit/runtime/streaming"
)

// session is the owned handle to one conversation. Every component callback
// goes through it, and it drops callbacks once torn down.
type session struct {
	o   *Orchestrator
	cfg *config.Config

	// ctx lives until teardown; playback and the detector run under it.
	ctx    context.Context
	cancel context.CancelFunc

	recorder *audio.Recorder
	analyser *audio.Analyser
	detector *audio.Detector
	guard    *audio.TurnGuard
	playback *audio.PlaybackManager
	// replies holds agent audio waiting to be played, in arrival order.
	replies chan agentReply

	mu         sync.Mutex
	logCtx     context.Context
	info       Session
	emitter    *events.Emitter
	rt         *realtime.Manager
	stream     *streaming.Manager
	responding bool
	lost       error
	timer      *time.Timer
	closed     bool
	replyGen   uint64
}

// replyQueueSize bounds agent audio waiting behind the current reply.
const replyQueueSize = 32

// agentReply is one payload for playback. gen ties it to the response it
// belongs to so a barge-in can discard what is still queued.
type agentReply struct {
	payload, text string
	gen           uint64
}

// borrowedSink keeps sessions from closing the shared output device.
type borrowedSink struct {
	audio.Sink
}

func (borrowedSink) Close() error { return nil }

func (o *Orchestrator) newSession(ctx context.Context, cfg *config.Config) (*session, error) {
	vad, err := audio.NewFrequencyVAD(audio.VADParams{
		EnergyThreshold:     cfg.VAD.EnergyThreshold,
		PeakThreshold:       cfg.VAD.PeakThreshold,
		SilenceFramesToStop: cfg.VAD.SilenceFramesToStop,
	})
	if err != nil {
		return nil, pkgerrors.New("conversation", "ConfigureVAD", err)
	}
	strategy, err := audio.ParseBargeInStrategy(cfg.Playback.BargeIn)
	if err != nil {
		return nil, pkgerrors.New("conversation", "ConfigureBargeIn", err)
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		o:       o,
		cfg:     cfg,
		ctx:     sessCtx,
		cancel:  cancel,
		logCtx:  sessCtx,
		emitter: o.emitter,
		replies: make(chan agentReply, replyQueueSize),
	}

	s.recorder = audio.NewRecorder(o.deps.Capture, audio.RecorderConfig{
		SampleRate:    cfg.Recording.SampleRate,
		ChunkInterval: cfg.Recording.ChunkInterval,
		MaxSegment:    cfg.Recording.MaxSegment,
	})
	s.analyser = audio.NewAnalyser(cfg.VAD.FFTSize)
	s.detector = audio.NewDetector(vad, s.analyser, cfg.VAD.FrameRate)
	s.guard = audio.NewTurnGuard(strategy, s.recorder)
	s.playback = audio.NewPlaybackManager(borrowedSink{o.deps.Sink}, audio.PlaybackOptions{
		Decoders:    decoders(cfg.Playback.CodecOrder, o.deps.Sink.SampleRate()),
		Synthesizer: o.synthesizer(cfg.Playback.SpeechCommand),
		Permission:  o.deps.Permission,
	})

	s.recorder.AddTap(s.analyser.Write)
	s.recorder.AddTap(s.sendRealtime)
	s.recorder.OnSegment(s.sendStreaming)
	vad.OnTransition(s.onVAD)
	if o.cb.OnLevel != nil {
		s.detector.OnFrame(func(a audio.ActivityState) { o.cb.OnLevel(a.Level) })
	}
	s.guard.OnInterrupt(s.interrupt)
	s.guard.OnRearm(vad.Reset)
	s.recorder.OnStateChange(s.guard.HandleRecorderState)
	s.playback.OnPlayingChange(s.onPlaying)
	return s, nil
}

func decoders(order []string, rate int) []audio.Decoder {
	var out []audio.Decoder
	for _, name := range order {
		d, err := audio.DecoderByName(name, rate)
		if err != nil {
			logger.Warn("Ignoring unknown codec", "codec", name, "error", err)
			continue
		}
		out = append(out, d)
	}
	return out
}

func (o *Orchestrator) synthesizer(command string) audio.Synthesizer {
	if o.deps.Synthesizer != nil {
		return o.deps.Synthesizer
	}
	synth, err := audio.NewCommandSynthesizer(command)
	if err != nil {
		logger.Debug("No speech synthesizer available", "error", err)
		return nil
	}
	return synth
}

func (s *session) openMicrophone() error {
	if err := s.recorder.Open(s.ctx); err != nil {
		return pkgerrors.New("conversation", "OpenMicrophone", err).WithCategory(pkgerrors.CategoryPermission)
	}
	return nil
}

func (s *session) snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *session) mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.Mode
}

func (s *session) em() *events.Emitter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitter
}

func (s *session) logContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logCtx
}

func (s *session) realtime() *realtime.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rt
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) lostErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

// isPlaying follows the agent speaking signal in realtime mode, where the
// remote track is attached for the whole session.
func (s *session) isPlaying() bool {
	if s.realtime() != nil {
		return s.guard.IsAgentSpeaking()
	}
	return s.playback.IsPlaying()
}

func (s *session) isProcessing() bool {
	s.mu.Lock()
	sm, responding := s.stream, s.responding
	s.mu.Unlock()
	if sm != nil {
		return sm.IsProcessing()
	}
	return responding
}

// sendRealtime forwards capture PCM once the realtime session is armed.
// Nothing is sent while the agent is speaking.
func (s *session) sendRealtime(pcm []byte) {
	rt := s.realtime()
	if rt == nil || !rt.IsArmed() || s.guard.IsAgentSpeaking() {
		return
	}
	if err := rt.SendPCM(pcm); err != nil && !errors.Is(err, realtime.ErrNotArmed) {
		logger.DebugContext(s.logContext(), "Realtime capture frame not sent", "error", err)
	}
}

func (s *session) sendStreaming(seg audio.Segment) {
	s.mu.Lock()
	sm, closed := s.stream, s.closed
	s.mu.Unlock()
	if sm == nil || closed || seg.Reason == audio.ReasonTimeout {
		return
	}
	ctx := logger.WithSegmentID(s.logContext(), seg.ID)
	if err := sm.SendSegment(ctx, seg); err != nil {
		logger.WarnContext(ctx, "Segment not sent", "error", err)
		return
	}
	s.em().SegmentSent(seg.ID, string(seg.Reason), seg.Size, seg.Final)
}

func (s *session) onVAD(ev audio.VADEvent) {
	if s.isClosed() {
		return
	}
	s.em().VADTransition(ev.State == audio.VADStateSpeaking, ev.Level, ev.Frame, ev.Duration)
	if s.guard.HandleVADEvent(ev) {
		s.em().BargeIn()
	}
}

func (s *session) commit() error {
	if s.isClosed() {
		return pkgerrors.New("conversation", "Commit", ErrSessionClosed)
	}
	s.recorder.StopSegment(audio.ReasonStop)
	rt := s.realtime()
	if rt == nil {
		return nil
	}
	if err := rt.Commit(); err != nil {
		return pkgerrors.New("conversation", "Commit", err).WithCategory(pkgerrors.CategoryTransport)
	}
	return nil
}

// interrupt silences agent output. Realtime cancels the response and lets the
// server clear its audio; streaming stops local playback.
func (s *session) interrupt() {
	if rt := s.realtime(); rt != nil {
		if err := rt.CancelResponse(); err != nil {
			logger.DebugContext(s.logContext(), "Response cancel not sent", "error", err)
		}
		return
	}
	s.mu.Lock()
	s.replyGen++
	s.mu.Unlock()
	s.playback.Stop()
}

func (s *session) onPlaying(playing bool) {
	if s.isClosed() {
		return
	}
	s.em().PlaybackChanged(playing)
	if s.realtime() == nil {
		s.guard.SetAgentSpeaking(playing)
	}
}

func (s *session) realtimeHandlers() protocol.Handlers {
	return protocol.Handlers{
		OnTranscription: s.transcription,
		OnAgentMessage:  s.agentMessage,
		OnFeedback:      s.feedback,
		OnControl:       s.control,
		OnAudio:         s.realtimeAudio,
		OnLifecycle:     s.lifecycle,
		OnDrop:          func(reason string) { s.em().ProtocolDrop("realtime", reason) },
	}
}

func (s *session) streamingHandlers() streaming.Handlers {
	return streaming.Handlers{
		OnTranscription: s.transcription,
		OnAgentMessage:  s.agentMessage,
		OnAgentAudio:    s.playAgentAudio,
		OnNoResponse:    s.noResponse,
		OnFatal:         s.fatal,
		OnDrop:          func(reason string) { s.em().ProtocolDrop(TransportRelay, reason) },
	}
}

func (s *session) transcription(u protocol.TranscriptionUpdate) {
	if s.isClosed() {
		return
	}
	s.em().Transcription(u.ItemID, u.Transcript, u.IsPartial)
	if fn := s.o.cb.OnTranscriptionUpdate; fn != nil {
		fn(u)
	}
}

func (s *session) agentMessage(msg protocol.AgentMessage) {
	if s.isClosed() {
		return
	}
	if msg.Type == protocol.MessageAgentDelta && endsSentence(msg.Text) {
		s.guard.NotifySentenceBoundary()
	}
	s.em().AgentMessage(msg.Type, msg.Text, msg.Meta)
	if fn := s.o.cb.OnAgentMessage; fn != nil {
		fn(msg)
	}
}

func endsSentence(text string) bool {
	text = strings.TrimRight(text, " \"')")
	return strings.HasSuffix(text, ".") || strings.HasSuffix(text, "?") || strings.HasSuffix(text, "!")
}

func (s *session) feedback(scores map[string]any, comment string) {
	if s.isClosed() {
		return
	}
	s.em().Feedback(scores, comment)
	if fn := s.o.cb.OnFeedback; fn != nil {
		fn(scores, comment)
	}
}

func (s *session) control(ev protocol.Event) {
	switch ev.(type) {
	case *protocol.ResponseCreated:
		s.setResponding(true)
	case *protocol.ResponseDone:
		s.setResponding(false)
	}
}

func (s *session) setResponding(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responding = v
}

// realtimeAudio handles inline audio of the socket transport. Agent speaking
// spans the first delta to the done event.
func (s *session) realtimeAudio(ev protocol.Event) {
	rt := s.realtime()
	if rt == nil {
		return
	}
	rt.HandleAudio(ev)
	switch ev.(type) {
	case *protocol.AudioDelta:
		s.guard.SetAgentSpeaking(true)
	case *protocol.AudioDone:
		s.guard.SetAgentSpeaking(false)
	}
}

// lifecycle drives agent speaking from the output buffer events of the
// peer transport.
func (s *session) lifecycle(ev *protocol.LifecycleEvent) {
	switch ev.Type {
	case protocol.TypeOutputAudioStarted:
		s.guard.SetAgentSpeaking(true)
	case protocol.TypeOutputAudioStopped, protocol.TypeOutputAudioCleared:
		s.guard.SetAgentSpeaking(false)
	}
}

func (s *session) playAgentAudio(payload, text string) {
	s.mu.Lock()
	closed, gen := s.closed, s.replyGen
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.replies <- agentReply{payload: payload, text: text, gen: gen}:
	default:
		logger.WarnContext(s.logContext(), "Agent audio dropped: playback queue full")
	}
}

// playReplies plays queued agent audio one payload at a time until teardown.
func (s *session) playReplies() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case r := <-s.replies:
			s.mu.Lock()
			stale := r.gen != s.replyGen
			s.mu.Unlock()
			if stale {
				continue
			}
			err := s.playback.PlayEncoded(s.ctx, r.payload, r.text)
			switch {
			case err == nil:
			case errors.Is(err, audio.ErrNoSynthesizer):
				logger.DebugContext(s.logContext(), "Agent reply not spoken", "error", err)
			default:
				logger.WarnContext(s.logContext(), "Agent audio playback failed", "error", err)
			}
		}
	}
}

// noResponse is recoverable: the recorder has already closed the cycle and
// the session stays active.
func (s *session) noResponse(err error) {
	if s.isClosed() {
		return
	}
	em := s.em()
	em.ResponseTimeout()
	s.o.surface(em, err)
}

// fatal reports a lost transport and ends the session off the caller's goroutine.
func (s *session) fatal(err error) {
	s.mu.Lock()
	if s.closed || s.lost != nil {
		s.mu.Unlock()
		return
	}
	s.lost = err
	s.mu.Unlock()

	s.o.surface(s.em(), err)
	go func() { _ = s.o.endSession(s, EndReasonFatal) }()
}

// teardown releases every session resource synchronously: timers, the VAD
// loop, the capture device, the transport and playback. Later calls are no-ops.
func (s *session) teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	timer, rt, sm := s.timer, s.rt, s.stream
	s.timer = nil
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	s.detector.Stop()
	s.analyser.Close()
	if err := s.recorder.Close(); err != nil {
		logger.DebugContext(s.logContext(), "Capture device close failed", "error", err)
	}
	if rt != nil {
		_ = rt.Close()
	}
	if sm != nil {
		ctx, cancel := context.WithTimeout(s.ctx, streamingEndTimeout)
		_ = sm.End(ctx)
		cancel()
	}
	_ = s.playback.Close()
	s.guard.Reset()
	s.cancel()
}
