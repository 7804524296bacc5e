package audio

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	pkgerrors "github.com/AltairaLabs/VoiceKit/pkg/errors"
	"github.com/AltairaLabs/VoiceKit/runtime/logger"
)

// Sink is an audio output at a fixed sample rate.
type Sink interface {
	SampleRate() int
	// Play blocks until r is drained or ctx is cancelled.
	Play(ctx context.Context, r io.Reader) error
	Close() error
}

// TrackState is the media state of a remote track.
type TrackState int

// Track states.
const (
	TrackMuted TrackState = iota
	TrackLive
	TrackEnded
)

// String returns a human-readable representation of the track state.
func (s TrackState) String() string {
	switch s {
	case TrackMuted:
		return "muted"
	case TrackLive:
		return "live"
	case TrackEnded:
		return "ended"
	default:
		return unknownState
	}
}

// RemoteTrack is a live agent audio stream producing PCM16 mono at the sink rate.
type RemoteTrack interface {
	io.Reader
	ID() string
	State() TrackState
	OnStateChange(fn func(TrackState))
}

// PlaybackOptions configures a PlaybackManager.
type PlaybackOptions struct {
	Decoders    []Decoder
	Synthesizer Synthesizer
	Permission  *PlaybackPermission
}

// PlaybackManager plays agent audio. Encoded payloads go through the decoder
// hypotheses in order and fall back to speech synthesis. Remote tracks are
// started once permission is held and retried on every track state change.
type PlaybackManager struct {
	sink       Sink
	decoders   []Decoder
	synth      Synthesizer
	permission *PlaybackPermission

	mu             sync.Mutex
	playing        bool
	cancel         context.CancelFunc
	track          RemoteTrack
	trackPlaying   bool
	awaitingGrant  bool
	listeners      []func(playing bool)
	trackCtx       context.Context
	playGeneration uint64
}

// NewPlaybackManager creates a manager writing to sink.
func NewPlaybackManager(sink Sink, opts PlaybackOptions) *PlaybackManager {
	decoders := opts.Decoders
	if len(decoders) == 0 {
		decoders = DefaultDecoders(sink.SampleRate())
	}
	permission := opts.Permission
	if permission == nil {
		permission = NewPlaybackPermission(true)
	}
	return &PlaybackManager{
		sink:       sink,
		decoders:   decoders,
		synth:      opts.Synthesizer,
		permission: permission,
		trackCtx:   context.Background(),
	}
}

// Permission returns the capability guarding playback.
func (m *PlaybackManager) Permission() *PlaybackPermission {
	return m.permission
}

// OnPlayingChange registers a listener for playback start and stop.
func (m *PlaybackManager) OnPlayingChange(fn func(playing bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// IsPlaying reports whether audio is being output.
func (m *PlaybackManager) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// PlayEncoded decodes a base64 payload and plays it, blocking until done. If
// no decoder accepts the payload, text is spoken by the synthesizer instead.
func (m *PlaybackManager) PlayEncoded(ctx context.Context, payload, text string) error {
	pcm, err := m.decode(payload)
	if err != nil {
		logger.Debug("No decoder accepted payload, using speech synthesis", "error", err)
		return m.speak(ctx, text)
	}

	playCtx, gen := m.begin(ctx)
	defer m.finish(gen)

	if err := m.sink.Play(playCtx, bytes.NewReader(pcm)); err != nil && !errors.Is(err, context.Canceled) {
		return pkgerrors.New("playback", "play", err)
	}
	return nil
}

// SpeakText plays text through the synthesizer only.
func (m *PlaybackManager) SpeakText(ctx context.Context, text string) error {
	return m.speak(ctx, text)
}

func (m *PlaybackManager) speak(ctx context.Context, text string) error {
	if m.synth == nil {
		return pkgerrors.New("playback", "synthesize", ErrNoSynthesizer)
	}
	playCtx, gen := m.begin(ctx)
	defer m.finish(gen)

	if err := m.synth.Speak(playCtx, text); err != nil && !errors.Is(playCtx.Err(), context.Canceled) {
		return pkgerrors.New("playback", "synthesize", err)
	}
	return nil
}

func (m *PlaybackManager) decode(payload string) ([]byte, error) {
	if payload == "" {
		return nil, ErrUnsupportedFormat
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 audio: %w", err)
	}

	var errs []error
	for _, d := range m.decoders {
		pcm, rate, err := d.Decode(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
			continue
		}
		if rate != m.sink.SampleRate() {
			pcm, err = ResamplePCM16(pcm, rate, m.sink.SampleRate())
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
				continue
			}
		}
		logger.Debug("Decoded agent audio", "codec", d.Name(), "bytes", len(pcm))
		return pcm, nil
	}
	return nil, errors.Join(errs...)
}

// begin stops whatever is playing and marks a new playback as current.
func (m *PlaybackManager) begin(ctx context.Context) (context.Context, uint64) {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	playCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.playGeneration++
	gen := m.playGeneration
	notify := !m.playing
	m.playing = true
	listeners := m.listeners
	m.mu.Unlock()

	if notify {
		m.notify(listeners, true)
	}
	return playCtx, gen
}

// finish clears the playing flag if gen is still the current playback.
func (m *PlaybackManager) finish(gen uint64) {
	m.mu.Lock()
	if gen != m.playGeneration {
		m.mu.Unlock()
		return
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.playing = false
	listeners := m.listeners
	m.mu.Unlock()

	m.notify(listeners, false)
}

func (m *PlaybackManager) notify(listeners []func(bool), playing bool) {
	for _, fn := range listeners {
		fn(playing)
	}
}

// Stop cancels the current playback, if any.
func (m *PlaybackManager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// AttachTrack binds a remote track. Playback starts when the track is live and
// permission is held, and is retried on every state change.
func (m *PlaybackManager) AttachTrack(ctx context.Context, track RemoteTrack) {
	m.mu.Lock()
	m.track = track
	m.trackCtx = ctx
	m.mu.Unlock()

	track.OnStateChange(func(state TrackState) {
		logger.Debug("Remote track state changed", "track", track.ID(), "state", state.String())
		if state == TrackEnded {
			m.Stop()
			return
		}
		m.tryPlayTrack()
	})
	m.tryPlayTrack()
}

func (m *PlaybackManager) tryPlayTrack() {
	m.mu.Lock()
	track := m.track
	if track == nil || track.State() != TrackLive {
		m.mu.Unlock()
		return
	}
	if m.trackPlaying {
		m.mu.Unlock()
		return
	}
	if !m.permission.Granted() {
		if !m.awaitingGrant {
			m.awaitingGrant = true
			m.mu.Unlock()
			logger.Info("Playback deferred until permission is granted", "track", track.ID())
			m.permission.OnGranted(func() {
				m.mu.Lock()
				m.awaitingGrant = false
				m.mu.Unlock()
				m.tryPlayTrack()
			})
			return
		}
		m.mu.Unlock()
		return
	}
	m.trackPlaying = true
	ctx := m.trackCtx
	m.mu.Unlock()

	playCtx, gen := m.begin(ctx)
	go func() {
		defer func() {
			m.mu.Lock()
			m.trackPlaying = false
			m.mu.Unlock()
			m.finish(gen)
		}()
		if err := m.sink.Play(playCtx, track); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Remote track playback failed", "track", track.ID(), "error", err)
		}
	}()
}

// Close stops playback and releases the sink.
func (m *PlaybackManager) Close() error {
	m.Stop()
	m.mu.Lock()
	m.track = nil
	m.mu.Unlock()
	return m.sink.Close()
}
