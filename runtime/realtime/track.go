package realtime

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"
	"gopkg.in/hraban/opus.v2"

	"github.com/AltairaLabs/VoiceKit/runtime/audio"
	"github.com/AltairaLabs/VoiceKit/runtime/logger"
)

// maxOpusFrameSamples covers a 120 ms frame at 48 kHz.
const maxOpusFrameSamples = 5760

// rtpReader is the part of *webrtc.TrackRemote the decoder needs.
type rtpReader interface {
	ID() string
	ReadRTP() (payload []byte, err error)
}

type remoteRTP struct {
	t *webrtc.TrackRemote
}

func (r remoteRTP) ID() string { return r.t.ID() }

func (r remoteRTP) ReadRTP() ([]byte, error) {
	pkt, _, err := r.t.ReadRTP()
	if err != nil {
		return nil, err
	}
	return pkt.Payload, nil
}

// packetDecoder turns one encoded packet into PCM samples.
type packetDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// opusTrack exposes a remote Opus track as PCM16 mono. The track starts muted
// and turns live on the first decoded packet.
type opusTrack struct {
	src rtpReader
	dec packetDecoder

	pr *io.PipeReader
	pw *io.PipeWriter

	mu       sync.Mutex
	state    audio.TrackState
	onChange []func(audio.TrackState)
}

var _ audio.RemoteTrack = (*opusTrack)(nil)

func newOpusTrack(remote *webrtc.TrackRemote, sampleRate int) (*opusTrack, error) {
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return newDecodedTrack(remoteRTP{t: remote}, dec), nil
}

func newDecodedTrack(src rtpReader, dec packetDecoder) *opusTrack {
	pr, pw := io.Pipe()
	return &opusTrack{src: src, dec: dec, pr: pr, pw: pw, state: audio.TrackMuted}
}

func (t *opusTrack) ID() string { return t.src.ID() }

func (t *opusTrack) Read(p []byte) (int, error) { return t.pr.Read(p) }

func (t *opusTrack) State() audio.TrackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *opusTrack) OnStateChange(fn func(audio.TrackState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

func (t *opusTrack) setState(state audio.TrackState) {
	t.mu.Lock()
	if t.state == state {
		t.mu.Unlock()
		return
	}
	t.state = state
	listeners := append([]func(audio.TrackState){}, t.onChange...)
	t.mu.Unlock()
	for _, fn := range listeners {
		fn(state)
	}
}

// pump reads RTP until the track ends.
func (t *opusTrack) pump() {
	pcm := make([]int16, maxOpusFrameSamples)
	out := make([]byte, maxOpusFrameSamples*2)
	for {
		payload, err := t.src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("Realtime: remote track stopped", "track", t.ID(), "error", err)
			}
			_ = t.pw.CloseWithError(io.EOF)
			t.setState(audio.TrackEnded)
			return
		}
		if len(payload) == 0 {
			continue
		}
		n, err := t.dec.Decode(payload, pcm)
		if err != nil {
			logger.Debug("Realtime: dropping undecodable packet", "track", t.ID(), "error", err)
			continue
		}
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(pcm[i]))
		}
		t.setState(audio.TrackLive)
		if _, err := t.pw.Write(out[:n*2]); err != nil {
			// Reader side closed; keep draining so the peer connection is not blocked.
			continue
		}
	}
}

// Close ends the PCM stream for readers.
func (t *opusTrack) Close() error {
	return t.pr.Close()
}

// deltaTrack is a RemoteTrack fed with PCM16 from inline audio delta events,
// used when the control channel is a WebSocket and no media track exists.
type deltaTrack struct {
	id string

	mu       sync.Mutex
	cond     *sync.Cond
	buf      []byte
	state    audio.TrackState
	onChange []func(audio.TrackState)
}

var _ audio.RemoteTrack = (*deltaTrack)(nil)

func newDeltaTrack(id string) *deltaTrack {
	t := &deltaTrack{id: id, state: audio.TrackMuted}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *deltaTrack) ID() string { return t.id }

func (t *deltaTrack) State() audio.TrackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *deltaTrack) OnStateChange(fn func(audio.TrackState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

// Read blocks until audio is available or the track ends.
func (t *deltaTrack) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.buf) == 0 && t.state != audio.TrackEnded {
		t.cond.Wait()
	}
	if len(t.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, t.buf)
	t.buf = t.buf[n:]
	return n, nil
}

// Push appends PCM and marks the track live.
func (t *deltaTrack) Push(pcm []byte) {
	t.mu.Lock()
	if t.state == audio.TrackEnded {
		t.mu.Unlock()
		return
	}
	t.buf = append(t.buf, pcm...)
	listeners := t.transitionLocked(audio.TrackLive)
	t.cond.Broadcast()
	t.mu.Unlock()
	notifyTrack(listeners, audio.TrackLive)
}

// End drains buffered audio to readers, then reports EOF.
func (t *deltaTrack) End() {
	t.mu.Lock()
	listeners := t.transitionLocked(audio.TrackEnded)
	t.cond.Broadcast()
	t.mu.Unlock()
	notifyTrack(listeners, audio.TrackEnded)
}

func (t *deltaTrack) transitionLocked(state audio.TrackState) []func(audio.TrackState) {
	if t.state == state {
		return nil
	}
	t.state = state
	return append([]func(audio.TrackState){}, t.onChange...)
}

func notifyTrack(listeners []func(audio.TrackState), state audio.TrackState) {
	for _, fn := range listeners {
		fn(state)
	}
}

// Clear drops audio that has not been read yet.
func (t *deltaTrack) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = nil
}
