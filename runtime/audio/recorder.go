package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AltairaLabs/VoiceKit/runtime/logger"
)

// ErrRecorderClosed is returned when a segment is started before Open or after Close.
var ErrRecorderClosed = errors.New("audio: recorder is not open")

// Recorder defaults.
const (
	DefaultChunkInterval = 200 * time.Millisecond
	DefaultMaxSegment    = 10 * time.Second
)

// CaptureDevice is a microphone that delivers PCM16 mono frames to onPCM until closed.
type CaptureDevice interface {
	Open(ctx context.Context, sampleRate int, onPCM func(pcm []byte)) error
	Close() error
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	SampleRate    int
	ChunkInterval time.Duration
	MaxSegment    time.Duration
	// Streaming emits a segment for every ChunkInterval of audio instead of
	// one segment per recording cycle.
	Streaming bool
}

// SegmentHandler receives segments in capture order. Handlers must not call
// back into the Recorder synchronously.
type SegmentHandler func(Segment)

// StateHandler is told when a recording cycle opens or closes. reason is
// empty on open and names the cause on close. It runs after the recorder's
// locks are released, so it may start a new cycle.
type StateHandler func(recording bool, reason SegmentReason)

// Recorder owns the capture device for a session and cuts the PCM stream into
// segments. Raw PCM is always fanned out to taps, even when no cycle is open.
type Recorder struct {
	cfg        RecorderConfig
	device     CaptureDevice
	mime       string
	chunkBytes int
	maxBytes   int

	mu         sync.Mutex
	open       bool
	recording  bool
	buf        []byte
	cycleBytes int
	cycleStart time.Time
	taps       []func([]byte)
	onSegment  SegmentHandler
	onState    StateHandler

	emitMu sync.Mutex
}

// NewRecorder creates a Recorder over device.
func NewRecorder(device CaptureDevice, cfg RecorderConfig) *Recorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = SampleRate16kHz
	}
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = DefaultChunkInterval
	}
	if cfg.MaxSegment <= 0 {
		cfg.MaxSegment = DefaultMaxSegment
	}
	return &Recorder{
		cfg:        cfg,
		device:     device,
		mime:       fmt.Sprintf(MimePCM16, cfg.SampleRate),
		chunkBytes: bytesFor(cfg.ChunkInterval, cfg.SampleRate),
		maxBytes:   bytesFor(cfg.MaxSegment, cfg.SampleRate),
	}
}

func bytesFor(d time.Duration, sampleRate int) int {
	samples := int(d * time.Duration(sampleRate) / time.Second)
	if samples < 1 {
		samples = 1
	}
	return samples * pcmBytesPerSample
}

// OnSegment registers the segment handler.
func (r *Recorder) OnSegment(fn SegmentHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSegment = fn
}

// OnStateChange registers a callback fired when a recording cycle opens or closes.
func (r *Recorder) OnStateChange(fn StateHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onState = fn
}

// AddTap registers a consumer of every raw PCM frame.
func (r *Recorder) AddTap(fn func(pcm []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taps = append(r.taps, fn)
}

// SetStreaming switches between per-chunk and per-cycle segmenting. It takes
// effect from the next recording cycle.
func (r *Recorder) SetStreaming(streaming bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Streaming = streaming
}

// SampleRate returns the capture rate.
func (r *Recorder) SampleRate() int {
	return r.cfg.SampleRate
}

// Open acquires the capture device. Opening an open recorder is a no-op.
func (r *Recorder) Open(ctx context.Context) error {
	r.mu.Lock()
	if r.open {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := r.device.Open(ctx, r.cfg.SampleRate, r.handlePCM); err != nil {
		return err
	}

	r.mu.Lock()
	r.open = true
	r.mu.Unlock()
	logger.Debug("Recorder opened", "sample_rate", r.cfg.SampleRate, "streaming", r.cfg.Streaming)
	return nil
}

// IsRecording reports whether a recording cycle is open.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// StartSegment opens a recording cycle. Starting while recording is a no-op.
func (r *Recorder) StartSegment() error {
	r.mu.Lock()
	if !r.open {
		r.mu.Unlock()
		return ErrRecorderClosed
	}
	if r.recording {
		r.mu.Unlock()
		return nil
	}
	r.recording = true
	r.buf = r.buf[:0]
	r.cycleBytes = 0
	r.cycleStart = time.Now()
	onState := r.onState
	r.mu.Unlock()

	if onState != nil {
		onState(true, "")
	}
	return nil
}

// StopSegment closes the recording cycle, flushing buffered audio as a final
// segment. The recorder stays armed for the next cycle. Stopping when not
// recording is a no-op.
func (r *Recorder) StopSegment(reason SegmentReason) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return
	}
	out := r.stopLocked(reason)
	r.emitMu.Lock()
	onSegment, onState := r.onSegment, r.onState
	r.mu.Unlock()

	r.deliver(onSegment, out)
	r.emitMu.Unlock()

	if onState != nil {
		onState(false, reason)
	}
}

// Close stops any open cycle and releases the capture device.
func (r *Recorder) Close() error {
	r.StopSegment(ReasonStop)

	r.mu.Lock()
	if !r.open {
		r.mu.Unlock()
		return nil
	}
	r.open = false
	r.mu.Unlock()

	return r.device.Close()
}

func (r *Recorder) handlePCM(pcm []byte) {
	if len(pcm) == 0 {
		return
	}

	r.mu.Lock()
	taps := r.taps
	if !r.recording {
		r.mu.Unlock()
		r.fanOut(taps, pcm)
		return
	}

	r.buf = append(r.buf, pcm...)
	r.cycleBytes += len(pcm)

	var out []Segment
	if r.cfg.Streaming {
		for len(r.buf) >= r.chunkBytes {
			chunk := make([]byte, r.chunkBytes)
			copy(chunk, r.buf[:r.chunkBytes])
			r.buf = r.buf[r.chunkBytes:]
			out = append(out, newSegment(chunk, r.mime, time.Now(), false, ReasonChunk))
		}
	}

	ceiling := r.cycleBytes >= r.maxBytes
	if ceiling {
		logger.Debug("Recording ceiling reached", "duration", time.Since(r.cycleStart))
		out = append(out, r.stopLocked(ReasonCeiling)...)
	}

	r.emitMu.Lock()
	onSegment, onState := r.onSegment, r.onState
	r.mu.Unlock()

	r.deliver(onSegment, out)
	r.emitMu.Unlock()

	r.fanOut(taps, pcm)
	if ceiling && onState != nil {
		onState(false, ReasonCeiling)
	}
}

// stopLocked ends the cycle and returns the final flush, if any.
func (r *Recorder) stopLocked(reason SegmentReason) []Segment {
	r.recording = false
	if len(r.buf) == 0 {
		return nil
	}
	data := make([]byte, len(r.buf))
	copy(data, r.buf)
	r.buf = r.buf[:0]
	return []Segment{newSegment(data, r.mime, time.Now(), true, reason)}
}

func (r *Recorder) deliver(fn SegmentHandler, segments []Segment) {
	if fn == nil {
		return
	}
	for _, s := range segments {
		fn(s)
	}
}

func (r *Recorder) fanOut(taps []func([]byte), pcm []byte) {
	for _, tap := range taps {
		tap(pcm)
	}
}
