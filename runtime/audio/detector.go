package audio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AltairaLabs/VoiceKit/runtime/logger"
)

// ErrSourceClosed is returned by a FrameSource whose underlying stream is gone.
var ErrSourceClosed = errors.New("audio: analysis source closed")

// FrameSource produces one frequency-domain frame per call.
type FrameSource interface {
	ReadFrame() ([]uint8, error)
}

// FrameHandler receives the activity signal for every analysed frame.
type FrameHandler func(ActivityState)

// Detector drives a FrequencyVAD from a FrameSource on a fixed-rate ticker.
type Detector struct {
	vad      *FrequencyVAD
	source   FrameSource
	interval time.Duration
	onFrame  FrameHandler

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewDetector creates a Detector that polls source frameRate times per second.
func NewDetector(vad *FrequencyVAD, source FrameSource, frameRate int) *Detector {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	return &Detector{
		vad:      vad,
		source:   source,
		interval: time.Second / time.Duration(frameRate),
	}
}

// OnFrame registers a per-frame callback, typically used for level meters.
func (d *Detector) OnFrame(fn FrameHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFrame = fn
}

// VAD returns the underlying detector state machine.
func (d *Detector) VAD() *FrequencyVAD {
	return d.vad
}

// Start begins the polling loop. Calling Start on a running detector is a no-op.
func (d *Detector) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true

	go d.loop(loopCtx, d.done)
}

// Stop halts the polling loop and waits for it to exit.
func (d *Detector) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the polling loop is active.
func (d *Detector) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Detector) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.tick() {
				return
			}
		}
	}
}

// tick analyses one frame. It returns false once the source is gone, leaving
// the VAD in whatever state it last emitted.
func (d *Detector) tick() bool {
	frame, err := d.source.ReadFrame()
	if err != nil {
		if errors.Is(err, ErrSourceClosed) {
			logger.Debug("VAD source closed, stopping detector")
		} else {
			logger.Warn("VAD source failed, stopping detector", "error", err)
		}
		return false
	}

	activity := d.vad.Analyze(frame)

	d.mu.Lock()
	onFrame := d.onFrame
	d.mu.Unlock()
	if onFrame != nil {
		onFrame(activity)
	}
	return true
}
