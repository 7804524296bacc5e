//go:build portaudio

package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/AltairaLabs/VoiceKit/runtime/logger"
)

// framesPerBuffer is 20ms at 16kHz.
const framesPerBuffer = 320

// PortAudioCapture captures mono PCM16 from the default input via PortAudio.
type PortAudioCapture struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewPortAudioCapture creates an unopened capture device.
func NewPortAudioCapture() *PortAudioCapture {
	return &PortAudioCapture{}
}

// Open initialises PortAudio and starts a blocking read loop.
func (p *PortAudioCapture) Open(ctx context.Context, sampleRate int, onPCM func([]byte)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return captureError("initialize", err)
	}

	in := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(in), in)
	if err != nil {
		_ = portaudio.Terminate()
		return captureError("open stream", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return captureError("start stream", fmt.Errorf("failed to start input stream: %w", err))
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.stream = stream
	p.cancel = cancel
	p.done = make(chan struct{})
	p.started = true

	go p.readLoop(loopCtx, stream, in, onPCM)
	logger.Info("Microphone opened", "backend", "portaudio", "sample_rate", sampleRate)
	return nil
}

func (p *PortAudioCapture) readLoop(ctx context.Context, stream *portaudio.Stream, in []int16, onPCM func([]byte)) {
	defer close(p.done)
	for ctx.Err() == nil {
		if err := stream.Read(); err != nil {
			logger.Debug("PortAudio read failed", "error", err)
			continue
		}
		frame := make([]byte, len(in)*2)
		for i, s := range in {
			binary.LittleEndian.PutUint16(frame[i*2:], uint16(s)) //nolint:gosec // Safe PCM16 conversion
		}
		onPCM(frame)
	}
}

// Close stops the read loop and terminates PortAudio.
func (p *PortAudioCapture) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	p.cancel()
	_ = p.stream.Stop()
	<-p.done
	err := p.stream.Close()
	p.started = false
	if termErr := portaudio.Terminate(); err == nil {
		err = termErr
	}
	return err
}
