package device

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
)

// otoBufferSize is ~100ms of 24kHz mono PCM16.
const otoBufferSize = 4800

const pollInterval = 10 * time.Millisecond

// OtoSink plays mono PCM16 through the default output. oto allows one
// context per process, so create a single OtoSink.
type OtoSink struct {
	ctx        *oto.Context
	sampleRate int
}

// NewOtoSink opens the output context and waits until it is ready.
func NewOtoSink(sampleRate int) (*OtoSink, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   otoBufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init speaker: %w", err)
	}
	<-ready
	return &OtoSink{ctx: otoCtx, sampleRate: sampleRate}, nil
}

// SampleRate returns the output rate.
func (s *OtoSink) SampleRate() int {
	return s.sampleRate
}

// Play streams r to the speaker until it is drained or ctx is cancelled.
func (s *OtoSink) Play(ctx context.Context, r io.Reader) error {
	player := s.ctx.NewPlayer(r)
	player.Play()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			_ = player.Close()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	if err := player.Err(); err != nil && err != io.EOF {
		_ = player.Close()
		return err
	}
	return player.Close()
}

// Close suspends the output context.
func (s *OtoSink) Close() error {
	return s.ctx.Suspend()
}
