package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// scriptedSource returns queued frames, then err forever.
type scriptedSource struct {
	mu     sync.Mutex
	frames [][]uint8
	err    error
	reads  int
}

func (s *scriptedSource) ReadFrame() ([]uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if len(s.frames) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return uniformFrame(0), nil
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDetector_StopsCleanlyWhenSourceCloses(t *testing.T) {
	vad, _ := NewFrequencyVAD(DefaultVADParams())
	source := &scriptedSource{
		frames: [][]uint8{uniformFrame(80), uniformFrame(80)},
		err:    ErrSourceClosed,
	}
	d := NewDetector(vad, source, 1000)

	d.Start(context.Background())
	waitFor(t, func() bool { return !d.Running() })

	if vad.State() != VADStateSpeaking {
		t.Errorf("State() = %v, want last emitted state speaking", vad.State())
	}
	d.Stop() // no-op after the loop exited
}

func TestDetector_StopsOnUnexpectedError(t *testing.T) {
	vad, _ := NewFrequencyVAD(DefaultVADParams())
	source := &scriptedSource{err: errors.New("device unplugged")}
	d := NewDetector(vad, source, 1000)

	d.Start(context.Background())
	waitFor(t, func() bool { return !d.Running() })

	if vad.State() != VADStateQuiet {
		t.Errorf("State() = %v, want quiet", vad.State())
	}
}

func TestDetector_StopIsSynchronous(t *testing.T) {
	vad, _ := NewFrequencyVAD(DefaultVADParams())
	source := &scriptedSource{}
	d := NewDetector(vad, source, 1000)

	var mu sync.Mutex
	var frames int
	d.OnFrame(func(ActivityState) {
		mu.Lock()
		frames++
		mu.Unlock()
	})

	d.Start(context.Background())
	d.Start(context.Background()) // no-op
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return frames >= 3
	})
	d.Stop()

	if d.Running() {
		t.Fatal("Running() should be false after Stop returns")
	}
	mu.Lock()
	after := frames
	mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if frames != after {
		t.Errorf("frames advanced after Stop: %d -> %d", after, frames)
	}
}

func TestDetector_StopsWithContext(t *testing.T) {
	vad, _ := NewFrequencyVAD(DefaultVADParams())
	d := NewDetector(vad, &scriptedSource{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	cancel()
	waitFor(t, func() bool { return !d.Running() })
}
