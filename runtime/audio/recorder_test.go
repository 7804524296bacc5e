package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMic is a CaptureDevice driven by the test through push.
type fakeMic struct {
	mu      sync.Mutex
	onPCM   func([]byte)
	opened  int
	closed  int
	openErr error
}

func (m *fakeMic) Open(_ context.Context, _ int, onPCM func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opened++
	m.onPCM = onPCM
	return nil
}

func (m *fakeMic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *fakeMic) push(ms int, rate int) {
	m.mu.Lock()
	fn := m.onPCM
	m.mu.Unlock()
	fn(make([]byte, rate/1000*ms*2))
}

type segmentLog struct {
	mu       sync.Mutex
	segments []Segment
}

func (l *segmentLog) add(s Segment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.segments = append(l.segments, s)
}

func (l *segmentLog) all() []Segment {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Segment(nil), l.segments...)
}

func newTestRecorder(t *testing.T, streaming bool) (*Recorder, *fakeMic, *segmentLog) {
	t.Helper()
	mic := &fakeMic{}
	r := NewRecorder(mic, RecorderConfig{
		SampleRate:    16000,
		ChunkInterval: 200 * time.Millisecond,
		MaxSegment:    time.Second,
		Streaming:     streaming,
	})
	log := &segmentLog{}
	r.OnSegment(log.add)
	require.NoError(t, r.Open(context.Background()))
	return r, mic, log
}

func TestRecorder_StartBeforeOpen(t *testing.T) {
	r := NewRecorder(&fakeMic{}, RecorderConfig{})
	assert.ErrorIs(t, r.StartSegment(), ErrRecorderClosed)
	assert.False(t, r.IsRecording())
}

func TestRecorder_OpenFailure(t *testing.T) {
	r := NewRecorder(&fakeMic{openErr: errors.New("denied")}, RecorderConfig{})
	assert.Error(t, r.Open(context.Background()))
	assert.ErrorIs(t, r.StartSegment(), ErrRecorderClosed)
}

func TestRecorder_StreamingEmitsChunks(t *testing.T) {
	r, mic, log := newTestRecorder(t, true)

	require.NoError(t, r.StartSegment())
	mic.push(100, 16000)
	assert.Empty(t, log.all(), "half a chunk is buffered")

	mic.push(100, 16000)
	mic.push(250, 16000)
	segs := log.all()
	require.Len(t, segs, 2)
	for _, s := range segs {
		assert.Equal(t, ReasonChunk, s.Reason)
		assert.False(t, s.Final)
		assert.Equal(t, 6400, s.Size)
		assert.Equal(t, "audio/pcm;rate=16000", s.MimeType)
		assert.NotEmpty(t, s.ID)
	}

	r.StopSegment(ReasonSilence)
	segs = log.all()
	require.Len(t, segs, 3)
	final := segs[2]
	assert.True(t, final.Final)
	assert.Equal(t, ReasonSilence, final.Reason)
	assert.Equal(t, 50*time.Millisecond, final.Duration(16000))
	assert.False(t, r.IsRecording())
}

func TestRecorder_UtteranceModeEmitsOnce(t *testing.T) {
	r, mic, log := newTestRecorder(t, false)

	require.NoError(t, r.StartSegment())
	for i := 0; i < 4; i++ {
		mic.push(100, 16000)
	}
	assert.Empty(t, log.all())

	r.StopSegment(ReasonSilence)
	segs := log.all()
	require.Len(t, segs, 1)
	assert.Equal(t, 400*time.Millisecond, segs[0].Duration(16000))
	assert.True(t, segs[0].Final)
}

func TestRecorder_CeilingForcesStopAndFlush(t *testing.T) {
	r, mic, log := newTestRecorder(t, false)

	var states []bool
	var reasons []SegmentReason
	r.OnStateChange(func(recording bool, reason SegmentReason) {
		states = append(states, recording)
		reasons = append(reasons, reason)
	})

	require.NoError(t, r.StartSegment())
	for i := 0; i < 12; i++ {
		mic.push(100, 16000)
	}

	segs := log.all()
	require.Len(t, segs, 1)
	assert.Equal(t, ReasonCeiling, segs[0].Reason)
	assert.Equal(t, time.Second, segs[0].Duration(16000))
	assert.False(t, r.IsRecording())
	assert.Equal(t, []bool{true, false}, states)
	assert.Equal(t, []SegmentReason{"", ReasonCeiling}, reasons)

	// Re-armed: a new cycle can start without reopening the device.
	require.NoError(t, r.StartSegment())
	assert.True(t, r.IsRecording())
	assert.Equal(t, 1, mic.opened)
}

func TestRecorder_IdempotentStartStop(t *testing.T) {
	r, mic, log := newTestRecorder(t, false)

	r.StopSegment(ReasonStop) // not recording: no-op
	assert.Empty(t, log.all())

	require.NoError(t, r.StartSegment())
	mic.push(100, 16000)
	require.NoError(t, r.StartSegment()) // already recording: no-op, buffer kept
	mic.push(100, 16000)

	r.StopSegment(ReasonStop)
	r.StopSegment(ReasonStop)
	segs := log.all()
	require.Len(t, segs, 1)
	assert.Equal(t, 200*time.Millisecond, segs[0].Duration(16000))
}

func TestRecorder_StopWithEmptyBufferEmitsNothing(t *testing.T) {
	r, _, log := newTestRecorder(t, true)

	require.NoError(t, r.StartSegment())
	r.StopSegment(ReasonSilence)
	assert.Empty(t, log.all())
}

func TestRecorder_TapsSeeAllAudio(t *testing.T) {
	r, mic, _ := newTestRecorder(t, true)

	var tapped int
	r.AddTap(func(pcm []byte) { tapped += len(pcm) })

	mic.push(100, 16000) // not recording
	require.NoError(t, r.StartSegment())
	mic.push(100, 16000)

	assert.Equal(t, 6400, tapped)
}

func TestRecorder_CloseFlushesAndReleases(t *testing.T) {
	r, mic, log := newTestRecorder(t, false)

	require.NoError(t, r.StartSegment())
	mic.push(100, 16000)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	segs := log.all()
	require.Len(t, segs, 1)
	assert.Equal(t, ReasonStop, segs[0].Reason)
	assert.Equal(t, 1, mic.closed)
	assert.ErrorIs(t, r.StartSegment(), ErrRecorderClosed)
}
