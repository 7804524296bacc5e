package audio

import (
	"time"

	"github.com/google/uuid"
)

// MimePCM16 tags raw little-endian 16-bit mono PCM payloads.
const MimePCM16 = "audio/pcm;rate=%d"

// SegmentReason records why a segment was emitted.
type SegmentReason string

// Segment reasons.
const (
	ReasonChunk    SegmentReason = "chunk"
	ReasonSilence  SegmentReason = "silence"
	ReasonCeiling  SegmentReason = "ceiling"
	ReasonStop     SegmentReason = "stop"
	ReasonPlayback SegmentReason = "playback"
	ReasonTimeout  SegmentReason = "timeout"
)

// Segment is a bounded unit of captured microphone audio.
type Segment struct {
	ID         string
	Data       []byte
	MimeType   string
	CapturedAt time.Time
	Size       int
	// Final marks the last segment of a recording cycle.
	Final  bool
	Reason SegmentReason
}

func newSegment(data []byte, mime string, capturedAt time.Time, final bool, reason SegmentReason) Segment {
	return Segment{
		ID:         uuid.NewString(),
		Data:       data,
		MimeType:   mime,
		CapturedAt: capturedAt,
		Size:       len(data),
		Final:      final,
		Reason:     reason,
	}
}

// Duration returns the audio length of a PCM16 mono segment at sampleRate.
func (s Segment) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := s.Size / pcmBytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
