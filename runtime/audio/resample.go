package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Rates used across the engine.
const (
	SampleRate24kHz = 24000 // wire rate and agent audio
	SampleRate16kHz = 16000 // microphone capture
)

// Resampler converts a mono PCM16 stream between two rates by linear
// interpolation. The read position and the last input sample carry over
// between Process calls, so a stream fed in chunks comes out the same as
// if it had been converted in one piece.
//
// A Resampler is not safe for concurrent use.
type Resampler struct {
	from, to int
	step     float64

	// pos is the next output position in input samples, counted from the
	// sample held in last.
	pos    float64
	last   int16
	primed bool
}

// NewResampler returns a Resampler from fromRate to toRate.
func NewResampler(fromRate, toRate int) (*Resampler, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: from=%d, to=%d", fromRate, toRate)
	}
	return &Resampler{
		from: fromRate,
		to:   toRate,
		step: float64(fromRate) / float64(toRate),
	}, nil
}

// Rates reports the input and output rates.
func (r *Resampler) Rates() (from, to int) { return r.from, r.to }

// Process converts the next chunk. A trailing odd byte is ignored.
func (r *Resampler) Process(pcm []byte) []byte {
	in := decodePCM16(pcm)
	if len(in) == 0 {
		return nil
	}
	if r.from == r.to {
		return encodePCM16(in)
	}

	src := in
	if r.primed {
		src = make([]int16, 0, len(in)+1)
		src = append(src, r.last)
		src = append(src, in...)
	}

	end := float64(len(src) - 1)
	out := make([]int16, 0, int(end/r.step)+1)
	for ; r.pos <= end; r.pos += r.step {
		i := int(r.pos)
		v := float64(src[i])
		if frac := r.pos - float64(i); frac > 0 {
			v += frac * (float64(src[i+1]) - v)
		}
		out = append(out, int16(math.Round(v)))
	}

	r.pos -= end
	r.last = src[len(src)-1]
	r.primed = true
	return encodePCM16(out)
}

// Reset forgets the carried position so the next chunk starts a new stream.
func (r *Resampler) Reset() {
	r.pos = 0
	r.last = 0
	r.primed = false
}

// ResamplePCM16 converts a complete PCM16 clip from one rate to another.
// The result holds len(input)*toRate/fromRate samples; the tail repeats the
// final input sample when interpolation runs short.
func ResamplePCM16(input []byte, fromRate, toRate int) ([]byte, error) {
	r, err := NewResampler(fromRate, toRate)
	if err != nil {
		return nil, err
	}
	if len(input)%pcmBytesPerSample != 0 {
		return nil, fmt.Errorf("input length %d is not a multiple of %d bytes per sample", len(input), pcmBytesPerSample)
	}

	out := r.Process(input)
	want := len(input) / pcmBytesPerSample * toRate / fromRate * pcmBytesPerSample
	switch {
	case want == 0:
		return []byte{}, nil
	case len(out) >= want:
		return out[:want], nil
	}

	tail := out[len(out)-pcmBytesPerSample:]
	padded := make([]byte, len(out), want)
	copy(padded, out)
	for len(padded) < want {
		padded = append(padded, tail...)
	}
	return padded, nil
}

func decodePCM16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/pcmBytesPerSample)
	for i := range samples {
		//nolint:gosec // PCM16 is stored as two's complement
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*pcmBytesPerSample:]))
	}
	return samples
}

func encodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*pcmBytesPerSample)
	for i, s := range samples {
		//nolint:gosec // PCM16 is stored as two's complement
		binary.LittleEndian.PutUint16(out[i*pcmBytesPerSample:], uint16(s))
	}
	return out
}
