package audio

import (
	"encoding/binary"
	"math"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// Analyser defaults match the usual browser analyser node settings.
const (
	DefaultFFTSize            = 512
	DefaultSmoothingTimeConst = 0.8
	DefaultMinDecibels        = -100.0
	DefaultMaxDecibels        = -30.0
)

// Analyser turns a rolling window of PCM16 samples into byte frequency data.
// It is fed by the recorder through Write and implements FrameSource.
type Analyser struct {
	fftSize   int
	smoothing float64
	minDB     float64
	maxDB     float64
	hann      []float64

	mu       sync.Mutex
	samples  []float64
	smoothed []float64
	closed   bool
}

// NewAnalyser creates an Analyser with an FFT window of fftSize samples.
// fftSize must be a power of two; other values fall back to the default.
func NewAnalyser(fftSize int) *Analyser {
	if fftSize < 32 || fftSize&(fftSize-1) != 0 {
		fftSize = DefaultFFTSize
	}
	return &Analyser{
		fftSize:   fftSize,
		smoothing: DefaultSmoothingTimeConst,
		minDB:     DefaultMinDecibels,
		maxDB:     DefaultMaxDecibels,
		hann:      window.Hann(fftSize),
		samples:   make([]float64, fftSize),
		smoothed:  make([]float64, fftSize/2),
	}
}

// BinCount returns the number of frequency bins per frame.
func (a *Analyser) BinCount() int {
	return a.fftSize / 2
}

// Write appends little-endian PCM16 samples to the rolling window.
func (a *Analyser) Write(pcm []byte) {
	n := len(pcm) / pcmBytesPerSample
	if n == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	if n >= a.fftSize {
		pcm = pcm[(n-a.fftSize)*pcmBytesPerSample:]
		n = a.fftSize
	}
	copy(a.samples, a.samples[n:])
	offset := a.fftSize - n
	for i := 0; i < n; i++ {
		//nolint:gosec // Safe PCM16 conversion
		s := int16(binary.LittleEndian.Uint16(pcm[i*pcmBytesPerSample:]))
		a.samples[offset+i] = float64(s) / pcmMaxAmplitude
	}
}

// ReadFrame returns the current byte frequency data.
func (a *Analyser) ReadFrame() ([]uint8, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrSourceClosed
	}

	windowed := make([]float64, a.fftSize)
	for i, s := range a.samples {
		windowed[i] = s * a.hann[i]
	}
	spectrum := fft.FFTReal(windowed)

	bins := a.fftSize / 2
	frame := make([]uint8, bins)
	scale := maxBinValue / (a.maxDB - a.minDB)
	for k := 0; k < bins; k++ {
		mag := cmplx.Abs(spectrum[k]) / float64(a.fftSize)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag

		db := math.Inf(-1)
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		v := (db - a.minDB) * scale
		switch {
		case v <= 0 || math.IsNaN(v):
			frame[k] = 0
		case v >= maxBinValue:
			frame[k] = maxBinValue
		default:
			frame[k] = uint8(v)
		}
	}
	return frame, nil
}

// Close marks the source as gone. Subsequent reads return ErrSourceClosed.
func (a *Analyser) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

const (
	// pcmBytesPerSample is the number of bytes per 16-bit PCM sample.
	pcmBytesPerSample = 2
	// pcmMaxAmplitude is the maximum amplitude for 16-bit signed audio.
	pcmMaxAmplitude = 32768.0
)
