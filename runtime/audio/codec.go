package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// ErrUnsupportedFormat is returned by a Decoder that does not recognise its input.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// Decoder turns an encoded payload into PCM16 mono samples.
type Decoder interface {
	Name() string
	Decode(data []byte) (pcm []byte, sampleRate int, err error)
}

// DecoderByName returns the decoder for a codec name. pcmRate is used for raw PCM.
func DecoderByName(name string, pcmRate int) (Decoder, error) {
	switch name {
	case "wav":
		return WAVDecoder{}, nil
	case "mp3":
		return MP3Decoder{}, nil
	case "pcm16":
		return PCM16Decoder{SampleRate: pcmRate}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// DefaultDecoders returns the fixed fallback order: WAV, MP3, raw PCM16.
func DefaultDecoders(pcmRate int) []Decoder {
	return []Decoder{WAVDecoder{}, MP3Decoder{}, PCM16Decoder{SampleRate: pcmRate}}
}

// WAVDecoder reads RIFF/WAVE files with 16-bit PCM data.
type WAVDecoder struct{}

// Name returns the codec name.
func (WAVDecoder) Name() string { return "wav" }

const (
	wavHeaderSize   = 12
	wavChunkHeader  = 8
	wavFormatPCM    = 1
	wavMinFmtLength = 16
)

// Decode parses the fmt and data chunks and downmixes to mono.
func (WAVDecoder) Decode(data []byte) ([]byte, int, error) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, ErrUnsupportedFormat
	}

	var (
		channels   int
		sampleRate int
		bits       int
		haveFmt    bool
	)
	pos := wavHeaderSize
	for pos+wavChunkHeader <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + wavChunkHeader
		if size < 0 || body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < wavMinFmtLength {
				return nil, 0, fmt.Errorf("wav: short fmt chunk")
			}
			if binary.LittleEndian.Uint16(data[body:]) != wavFormatPCM {
				return nil, 0, fmt.Errorf("wav: only PCM is supported: %w", ErrUnsupportedFormat)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = int(binary.LittleEndian.Uint16(data[body+14:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, fmt.Errorf("wav: data before fmt")
			}
			if bits != 16 || channels < 1 || sampleRate <= 0 {
				return nil, 0, fmt.Errorf("wav: %d-bit %d-channel audio: %w", bits, channels, ErrUnsupportedFormat)
			}
			return downmix(data[body:body+size], channels), sampleRate, nil
		}

		pos = body + size + size%2
	}
	return nil, 0, fmt.Errorf("wav: no data chunk")
}

// MP3Decoder decodes MPEG-1/2 layer III.
type MP3Decoder struct{}

// Name returns the codec name.
func (MP3Decoder) Name() string { return "mp3" }

// Decode decodes the whole stream. go-mp3 always yields 16-bit stereo.
func (MP3Decoder) Decode(data []byte) ([]byte, int, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("mp3: %w", err)
	}
	stereo, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("mp3: %w", err)
	}
	if len(stereo) == 0 {
		return nil, 0, fmt.Errorf("mp3: empty stream: %w", ErrUnsupportedFormat)
	}
	return downmix(stereo, 2), dec.SampleRate(), nil
}

// PCM16Decoder accepts raw little-endian PCM16 mono at a known rate.
type PCM16Decoder struct {
	SampleRate int
}

// Name returns the codec name.
func (PCM16Decoder) Name() string { return "pcm16" }

// Decode validates the payload length and returns it unchanged.
func (d PCM16Decoder) Decode(data []byte) ([]byte, int, error) {
	if len(data) == 0 || len(data)%pcmBytesPerSample != 0 || d.SampleRate <= 0 {
		return nil, 0, ErrUnsupportedFormat
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, d.SampleRate, nil
}

// downmix averages interleaved PCM16 channels into mono.
func downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		out := make([]byte, len(pcm)-len(pcm)%pcmBytesPerSample)
		copy(out, pcm)
		return out
	}
	frameSize := channels * pcmBytesPerSample
	frames := len(pcm) / frameSize
	out := make([]byte, frames*pcmBytesPerSample)
	for f := 0; f < frames; f++ {
		var sum int
		for c := 0; c < channels; c++ {
			//nolint:gosec // Safe PCM16 conversion
			sum += int(int16(binary.LittleEndian.Uint16(pcm[f*frameSize+c*pcmBytesPerSample:])))
		}
		//nolint:gosec // Safe PCM16 conversion
		binary.LittleEndian.PutUint16(out[f*pcmBytesPerSample:], uint16(int16(sum/channels)))
	}
	return out
}
