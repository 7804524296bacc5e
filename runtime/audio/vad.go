package audio

import (
	"time"
)

// Default VAD parameter values.
const (
	DefaultEnergyThreshold     = 20
	DefaultPeakThreshold       = 50
	DefaultSilenceFramesToStop = 8
	DefaultFrameRate           = 60
)

// maxBinValue is the largest value a frequency bin can carry.
const maxBinValue = 255

const unknownState = "unknown"

// VADState represents the current voice activity state.
type VADState int

const (
	// VADStateQuiet indicates no voice activity detected.
	VADStateQuiet VADState = iota
	// VADStateSpeaking indicates active speech.
	VADStateSpeaking
)

// String returns a human-readable representation of the VAD state.
func (s VADState) String() string {
	switch s {
	case VADStateQuiet:
		return "quiet"
	case VADStateSpeaking:
		return "speaking"
	default:
		return unknownState
	}
}

// VADParams configures voice activity detection behavior.
type VADParams struct {
	// EnergyThreshold is the mean bin energy (0-255) above which a frame is active.
	EnergyThreshold float64

	// PeakThreshold is the peak bin energy (0-255) above which a frame is active.
	PeakThreshold float64

	// SilenceFramesToStop is the number of consecutive inactive frames required
	// before the quiet transition is emitted.
	SilenceFramesToStop int
}

// DefaultVADParams returns the tuned defaults for a ~60 Hz frame rate.
func DefaultVADParams() VADParams {
	return VADParams{
		EnergyThreshold:     DefaultEnergyThreshold,
		PeakThreshold:       DefaultPeakThreshold,
		SilenceFramesToStop: DefaultSilenceFramesToStop,
	}
}

// Validate checks that VAD parameters are within acceptable ranges.
func (p VADParams) Validate() error {
	if p.EnergyThreshold < 0 || p.EnergyThreshold > maxBinValue {
		return &ValidationError{Field: "EnergyThreshold", Message: "must be between 0 and 255"}
	}
	if p.PeakThreshold < 0 || p.PeakThreshold > maxBinValue {
		return &ValidationError{Field: "PeakThreshold", Message: "must be between 0 and 255"}
	}
	if p.SilenceFramesToStop <= 0 {
		return &ValidationError{Field: "SilenceFramesToStop", Message: "must be positive"}
	}
	return nil
}

// ValidationError represents a parameter validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Message
}

// ActivityState is the per-frame voice activity signal.
type ActivityState struct {
	IsActive bool
	// Level is the loudness in 0..100, derived from the frame peak.
	Level int
}

// VADEvent represents a state transition in VAD.
type VADEvent struct {
	State     VADState
	PrevState VADState
	Timestamp time.Time
	Duration  time.Duration // How long in the previous state
	Frame     int           // 1-based index of the frame that caused the transition
	Level     int
}
