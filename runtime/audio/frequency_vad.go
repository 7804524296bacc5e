package audio

import (
	"math"
	"sync"
	"time"
)

// stateChangeBufferSize is the buffer size for the state change channel.
const stateChangeBufferSize = 16

// FrequencyVAD is a voice activity detector over frequency-domain energy frames.
// Each frame is a vector of bin magnitudes in 0..255. Entering the speaking state
// is immediate; leaving it requires SilenceFramesToStop consecutive inactive frames.
type FrequencyVAD struct {
	params VADParams

	mu             sync.RWMutex
	state          VADState
	stateChange    chan VADEvent
	stateStart     time.Time
	frames         int
	inactiveFrames int
	last           ActivityState
	onChange       func(VADEvent)
}

// NewFrequencyVAD creates a FrequencyVAD with the given parameters.
func NewFrequencyVAD(params VADParams) (*FrequencyVAD, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return &FrequencyVAD{
		params:      params,
		state:       VADStateQuiet,
		stateChange: make(chan VADEvent, stateChangeBufferSize),
		stateStart:  time.Now(),
	}, nil
}

// Name returns the analyzer identifier.
func (v *FrequencyVAD) Name() string {
	return "frequency-energy"
}

// OnTransition registers a callback invoked synchronously on every state
// transition, after the event is queued on the channel.
func (v *FrequencyVAD) OnTransition(fn func(VADEvent)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onChange = fn
}

// Analyze processes one frame and returns the activity signal for it.
func (v *FrequencyVAD) Analyze(frame []uint8) ActivityState {
	mean, peak := frameEnergy(frame)
	activity := ActivityState{
		IsActive: mean > v.params.EnergyThreshold || peak > v.params.PeakThreshold,
		Level:    levelFromPeak(peak),
	}

	event, changed, cb := v.advance(activity)
	if changed && cb != nil {
		cb(event)
	}
	return activity
}

// frameEnergy returns the mean and peak bin values of a frame.
func frameEnergy(frame []uint8) (mean, peak float64) {
	if len(frame) == 0 {
		return 0, 0
	}
	var sum int
	var maxBin uint8
	for _, b := range frame {
		sum += int(b)
		if b > maxBin {
			maxBin = b
		}
	}
	return float64(sum) / float64(len(frame)), float64(maxBin)
}

func levelFromPeak(peak float64) int {
	level := int(math.Round(peak / maxBinValue * 100))
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}

// advance runs the hysteresis state machine for one frame.
func (v *FrequencyVAD) advance(activity ActivityState) (VADEvent, bool, func(VADEvent)) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.frames++
	v.last = activity

	next := v.state
	switch v.state {
	case VADStateQuiet:
		if activity.IsActive {
			next = VADStateSpeaking
		}
	case VADStateSpeaking:
		if activity.IsActive {
			v.inactiveFrames = 0
		} else {
			v.inactiveFrames++
			if v.inactiveFrames >= v.params.SilenceFramesToStop {
				next = VADStateQuiet
			}
		}
	}

	if next == v.state {
		return VADEvent{}, false, nil
	}

	now := time.Now()
	event := VADEvent{
		State:     next,
		PrevState: v.state,
		Timestamp: now,
		Duration:  now.Sub(v.stateStart),
		Frame:     v.frames,
		Level:     activity.Level,
	}
	v.state = next
	v.stateStart = now
	v.inactiveFrames = 0

	// Non-blocking send to event channel
	select {
	case v.stateChange <- event:
	default:
	}
	return event, true, v.onChange
}

// State returns the current VAD state.
func (v *FrequencyVAD) State() VADState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Activity returns the signal computed for the most recent frame.
func (v *FrequencyVAD) Activity() ActivityState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.last
}

// OnStateChange returns a channel that receives state transitions.
// The channel is buffered and drops events if not consumed.
func (v *FrequencyVAD) OnStateChange() <-chan VADEvent {
	return v.stateChange
}

// Reset clears accumulated state for a new conversation.
func (v *FrequencyVAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.state = VADStateQuiet
	v.stateStart = time.Now()
	v.frames = 0
	v.inactiveFrames = 0
	v.last = ActivityState{}

	for len(v.stateChange) > 0 {
		<-v.stateChange
	}
}
