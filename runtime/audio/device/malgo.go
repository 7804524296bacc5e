package device

import (
	"context"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/AltairaLabs/VoiceKit/runtime/logger"
)

// periodMillis is the capture callback period.
const periodMillis = 20

// MalgoCapture captures mono PCM16 from the default input device via miniaudio.
type MalgoCapture struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// NewMalgoCapture creates an unopened capture device.
func NewMalgoCapture() *MalgoCapture {
	return &MalgoCapture{}
}

// Open starts capture, delivering each period to onPCM on the audio thread.
func (m *MalgoCapture) Open(_ context.Context, sampleRate int, onPCM func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return nil
	}

	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime
	mctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return captureError("init context", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate) //nolint:gosec // sample rates are small positive ints
	deviceConfig.PeriodSizeInMilliseconds = periodMillis

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			frame := make([]byte, len(input))
			copy(frame, input)
			onPCM(frame)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return captureError("init device", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return captureError("start device", err)
	}

	m.ctx = mctx
	m.device = device
	logger.Info("Microphone opened", "backend", "malgo", "sample_rate", sampleRate)
	return nil
}

// Close stops capture and releases the device.
func (m *MalgoCapture) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return nil
	}

	_ = m.device.Stop()
	m.device.Uninit()
	m.device = nil

	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	return err
}
