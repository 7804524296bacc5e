//go:build portaudio

package main

import (
	"github.com/AltairaLabs/VoiceKit/runtime/audio"
	"github.com/AltairaLabs/VoiceKit/runtime/audio/device"
)

func init() {
	captureBackends["portaudio"] = func() audio.CaptureDevice { return device.NewPortAudioCapture() }
}
