package main

import (
	"fmt"
	"sort"

	"github.com/AltairaLabs/VoiceKit/runtime/audio"
	"github.com/AltairaLabs/VoiceKit/runtime/audio/device"
)

// captureBackends maps --capture values to microphone constructors.
var captureBackends = map[string]func() audio.CaptureDevice{
	"malgo": func() audio.CaptureDevice { return device.NewMalgoCapture() },
}

func newCapture(name string) (audio.CaptureDevice, error) {
	ctor, ok := captureBackends[name]
	if !ok {
		return nil, fmt.Errorf("unknown capture backend %q (available: %v)", name, captureNames())
	}
	return ctor(), nil
}

func captureNames() []string {
	names := make([]string, 0, len(captureBackends))
	for name := range captureBackends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
