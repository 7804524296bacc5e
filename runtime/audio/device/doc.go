// Package device binds the audio package to real hardware: malgo or PortAudio
// for capture and oto for playback. It needs cgo and the platform audio
// headers, so the core audio package stays free of them.
package device
