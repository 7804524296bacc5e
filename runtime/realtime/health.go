package realtime

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// TransportState is the connection state of the control channel's transport.
type TransportState string

// Transport states.
const (
	TransportNew          TransportState = "new"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// MediaState is the state of the agent's audio stream.
type MediaState string

// Media states.
const (
	MediaNone  MediaState = "none"
	MediaMuted MediaState = "muted"
	MediaLive  MediaState = "live"
	MediaEnded MediaState = "ended"
)

// ConnectionHealth is a diagnostic snapshot used for retry decisions.
type ConnectionHealth struct {
	TransportState TransportState
	MediaState     MediaState
}

// Healthy reports whether the transport is usable.
func (h ConnectionHealth) Healthy() bool {
	return h.TransportState == TransportConnected
}

func transportStateFromPeer(s webrtc.PeerConnectionState) TransportState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return TransportNew
	case webrtc.PeerConnectionStateConnecting:
		return TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return TransportFailed
	default:
		return TransportClosed
	}
}

// healthTracker records health transitions and reports fatal ones once.
type healthTracker struct {
	mu      sync.Mutex
	health  ConnectionHealth
	fatal   bool
	onFatal func(ConnectionHealth)
}

func newHealthTracker() *healthTracker {
	return &healthTracker{health: ConnectionHealth{TransportState: TransportNew, MediaState: MediaNone}}
}

func (t *healthTracker) snapshot() ConnectionHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.health
}

func (t *healthTracker) setTransport(s TransportState) {
	t.mu.Lock()
	t.health.TransportState = s
	var fire func(ConnectionHealth)
	if s == TransportFailed && !t.fatal {
		t.fatal = true
		fire = t.onFatal
	}
	h := t.health
	t.mu.Unlock()
	if fire != nil {
		fire(h)
	}
}

func (t *healthTracker) setMedia(s MediaState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.health.MediaState = s
}
