package audio

import "sync"

// PlaybackPermission is the capability to start audible output. Hosts that
// restrict autoplay create it ungranted and call Grant on the first user
// interaction; everything waiting on it then runs once.
type PlaybackPermission struct {
	mu      sync.Mutex
	granted bool
	waiters []func()
}

// NewPlaybackPermission creates a permission, optionally already granted.
func NewPlaybackPermission(granted bool) *PlaybackPermission {
	return &PlaybackPermission{granted: granted}
}

// Granted reports whether playback may start.
func (p *PlaybackPermission) Granted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted
}

// Grant unlocks playback and runs pending waiters. Later calls are no-ops.
func (p *PlaybackPermission) Grant() {
	p.mu.Lock()
	if p.granted {
		p.mu.Unlock()
		return
	}
	p.granted = true
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, fn := range waiters {
		fn()
	}
}

// OnGranted runs fn now if granted, or once when Grant is called.
func (p *PlaybackPermission) OnGranted(fn func()) {
	p.mu.Lock()
	if !p.granted {
		p.waiters = append(p.waiters, fn)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	fn()
}
