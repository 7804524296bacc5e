package realtime

import (
	"context"
	"errors"
	"fmt"
)

// Channel errors.
var (
	ErrChannelClosed = errors.New("control channel is closed")
	ErrNotArmed      = errors.New("capture is not armed")
)

// MessageHandler receives every inbound control-channel payload in arrival order.
type MessageHandler func(data []byte)

// ControlChannel is the bidirectional event channel of a realtime session.
// Implementations deliver inbound messages from a single goroutine.
type ControlChannel interface {
	// Send marshals v to JSON and writes it.
	Send(v any) error
	// SendAudio delivers capture PCM16 at the given sample rate.
	SendAudio(pcm []byte, sampleRate int) error
	// Done is closed when the channel stops, for any reason.
	Done() <-chan struct{}
	// Err reports why the channel stopped. It is nil after a local Close.
	Err() error
	Close() error
	Transport() string
}

// Dialer opens a control channel for a token.
type Dialer interface {
	Dial(ctx context.Context, tok Token, onMessage MessageHandler) (ControlChannel, error)
}

// statusError carries the HTTP status of a failed exchange.
type statusError struct {
	Op   string
	Code int
	Err  error
}

func (e *statusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %v", e.Op, e.Code, e.Err)
}

func (e *statusError) Unwrap() error { return e.Err }
