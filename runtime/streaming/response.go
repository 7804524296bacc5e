package streaming

import (
	"errors"
)

// ResponseAction indicates what action to take after processing a relay message.
type ResponseAction int

const (
	// ResponseActionContinue means the message was informational or a partial
	// fragment, and we should keep waiting for the final response.
	ResponseActionContinue ResponseAction = iota
	// ResponseActionComplete means the agent's turn is complete.
	ResponseActionComplete
	// ResponseActionError means the relay reported an error.
	ResponseActionError
	// ResponseActionEnded means the relay closed the session.
	ResponseActionEnded
	// ResponseActionIgnore means the message type is not part of the relay protocol.
	ResponseActionIgnore
)

// String returns a human-readable representation of the action.
func (a ResponseAction) String() string {
	switch a {
	case ResponseActionContinue:
		return "continue"
	case ResponseActionComplete:
		return "complete"
	case ResponseActionError:
		return "error"
	case ResponseActionEnded:
		return "ended"
	case ResponseActionIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// ErrRelay wraps errors reported by the relay itself.
var ErrRelay = errors.New("relay error")

// ClassifyMessage is the response state machine of the relay protocol.
func ClassifyMessage(msg *InboundMessage) (ResponseAction, error) {
	switch msg.Type {
	case TypeSessionStarted, TypeStreamingChunk:
		return ResponseActionContinue, nil
	case TypeAIResponse, TypeStreamingResponse:
		return ResponseActionComplete, nil
	case TypeSessionEnded:
		return ResponseActionEnded, nil
	case TypeError:
		if msg.Error != "" {
			return ResponseActionError, errors.Join(ErrRelay, errors.New(msg.Error))
		}
		return ResponseActionError, errors.Join(ErrRelay, errors.New(msg.Message))
	default:
		return ResponseActionIgnore, nil
	}
}
