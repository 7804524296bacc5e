package prometheus

import (
	"github.com/AltairaLabs/VoiceKit/runtime/events"
)

// Status constants for metric labels.
const (
	statusSuccess = "success"
	statusError   = "error"
	statusStarted = "started"
	statusFailed  = "failed"
)

// MetricsListener records conversation events as Prometheus metrics.
// Register it with an EventBus using SubscribeAll.
type MetricsListener struct{}

// NewMetricsListener creates a new MetricsListener.
func NewMetricsListener() *MetricsListener {
	return &MetricsListener{}
}

// Handle processes an event and records relevant metrics.
func (l *MetricsListener) Handle(event *events.Event) {
	//exhaustive:ignore
	switch event.Type {
	case events.EventSessionStarted:
		RecordSessionStart(event.Mode)
	case events.EventSessionEnded:
		l.handleSessionEnded(event)
	case events.EventSessionFailed:
		RecordSessionFailed(event.Mode)
	case events.EventSessionFallback:
		if data, ok := event.Data.(events.SessionData); ok {
			RecordFallback(data.Reason)
		}
	case events.EventNegotiationCompleted:
		l.handleNegotiation(event)
	case events.EventSegmentSent:
		if data, ok := event.Data.(events.SegmentData); ok {
			RecordSegment(data.Reason, data.Final, data.Bytes)
		}
	case events.EventResponseTimeout:
		RecordResponseTimeout()
	case events.EventBargeIn:
		RecordBargeIn()
	case events.EventVADTransition:
		if data, ok := event.Data.(events.VADData); ok {
			RecordVADTransition(data.Speaking)
		}
	case events.EventProtocolDrop:
		if data, ok := event.Data.(events.DropData); ok {
			RecordProtocolDrop(data.Source, data.Reason)
		}
	case events.EventError:
		if data, ok := event.Data.(events.ErrorData); ok {
			RecordError(data.Category)
		}
	default:
		// Ignore events that don't have metrics
	}
}

func (l *MetricsListener) handleSessionEnded(event *events.Event) {
	if data, ok := event.Data.(events.SessionData); ok {
		RecordSessionEnd(event.Mode, data.Reason, data.Duration.Seconds())
	}
}

func (l *MetricsListener) handleNegotiation(event *events.Event) {
	data, ok := event.Data.(events.NegotiationData)
	if !ok {
		return
	}
	status := statusSuccess
	if !data.OK {
		status = statusError
	}
	RecordNegotiation(data.Transport, status, data.Duration.Seconds())
}

// Listener returns an events.Listener function that can be registered with an EventBus.
func (l *MetricsListener) Listener() events.Listener {
	return l.Handle
}
