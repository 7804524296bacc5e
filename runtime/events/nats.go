package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/AltairaLabs/VoiceKit/runtime/logger"
	"github.com/AltairaLabs/VoiceKit/runtime/version"
)

// Publisher is the part of a NATS connection the forwarder needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSForwarder republishes bus events as JSON on "<prefix>.<event type>".
type NATSForwarder struct {
	pub    Publisher
	prefix string
	conn   *nats.Conn
}

// NewNATSForwarder wraps an existing publisher.
func NewNATSForwarder(pub Publisher, prefix string) *NATSForwarder {
	return &NATSForwarder{pub: pub, prefix: strings.TrimSuffix(prefix, ".")}
}

// DialNATS connects to url with reconnects enabled and returns a forwarder
// owning the connection.
func DialNATS(url, prefix string) (*NATSForwarder, error) {
	nc, err := nats.Connect(url,
		nats.Name("voicekit/"+version.GetVersion()),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	f := NewNATSForwarder(nc, prefix)
	f.conn = nc
	return f, nil
}

// Subject returns the subject an event type is published on.
func (f *NATSForwarder) Subject(t EventType) string {
	if f.prefix == "" {
		return string(t)
	}
	return f.prefix + "." + string(t)
}

// Forward publishes one event. Failures are logged; forwarding never blocks
// the conversation.
func (f *NATSForwarder) Forward(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Warn("NATS: failed to marshal event", "event", string(event.Type), "error", err)
		return
	}
	if err := f.pub.Publish(f.Subject(event.Type), data); err != nil {
		logger.Warn("NATS: publish failed", "event", string(event.Type), "error", err)
	}
}

// Attach subscribes the forwarder to every event on bus.
func (f *NATSForwarder) Attach(bus *EventBus) func() {
	return bus.SubscribeAll(f.Forward)
}

// Close drains the owned connection, if any.
func (f *NATSForwarder) Close() error {
	if f.conn == nil {
		return nil
	}
	return f.conn.Drain()
}
