package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AltairaLabs/VoiceKit/runtime/logger"
)

// WebSocket connection constants
const (
	relayWriteWait      = 10 * time.Second
	relayMaxMessageSize = 32 * 1024 * 1024
	relayCloseGrace     = 2 * time.Second
)

// ErrRelayClosed is returned when sending on a closed relay connection.
var ErrRelayClosed = errors.New("relay connection is closed")

// RelayClient is a JSON message channel to the relay collaborator. Sends are
// paced by a token bucket; inbound messages are delivered in arrival order
// from a single reader goroutine.
type RelayClient struct {
	conn    *websocket.Conn
	limiter *rate.Limiter
	onMsg   func(*InboundMessage)
	onDrop  func(reason string)

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
	err     error
	done    chan struct{}
}

// RelayOptions configures DialRelay.
type RelayOptions struct {
	// MaxSendsPerSecond paces outbound messages. Zero disables pacing.
	MaxSendsPerSecond float64
	Header            http.Header
	Dialer            *websocket.Dialer
	OnDrop            func(reason string)
}

// DialRelay connects to the relay and starts reading.
func DialRelay(ctx context.Context, url string, opts RelayOptions, onMsg func(*InboundMessage)) (*RelayClient, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	logger.Debug("Streaming: connecting to relay", "url", url)
	conn, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("failed to connect (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	conn.SetReadLimit(relayMaxMessageSize)

	limit := rate.Inf
	burst := 1
	if opts.MaxSendsPerSecond > 0 {
		limit = rate.Limit(opts.MaxSendsPerSecond)
		burst = max(1, int(opts.MaxSendsPerSecond/4))
	}

	c := &RelayClient{
		conn:    conn,
		limiter: rate.NewLimiter(limit, burst),
		onMsg:   onMsg,
		onDrop:  opts.OnDrop,
		done:    make(chan struct{}),
	}
	go c.readLoop()
	logger.Info("Streaming: relay connected")
	return c, nil
}

// Send paces and writes one message.
func (c *RelayClient) Send(ctx context.Context, msg OutboundMessage) error {
	if c.isClosed() {
		return ErrRelayClosed
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing: %w", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return ErrRelayClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(relayWriteWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (c *RelayClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.stop(err)
			return
		}
		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			logger.ProtocolDrop(context.Background(), "relay", "malformed", data)
			if c.onDrop != nil {
				c.onDrop("malformed")
			}
			continue
		}
		c.onMsg(&msg)
	}
}

// Done is closed when the connection stops.
func (c *RelayClient) Done() <-chan struct{} { return c.done }

// Err reports why the connection stopped. It is nil after Close.
func (c *RelayClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *RelayClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *RelayClient) stop(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	_ = c.conn.Close()
	close(c.done)
}

// Close closes the connection gracefully.
func (c *RelayClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(relayCloseGrace))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}
