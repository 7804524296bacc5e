package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/VoiceKit/runtime/audio"
	"github.com/AltairaLabs/VoiceKit/runtime/logger"
	"github.com/AltairaLabs/VoiceKit/runtime/protocol"
)

// WebSocket connection constants
const (
	wsWriteWait        = 10 * time.Second
	wsPingInterval     = 30 * time.Second
	wsMaxMessageSize   = 16 * 1024 * 1024
	wsCloseGracePeriod = 5 * time.Second
	realtimeBetaHeader = "realtime=v1"
)

// SocketDialer opens the control channel as a WebSocket. Audio travels inline
// as input_audio_buffer.append events.
type SocketDialer struct {
	Endpoint string
	Dialer   *websocket.Dialer
}

// Dial connects and starts the read loop.
func (d *SocketDialer) Dial(ctx context.Context, tok Token, onMessage MessageHandler) (ControlChannel, error) {
	wsURL, err := socketURL(d.Endpoint, tok.Model)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+tok.ClientSecret)
	headers.Set("OpenAI-Beta", realtimeBetaHeader)

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	logger.Debug("Realtime: connecting to WebSocket", "url", wsURL)
	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, &statusError{Op: "dial", Code: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	conn.SetReadLimit(wsMaxMessageSize)

	s := &socketChannel{
		conn:      conn,
		onMessage: onMessage,
		done:      make(chan struct{}),
	}
	go s.readLoop()
	go s.heartbeat()
	logger.Info("Realtime: WebSocket connected")
	return s, nil
}

// socketURL maps http(s) endpoints onto ws(s) and adds the model query parameter.
func socketURL(endpoint, model string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if model != "" {
		q := u.Query()
		q.Set("model", model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

type socketChannel struct {
	conn      *websocket.Conn
	onMessage MessageHandler

	writeMu sync.Mutex

	audioMu   sync.Mutex
	resampler *audio.Resampler

	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
}

func (s *socketChannel) Transport() string { return "websocket" }

func (s *socketChannel) Done() <-chan struct{} { return s.done }

func (s *socketChannel) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *socketChannel) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return s.write(websocket.TextMessage, data)
}

func (s *socketChannel) SendAudio(pcm []byte, sampleRate int) error {
	wire, err := s.toWireRate(pcm, sampleRate)
	if err != nil {
		return err
	}
	return s.Send(protocol.NewInputAudioBufferAppend(base64.StdEncoding.EncodeToString(wire)))
}

// toWireRate converts capture audio to the wire rate. The resampler is kept
// across calls and rebuilt when the capture rate changes.
func (s *socketChannel) toWireRate(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate == protocol.DefaultSampleRate {
		return pcm, nil
	}
	s.audioMu.Lock()
	defer s.audioMu.Unlock()
	if s.resampler == nil || s.resamplerFrom() != sampleRate {
		r, err := audio.NewResampler(sampleRate, protocol.DefaultSampleRate)
		if err != nil {
			return nil, err
		}
		s.resampler = r
	}
	return s.resampler.Process(pcm), nil
}

func (s *socketChannel) resamplerFrom() int {
	from, _ := s.resampler.Rates()
	return from
}

func (s *socketChannel) write(messageType int, data []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (s *socketChannel) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.stop(err)
			return
		}
		s.onMessage(data)
	}
}

func (s *socketChannel) heartbeat() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				logger.Warn("Realtime: ping failed", "error", err)
				return
			}
		}
	}
}

// stop records the read error unless the channel was closed locally. A remote
// close, even a normal one, ends the session.
func (s *socketChannel) stop(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	_ = s.conn.Close()
	close(s.done)
}

func (s *socketChannel) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsCloseGracePeriod))
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
}
