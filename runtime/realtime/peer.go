package realtime

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/AltairaLabs/VoiceKit/pkg/httputil"
	"github.com/AltairaLabs/VoiceKit/runtime/audio"
	"github.com/AltairaLabs/VoiceKit/runtime/logger"
)

const (
	eventsChannelLabel = "oai-events"
	sdpContentType     = "application/sdp"
	maxAnswerBytes     = 256 * 1024
	opusFrameDuration  = 20 * time.Millisecond
	opusMaxPacket      = 1500
)

// PeerDialer negotiates a WebRTC peer connection: an audio transceiver for
// capture and agent speech plus the oai-events data channel for control events.
type PeerDialer struct {
	Endpoint   string
	ICEServers []string
	HTTPClient *http.Client

	// CaptureRate is the sample rate of PCM passed to SendAudio.
	CaptureRate int
	// PlaybackRate is the rate remote audio is decoded to.
	PlaybackRate int

	OnRemoteTrack     func(audio.RemoteTrack)
	OnConnectionState func(TransportState)
}

// Dial runs the offer/answer exchange and waits for the data channel to open.
func (d *PeerDialer) Dial(ctx context.Context, tok Token, onMessage MessageHandler) (ControlChannel, error) {
	cfg := webrtc.Configuration{}
	if len(d.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: d.ICEServers}}
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &peerChannel{
		pc:     pc,
		opened: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := p.setup(d, onMessage); err != nil {
		_ = pc.Close()
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		_ = pc.Close()
		return nil, fmt.Errorf("ice gathering: %w", ctx.Err())
	}

	answer, err := exchangeSDP(ctx, d.httpClient(), d.Endpoint, tok, pc.LocalDescription().SDP)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("apply answer: %w", err)
	}

	select {
	case <-p.opened:
		logger.Info("Realtime: data channel open", "label", eventsChannelLabel)
		return p, nil
	case <-p.done:
		_ = pc.Close()
		return nil, fmt.Errorf("peer connection failed before data channel opened: %w", p.Err())
	case <-ctx.Done():
		_ = pc.Close()
		return nil, fmt.Errorf("data channel open: %w", ctx.Err())
	}
}

func (d *PeerDialer) httpClient() *http.Client {
	return httputil.OrDefault(d.HTTPClient)
}

// exchangeSDP posts the offer and returns the answer SDP.
func exchangeSDP(ctx context.Context, client *http.Client, endpoint string, tok Token, offer string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if tok.Model != "" {
		q := u.Query()
		q.Set("model", tok.Model)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(offer))
	if err != nil {
		return "", fmt.Errorf("build sdp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.ClientSecret)
	req.Header.Set("Content-Type", sdpContentType)

	logger.APIRequest("sdp", http.MethodPost, u.String(),
		map[string]string{"Authorization": "Bearer " + tok.ClientSecret, "Content-Type": sdpContentType}, offer)
	resp, err := client.Do(req)
	if err != nil {
		logger.APIResponse("sdp", 0, "", err)
		return "", fmt.Errorf("post offer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerBytes))
	if err != nil {
		return "", fmt.Errorf("read answer: %w", err)
	}
	logger.APIResponse("sdp", resp.StatusCode, "", nil)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &statusError{Op: "sdp exchange", Code: resp.StatusCode}
	}
	answer := strings.TrimSpace(string(body))
	if answer == "" {
		return "", fmt.Errorf("sdp exchange: empty answer")
	}
	if !strings.HasPrefix(answer, "v=") {
		return "", fmt.Errorf("sdp exchange: answer is not an SDP document")
	}
	return answer + "\r\n", nil
}

// peerChannel is a ControlChannel over a WebRTC data channel. Capture audio
// is Opus-encoded onto the local media track.
type peerChannel struct {
	pc    *webrtc.PeerConnection
	dc    *webrtc.DataChannel
	local *webrtc.TrackLocalStaticSample

	encMu      sync.Mutex
	enc        *opus.Encoder
	encRate    int
	resampler  *audio.Resampler
	pending    []int16
	frameSize  int
	packetBuf  []byte
	openedOnce sync.Once
	opened     chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
}

func (p *peerChannel) setup(d *PeerDialer, onMessage MessageHandler) error {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "voicekit",
	)
	if err != nil {
		return fmt.Errorf("create local track: %w", err)
	}
	if _, err := p.pc.AddTrack(local); err != nil {
		return fmt.Errorf("add local track: %w", err)
	}
	p.local = local

	captureRate := d.CaptureRate
	if captureRate == 0 {
		captureRate = 16000
	}
	enc, err := opus.NewEncoder(captureRate, 1, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("create opus encoder: %w", err)
	}
	p.enc = enc
	p.encRate = captureRate
	p.frameSize = captureRate * int(opusFrameDuration/time.Millisecond) / 1000
	p.packetBuf = make([]byte, opusMaxPacket)

	dc, err := p.pc.CreateDataChannel(eventsChannelLabel, nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	p.dc = dc
	dc.OnOpen(func() {
		p.openedOnce.Do(func() { close(p.opened) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		onMessage(msg.Data)
	})
	dc.OnClose(func() {
		p.stop(fmt.Errorf("data channel closed"))
	})

	playbackRate := d.PlaybackRate
	if playbackRate == 0 {
		playbackRate = 24000
	}
	p.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		track, err := newOpusTrack(remote, playbackRate)
		if err != nil {
			logger.Error("Realtime: cannot decode remote track", "error", err)
			return
		}
		logger.Info("Realtime: remote audio track", "track", remote.ID(), "codec", remote.Codec().MimeType)
		if d.OnRemoteTrack != nil {
			d.OnRemoteTrack(track)
		}
		go track.pump()
	})

	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		ts := transportStateFromPeer(state)
		if d.OnConnectionState != nil {
			d.OnConnectionState(ts)
		}
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			p.stop(fmt.Errorf("peer connection %s", state.String()))
		}
	})
	return nil
}

func (p *peerChannel) Transport() string { return "webrtc" }

func (p *peerChannel) Done() <-chan struct{} { return p.done }

func (p *peerChannel) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *peerChannel) Send(v any) error {
	if p.isClosed() {
		return ErrChannelClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.dc.SendText(string(data))
}

// SendAudio encodes PCM16 into 20 ms Opus frames and writes them to the local track.
func (p *peerChannel) SendAudio(pcm []byte, sampleRate int) error {
	if p.isClosed() {
		return ErrChannelClosed
	}

	p.encMu.Lock()
	defer p.encMu.Unlock()
	if sampleRate != p.encRate {
		if p.resampler == nil {
			r, err := audio.NewResampler(sampleRate, p.encRate)
			if err != nil {
				return err
			}
			p.resampler = r
		}
		pcm = p.resampler.Process(pcm)
	}
	samples := make([]int16, len(pcm)/2)
	if err := binary.Read(bytes.NewReader(pcm[:len(samples)*2]), binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("read pcm: %w", err)
	}
	p.pending = append(p.pending, samples...)
	for len(p.pending) >= p.frameSize {
		n, err := p.enc.Encode(p.pending[:p.frameSize], p.packetBuf)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		p.pending = p.pending[p.frameSize:]
		packet := append([]byte(nil), p.packetBuf[:n]...)
		if err := p.local.WriteSample(media.Sample{Data: packet, Duration: opusFrameDuration}); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}
	return nil
}

func (p *peerChannel) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *peerChannel) stop(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.err = err
	close(p.done)
}

func (p *peerChannel) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.pc.Close()
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	if p.dc != nil {
		_ = p.dc.Close()
	}
	return p.pc.Close()
}
