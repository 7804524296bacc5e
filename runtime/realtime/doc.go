// Package realtime negotiates a low-latency duplex session with a remote agent.
//
// A Manager fetches an ephemeral token, opens a control channel (a WebRTC
// peer with the oai-events data channel, or a WebSocket), sends the one-time
// session handshake and then accepts capture audio while armed. Inbound
// control events are handed to a Dispatcher, normally a protocol.Multiplexer.
package realtime
