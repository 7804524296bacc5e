// Package streaming is the fallback transport used when a realtime session
// cannot be negotiated.
//
// Recorded segments are base64-encoded and sent to a relay over a WebSocket,
// tagged with the relay-issued session id. The relay answers with streamed
// agent fragments that are folded into agent turns exactly like realtime
// deltas.
//
// # Message Flow
//
//	client                         relay
//	start            ------------>
//	                 <------------ session-started {sessionId}
//	streaming-audio  ------------> (one per chunk)
//	audio-chunk      ------------> (final segment of a cycle)
//	                 <------------ streaming-chunk {message}
//	                 <------------ streaming-response | ai-response
//	end              ------------>
//	                 <------------ session-ended
//
// # Response Timeout
//
// Every send arms a per-segment timer. If nothing comes back in time the
// current recording cycle is stopped, a recoverable no-response error is
// reported and the session stays active.
package streaming
