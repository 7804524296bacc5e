// Package conversation runs one spoken conversation at a time.
//
// The Orchestrator negotiates a realtime session first and falls back to the
// streaming relay when realtime is unavailable. Once active it owns the
// microphone, the voice activity detector, the turn guard and playback, and
// routes every inbound protocol event to the caller's Callbacks and the event
// bus.
//
//	orch := conversation.New(conversation.Dependencies{
//		Capture: mic,
//		Sink:    speaker,
//		Bus:     bus,
//	}, conversation.Callbacks{
//		OnTranscriptionUpdate: func(u protocol.TranscriptionUpdate) { ... },
//		OnError:               func(err error) { ... },
//	})
//	if err := orch.Start(ctx, cfg); err != nil {
//		return err
//	}
//	defer orch.End()
//
// Start returns once a transport is active. End is synchronous: when it
// returns, the microphone is released and no further callbacks fire.
package conversation
