// Package audio provides voice activity detection, segmented recording and
// agent audio playback for real-time voice conversations.
//
// The package is organised around three roles:
//   - VAD: FrequencyVAD turns frequency-domain energy frames into speaking and
//     quiet transitions, driven at a fixed frame rate by a Detector
//   - Recording: Recorder owns the capture device and cuts PCM into Segments,
//     either per chunk (streaming) or per utterance, with a hard ceiling
//   - Playback: PlaybackManager decodes agent audio or plays a remote track,
//     gated by a PlaybackPermission
//
// TurnGuard ties them together so recording never overlaps agent output,
// while VAD keeps running to allow barge-in.
//
// # Usage Example
//
//	vad, _ := audio.NewFrequencyVAD(audio.DefaultVADParams())
//	analyser := audio.NewAnalyser(audio.DefaultFFTSize)
//	recorder := audio.NewRecorder(mic, audio.RecorderConfig{Streaming: true})
//	recorder.AddTap(analyser.Write)
//	guard := audio.NewTurnGuard(audio.BargeInImmediate, recorder)
//	vad.OnTransition(func(ev audio.VADEvent) { guard.HandleVADEvent(ev) })
//
//	detector := audio.NewDetector(vad, analyser, audio.DefaultFrameRate)
//	detector.Start(ctx)
//	defer detector.Stop()
package audio
