package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AltairaLabs/VoiceKit/pkg/httputil"
	"github.com/AltairaLabs/VoiceKit/runtime/audio/device"
	"github.com/AltairaLabs/VoiceKit/runtime/conversation"
	"github.com/AltairaLabs/VoiceKit/runtime/logger"
	"github.com/AltairaLabs/VoiceKit/runtime/protocol"
	"github.com/AltairaLabs/VoiceKit/runtime/telemetry"
)

const (
	keyCapture = "capture"

	// playbackRate is the PCM rate both transports deliver agent audio at.
	playbackRate = 24000

	shutdownTimeout = 5 * time.Second
)

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Start a spoken conversation",
	Long: `Start a spoken conversation on the default microphone and speakers.

Press Enter to interrupt the agent, or to end your turn while speaking.
Ctrl+C ends the conversation.`,
	Args: cobra.NoArgs,
	RunE: runTalk,
}

func init() {
	talkCmd.Flags().String(keyCapture, "malgo", "Microphone backend")
	_ = viper.BindPFlag(keyCapture, talkCmd.Flags().Lookup(keyCapture))
	rootCmd.AddCommand(talkCmd)
}

func runTalk(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := newStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := st.Close(sctx); err != nil {
			logger.Warn("Shutdown incomplete", "error", err)
		}
	}()

	capture, err := newCapture(viper.GetString(keyCapture))
	if err != nil {
		return err
	}
	sink, err := device.NewOtoSink(playbackRate)
	if err != nil {
		return err
	}
	defer sink.Close()

	out := newPrinter(cmd.OutOrStdout())
	ended := make(chan struct{}, 1)
	orch := conversation.New(conversation.Dependencies{
		Capture:    capture,
		Sink:       sink,
		Bus:        st.bus,
		HTTPClient: telemetry.HTTPClient(httputil.NewHTTPClient(httputil.DefaultSignalingTimeout)),
	}, talkCallbacks(out, ended))
	st.watch(orch)

	out.note("connecting...")
	if err := orch.Start(ctx, cfg); err != nil {
		return err
	}
	go readKeys(ctx, cmd.InOrStdin(), orch, out)

	select {
	case <-ctx.Done():
		out.note("ending conversation")
	case <-ended:
	}
	return orch.End()
}

// talkCallbacks prints the conversation. ended is signalled when the
// orchestrator returns to idle on its own.
func talkCallbacks(out *printer, ended chan<- struct{}) conversation.Callbacks {
	return conversation.Callbacks{
		OnConnected: func(s conversation.Session) {
			rows := [][2]string{
				{"session", s.ID},
				{"mode", string(s.Mode)},
				{"transport", s.Transport},
			}
			if s.Model != "" {
				rows = append(rows, [2]string{"model", s.Model})
			}
			if s.MaxDuration > 0 {
				rows = append(rows, [2]string{"limit", s.MaxDuration.String()})
			}
			out.block(keyValues("Connected", rows))
		},
		OnTranscriptionUpdate: func(u protocol.TranscriptionUpdate) {
			if u.IsComplete && u.Transcript != "" {
				out.line(userStyle, "you", u.Transcript)
			}
		},
		OnAgentMessage: func(m protocol.AgentMessage) {
			if m.Text != "" {
				out.line(agentStyle, "agent", m.Text)
			}
		},
		OnFeedback: func(scores map[string]any, comment string) {
			out.line(warnStyle, "feedback", fmt.Sprintf("%s %v", comment, scores))
		},
		OnError: func(err error) {
			out.line(errorStyle, "error", describe(err))
		},
		OnStateChange: func(s conversation.State) {
			if s == conversation.StateIdle {
				select {
				case ended <- struct{}{}:
				default:
				}
			}
		},
	}
}

// readKeys treats every line on in as a manual barge-in while the agent is
// busy, and as the end of the user's turn while recording.
func readKeys(ctx context.Context, in io.Reader, orch *conversation.Orchestrator, out *printer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch {
		case orch.IsPlaying() || orch.IsProcessing():
			if err := orch.Interrupt(); err == nil {
				out.note("interrupted")
			}
		case orch.IsRecording():
			if err := orch.Commit(); err == nil {
				out.note("sent")
			}
		}
	}
}
