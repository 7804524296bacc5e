package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/AltairaLabs/VoiceKit/pkg/errors"
	"github.com/AltairaLabs/VoiceKit/runtime/conversation"
	"github.com/AltairaLabs/VoiceKit/runtime/events"
	"github.com/AltairaLabs/VoiceKit/runtime/protocol"
	"github.com/AltairaLabs/VoiceKit/runtime/statestore"
)

// execute runs the root command with args and returns stdout. Flag state is
// reset first because cobra keeps parsed values between executions.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(bytes.NewReader(nil))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// writeConfig writes a YAML config file and returns its path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voicekit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "voicekit version dev")
}

func TestTokenCommand(t *testing.T) {
	expires := time.Now().Add(time.Minute).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"client_secret":{"value":"ek_super_secret","expires_at":%d},"model":"gpt-realtime"}`, expires)
	}))
	defer srv.Close()

	out, err := execute(t, "token", "--token-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Token OK")
	assert.Contains(t, out, "gpt-realtime")
	assert.Contains(t, out, "15 chars")
	assert.NotContains(t, out, "ek_super_secret")
}

func TestTokenCommand_EndpointRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := execute(t, "token", "--token-url", srv.URL)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CategoryNegotiation, pkgerrors.CategoryOf(err))
}

func TestTokenCommand_NoURL(t *testing.T) {
	_, err := execute(t, "token", "--config", writeConfig(t, "realtime:\n  token_url: \"\"\n"))
	assert.ErrorIs(t, err, errNoTokenURL)
}

func TestConfigCommand(t *testing.T) {
	out, err := execute(t, "config",
		"--relay-url", "wss://relay.example.com/ws",
		"--token-url", "https://tokens.example.com/session")
	require.NoError(t, err)
	assert.Contains(t, out, "url: wss://relay.example.com/ws")
	assert.Contains(t, out, "token_url: https://tokens.example.com/session")
	assert.Contains(t, out, "service_name: voicekit")
}

func TestConfigCommand_ReportsValidation(t *testing.T) {
	out, err := execute(t, "config", "--config", writeConfig(t, "realtime:\n  enabled: false\nstreaming:\n  enabled: false\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one of realtime.enabled or streaming.enabled")
	assert.Contains(t, out, "enabled: false", "configuration is printed before validation")
}

func seedRedis(t *testing.T) (*miniredis.Miniredis, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := statestore.NewRedisStore(client)
	ctx := context.Background()
	require.NoError(t, store.Begin(ctx, "relay-1", "streaming", time.Now().Add(-time.Minute)))
	require.NoError(t, store.Append(ctx, "relay-1",
		statestore.Entry{Role: statestore.RoleUser, Kind: statestore.KindTranscription, Text: "How do I order coffee?"},
		statestore.Entry{Role: statestore.RoleAgent, Kind: "ai-response", Text: "Try asking for a flat white."},
	))
	require.NoError(t, store.Complete(ctx, "relay-1", conversation.EndReasonUser, time.Now()))
	require.NoError(t, store.Begin(ctx, "rt-2", "realtime", time.Now()))

	cfg := writeConfig(t, fmt.Sprintf("transcript:\n  store: redis\n  redis_addr: %s\n", mr.Addr()))
	return mr, cfg
}

func TestTranscriptList(t *testing.T) {
	_, cfg := seedRedis(t)

	out, err := execute(t, "transcript", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "relay-1")
	assert.Contains(t, out, "rt-2")
	assert.Contains(t, out, "live")
	assert.Less(t, bytes.Index([]byte(out), []byte("rt-2")), bytes.Index([]byte(out), []byte("relay-1")),
		"newest first")
}

func TestTranscriptShow(t *testing.T) {
	_, cfg := seedRedis(t)

	out, err := execute(t, "transcript", "show", "relay-1", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "How do I order coffee?")
	assert.Contains(t, out, "Try asking for a flat white.")
	assert.Contains(t, out, "end")

	out, err = execute(t, "transcript", "show", "relay-1", "--json", "--config", cfg)
	require.NoError(t, err)
	var tr statestore.Transcript
	require.NoError(t, json.Unmarshal([]byte(out), &tr))
	assert.True(t, tr.Complete)
	assert.Len(t, tr.Entries, 2)

	_, err = execute(t, "transcript", "show", "missing", "--config", cfg)
	assert.ErrorIs(t, err, statestore.ErrNotFound)
}

func TestTranscriptWait_AlreadyComplete(t *testing.T) {
	_, cfg := seedRedis(t)

	out, err := execute(t, "transcript", "wait", "relay-1", "--timeout", "2s", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Try asking for a flat white.")
}

func TestTranscriptWait_TimesOut(t *testing.T) {
	_, cfg := seedRedis(t)

	_, err := execute(t, "transcript", "wait", "rt-2", "--timeout", "50ms", "--config", cfg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTranscriptMemoryStoreRejected(t *testing.T) {
	_, err := execute(t, "transcript", "list", "--config", writeConfig(t, "transcript:\n  store: memory\n"))
	assert.ErrorIs(t, err, errMemoryStore)
}

func TestTranscriptEvents(t *testing.T) {
	dir := t.TempDir()
	j, err := events.NewJournal(dir)
	require.NoError(t, err)
	bus := events.NewEventBus()
	unsubscribe := j.Attach(bus)

	em := events.NewEmitter(bus, "", "").WithSession("relay-1", "streaming")
	em.SessionStarted("relay")
	em.AgentMessage("ai-response", "Hello!", nil)
	unsubscribe()
	bus.Close()
	require.NoError(t, j.Close())

	cfg := writeConfig(t, fmt.Sprintf("events:\n  journal_dir: %s\n", dir))
	out, err := execute(t, "transcript", "events", "relay-1", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, string(events.EventSessionStarted))
	assert.Contains(t, out, string(events.EventAgentMessage))
	assert.Contains(t, out, "Hello!")

	out, err = execute(t, "transcript", "events", "relay-1", "--type", string(events.EventAgentMessage), "--config", cfg)
	require.NoError(t, err)
	assert.NotContains(t, out, string(events.EventSessionStarted))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Error: bad flag", describe(errors.New("bad flag")))

	err := pkgerrors.New("realtime", "FetchToken", errors.New("dial tcp: refused")).
		WithCategory(pkgerrors.CategoryNegotiation)
	msg := describe(err)
	assert.NotContains(t, msg, "dial tcp", "categorized errors use user-facing wording")
	assert.Equal(t, pkgerrors.Describe(err).String(), msg)
}

func TestNewCapture(t *testing.T) {
	c, err := newCapture("malgo")
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = newCapture("cassette")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malgo")
}

func TestHealthOfIdleOrchestrator(t *testing.T) {
	orch := conversation.New(conversation.Dependencies{}, conversation.Callbacks{})

	h := healthOf(orch)
	assert.True(t, h.Healthy)
	assert.Equal(t, "idle", h.State)
	assert.Empty(t, h.Detail)
}

func TestReadKeys_IdleOrchestratorIgnoresInput(t *testing.T) {
	orch := conversation.New(conversation.Dependencies{}, conversation.Callbacks{})
	var buf bytes.Buffer

	readKeys(context.Background(), bytes.NewBufferString("\n\n"), orch, newPrinter(&buf))
	assert.Empty(t, buf.String(), "nothing to interrupt or send")
}

func TestTalkCallbacks(t *testing.T) {
	var buf bytes.Buffer
	ended := make(chan struct{}, 1)
	cb := talkCallbacks(newPrinter(&buf), ended)

	cb.OnTranscriptionUpdate(protocol.TranscriptionUpdate{Transcript: "Hel", IsPartial: true, ItemID: "i1"})
	cb.OnTranscriptionUpdate(protocol.TranscriptionUpdate{Transcript: "Hello", IsComplete: true, ItemID: "i1"})
	cb.OnAgentMessage(protocol.AgentMessage{Type: "ai-response", Text: "Hi there."})
	cb.OnAgentMessage(protocol.AgentMessage{Type: "turn-complete"})
	cb.OnConnected(conversation.Session{ID: "relay-1", Mode: conversation.ModeStreaming, Transport: conversation.TransportRelay})

	out := buf.String()
	assert.NotContains(t, out, "Hel\n", "partial transcripts are not printed")
	assert.Contains(t, out, "Hello")
	assert.Contains(t, out, "Hi there.")
	assert.Contains(t, out, "relay-1")

	cb.OnStateChange(conversation.StateActive)
	select {
	case <-ended:
		t.Fatal("active must not signal the end")
	default:
	}
	cb.OnStateChange(conversation.StateIdle)
	cb.OnStateChange(conversation.StateIdle)
	select {
	case <-ended:
	default:
		t.Fatal("idle must signal the end")
	}
}

func TestStackMemoryStoreWiring(t *testing.T) {
	cfg, err := readConfig()
	require.NoError(t, err)
	cfg.Metrics.Enabled = false

	st, err := newStack(context.Background(), cfg)
	require.NoError(t, err)

	em := events.NewEmitter(st.bus, "", "").WithSession("relay-9", "streaming")
	em.SessionStarted("relay")
	em.AgentMessage("ai-response", "Recorded.", nil)

	tr, err := st.store.Load(context.Background(), "relay-9")
	require.NoError(t, err)
	require.Len(t, tr.Entries, 1)
	assert.Equal(t, "Recorded.", tr.Entries[0].Text)

	require.NoError(t, st.Close(context.Background()))
}
