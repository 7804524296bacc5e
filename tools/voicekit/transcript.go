package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/VoiceKit/pkg/config"
	"github.com/AltairaLabs/VoiceKit/runtime/events"
	"github.com/AltairaLabs/VoiceKit/runtime/statestore"
)

var errMemoryStore = errors.New(
	"transcripts are kept in memory by this configuration; set transcript.store to redis to read them from another process")

var transcriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Inspect recorded conversation transcripts",
}

var transcriptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent conversations, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		return withStore(cmd, func(ctx context.Context, store statestore.Store) error {
			ids, err := store.List(ctx, statestore.ListOptions{Limit: limit, Offset: offset})
			if err != nil {
				return err
			}
			return printList(ctx, cmd.OutOrStdout(), store, ids)
		})
	},
}

var transcriptShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print one transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withStore(cmd, func(ctx context.Context, store statestore.Store) error {
			tr, err := store.Load(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(tr)
			}
			printTranscript(cmd.OutOrStdout(), tr)
			return nil
		})
	},
}

var transcriptWaitCmd = &cobra.Command{
	Use:   "wait <session-id>",
	Short: "Block until a conversation ends, then print its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		return withStore(cmd, func(ctx context.Context, store statestore.Store) error {
			notifier, ok := store.(statestore.CompletionNotifier)
			if !ok {
				return fmt.Errorf("transcript store does not support waiting")
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			c, err := notifier.Wait(ctx, args[0])
			if err != nil {
				return err
			}
			tr, err := store.Load(ctx, c.SessionID)
			if err != nil {
				return err
			}
			printTranscript(cmd.OutOrStdout(), tr)
			return nil
		})
	},
}

var transcriptEventsCmd = &cobra.Command{
	Use:   "events <session-id>",
	Short: "Print the journaled events of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		if cfg.Events.JournalDir == "" {
			return errors.New("no event journal configured (set events.journal_dir)")
		}
		types, _ := cmd.Flags().GetStringSlice("type")
		limit, _ := cmd.Flags().GetInt("limit")

		j, err := events.NewJournal(cfg.Events.JournalDir)
		if err != nil {
			return err
		}
		defer j.Close()

		filter := events.Filter{Limit: limit}
		for _, t := range types {
			filter.Types = append(filter.Types, events.EventType(t))
		}
		records, err := j.Query(cmd.Context(), args[0], filter)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, rec := range records {
			fmt.Fprintf(out, "%s %s %s\n",
				noteStyle.Render(strconv.FormatInt(rec.Sequence, 10)),
				valueStyle.Render(rec.Timestamp.Format(time.RFC3339Nano)),
				titleStyle.Render(string(rec.Type)))
			if len(rec.Data) > 0 && string(rec.Data) != "null" {
				fmt.Fprintf(out, "    %s\n", rec.Data)
			}
		}
		return nil
	},
}

func init() {
	transcriptListCmd.Flags().Int("limit", 20, "Maximum conversations to list")
	transcriptListCmd.Flags().Int("offset", 0, "Conversations to skip")
	transcriptShowCmd.Flags().Bool("json", false, "Print the transcript as JSON")
	transcriptWaitCmd.Flags().Duration("timeout", 0, "Give up after this long (0 waits forever)")
	transcriptEventsCmd.Flags().StringSlice("type", nil, "Only print these event types")
	transcriptEventsCmd.Flags().Int("limit", 0, "Maximum events to print")

	transcriptCmd.AddCommand(transcriptListCmd, transcriptShowCmd, transcriptWaitCmd, transcriptEventsCmd)
	rootCmd.AddCommand(transcriptCmd)
}

// withStore opens the configured transcript store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(context.Context, statestore.Store) error) error {
	cfg, err := readConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := openTranscriptStore(cfg.Transcript)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	return fn(cmd.Context(), store)
}

// openTranscriptStore opens a store another process can share.
func openTranscriptStore(cfg config.TranscriptConfig) (statestore.Store, func() error, error) {
	if cfg.Store == "" || cfg.Store == "memory" {
		return nil, nil, errMemoryStore
	}
	st := &stack{}
	store, err := st.openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return store, func() error {
		if st.redis != nil {
			return st.redis.Close()
		}
		return nil
	}, nil
}

func printList(ctx context.Context, w io.Writer, store statestore.Store, ids []string) error {
	if len(ids) == 0 {
		fmt.Fprintln(w, noteStyle.Render("no transcripts"))
		return nil
	}
	for _, id := range ids {
		tr, err := store.Load(ctx, id)
		if errors.Is(err, statestore.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		status := warnStyle.Render("live")
		if tr.Complete {
			status = noteStyle.Render(tr.EndReason)
		}
		fmt.Fprintf(w, "%s  %s  %-9s  %3d entries  %s\n",
			titleStyle.Render(tr.SessionID),
			valueStyle.Render(tr.StartedAt.Local().Format(time.DateTime)),
			tr.Mode, len(tr.Entries), status)
	}
	return nil
}

func printTranscript(w io.Writer, tr *statestore.Transcript) {
	rows := [][2]string{
		{"session", tr.SessionID},
		{"mode", tr.Mode},
		{"started", tr.StartedAt.Local().Format(time.DateTime)},
	}
	if tr.Complete {
		rows = append(rows,
			[2]string{"ended", tr.EndedAt.Local().Format(time.DateTime)},
			[2]string{"reason", tr.EndReason})
	}
	fmt.Fprintln(w, keyValues("Transcript", rows))

	for _, e := range tr.Entries {
		style, label := noteStyle, e.Role
		switch e.Role {
		case statestore.RoleUser:
			style, label = userStyle, "you"
		case statestore.RoleAgent:
			style, label = agentStyle, "agent"
		case statestore.RoleFeedback:
			style = warnStyle
		}
		fmt.Fprintf(w, "%s %s %s\n",
			noteStyle.Render(e.Timestamp.Local().Format(time.TimeOnly)),
			style.Render(label),
			e.Text)
	}
}
