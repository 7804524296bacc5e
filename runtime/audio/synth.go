package audio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNoSynthesizer is returned when no speech synthesis command is available.
var ErrNoSynthesizer = errors.New("audio: no speech synthesizer available")

// Synthesizer speaks text on the local device.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// CommandSynthesizer runs a text-to-speech command with the text as its last argument.
type CommandSynthesizer struct {
	Command string
	Args    []string
}

// NewCommandSynthesizer parses a command line such as "espeak -s 160". An empty
// command picks the first of say or espeak found on PATH.
func NewCommandSynthesizer(command string) (*CommandSynthesizer, error) {
	fields := strings.Fields(command)
	if len(fields) > 0 {
		return &CommandSynthesizer{Command: fields[0], Args: fields[1:]}, nil
	}
	for _, candidate := range []string{"say", "espeak"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return &CommandSynthesizer{Command: path}, nil
		}
	}
	return nil, ErrNoSynthesizer
}

// Speak blocks until the command finishes or ctx is cancelled.
func (s *CommandSynthesizer) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	args := append(append([]string{}, s.Args...), text)
	//nolint:gosec // command is operator configured
	cmd := exec.CommandContext(ctx, s.Command, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("speech synthesis failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
