package device

import (
	"fmt"
	"strings"

	pkgerrors "github.com/AltairaLabs/VoiceKit/pkg/errors"
)

// captureError maps a backend failure onto the device sentinels so callers
// can report a remediation hint.
func captureError(operation string, err error) error {
	msg := strings.ToLower(err.Error())
	sentinel := pkgerrors.ErrMicrophoneNotFound
	switch {
	case strings.Contains(msg, "denied"), strings.Contains(msg, "permission"), strings.Contains(msg, "not allowed"):
		sentinel = pkgerrors.ErrMicrophoneDenied
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"), strings.Contains(msg, "unavailable"):
		sentinel = pkgerrors.ErrMicrophoneBusy
	}
	return pkgerrors.New("capture", operation, fmt.Errorf("%w: %w", sentinel, err)).
		WithCategory(pkgerrors.CategoryPermission)
}
