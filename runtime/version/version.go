// Package version reports the VoiceKit build. Values can be set at build time:
//
//	go build -ldflags "-X github.com/AltairaLabs/VoiceKit/runtime/version.version=1.0.0"
package version

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/AltairaLabs/VoiceKit/runtime/logger"
)

const (
	devVersion     = "dev"
	shortCommitLen = 7
	vcsRevisionKey = "vcs.revision"
	vcsModifiedKey = "vcs.modified"
)

// Build-time variables.
var (
	version   = devVersion
	gitCommit = ""
	buildDate = ""
)

// Info describes the running build.
type Info struct {
	Version string
	Commit  string
	Dirty   bool
	Built   string
}

// Get resolves build information, preferring ldflags over module build info.
func Get() Info {
	info := Info{Version: version, Commit: gitCommit, Built: buildDate}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == devVersion && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	if gitCommit != "" {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case vcsRevisionKey:
			info.Commit = s.Value[:min(shortCommitLen, len(s.Value))]
		case vcsModifiedKey:
			info.Dirty = s.Value == "true"
		}
	}
	return info
}

// GetVersion returns the version string alone.
func GetVersion() string {
	return Get().Version
}

// String renders the multi-line form printed by `voicekit version`.
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "voicekit version %s", i.Version)
	if i.Commit != "" {
		fmt.Fprintf(&b, "\ncommit: %s", i.Commit)
		if i.Dirty {
			b.WriteString(" (dirty)")
		}
	}
	if i.Built != "" {
		fmt.Fprintf(&b, "\nbuilt: %s", i.Built)
	}
	return b.String()
}

// LogAttrs returns the build as slog key/value pairs.
func (i Info) LogAttrs() []any {
	attrs := []any{"version", i.Version}
	if i.Commit != "" {
		attrs = append(attrs, "commit", i.Commit)
	}
	if i.Dirty {
		attrs = append(attrs, "dirty", true)
	}
	if i.Built != "" {
		attrs = append(attrs, "built", i.Built)
	}
	return attrs
}

// LogStartup logs the build at debug level.
func LogStartup(ctx context.Context) {
	logger.DebugContext(ctx, "VoiceKit starting", Get().LogAttrs()...)
}
