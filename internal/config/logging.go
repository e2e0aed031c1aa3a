package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace sits below [slog.LevelDebug] and carries wire-level
// payloads: full provider request and response JSON. The value -8
// matches the spacing slog uses between its built-in levels.
const LevelTrace = slog.Level(-8)

// ParseLogLevel maps the log_level config string to an [slog.Level].
// Matching is case-insensitive and ignores surrounding whitespace; an
// empty string selects Info.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
}

// ReplaceLogLevelNames is an [slog.HandlerOptions.ReplaceAttr] hook
// that labels [LevelTrace] records as "TRACE". slog prints unknown
// levels relative to the nearest built-in one ("DEBUG-4"), which is
// noise in grep-able logs.
func ReplaceLogLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}
