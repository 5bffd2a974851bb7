package observe

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Log formats accepted by [NewLogger].
const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatText    = "text"
)

// ParseLevel converts a config level name ("debug", "info", "warn", "error")
// into an [slog.Level]. The empty string maps to Info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("observe: invalid log level %q", s)
	}
	return lvl, nil
}

// NewLogger builds the root logger writing to w. The level is read from
// level on every record so callers can change it at runtime. An empty
// format selects [FormatConsole].
func NewLogger(w io.Writer, format string, level *slog.LevelVar) (*slog.Logger, error) {
	var h slog.Handler
	switch strings.ToLower(format) {
	case "", FormatConsole:
		h = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	case FormatJSON:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case FormatText:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("observe: unknown log format %q", format)
	}
	return slog.New(h), nil
}
