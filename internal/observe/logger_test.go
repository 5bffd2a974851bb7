package observe

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseLevel(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	var lvl slog.LevelVar
	l, err := NewLogger(&buf, FormatJSON, &lvl)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Info("hello", "region", "north-east")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if rec["msg"] != "hello" || rec["region"] != "north-east" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewLogger_LevelVarChangesAtRuntime(t *testing.T) {
	var buf bytes.Buffer
	var lvl slog.LevelVar
	lvl.Set(slog.LevelWarn)
	l, err := NewLogger(&buf, FormatText, &lvl)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}

	lvl.Set(slog.LevelDebug)
	l.Debug("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("debug record missing after level change: %s", buf.String())
	}
}

func TestNewLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	var lvl slog.LevelVar
	l, err := NewLogger(&buf, "", &lvl)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Info("console line")
	if !strings.Contains(buf.String(), "console line") {
		t.Errorf("console output missing message: %q", buf.String())
	}
}

func TestNewLogger_UnknownFormat(t *testing.T) {
	var lvl slog.LevelVar
	if _, err := NewLogger(&bytes.Buffer{}, "xml", &lvl); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
