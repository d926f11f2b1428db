package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn")
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn, got %s", buf.String())
	}
	Component(l, "dispatch").Warn("kept", "booking_id", "b1")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected json record: %v", err)
	}
	if rec["component"] != "dispatch" || rec["booking_id"] != "b1" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestSourceIsShortened(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info").Info("here")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected json record: %v", err)
	}
	src, _ := rec["source"].(string)
	if !strings.HasPrefix(src, "logging/logger_test.go:") {
		t.Fatalf("expected short source, got %q", src)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"": slog.LevelInfo, "DEBUG": slog.LevelDebug, " warning ": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q): expected %v, got %v err=%v", in, want, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
