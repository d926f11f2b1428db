package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("NOTES_BACKEND", "")
	t.Setenv("EVENTS_BACKEND", "")
	cfg, err := LoadServerConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RadiusKm != 5 {
		t.Fatalf("expected default radius 5, got %v", cfg.RadiusKm)
	}
	if cfg.NotesCap != 50 {
		t.Fatalf("expected notes cap 50, got %d", cfg.NotesCap)
	}
	if cfg.DefaultVehicleType != "mini" {
		t.Fatalf("expected mini, got %s", cfg.DefaultVehicleType)
	}
	if !cfg.BroadcastAllDrivers {
		t.Fatalf("expected broadcast to all drivers by default")
	}
}

func TestLoadServerConfigEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("RADIUS_KM", "7.5")
	t.Setenv("EVENT_TIMEOUT", "3s")
	t.Setenv("EVENTS_BACKEND", "kafka")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092 ,")
	cfg, err := LoadServerConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RadiusKm != 7.5 || cfg.EventTimeout != 3*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
}

func TestLoadServerConfigJoinsErrors(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("STORE_BACKEND", "cassandra")
	_, err := LoadServerConfig("")
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "HTTP_READ_TIMEOUT") || !strings.Contains(msg, "cassandra") {
		t.Fatalf("expected both errors joined, got %q", msg)
	}
}

func TestLoadServerConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatch.yaml")
	body := "radius_km: 3\nnotes_cap: 10\nevent_timeout: 2s\ndefault_vehicle_type: lada\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NOTES_CAP", "20")
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RadiusKm != 3 || cfg.DefaultVehicleType != "lada" || cfg.EventTimeout != 2*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.NotesCap != 20 {
		t.Fatalf("expected env to win over file, got %d", cfg.NotesCap)
	}
}

func TestLoadServerConfigRejectsUnknownLogLevel(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("LOG_LEVEL", "chatty")
	if _, err := LoadServerConfig(""); err == nil || !strings.Contains(err.Error(), "LOG_LEVEL") {
		t.Fatalf("expected LOG_LEVEL error, got %v", err)
	}
}
