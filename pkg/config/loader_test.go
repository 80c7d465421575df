package config_test

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/a-essam23/go-canvas/pkg/config"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(newTestLogger(), "nonexistent-config")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("unexpected default address: %q", cfg.Server.Address)
	}
	if cfg.Server.Auth.GrantTTL != 5*time.Minute {
		t.Errorf("unexpected default grant TTL: %v", cfg.Server.Auth.GrantTTL)
	}
	if cfg.Transport.ReadTimeout != 60*time.Second {
		t.Errorf("unexpected default read timeout: %v", cfg.Transport.ReadTimeout)
	}
	if cfg.Room.MaxParticipants != 0 {
		t.Errorf("room capacity should default to unlimited, got %d", cfg.Room.MaxParticipants)
	}
	if cfg.Server.ConnectionLimit.Max != 0 {
		t.Errorf("connection limit should default to unlimited, got %d", cfg.Server.ConnectionLimit.Max)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("unexpected default log level: %q", cfg.Log.Level)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GOCANVAS_SERVER_ADDRESS", ":9999")

	cfg, err := config.Load(newTestLogger(), "nonexistent-config")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Errorf("env override not applied, got %q", cfg.Server.Address)
	}
}
