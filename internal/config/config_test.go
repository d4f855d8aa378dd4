package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.API.BaseURL != "http://localhost:5000" {
		t.Errorf("unexpected API base URL %q", cfg.API.BaseURL)
	}
	if cfg.Socket.URL != "ws://localhost:5000/ws" {
		t.Errorf("unexpected socket URL %q", cfg.Socket.URL)
	}
	if cfg.Socket.ReconnectInitialDelay != time.Second {
		t.Errorf("unexpected initial delay %v", cfg.Socket.ReconnectInitialDelay)
	}
	if cfg.Socket.ReconnectMaxDelay != 5*time.Second {
		t.Errorf("unexpected max delay %v", cfg.Socket.ReconnectMaxDelay)
	}
	if cfg.Socket.ReconnectMaxAttempts != 10 {
		t.Errorf("unexpected max attempts %d", cfg.Socket.ReconnectMaxAttempts)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("DROPWATCH_API_URL", "https://drops.example.com")
	t.Setenv("DROPWATCH_SOCKET_URL", "wss://drops.example.com/ws")
	t.Setenv("DROPWATCH_RECONNECT_ATTEMPTS", "3")
	t.Setenv("DROPWATCH_API_TIMEOUT", "5s")

	cfg := FromEnv()

	if cfg.API.BaseURL != "https://drops.example.com" {
		t.Errorf("env override ignored, got %q", cfg.API.BaseURL)
	}
	if cfg.Socket.URL != "wss://drops.example.com/ws" {
		t.Errorf("env override ignored, got %q", cfg.Socket.URL)
	}
	if cfg.Socket.ReconnectMaxAttempts != 3 {
		t.Errorf("env override ignored, got %d", cfg.Socket.ReconnectMaxAttempts)
	}
	if cfg.API.Timeout != 5*time.Second {
		t.Errorf("env override ignored, got %v", cfg.API.Timeout)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dropwatch.yaml")
	body := []byte("api:\n  base_url: https://file.example.com\nsocket:\n  reconnect_max_attempts: 7\nlog_level: debug\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.BaseURL != "https://file.example.com" {
		t.Errorf("file value ignored, got %q", cfg.API.BaseURL)
	}
	if cfg.Socket.ReconnectMaxAttempts != 7 {
		t.Errorf("file value ignored, got %d", cfg.Socket.ReconnectMaxAttempts)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("file value ignored, got %q", cfg.LogLevel)
	}
	// Values the file does not set keep their defaults.
	if cfg.Socket.URL != "ws://localhost:5000/ws" {
		t.Errorf("default lost on partial file, got %q", cfg.Socket.URL)
	}
}

func TestLoadMissingFileFallsBackToEnv(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:5000" {
		t.Errorf("unexpected base URL %q", cfg.API.BaseURL)
	}
}
