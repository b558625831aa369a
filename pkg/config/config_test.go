package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Auth.Port != 16666 {
		t.Errorf("expected default port 16666, got %d", cfg.Auth.Port)
	}
	if cfg.Auth.Workers != 1 {
		t.Errorf("expected default workers 1, got %d", cfg.Auth.Workers)
	}
	if cfg.Auth.SessionTTL != 30*time.Second {
		t.Errorf("expected default session TTL 30s, got %s", cfg.Auth.SessionTTL)
	}
	if cfg.Auth.SessionStore != "memory" {
		t.Errorf("expected default session store memory, got %s", cfg.Auth.SessionStore)
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("expected default log level INFO, got %s", cfg.Logging.Level)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected default shutdown timeout 30s, got %s", cfg.ShutdownTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
auth:
  port: 26666
  workers: 4
  session_ttl: 45s
database:
  type: sqlite
  sqlite:
    path: /tmp/creds.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("expected level normalized to DEBUG, got %s", cfg.Logging.Level)
	}
	if cfg.Auth.Port != 26666 {
		t.Errorf("expected port 26666, got %d", cfg.Auth.Port)
	}
	if cfg.Auth.Workers != 4 {
		t.Errorf("expected workers 4, got %d", cfg.Auth.Workers)
	}
	if cfg.Auth.SessionTTL != 45*time.Second {
		t.Errorf("expected session TTL 45s, got %s", cfg.Auth.SessionTTL)
	}

	// Unset fields still get defaults
	if cfg.Auth.MaxPacketSize != 1024 {
		t.Errorf("expected default max packet size, got %d", cfg.Auth.MaxPacketSize)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.Port != 16666 {
		t.Errorf("expected defaults, got port %d", cfg.Auth.Port)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Auth.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_InvalidSessionStore(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Auth.SessionStore = "redis"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for unknown session store")
	}
}

func TestValidate_BadgerWithoutPath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Auth.SessionStore = "badger"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for badger store without path")
	}
	if !strings.Contains(err.Error(), "badger_path") {
		t.Errorf("Expected error about badger_path, got: %v", err)
	}

	cfg.Auth.BadgerPath = "/tmp/authd-sessions"
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config with badger path, got: %v", err)
	}
}

func TestSaveAndReloadConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Auth.Port = 26666
	cfg.Logging.Level = "DEBUG"

	path := filepath.Join(t.TempDir(), "saved", "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat saved config: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected config file mode 0600, got %v", info.Mode().Perm())
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load saved config: %v", err)
	}
	if reloaded.Auth.Port != 26666 {
		t.Errorf("expected reloaded port 26666, got %d", reloaded.Auth.Port)
	}
	if reloaded.Logging.Level != "DEBUG" {
		t.Errorf("expected reloaded level DEBUG, got %s", reloaded.Logging.Level)
	}
}
