package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyShutdownTimeoutDefaults(cfg)
	applyAuthDefaults(&cfg.Auth)
	cfg.Database.ApplyDefaults()
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyAuthDefaults sets UDP listener and session store defaults.
func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.Port == 0 {
		cfg.Port = 16666
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = 1024
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 30 * time.Second
	}
	if cfg.SessionStore == "" {
		cfg.SessionStore = "memory"
	}
}

// GetDefaultConfig returns a Config struct with all default values
// applied. Useful for generating sample configuration files and for
// tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
