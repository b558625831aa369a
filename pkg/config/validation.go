package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the struct validation tags
// plus the cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if cfg.Auth.SessionStore == "badger" && cfg.Auth.BadgerPath == "" {
		return fmt.Errorf("config validation: auth.badger_path is required when auth.session_store is badger")
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	return nil
}
