package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the whole configuration and returns the first problem found
func (v *Validator) Validate(cfg *Config) error {
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("at least one provider profile is required")
	}

	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if err := v.ValidateProvider(p); err != nil {
			return err
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
	}

	if cfg.Realtime.EventBuffer <= 0 {
		return fmt.Errorf("realtime event_buffer must be positive")
	}
	if cfg.Realtime.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("realtime reconnect_max_attempts must be positive")
	}

	if cfg.Sessions.MaxActive <= 0 {
		return fmt.Errorf("sessions max_active must be positive")
	}
	if cfg.Sessions.IdleTimeout <= 0 {
		return fmt.Errorf("sessions idle_timeout must be positive")
	}
	if err := v.ValidateSweepSchedule(cfg.Sessions.SweepSchedule); err != nil {
		return err
	}

	if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
		return fmt.Errorf("gateway port %d out of range", cfg.Gateway.Port)
	}

	switch cfg.Intent.Classifier {
	case "", "keyword":
	case "openai", "anthropic":
		if cfg.Intent.APIKey == "" {
			return fmt.Errorf("intent classifier %q requires an api_key", cfg.Intent.Classifier)
		}
	default:
		return fmt.Errorf("unknown intent classifier %q", cfg.Intent.Classifier)
	}

	return nil
}

// ValidateProvider checks a single provider profile
func (v *Validator) ValidateProvider(p ProviderProfile) error {
	if p.ID == "" {
		return fmt.Errorf("provider id cannot be empty")
	}

	switch p.Kind {
	case "azure_openai", "ai_foundry":
	default:
		return fmt.Errorf("provider %s: unsupported kind %q", p.ID, p.Kind)
	}

	if p.APIKey == "" {
		return fmt.Errorf("provider %s: api_key cannot be empty", p.ID)
	}

	if p.Endpoint == "" {
		return fmt.Errorf("provider %s: endpoint cannot be empty", p.ID)
	}
	u, err := url.Parse(p.Endpoint)
	if err != nil {
		return fmt.Errorf("provider %s: invalid endpoint: %w", p.ID, err)
	}
	switch u.Scheme {
	case "https", "wss", "ws", "http":
	default:
		return fmt.Errorf("provider %s: endpoint scheme %q not supported", p.ID, u.Scheme)
	}
	if !strings.Contains(u.Host, ".") && !strings.HasPrefix(u.Host, "localhost") && !strings.HasPrefix(u.Host, "127.") {
		return fmt.Errorf("provider %s: endpoint host %q looks malformed", p.ID, u.Host)
	}

	return nil
}

// ValidateSweepSchedule checks a cron expression for the idle session sweep
func (v *Validator) ValidateSweepSchedule(expr string) error {
	if expr == "" {
		return nil // manager falls back to its default schedule
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid sweep_schedule %q: %w", expr, err)
	}
	return nil
}
