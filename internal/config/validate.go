package config

import (
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks a loaded, defaulted configuration.
func Validate(cfg *Config) error {
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}
	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.State.HistoryRetention < 0 {
		return fmt.Errorf("state.history_retention must not be negative")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d]", i)
			if tok.Token == "" {
				return fmt.Errorf("%s.token is required", field)
			}
			if err := unresolved(field+".token", tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("%s.scopes must be non-empty", field)
			}
		}
	}

	for i, ep := range cfg.Etcd.Endpoints {
		if strings.TrimSpace(ep) == "" {
			return fmt.Errorf("etcd.endpoints[%d] is empty", i)
		}
	}
	if cfg.Etcd.Enabled() && !strings.HasPrefix(cfg.Etcd.Prefix, "/") {
		return fmt.Errorf("etcd.prefix must start with / (got %q)", cfg.Etcd.Prefix)
	}

	if _, err := cfg.Registry(); err != nil {
		return err
	}

	if err := unresolved("notify.webhook_secret", cfg.Notify.WebhookSecret); err != nil {
		return err
	}
	if cfg.Notify.EventBuffer < 0 {
		return fmt.Errorf("notify.event_buffer must not be negative")
	}
	return nil
}

// unresolved reports a ${VAR} placeholder left behind by interpolation.
func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}
