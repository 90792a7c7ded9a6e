package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetPath returns the value at a dot-separated path such as "api.listen" or
// "engines.0.deployable_type", as seen in the YAML form of the config.
func (c *Config) GetPath(path string) (any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var root any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	current := root
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		switch node := current.(type) {
		case map[string]any:
			val, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("path %q: key %q not found", path, part)
			}
			current = val
		case []any:
			var idx int
			if _, err := fmt.Sscanf(part, "%d", &idx); err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("path %q: index %q out of range", path, part)
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("path %q breaks at %q (not a map or list)", path, part)
		}
	}
	return current, nil
}

// Redacted returns a copy with secrets masked, for printing.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.API.Auth.APIKey = mask(c.API.Auth.APIKey)
	cp.API.Auth.Tokens = make([]APIToken, len(c.API.Auth.Tokens))
	for i, tok := range c.API.Auth.Tokens {
		cp.API.Auth.Tokens[i] = APIToken{Token: mask(tok.Token), Scopes: tok.Scopes}
	}
	cp.Notify.WebhookSecret = mask(c.Notify.WebhookSecret)
	return &cp
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
