package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/conductor/internal/registry"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configPath, merges its includes, applies defaults, verifies
// checksums when a .checksums manifest sits next to the files, and validates
// the result.
func Load(configPath string) (*Config, error) {
	return load(configPath, true)
}

// LoadUnverified is Load without the checksum step. "config lock" uses it to
// re-authorise files that were edited on purpose.
func LoadUnverified(configPath string) (*Config, error) {
	return load(configPath, false)
}

func load(configPath string, verify bool) (*Config, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourceFiles = []string{absPath}

	visited := map[string]bool{absPath: true}
	if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if verify {
		if err := verifyChecksums(cfg.SourceFiles); err != nil {
			return nil, err
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveConfigPath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// loadIncludes merges each included file into cfg, depth first.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)
		if !filepath.IsAbs(includePath) {
			includePath = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(includePath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}
		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			return fmt.Errorf("include[%d]: file not found: %s\n"+
				"Referenced from: %s", i, absPath, baseDir)
		}
		visited[absPath] = true

		included, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, absPath, err)
		}
		merge(cfg, included)
		cfg.SourceFiles = append(cfg.SourceFiles, absPath)

		if err := loadIncludes(cfg, included.Include, filepath.Dir(absPath), visited); err != nil {
			return err
		}
	}
	return nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// merge copies non-zero values of src over dst. Engines and tokens append.
func merge(dst, src *Config) {
	setString(&dst.Service.Name, src.Service.Name)
	setString(&dst.Service.LogLevel, src.Service.LogLevel)
	setString(&dst.Service.LogFormat, src.Service.LogFormat)
	setString(&dst.Service.LockPath, src.Service.LockPath)

	setString(&dst.State.Path, src.State.Path)
	if src.State.HistoryRetention != 0 {
		dst.State.HistoryRetention = src.State.HistoryRetention
	}

	if src.API.Enabled {
		dst.API.Enabled = true
	}
	setString(&dst.API.Listen, src.API.Listen)
	setString(&dst.API.Auth.APIKey, src.API.Auth.APIKey)
	dst.API.Auth.Tokens = append(dst.API.Auth.Tokens, src.API.Auth.Tokens...)

	if len(src.Etcd.Endpoints) > 0 {
		dst.Etcd.Endpoints = src.Etcd.Endpoints
	}
	if src.Etcd.DialTimeout != 0 {
		dst.Etcd.DialTimeout = src.Etcd.DialTimeout
	}
	if src.Etcd.RequestTimeout != 0 {
		dst.Etcd.RequestTimeout = src.Etcd.RequestTimeout
	}
	setString(&dst.Etcd.Prefix, src.Etcd.Prefix)

	dst.Engines = append(dst.Engines, src.Engines...)

	setString(&dst.Notify.WebhookSecret, src.Notify.WebhookSecret)
	if src.Notify.WebhookTimeout != 0 {
		dst.Notify.WebhookTimeout = src.Notify.WebhookTimeout
	}
	if src.Notify.EventBuffer != 0 {
		dst.Notify.EventBuffer = src.Notify.EventBuffer
	}

	if src.Tracing.Enabled {
		dst.Tracing.Enabled = true
	}
	setString(&dst.Tracing.Output, src.Tracing.Output)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	defaults := Defaults()

	setDefault(&cfg.Service.Name, defaults.Service.Name)
	setDefault(&cfg.Service.LogLevel, defaults.Service.LogLevel)
	setDefault(&cfg.Service.LogFormat, defaults.Service.LogFormat)
	setDefault(&cfg.Service.LockPath, defaults.Service.LockPath)

	setDefault(&cfg.State.Path, defaults.State.Path)
	if cfg.State.HistoryRetention == 0 {
		cfg.State.HistoryRetention = defaults.State.HistoryRetention
	}

	// A file that says nothing about the API gets the default listener.
	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API.Enabled = defaults.API.Enabled
	}
	setDefault(&cfg.API.Listen, defaults.API.Listen)

	if cfg.Etcd.DialTimeout == 0 {
		cfg.Etcd.DialTimeout = defaults.Etcd.DialTimeout
	}
	if cfg.Etcd.RequestTimeout == 0 {
		cfg.Etcd.RequestTimeout = defaults.Etcd.RequestTimeout
	}
	setDefault(&cfg.Etcd.Prefix, defaults.Etcd.Prefix)

	if cfg.Notify.WebhookTimeout == 0 {
		cfg.Notify.WebhookTimeout = defaults.Notify.WebhookTimeout
	}
	if cfg.Notify.EventBuffer == 0 {
		cfg.Notify.EventBuffer = defaults.Notify.EventBuffer
	}
}

func setDefault(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// interpolateEnv replaces ${VAR} with its environment value. Undefined
// variables are left in place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

// Registry builds the engine registry from the engines section.
func (c *Config) Registry() (*registry.Registry, error) {
	return registry.FromEntries(c.Engines)
}
