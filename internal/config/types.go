package config

import (
	"time"

	"github.com/mattjoyce/conductor/internal/registry"
)

// Config is the complete conductor configuration.
type Config struct {
	Service ServiceConfig    `yaml:"service"`
	State   StateConfig      `yaml:"state"`
	API     APIConfig        `yaml:"api,omitempty"`
	Etcd    EtcdConfig       `yaml:"etcd,omitempty"`
	Engines []registry.Entry `yaml:"engines,omitempty"`
	Notify  NotifyConfig     `yaml:"notify,omitempty"`
	Tracing TracingConfig    `yaml:"tracing,omitempty"`
	Include []string         `yaml:"include,omitempty"`

	// SourceFiles lists every file that contributed, root first.
	SourceFiles []string `yaml:"-"`
}

type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// LockPath is the PID lock file guarding the single in-memory dispatcher.
	LockPath string `yaml:"lock_path"`
}

// StateConfig configures the process history audit database.
type StateConfig struct {
	Path             string        `yaml:"path"`
	HistoryRetention time.Duration `yaml:"history_retention"`
}

type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig holds bearer tokens. APIKey is an admin token with every scope.
type APIAuthConfig struct {
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// EtcdConfig configures the agent bus. No endpoints means no bus; feeds then
// arrive over the HTTP API only.
type EtcdConfig struct {
	Endpoints      []string      `yaml:"endpoints"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Prefix         string        `yaml:"prefix"`
}

func (e EtcdConfig) Enabled() bool { return len(e.Endpoints) > 0 }

type NotifyConfig struct {
	WebhookSecret  string        `yaml:"webhook_secret"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	EventBuffer    int           `yaml:"event_buffer"`
}

type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Output  string `yaml:"output"` // file path; empty writes to stdout
}

// Defaults returns a Config with every optional field filled in.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "conductor",
			LogLevel:  "info",
			LogFormat: "json",
			LockPath:  "./data/conductor.lock",
		},
		State: StateConfig{
			Path:             "./data/history.db",
			HistoryRetention: 7 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8080",
		},
		Etcd: EtcdConfig{
			DialTimeout:    5 * time.Second,
			RequestTimeout: 5 * time.Second,
			Prefix:         "/conductor",
		},
		Notify: NotifyConfig{
			WebhookTimeout: 5 * time.Second,
			EventBuffer:    256,
		},
	}
}
