// Package doctor lints a loaded conductor configuration. Load already rejects
// configs the dispatcher cannot start with; doctor adds the checks that only
// matter operationally.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/conductor/internal/auth"
	"github.com/mattjoyce/conductor/internal/config"
	"github.com/mattjoyce/conductor/internal/lock"
	"github.com/mattjoyce/conductor/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

var knownScopes = map[string]bool{
	auth.ScopeAll:         true,
	auth.ScopeProcessesRO: true,
	auth.ScopeProcessesRW: true,
	auth.ScopeFeedsRW:     true,
	auth.ScopeEventsRO:    true,
	auth.ScopeRegistryRO:  true,
}

// Doctor validates a configuration.
type Doctor struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateState(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.validateEtcd(r)
	d.validateEngines(r)
	d.validateNotify(r)
	d.validateTracing(r)
	d.warnRunningInstance(r)
	d.warnDeprecatedSyntax(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateState(r *Result) {
	if d.cfg.State.Path == "" {
		d.addError(r, "state", "state.path", "state.path is required")
	}
	if d.cfg.Service.LockPath == "" {
		d.addError(r, "state", "service.lock_path", "service.lock_path is required")
	} else if filepath.Clean(d.cfg.Service.LockPath) == filepath.Clean(d.cfg.State.Path) {
		d.addError(r, "state", "service.lock_path", "lock file and history database must be different files")
	}
	for _, f := range [][2]string{{"state.path", d.cfg.State.Path}, {"service.lock_path", d.cfg.Service.LockPath}} {
		if f[1] == "" || f[1] == storage.MemoryPath {
			continue
		}
		if err := storage.CheckLocal(f[1]); errors.Is(err, storage.ErrRemoteFilesystem) {
			d.addError(r, "state", f[0], err.Error())
		}
	}
	if d.cfg.State.HistoryRetention == 0 {
		d.addWarning(r, "state", "state.history_retention", "history retention is 0; the history database grows without bound")
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		if !d.cfg.Etcd.Enabled() {
			d.addError(r, "api", "api.enabled", "API disabled and no etcd endpoints: the dispatcher would receive no heartbeats")
		}
		return
	}
	if _, _, err := net.SplitHostPort(d.cfg.API.Listen); err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("api.listen %q is not host:port: %v", d.cfg.API.Listen, err))
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no tokens configured; every request will be rejected")
	}
}

func (d *Doctor) validateTokenScopes(r *Result) {
	seen := make(map[string]int)
	for i, token := range d.cfg.API.Auth.Tokens {
		if prev, ok := seen[token.Token]; ok && token.Token != "" {
			d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].token", i),
				fmt.Sprintf("token duplicates api.auth.tokens[%d]", prev))
		}
		seen[token.Token] = i

		for j, scope := range token.Scopes {
			if !knownScopes[strings.TrimSpace(scope)] {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
}

func (d *Doctor) validateEtcd(r *Result) {
	if !d.cfg.Etcd.Enabled() {
		d.addWarning(r, "etcd", "etcd.endpoints", "no etcd endpoints; heartbeats and node states arrive over the HTTP API only")
		return
	}
	for i, ep := range d.cfg.Etcd.Endpoints {
		host := ep
		if _, rest, ok := strings.Cut(ep, "://"); ok {
			host = rest
		}
		if _, _, err := net.SplitHostPort(host); err != nil {
			d.addError(r, "etcd", fmt.Sprintf("etcd.endpoints[%d]", i),
				fmt.Sprintf("endpoint %q is not host:port", ep))
		}
	}
	if d.cfg.Etcd.RequestTimeout <= 0 {
		d.addError(r, "etcd", "etcd.request_timeout", "request_timeout must be positive")
	}
}

func (d *Doctor) validateEngines(r *Result) {
	if len(d.cfg.Engines) == 0 {
		d.addWarning(r, "engines", "engines", "no deployable types registered; registry lookups will return not found")
		return
	}
	for i, e := range d.cfg.Engines {
		if len(e.ExecutionEngines) == 0 {
			d.addWarning(r, "engines", fmt.Sprintf("engines[%d].execution_engines", i),
				fmt.Sprintf("deployable type %q hosts no execution engines", e.DeployableType))
		}
	}
}

func (d *Doctor) validateNotify(r *Result) {
	if d.cfg.Notify.WebhookSecret == "" {
		d.addWarning(r, "notify", "notify.webhook_secret", "webhook deliveries to subscribers are unsigned")
	}
	if d.cfg.Notify.WebhookTimeout <= 0 {
		d.addError(r, "notify", "notify.webhook_timeout", "webhook_timeout must be positive")
	}
}

func (d *Doctor) validateTracing(r *Result) {
	if !d.cfg.Tracing.Enabled || d.cfg.Tracing.Output == "" {
		return
	}
	if _, err := os.Stat(filepath.Dir(d.cfg.Tracing.Output)); err != nil {
		d.addWarning(r, "tracing", "tracing.output", fmt.Sprintf("trace output directory is not accessible: %v", err))
	}
}

// warnRunningInstance flags a lock file still held by a live process.
func (d *Doctor) warnRunningInstance(r *Result) {
	path := d.cfg.Service.LockPath
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	l, err := lock.Acquire(path)
	if errors.Is(err, lock.ErrHeld) {
		d.addWarning(r, "state", "service.lock_path", fmt.Sprintf("a dispatcher instance is running: %v", err))
		return
	}
	if err == nil {
		_ = l.Release()
	}
}

// warnDeprecatedSyntax warns about legacy config patterns.
func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "deprecated", "api.auth.api_key",
			"api_key grants full access; migrate to tokens array with scopes")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
