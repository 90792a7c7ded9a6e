// Package auth resolves API bearer tokens into scoped principals.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/zeebo/blake3"
)

// Scopes understood by the API. "rw" implies "ro" for the same resource.
const (
	ScopeAll         = "*"
	ScopeProcessesRO = "processes:ro"
	ScopeProcessesRW = "processes:rw"
	ScopeFeedsRW     = "feeds:rw"
	ScopeEventsRO    = "events:ro"
	ScopeRegistryRO  = "registry:ro"
)

var (
	ErrNoCredentials = errors.New("missing bearer token")
	ErrBadScheme     = errors.New("authorization scheme must be Bearer")
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Principal is an authenticated caller. ID is a short digest of the token,
// safe to log.
type Principal struct {
	ID     string
	Scopes map[string]struct{}
}

// Allows reports whether p holds any of required. No requirement always passes.
func (p Principal) Allows(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}

type keyEntry struct {
	digest [32]byte
	scopes map[string]struct{}
}

// Keyring holds token digests, never the tokens themselves.
type Keyring struct {
	keys []keyEntry
}

// NewKeyring builds a keyring. A non-empty adminKey authenticates with "*".
func NewKeyring(adminKey string, tokens []TokenConfig) *Keyring {
	k := &Keyring{}
	if adminKey != "" {
		k.keys = append(k.keys, keyEntry{digest: blake3.Sum256([]byte(adminKey)), scopes: expand([]string{ScopeAll})})
	}
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		k.keys = append(k.keys, keyEntry{digest: blake3.Sum256([]byte(t.Token)), scopes: expand(t.Scopes)})
	}
	return k
}

// Lookup compares the presented token against every key in constant time.
func (k *Keyring) Lookup(presented string) (Principal, bool) {
	if presented == "" {
		return Principal{}, false
	}
	d := blake3.Sum256([]byte(presented))
	match := -1
	for i := range k.keys {
		if subtle.ConstantTimeCompare(d[:], k.keys[i].digest[:]) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return Principal{}, false
	}
	return Principal{ID: hex.EncodeToString(d[:4]), Scopes: k.keys[match].scopes}, true
}

// Len is the number of configured keys.
func (k *Keyring) Len() int { return len(k.keys) }

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", ErrNoCredentials
	}
	scheme, token, _ := strings.Cut(h, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", ErrBadScheme
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoCredentials
	}
	return token, nil
}

func expand(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			out[s] = struct{}{}
		}
	}
	for s := range out {
		if resource, ok := strings.CutSuffix(s, ":rw"); ok {
			out[resource+":ro"] = struct{}{}
		}
	}
	return out
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
