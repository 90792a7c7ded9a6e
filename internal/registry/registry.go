package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Entry maps one deployable type to the execution engine types it can host.
type Entry struct {
	DeployableType   string   `json:"deployable_type" yaml:"deployable_type"`
	ExecutionEngines []string `json:"execution_engines" yaml:"execution_engines"`
}

// Registry is an in-memory lookup between deployable types and engine types.
// Entries are immutable once added.
type Registry struct {
	mu   sync.RWMutex
	byDT map[string]Entry
	byEE map[string]Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byDT: make(map[string]Entry),
		byEE: make(map[string]Entry),
	}
}

// FromEntries builds a registry from configured entries.
func FromEntries(entries []Entry) (*Registry, error) {
	r := New()
	for i, e := range entries {
		if err := r.AddEntry(e); err != nil {
			return nil, fmt.Errorf("engines[%d]: %w", i, err)
		}
	}
	return r, nil
}

// AddEntry registers an entry. A later entry for the same deployable type or
// engine type replaces the earlier mapping.
func (r *Registry) AddEntry(e Entry) error {
	if e.DeployableType == "" {
		return fmt.Errorf("deployable_type is empty")
	}

	entry := Entry{
		DeployableType:   e.DeployableType,
		ExecutionEngines: append([]string(nil), e.ExecutionEngines...),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDT[entry.DeployableType] = entry
	for _, ee := range entry.ExecutionEngines {
		r.byEE[ee] = entry
	}
	return nil
}

// ByEngineType returns the entry hosting the given engine type.
func (r *Registry) ByEngineType(engineType string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byEE[engineType]
	return e, ok
}

// ByDeployableType returns the entry for the given deployable type.
func (r *Registry) ByDeployableType(dt string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byDT[dt]
	return e, ok
}

// All returns every entry sorted by deployable type.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.byDT))
	for _, e := range r.byDT {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeployableType < out[j].DeployableType })
	return out
}
