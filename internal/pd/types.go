package pd

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/conductor/internal/constraint"
)

// EngineTypeProperty is injected into every resource's properties so processes
// can constrain on the execution engine type.
const EngineTypeProperty = "engine_type"

var (
	// ErrInvalidRequest marks malformed caller input. Nothing is mutated.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrDispatchFailed marks a failed agent dispatch call during matchmaking.
	ErrDispatchFailed = errors.New("dispatch to execution engine failed")

	errNoSlot = errors.New("no slot available")
)

// Process is a single process request tracked by the core.
type Process struct {
	EPID        string                 `json:"epid"`
	Spec        json.RawMessage        `json:"spec,omitempty"`
	SpecDigest  string                 `json:"spec_digest,omitempty"`
	State       State                  `json:"state"`
	Subscribers []string               `json:"subscribers,omitempty"`
	Constraints constraint.Constraints `json:"constraints,omitempty"`
	Round       int                    `json:"round"`
	Priority    int                    `json:"priority"`
	Immediate   bool                   `json:"immediate"`
	Assigned    string                 `json:"assigned,omitempty"`
}

// clone returns a copy that callers may hold without racing the core.
// Spec, Subscribers and Constraints are never mutated after creation.
func (p *Process) clone() *Process {
	cp := *p
	return &cp
}

// DispatchRequest carries the arguments of DispatchProcess.
type DispatchRequest struct {
	EPID        string                 `json:"epid"`
	Spec        json.RawMessage        `json:"spec,omitempty"`
	Subscribers []string               `json:"subscribers,omitempty"`
	Constraints constraint.Constraints `json:"constraints,omitempty"`
	Immediate   bool                   `json:"immediate,omitempty"`
	Priority    int                    `json:"priority,omitempty"`
}

// DeployedNode is a provisioned node hosting execution engines.
type DeployedNode struct {
	NodeID         string
	DeployableType string
	Properties     constraint.Properties
	Resources      []*Resource
}

// Resource is one execution engine instance, identified by its heartbeat sender.
type Resource struct {
	EEID          string
	NodeID        string
	Properties    constraint.Properties
	SlotCount     int
	Processes     []string
	Pending       map[string]struct{}
	Enabled       bool
	LastHeartbeat time.Time
}

func newResource(nodeID, eeID string, properties constraint.Properties) *Resource {
	return &Resource{
		EEID:       eeID,
		NodeID:     nodeID,
		Properties: properties,
		Pending:    make(map[string]struct{}),
		Enabled:    true,
	}
}

// AvailableSlots is the number of further processes this resource can accept.
func (r *Resource) AvailableSlots() int {
	if !r.Enabled {
		return 0
	}
	return max(0, r.SlotCount-len(r.Pending))
}

// addPending marks p as dispatched but not yet confirmed by a heartbeat.
func (r *Resource) addPending(p *Process) error {
	if _, ok := r.Pending[p.EPID]; !ok && r.SlotCount <= 0 {
		return errNoSlot
	}
	if p.Assigned != r.EEID {
		return errors.New("process is not assigned to this resource")
	}
	r.Pending[p.EPID] = struct{}{}
	return nil
}

func (r *Resource) pendingEPIDs() []string {
	out := make([]string, 0, len(r.Pending))
	for epid := range r.Pending {
		out = append(out, epid)
	}
	sort.Strings(out)
	return out
}

// ProcessReport is one (epid, round, state) tuple from a heartbeat.
type ProcessReport struct {
	EPID  string `json:"epid"`
	Round int    `json:"round"`
	State State  `json:"state"`
}

// Heartbeat is the current view an execution engine agent has of itself.
type Heartbeat struct {
	NodeID     string          `json:"node_id"`
	EngineType string          `json:"engine_type"`
	Processes  []ProcessReport `json:"processes"`
	SlotCount  int             `json:"slot_count"`
}

// NodeState is a node lifecycle notification from the provisioning subsystem.
type NodeState struct {
	NodeID         string                `json:"node_id"`
	DeployableType string                `json:"deployable_type"`
	State          NodeLifecycle         `json:"state"`
	Properties     constraint.Properties `json:"properties,omitempty"`
}

// ResourceDump is the diagnostic projection of a resource.
type ResourceDump struct {
	EEID           string    `json:"ee_id"`
	NodeID         string    `json:"node_id"`
	Processes      []string  `json:"processes"`
	SlotCount      int       `json:"slot_count"`
	AvailableSlots int       `json:"available_slots"`
	Enabled        bool      `json:"enabled"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
}

// ProcessDump is the diagnostic projection of a process.
type ProcessDump struct {
	EPID     string `json:"epid"`
	Round    int    `json:"round"`
	State    State  `json:"state"`
	Assigned string `json:"assigned,omitempty"`
}

// Dump is a point-in-time snapshot of the core.
type Dump struct {
	Resources map[string]ResourceDump `json:"resources"`
	Processes map[string]ProcessDump  `json:"processes"`
	Queue     []string                `json:"queue"`
}

// SpecDigest returns the BLAKE3 digest of a launch descriptor, or "" when empty.
func SpecDigest(spec json.RawMessage) string {
	if len(spec) == 0 {
		return ""
	}
	sum := blake3.Sum256(spec)
	return hex.EncodeToString(sum[:])
}
