// Package protocol defines the JSON messages exchanged with execution engine
// agents and the provisioner: heartbeats and node states flowing in, agent
// commands flowing out.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/mattjoyce/conductor/internal/constraint"
	"github.com/mattjoyce/conductor/internal/pd"
)

// Version is the wire protocol version stamped on every agent command.
const Version = 1

// Agent command operations.
const (
	OpDispatch  = "dispatch"
	OpTerminate = "terminate"
	OpCleanup   = "cleanup"
)

// HeartbeatMessage is published by an execution engine agent.
type HeartbeatMessage struct {
	SenderID   string             `json:"sender_id"`
	NodeID     string             `json:"node_id"`
	EngineType string             `json:"engine_type"`
	Processes  []pd.ProcessReport `json:"processes"`
	SlotCount  int                `json:"slot_count"`
	Timestamp  time.Time          `json:"timestamp,omitempty"`
}

// Heartbeat converts the message into the form the dispatcher core consumes.
func (m *HeartbeatMessage) Heartbeat() pd.Heartbeat {
	return pd.Heartbeat{
		NodeID:     m.NodeID,
		EngineType: m.EngineType,
		Processes:  m.Processes,
		SlotCount:  m.SlotCount,
	}
}

// NodeStateMessage is published by the provisioner when a node changes state.
type NodeStateMessage struct {
	NodeID         string                `json:"node_id"`
	DeployableType string                `json:"deployable_type"`
	State          pd.NodeLifecycle      `json:"state"`
	Properties     constraint.Properties `json:"properties,omitempty"`
}

func (m *NodeStateMessage) NodeState() pd.NodeState {
	return pd.NodeState{
		NodeID:         m.NodeID,
		DeployableType: m.DeployableType,
		State:          m.State,
		Properties:     m.Properties,
	}
}

// AgentCommand is an instruction for one execution engine agent.
type AgentCommand struct {
	Protocol int             `json:"protocol"`
	Op       string          `json:"op"` // dispatch | terminate | cleanup
	EEID     string          `json:"ee_id"`
	EPID     string          `json:"epid"`
	Round    int             `json:"round"`
	Spec     json.RawMessage `json:"spec,omitempty"` // dispatch only
	IssuedAt time.Time       `json:"issued_at"`
}
