package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattjoyce/conductor/internal/pd"
)

// EncodeCommand validates cmd and writes it to w as a single JSON line.
func EncodeCommand(w io.Writer, cmd *AgentCommand) error {
	if cmd.Protocol != Version {
		return fmt.Errorf("unsupported protocol version: %d", cmd.Protocol)
	}
	if err := validateCommand(cmd); err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(cmd); err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}
	return nil
}

// DecodeCommand reads an AgentCommand strictly; agents use it to parse what
// the dispatcher wrote.
func DecodeCommand(r io.Reader) (*AgentCommand, error) {
	var cmd AgentCommand
	if err := decodeStrict(r, &cmd); err != nil {
		return nil, fmt.Errorf("failed to decode command: %w", err)
	}
	if cmd.Protocol != Version {
		return nil, fmt.Errorf("unsupported protocol version: %d", cmd.Protocol)
	}
	if err := validateCommand(&cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

func validateCommand(cmd *AgentCommand) error {
	switch cmd.Op {
	case OpDispatch, OpTerminate, OpCleanup:
	case "":
		return fmt.Errorf("command missing required field: op")
	default:
		return fmt.Errorf("invalid op value: %q (must be dispatch, terminate or cleanup)", cmd.Op)
	}
	if cmd.EEID == "" {
		return fmt.Errorf("command missing required field: ee_id")
	}
	if cmd.EPID == "" {
		return fmt.Errorf("command missing required field: epid")
	}
	if cmd.Round < 0 {
		return fmt.Errorf("command round is negative: %d", cmd.Round)
	}
	return nil
}

// heartbeatWire mirrors HeartbeatMessage with pointers where an absent field
// must be told apart from its zero value.
type heartbeatWire struct {
	SenderID   string        `json:"sender_id"`
	NodeID     string        `json:"node_id"`
	EngineType string        `json:"engine_type"`
	Processes  *[]reportWire `json:"processes"`
	SlotCount  *int          `json:"slot_count"`
	Timestamp  time.Time     `json:"timestamp,omitempty"`
}

type reportWire struct {
	EPID  string    `json:"epid"`
	Round *int      `json:"round"`
	State *pd.State `json:"state"`
}

// DecodeHeartbeat reads a HeartbeatMessage strictly. Every field except
// timestamp is required; processes may be an empty list but not absent.
func DecodeHeartbeat(r io.Reader) (*HeartbeatMessage, error) {
	var wire heartbeatWire
	if err := decodeStrict(r, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode heartbeat: %w", err)
	}
	if wire.SenderID == "" {
		return nil, fmt.Errorf("heartbeat missing required field: sender_id")
	}
	if wire.NodeID == "" {
		return nil, fmt.Errorf("heartbeat missing required field: node_id")
	}
	if wire.EngineType == "" {
		return nil, fmt.Errorf("heartbeat missing required field: engine_type")
	}
	if wire.SlotCount == nil {
		return nil, fmt.Errorf("heartbeat missing required field: slot_count")
	}
	if *wire.SlotCount < 0 {
		return nil, fmt.Errorf("heartbeat slot_count is negative: %d", *wire.SlotCount)
	}
	if wire.Processes == nil {
		return nil, fmt.Errorf("heartbeat missing required field: processes")
	}

	msg := &HeartbeatMessage{
		SenderID:   wire.SenderID,
		NodeID:     wire.NodeID,
		EngineType: wire.EngineType,
		Processes:  make([]pd.ProcessReport, 0, len(*wire.Processes)),
		SlotCount:  *wire.SlotCount,
		Timestamp:  wire.Timestamp,
	}
	for i, p := range *wire.Processes {
		if p.EPID == "" {
			return nil, fmt.Errorf("heartbeat processes[%d] missing required field: epid", i)
		}
		if p.Round == nil {
			return nil, fmt.Errorf("heartbeat processes[%d] missing required field: round", i)
		}
		if *p.Round < 0 {
			return nil, fmt.Errorf("heartbeat processes[%d] round is negative: %d", i, *p.Round)
		}
		if p.State == nil || !p.State.Valid() {
			return nil, fmt.Errorf("heartbeat processes[%d] missing required field: state", i)
		}
		msg.Processes = append(msg.Processes, pd.ProcessReport{EPID: p.EPID, Round: *p.Round, State: *p.State})
	}
	return msg, nil
}

// DecodeNodeState reads a NodeStateMessage strictly. State names are
// normalised to upper case.
func DecodeNodeState(r io.Reader) (*NodeStateMessage, error) {
	var msg NodeStateMessage
	if err := decodeStrict(r, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode node state: %w", err)
	}
	if msg.NodeID == "" {
		return nil, fmt.Errorf("node state missing required field: node_id")
	}
	msg.State = pd.NodeLifecycle(strings.ToUpper(strings.TrimSpace(string(msg.State))))
	if !msg.State.Valid() {
		return nil, fmt.Errorf("invalid node state value: %q", msg.State)
	}
	return &msg, nil
}

func decodeStrict(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
