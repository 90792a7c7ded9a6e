package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mattjoyce/conductor/internal/events"
	"github.com/mattjoyce/conductor/internal/pd"
	"github.com/mattjoyce/conductor/internal/protocol"
)

var _ pd.AgentClient = (*HubAgent)(nil)

// Publisher is the part of events.Hub HubAgent needs.
type Publisher interface {
	Publish(eventType string, data any) events.Event
}

// HubAgent delivers agent commands as "agent.<op>" events on the hub. It is
// used when no etcd bus is configured: agents follow GET /events, act on the
// commands addressed to their ee_id and report back via POST /heartbeats.
// Delivery is best effort; an agent that was not listening catches up from
// the hub backlog or not at all.
type HubAgent struct {
	hub    Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewHubAgent(hub Publisher, logger *slog.Logger) *HubAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &HubAgent{hub: hub, logger: logger.With("component", "bus"), now: time.Now}
}

func (h *HubAgent) Dispatch(ctx context.Context, eeID, epid string, round int, spec json.RawMessage) error {
	return h.send(&protocol.AgentCommand{Op: protocol.OpDispatch, EEID: eeID, EPID: epid, Round: round, Spec: spec})
}

func (h *HubAgent) Terminate(ctx context.Context, eeID, epid string, round int) error {
	return h.send(&protocol.AgentCommand{Op: protocol.OpTerminate, EEID: eeID, EPID: epid, Round: round})
}

func (h *HubAgent) Cleanup(ctx context.Context, eeID, epid string, round int) error {
	return h.send(&protocol.AgentCommand{Op: protocol.OpCleanup, EEID: eeID, EPID: epid, Round: round})
}

func (h *HubAgent) send(cmd *protocol.AgentCommand) error {
	cmd.Protocol = protocol.Version
	cmd.IssuedAt = h.now().UTC()
	var buf bytes.Buffer
	if err := protocol.EncodeCommand(&buf, cmd); err != nil {
		return err
	}
	ev := h.hub.Publish(events.AgentPrefix+cmd.Op, json.RawMessage(bytes.TrimSpace(buf.Bytes())))
	h.logger.Debug("agent command published", "op", cmd.Op, "ee_id", cmd.EEID, "epid", cmd.EPID, "round", cmd.Round, "event_id", ev.ID)
	return nil
}
