package pd

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mattjoyce/conductor/internal/tracing"
)

// DTState handles a node lifecycle notification.
//
// RUNNING registers a node the core has not seen before. TERMINATING and
// TERMINATED disable every resource on the node, then resolve each process it
// hosts: a TERMINATING process is confirmed TERMINATED, anything earlier is
// marked DIED_REQUESTED with a new round and matchmade again. The node and its
// resources are then forgotten. Other known lifecycle states are ignored;
// unknown ones are rejected.
func (c *Core) DTState(ctx context.Context, ns NodeState) (err error) {
	ctx, span := tracing.Start(ctx, "pd.DTState", map[string]string{
		"node_id": ns.NodeID,
		"state":   string(ns.State),
	})
	defer func() { span.End(err) }()

	if ns.NodeID == "" {
		return fmt.Errorf("%w: node_id is empty", ErrInvalidRequest)
	}
	if !ns.State.Valid() {
		return fmt.Errorf("%w: invalid node state %q", ErrInvalidRequest, ns.State)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	logger := c.logger.With("node_id", ns.NodeID, "state", string(ns.State))

	switch {
	case ns.State == NodeRunning:
		if _, ok := c.nodes[ns.NodeID]; ok {
			return nil
		}
		c.nodes[ns.NodeID] = &DeployedNode{
			NodeID:         ns.NodeID,
			DeployableType: ns.DeployableType,
			Properties:     ns.Properties.Clone(),
		}
		logger.Info("node running", "deployable_type", ns.DeployableType)
		return nil

	case ns.State.Gone():
		node, ok := c.nodes[ns.NodeID]
		if !ok {
			logger.Warn("node state for unknown node")
			return nil
		}
		return c.retireNode(ctx, node)

	default:
		logger.Debug("ignoring node state")
		return nil
	}
}

func (c *Core) retireNode(ctx context.Context, node *DeployedNode) error {
	// Disable everything first so rescheduling never lands on this node.
	for _, r := range node.Resources {
		r.Enabled = false
	}

	var errs []error
	for _, r := range node.Resources {
		for _, p := range c.hostedProcesses(r) {
			if err := c.evict(ctx, r, p); err != nil {
				errs = append(errs, err)
			}
		}
	}

	delete(c.nodes, node.NodeID)
	for _, r := range node.Resources {
		delete(c.resources, r.EEID)
	}
	c.logger.Info("node removed", "node_id", node.NodeID, "resources", len(node.Resources))
	return errors.Join(errs...)
}

// hostedProcesses lists the processes assigned to r: those last reported by
// heartbeat first, then any dispatched ones not yet reported, ordered by epid.
func (c *Core) hostedProcesses(r *Resource) []*Process {
	seen := make(map[string]struct{})
	var out []*Process
	add := func(epid string) {
		if _, dup := seen[epid]; dup {
			return
		}
		seen[epid] = struct{}{}
		if p, ok := c.processes[epid]; ok && p.Assigned == r.EEID {
			out = append(out, p)
		}
	}

	for _, epid := range r.Processes {
		add(epid)
	}
	for _, epid := range r.pendingEPIDs() {
		add(epid)
	}

	var rest []string
	for epid, p := range c.processes {
		if _, ok := seen[epid]; !ok && p.Assigned == r.EEID {
			rest = append(rest, epid)
		}
	}
	sort.Strings(rest)
	for _, epid := range rest {
		add(epid)
	}
	return out
}

// evict resolves a process whose resource is going away.
func (c *Core) evict(ctx context.Context, r *Resource, p *Process) error {
	if !p.State.Terminal() {
		if err := c.agent.Terminate(ctx, r.EEID, p.EPID, p.Round); err != nil {
			c.logger.Warn("best-effort terminate failed", "epid", p.EPID, "ee_id", r.EEID, "error", err)
		}
	}

	switch {
	case p.State == StateTerminating:
		p.Assigned = ""
		c.transition(ctx, p, StateTerminated)
		return nil

	case p.State < StateTerminating:
		p.Round++
		p.Assigned = ""
		c.logger.Info("process lost with its node, rescheduling", "epid", p.EPID, "ee_id", r.EEID, "round", p.Round)
		c.transition(ctx, p, StateDiedRequested)
		return c.matchmake(ctx, p)
	}
	return nil
}
