package pd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mattjoyce/conductor/internal/tracing"
)

func validateHeartbeat(sender string, beat Heartbeat) error {
	if sender == "" {
		return fmt.Errorf("%w: heartbeat sender is empty", ErrInvalidRequest)
	}
	if beat.NodeID == "" {
		return fmt.Errorf("%w: heartbeat node_id is empty", ErrInvalidRequest)
	}
	if beat.EngineType == "" {
		return fmt.Errorf("%w: heartbeat engine_type is empty", ErrInvalidRequest)
	}
	if beat.SlotCount < 0 {
		return fmt.Errorf("%w: heartbeat slot_count is negative (%d)", ErrInvalidRequest, beat.SlotCount)
	}
	for i, rep := range beat.Processes {
		if rep.EPID == "" {
			return fmt.Errorf("%w: heartbeat processes[%d] has empty epid", ErrInvalidRequest, i)
		}
		if rep.Round < 0 {
			return fmt.Errorf("%w: heartbeat processes[%d] has negative round", ErrInvalidRequest, i)
		}
		if !rep.State.Valid() {
			return fmt.Errorf("%w: heartbeat processes[%d] has unknown state %d", ErrInvalidRequest, i, int(rep.State))
		}
	}
	return nil
}

// EEHeartbeat reconciles the core against the current view reported by the
// execution engine sender.
//
// The first heartbeat from an unknown sender registers a resource on its node;
// if the node itself is not known yet the heartbeat is dropped. Reports for a
// round older than the process's current round are ignored. When the reported
// slot count grows, the waiting queue is drained onto the resource.
func (c *Core) EEHeartbeat(ctx context.Context, sender string, beat Heartbeat) (err error) {
	ctx, span := tracing.Start(ctx, "pd.EEHeartbeat", map[string]string{
		"ee_id":      sender,
		"node_id":    beat.NodeID,
		"slot_count": strconv.Itoa(beat.SlotCount),
	})
	defer func() { span.End(err) }()

	if err := validateHeartbeat(sender, beat); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	logger := c.logger.With("ee_id", sender, "node_id", beat.NodeID)

	r, ok := c.resources[sender]
	if !ok {
		node, ok := c.nodes[beat.NodeID]
		if !ok {
			logger.Warn("heartbeat from unknown node, still booting?")
			return nil
		}

		props := node.Properties.Clone()
		props[EngineTypeProperty] = beat.EngineType

		r = newResource(beat.NodeID, sender, props)
		c.resources[sender] = r
		node.Resources = append(node.Resources, r)
		logger.Info("first heartbeat from execution engine", "engine_type", beat.EngineType)
	}
	r.LastHeartbeat = time.Now().UTC()

	var errs []error
	running := make([]string, 0, len(beat.Processes))
	for _, rep := range beat.Processes {
		if rep.State <= StateRunning {
			running = append(running, rep.EPID)
		}
		if err := c.applyReport(ctx, r, rep); err != nil {
			errs = append(errs, err)
		}
	}
	r.Processes = running

	increased := beat.SlotCount > r.SlotCount
	r.SlotCount = beat.SlotCount
	if increased {
		if err := c.considerResource(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// applyReport applies one (epid, round, state) tuple from sender r.
func (c *Core) applyReport(ctx context.Context, r *Resource, rep ProcessReport) error {
	p, ok := c.processes[rep.EPID]
	if !ok {
		c.logger.Warn("execution engine reports unknown process", "ee_id", r.EEID, "epid", rep.EPID)
		return nil
	}

	if rep.Round < p.Round {
		return nil
	}

	delete(r.Pending, rep.EPID)

	if rep.State == p.State {
		return nil
	}

	switch {
	case p.State == StatePending && rep.State == StateRunning:
		c.transition(ctx, p, StateRunning)
		return nil

	case rep.State == StateTerminated || rep.State == StateFailed:
		// Cleanup for the dead round goes out before any redispatch so the
		// agent never sees them in the opposite order.
		if err := c.agent.Cleanup(ctx, r.EEID, rep.EPID, rep.Round); err != nil {
			c.logger.Warn("cleanup call failed", "epid", rep.EPID, "ee_id", r.EEID, "round", rep.Round, "error", err)
		}

		switch p.State {
		case StateTerminating:
			p.Assigned = ""
			c.transition(ctx, p, StateTerminated)
		case StatePending, StateRunning:
			p.Assigned = ""
			p.Round++
			c.logger.Info("process died, rescheduling", "epid", p.EPID, "ee_id", r.EEID, "round", p.Round)
			c.transition(ctx, p, StateDiedRequested)
			return c.matchmake(ctx, p)
		}
	}
	return nil
}
