package pd

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/conductor/internal/constraint"
)

// matchmake pairs p with an available resource, or queues or rejects it.
func (c *Core) matchmake(ctx context.Context, p *Process) error {
	var best *Resource
	for _, r := range c.sortedResources() {
		if r.AvailableSlots() <= 0 {
			continue
		}
		if !constraint.Match(p.Constraints, r.Properties) {
			continue
		}
		// Prefer the smallest resource so load compacts onto fewer nodes.
		if best == nil || r.SlotCount < best.SlotCount {
			best = r
		}
	}

	if best == nil {
		if p.Immediate {
			c.logger.Info("no available slots, rejected due to immediate flag", "epid", p.EPID)
			c.transition(ctx, p, StateRejected)
			return nil
		}
		c.logger.Info("no available slots, waiting in queue", "epid", p.EPID)
		c.queue.push(p)
		c.transition(ctx, p, StateWaiting)
		return nil
	}

	return c.dispatchMatched(ctx, p, best)
}

// dispatchMatched records the match and sends the dispatch call.
func (c *Core) dispatchMatched(ctx context.Context, p *Process, r *Resource) error {
	prevAssigned := p.Assigned
	p.Assigned = r.EEID
	if err := r.addPending(p); err != nil {
		p.Assigned = prevAssigned
		return fmt.Errorf("mark %s pending on %s: %w", p.EPID, r.EEID, err)
	}

	c.logger.Info("process assigned slot", "epid", p.EPID, "ee_id", r.EEID, "round", p.Round)
	c.transition(ctx, p, StatePending)

	if err := c.agent.Dispatch(ctx, r.EEID, p.EPID, p.Round, p.Spec); err != nil {
		c.logger.Error("dispatch call failed", "epid", p.EPID, "ee_id", r.EEID, "error", err)
		return fmt.Errorf("%w: %s on %s: %v", ErrDispatchFailed, p.EPID, r.EEID, err)
	}
	return nil
}

// considerResource drains the waiting queue onto r in FIFO order until r has
// no free slots. Dispatched processes leave the queue; the rest keep their order.
func (c *Core) considerResource(ctx context.Context, r *Resource) error {
	if !r.Enabled {
		return nil
	}

	matched := make(map[string]struct{})
	var errs []error
	for _, p := range c.queue.snapshot() {
		if r.AvailableSlots() <= 0 {
			break
		}
		if !constraint.Match(p.Constraints, r.Properties) {
			continue
		}
		if err := c.dispatchMatched(ctx, p, r); err != nil {
			if errors.Is(err, ErrDispatchFailed) {
				// The process is already PENDING on r; it must leave the queue.
				matched[p.EPID] = struct{}{}
			}
			errs = append(errs, err)
			continue
		}
		matched[p.EPID] = struct{}{}
	}
	c.queue.remove(matched)

	if len(matched) > 0 {
		c.logger.Info("drained waiting queue", "ee_id", r.EEID, "dispatched", len(matched), "remaining", c.queue.len())
	}
	return errors.Join(errs...)
}
