package pd

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mattjoyce/conductor/internal/constraint"
	"github.com/mattjoyce/conductor/internal/tracing"
)

// Core owns every process, resource and node the dispatcher knows about.
type Core struct {
	agent    AgentClient
	notifier Notifier
	logger   *slog.Logger

	mu        sync.Mutex
	processes map[string]*Process
	resources map[string]*Resource
	nodes     map[string]*DeployedNode
	queue     waitQueue
}

// New creates a Core. The logger is tagged with component=pd.
func New(agent AgentClient, notifier Notifier, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	return &Core{
		agent:     agent,
		notifier:  notifier,
		logger:    logger.With("component", "pd"),
		processes: make(map[string]*Process),
		resources: make(map[string]*Resource),
		nodes:     make(map[string]*DeployedNode),
	}
}

// DispatchProcess registers a new process and matchmakes it immediately.
//
// The returned process is PENDING when a resource was found, REJECTED when none
// was found and req.Immediate is set, and WAITING otherwise. A request for an
// epid the core already knows returns the current process unchanged and sends
// nothing, so callers may retry safely after a timeout.
func (c *Core) DispatchProcess(ctx context.Context, req DispatchRequest) (_ *Process, err error) {
	ctx, span := tracing.Start(ctx, "pd.DispatchProcess", map[string]string{"epid": req.EPID})
	defer func() { span.End(err) }()

	if req.EPID == "" {
		return nil, fmt.Errorf("%w: epid is empty", ErrInvalidRequest)
	}
	if err := constraint.Validate(req.Constraints); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	logger := c.logger.With("epid", req.EPID)

	if existing, ok := c.processes[req.EPID]; ok {
		if digest := SpecDigest(req.Spec); digest != existing.SpecDigest {
			logger.Warn("dispatch retry with a different spec, keeping original",
				"spec_digest", existing.SpecDigest, "retry_spec_digest", digest)
		}
		logger.Debug("dispatch retry, returning current process", "state", existing.State)
		return existing.clone(), nil
	}

	p := &Process{
		EPID:        req.EPID,
		Spec:        req.Spec,
		SpecDigest:  SpecDigest(req.Spec),
		State:       StateRequested,
		Subscribers: append([]string(nil), req.Subscribers...),
		Constraints: req.Constraints,
		Priority:    req.Priority,
		Immediate:   req.Immediate,
	}
	c.processes[p.EPID] = p

	// dispatchMatched has already logged a failed dispatch call.
	err = c.matchmake(ctx, p)
	span.SetAttribute("state", p.State.String())
	if p.Assigned != "" {
		span.SetAttribute("ee_id", p.Assigned)
	}
	return p.clone(), err
}

// TerminateProcess begins termination of a process.
//
// An assigned, non-terminal process receives a terminate call and moves to
// TERMINATING; confirmation arrives by heartbeat. An unassigned process moves
// straight to TERMINATED. Terminal and already-terminating processes are
// returned unchanged. An unknown epid is logged and (nil, nil) is returned.
func (c *Core) TerminateProcess(ctx context.Context, epid string) (_ *Process, err error) {
	ctx, span := tracing.Start(ctx, "pd.TerminateProcess", map[string]string{"epid": epid})
	defer func() { span.End(err) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	logger := c.logger.With("epid", epid)

	p, ok := c.processes[epid]
	if !ok {
		logger.Warn("terminate requested for unknown process")
		return nil, nil
	}

	if p.State.Terminal() || p.State == StateTerminating {
		return p.clone(), nil
	}

	if p.Assigned == "" {
		c.queue.remove(map[string]struct{}{epid: {}})
		c.transition(ctx, p, StateTerminated)
		logger.Info("unassigned process terminated")
		return p.clone(), nil
	}

	if err := c.agent.Terminate(ctx, p.Assigned, epid, p.Round); err != nil {
		logger.Error("terminate call failed", "ee_id", p.Assigned, "error", err)
		return p.clone(), fmt.Errorf("terminate %s on %s: %w", epid, p.Assigned, err)
	}

	c.transition(ctx, p, StateTerminating)
	logger.Info("process terminating", "ee_id", p.Assigned)
	return p.clone(), nil
}

// transition sets the state and notifies subscribers. Notification failures
// are logged; they never roll back the transition.
func (c *Core) transition(ctx context.Context, p *Process, to State) {
	p.State = to
	c.notify(ctx, p)
}

func (c *Core) notify(ctx context.Context, p *Process) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, *p.clone()); err != nil {
		c.logger.Warn("notify failed", "epid", p.EPID, "state", p.State.String(), "error", err)
	}
}

// sortedResources returns resources ordered by ee_id so matchmaking is deterministic.
func (c *Core) sortedResources() []*Resource {
	out := make([]*Resource, 0, len(c.resources))
	for _, r := range c.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EEID < out[j].EEID })
	return out
}
