package pd

// Dump returns a side-effect-free snapshot of every resource and process.
// It takes the core lock, so it never observes a half-applied operation.
func (c *Core) Dump() Dump {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := Dump{
		Resources: make(map[string]ResourceDump, len(c.resources)),
		Processes: make(map[string]ProcessDump, len(c.processes)),
		Queue:     c.queue.epids(),
	}

	for id, r := range c.resources {
		d.Resources[id] = ResourceDump{
			EEID:           r.EEID,
			NodeID:         r.NodeID,
			Processes:      append([]string{}, r.Processes...),
			SlotCount:      r.SlotCount,
			AvailableSlots: r.AvailableSlots(),
			Enabled:        r.Enabled,
			LastHeartbeat:  r.LastHeartbeat,
		}
	}
	for id, p := range c.processes {
		d.Processes[id] = ProcessDump{
			EPID:     p.EPID,
			Round:    p.Round,
			State:    p.State,
			Assigned: p.Assigned,
		}
	}
	return d
}

// Process returns a copy of one process.
func (c *Core) Process(epid string) (*Process, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.processes[epid]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// QueueDepth is the number of WAITING processes.
func (c *Core) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}
