package pd

// waitQueue is the FIFO of WAITING processes. Removal is a linear filter,
// which preserves the order of the remaining items.
type waitQueue struct {
	items []*Process
}

func (q *waitQueue) push(p *Process) bool {
	if q.contains(p.EPID) {
		return false
	}
	q.items = append(q.items, p)
	return true
}

func (q *waitQueue) contains(epid string) bool {
	for _, p := range q.items {
		if p.EPID == epid {
			return true
		}
	}
	return false
}

func (q *waitQueue) remove(epids map[string]struct{}) {
	if len(epids) == 0 {
		return
	}
	kept := q.items[:0]
	for _, p := range q.items {
		if _, drop := epids[p.EPID]; !drop {
			kept = append(kept, p)
		}
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
}

// snapshot returns the queued processes in order; the slice is owned by the caller.
func (q *waitQueue) snapshot() []*Process {
	return append([]*Process(nil), q.items...)
}

func (q *waitQueue) epids() []string {
	out := make([]string, len(q.items))
	for i, p := range q.items {
		out[i] = p.EPID
	}
	return out
}

func (q *waitQueue) len() int {
	return len(q.items)
}
