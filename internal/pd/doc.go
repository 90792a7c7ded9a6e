// Package pd is the process dispatcher core.
//
// The core accepts dispatch and terminate requests, keeps a FIFO queue of
// WAITING processes, matchmakes processes against execution engine resources,
// and reconciles its view of the world against heartbeats from remote
// execution engine agents and node lifecycle notifications.
//
// Key features:
//   - Idempotent DispatchProcess/TerminateProcess keyed by epid
//   - Constraint matching with a compaction heuristic (smallest slot_count wins)
//   - Queue drain in FIFO order when a resource reports new slots
//   - Round counters so stale heartbeat reports are ignored after a redeploy
//   - Disable-then-reschedule of every process hosted on a dying node
//
// Concurrency:
//   - Every public operation runs under one mutex, including the calls into
//     the AgentClient and Notifier collaborators
//   - State is advanced before each collaborator call, so a retried request
//     always observes the already-advanced process
//
// Error handling:
//   - Unknown node, resource or process → logged, operation is a no-op
//   - Stale heartbeat round → silently ignored
//   - Malformed requests → ErrInvalidRequest, nothing mutated
//   - Agent dispatch failure → ErrDispatchFailed returned to the caller, whose
//     retry is the recovery path
//
// The core keeps state in memory only. Durable history lives behind the
// Notifier interface.
package pd
