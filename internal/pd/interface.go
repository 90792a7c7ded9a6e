package pd

import (
	"context"
	"encoding/json"
)

//go:generate mockgen -destination=mocks/mock_collaborators.go -package=mocks github.com/mattjoyce/conductor/internal/pd AgentClient,Notifier

// AgentClient reaches execution engine agents. Calls are fire-and-forget from
// the core's point of view; confirmation arrives later via heartbeat.
type AgentClient interface {
	Dispatch(ctx context.Context, eeID, epid string, round int, spec json.RawMessage) error
	Terminate(ctx context.Context, eeID, epid string, round int) error
	Cleanup(ctx context.Context, eeID, epid string, round int) error
}

// Notifier delivers process state changes to subscribers.
type Notifier interface {
	Notify(ctx context.Context, p Process) error
}
