// Package notify delivers process state changes to subscribers.
package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/mattjoyce/conductor/internal/events"
	"github.com/mattjoyce/conductor/internal/pd"
)

// Publisher is the part of events.Hub the notifiers need.
type Publisher interface {
	Publish(eventType string, data any) events.Event
}

// HubNotifier publishes every transition on the in-process event hub.
type HubNotifier struct {
	hub Publisher
}

func NewHubNotifier(hub Publisher) *HubNotifier {
	return &HubNotifier{hub: hub}
}

// EventType is the hub event type for a process in state s.
func EventType(s pd.State) string {
	return events.ProcessPrefix + strings.ToLower(s.String())
}

func (n *HubNotifier) Notify(_ context.Context, p pd.Process) error {
	n.hub.Publish(EventType(p.State), Snapshot(p))
	return nil
}

// ProcessSnapshot is the payload sent to subscribers. The launch spec is left
// out; subscribers only learn where the process is.
type ProcessSnapshot struct {
	EPID        string   `json:"epid"`
	Round       int      `json:"round"`
	State       pd.State `json:"state"`
	Assigned    string   `json:"assigned,omitempty"`
	Subscribers []string `json:"subscribers,omitempty"`
}

func Snapshot(p pd.Process) ProcessSnapshot {
	return ProcessSnapshot{
		EPID:        p.EPID,
		Round:       p.Round,
		State:       p.State,
		Assigned:    p.Assigned,
		Subscribers: p.Subscribers,
	}
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []pd.Notifier

func (m Multi) Notify(ctx context.Context, p pd.Process) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
