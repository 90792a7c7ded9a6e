package api

import (
	"encoding/json"

	"github.com/mattjoyce/conductor/internal/constraint"
	"github.com/mattjoyce/conductor/internal/history"
	"github.com/mattjoyce/conductor/internal/pd"
)

// DispatchRequest is the JSON body for PUT /processes/{epid}.
type DispatchRequest struct {
	Spec        json.RawMessage        `json:"spec,omitempty"`
	Subscribers []string               `json:"subscribers,omitempty"`
	Constraints constraint.Constraints `json:"constraints,omitempty"`
	Immediate   bool                   `json:"immediate,omitempty"`
	Priority    int                    `json:"priority,omitempty"`
}

// ProcessResponse is returned by the /processes endpoints.
type ProcessResponse struct {
	EPID        string                 `json:"epid"`
	State       pd.State               `json:"state"`
	Round       int                    `json:"round"`
	Assigned    string                 `json:"assigned,omitempty"`
	Immediate   bool                   `json:"immediate"`
	Priority    int                    `json:"priority"`
	SpecDigest  string                 `json:"spec_digest,omitempty"`
	Subscribers []string               `json:"subscribers,omitempty"`
	Constraints constraint.Constraints `json:"constraints,omitempty"`
	History     []history.Entry        `json:"history,omitempty"`
}

func processResponse(p *pd.Process) ProcessResponse {
	return ProcessResponse{
		EPID:        p.EPID,
		State:       p.State,
		Round:       p.Round,
		Assigned:    p.Assigned,
		Immediate:   p.Immediate,
		Priority:    p.Priority,
		SpecDigest:  p.SpecDigest,
		Subscribers: p.Subscribers,
		Constraints: p.Constraints,
	}
}

// AcceptedResponse acknowledges a heartbeat or node state feed.
type AcceptedResponse struct {
	Status     string `json:"status"`
	QueueDepth int    `json:"queue_depth"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	Processes     int    `json:"processes"`
	Resources     int    `json:"resources"`
}
