package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/conductor/internal/events"
	"github.com/mattjoyce/conductor/internal/history"
	"github.com/mattjoyce/conductor/internal/pd"
	"github.com/mattjoyce/conductor/internal/protocol"
)

// maxBodyBytes caps request bodies; launch descriptors are small.
const maxBodyBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	dump := s.core.Dump()
	s.respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    len(dump.Queue),
		Processes:     len(dump.Processes),
		Resources:     len(dump.Resources),
	})
}

// handleDispatch handles PUT /processes/{epid}. Repeating the call with the
// same epid returns the existing process.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	epid := chi.URLParam(r, "epid")

	var req DispatchRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}

	p, err := s.core.DispatchProcess(r.Context(), pd.DispatchRequest{
		EPID:        epid,
		Spec:        req.Spec,
		Subscribers: req.Subscribers,
		Constraints: req.Constraints,
		Immediate:   req.Immediate,
		Priority:    req.Priority,
	})
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, processResponse(p))
}

// handleTerminate handles DELETE /processes/{epid}.
func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	epid := chi.URLParam(r, "epid")

	p, err := s.core.TerminateProcess(r.Context(), epid)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	if p == nil {
		s.writeError(w, http.StatusNotFound, "process not found")
		return
	}
	s.respondJSON(w, http.StatusAccepted, processResponse(p))
}

// handleGetProcess handles GET /processes/{epid}. History is attached when
// a history store is configured.
func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	epid := chi.URLParam(r, "epid")

	p, ok := s.core.Process(epid)
	if !ok {
		s.writeError(w, http.StatusNotFound, "process not found")
		return
	}
	resp := processResponse(p)

	if s.history != nil {
		entries, err := s.history.List(r.Context(), epid)
		switch {
		case err == nil:
			resp.History = entries
		case errors.Is(err, history.ErrNotFound):
		default:
			s.logger.Error("failed to read process history", "epid", epid, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to read process history")
			return
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleDump handles GET /dump.
func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.core.Dump())
}

// handleHeartbeat handles POST /heartbeats for agents that report over HTTP
// instead of through the bus.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	msg, err := protocol.DecodeHeartbeat(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.core.EEHeartbeat(r.Context(), msg.SenderID, msg.Heartbeat()); err != nil {
		s.writeCoreError(w, err)
		return
	}
	s.events.Publish(events.TypeHeartbeat, msg)
	s.respondJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted", QueueDepth: s.core.QueueDepth()})
}

// handleNodeState handles POST /node-states from the provisioner.
func (s *Server) handleNodeState(w http.ResponseWriter, r *http.Request) {
	msg, err := protocol.DecodeNodeState(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.core.DTState(r.Context(), msg.NodeState()); err != nil {
		s.writeCoreError(w, err)
		return
	}
	s.events.Publish(events.TypeNodeState, msg)
	s.respondJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted", QueueDepth: s.core.QueueDepth()})
}

// handleEngineLookup handles GET /registry/engines/{engineType}.
func (s *Server) handleEngineLookup(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.registry.ByEngineType(chi.URLParam(r, "engineType"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "engine type not registered")
		return
	}
	s.respondJSON(w, http.StatusOK, entry)
}

// handleDeployableTypeLookup handles GET /registry/deployable-types/{dt}.
func (s *Server) handleDeployableTypeLookup(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.registry.ByDeployableType(chi.URLParam(r, "dt"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "deployable type not registered")
		return
	}
	s.respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleRegistryList(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.registry.All())
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}

// writeCoreError maps dispatcher errors onto HTTP statuses.
func (s *Server) writeCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pd.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pd.ErrDispatchFailed):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("dispatcher call failed", "error", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
