package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/conductor/internal/auth"
	"github.com/mattjoyce/conductor/internal/events"
	"github.com/mattjoyce/conductor/internal/history"
	"github.com/mattjoyce/conductor/internal/pd"
	"github.com/mattjoyce/conductor/internal/registry"
)

// Dispatcher is the part of *pd.Core the API drives.
type Dispatcher interface {
	DispatchProcess(ctx context.Context, req pd.DispatchRequest) (*pd.Process, error)
	TerminateProcess(ctx context.Context, epid string) (*pd.Process, error)
	EEHeartbeat(ctx context.Context, sender string, beat pd.Heartbeat) error
	DTState(ctx context.Context, ns pd.NodeState) error
	Process(epid string) (*pd.Process, bool)
	Dump() pd.Dump
	QueueDepth() int
}

// HistoryReader lists recorded transitions. Optional.
type HistoryReader interface {
	List(ctx context.Context, epid string) ([]history.Entry, error)
}

// EngineRegistry answers deployable type / engine type lookups.
type EngineRegistry interface {
	ByEngineType(engineType string) (registry.Entry, bool)
	ByDeployableType(dt string) (registry.Entry, bool)
	All() []registry.Entry
}

// EventSource backs the SSE stream. Accepted feed messages are published
// back onto it.
type EventSource interface {
	Publish(eventType string, data any) events.Event
	Since(lastID int64) []events.Event
	Subscribe() (<-chan events.Event, func())
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is an admin bearer token with every scope.
	APIKey string
	Tokens []auth.TokenConfig
}

type Server struct {
	config    Config
	keys      *auth.Keyring
	core      Dispatcher
	history   HistoryReader
	registry  EngineRegistry
	events    EventSource
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

func New(config Config, core Dispatcher, hist HistoryReader, reg EngineRegistry, ev EventSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = registry.New()
	}
	if ev == nil {
		ev = events.NewHub(0)
	}
	return &Server{
		config:    config,
		keys:      auth.NewKeyring(config.APIKey, config.Tokens),
		core:      core,
		history:   hist,
		registry:  reg,
		events:    ev,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler; tests drive it with httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes(auth.ScopeProcessesRW)).Put("/processes/{epid}", s.handleDispatch)
		r.With(s.requireScopes(auth.ScopeProcessesRW)).Delete("/processes/{epid}", s.handleTerminate)
		r.With(s.requireScopes(auth.ScopeProcessesRO)).Get("/processes/{epid}", s.handleGetProcess)
		r.With(s.requireScopes(auth.ScopeProcessesRO)).Get("/dump", s.handleDump)

		r.With(s.requireScopes(auth.ScopeFeedsRW)).Post("/heartbeats", s.handleHeartbeat)
		r.With(s.requireScopes(auth.ScopeFeedsRW)).Post("/node-states", s.handleNodeState)

		r.With(s.requireScopes(auth.ScopeRegistryRO, auth.ScopeProcessesRO)).Get("/registry/engines/{engineType}", s.handleEngineLookup)
		r.With(s.requireScopes(auth.ScopeRegistryRO, auth.ScopeProcessesRO)).Get("/registry/deployable-types/{dt}", s.handleDeployableTypeLookup)
		r.With(s.requireScopes(auth.ScopeRegistryRO, auth.ScopeProcessesRO)).Get("/registry", s.handleRegistryList)

		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
