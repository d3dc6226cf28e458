package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/texsync/internal/bridge"
	"github.com/dgallion1/texsync/internal/config"
	"github.com/dgallion1/texsync/internal/pipeline"
	"github.com/dgallion1/texsync/internal/transport"
)

// Server is the HTTP API server for texsync.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	adapter      *transport.Adapter
	host         *bridge.Host
	stats        *pipeline.LatencyStats
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, adapter *transport.Adapter, stats *pipeline.LatencyStats, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		adapter:      adapter,
		host:         bridge.NewHost(adapter, nil, true, log.With("component", "bridge")),
		stats:        stats,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/compile", s.handleCompile)
		r.Post("/api/results", s.handleResults)
		r.Get("/api/jobs/{jobID}", s.handleJobStatus)

		r.Post("/api/sync/reverse", s.handleReverse)
		r.Get("/api/sync/forward", s.handleForward)
		r.Get("/api/sync/index", s.handleIndex)
		r.Get("/api/sync/ws", s.handleWebSocket)

		r.Get("/api/stats/decode", s.handleDecodeStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
