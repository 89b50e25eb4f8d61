// Package api exposes the HTTP interface for the crawl service.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pagelens/webinsight/internal/crawler"
	"github.com/pagelens/webinsight/internal/dispatcher"
	"github.com/pagelens/webinsight/internal/telemetry"
)

// Server wires HTTP handlers to the dispatcher and target store.
type Server struct {
	router     chi.Router
	store      crawler.TargetStore
	dispatcher *dispatcher.Dispatcher
	idGen      crawler.IDGenerator
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store crawler.TargetStore,
	dispatch *dispatcher.Dispatcher,
	idGen crawler.IDGenerator,
	logger *zap.Logger,
	timeout time.Duration,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:      store,
		dispatcher: dispatch,
		idGen:      idGen,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(telemetry.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/targets", func(r chi.Router) {
			r.Post("/", s.createTarget)
			r.Get("/", s.listTargets)
			r.Route("/{target_id}", func(r chi.Router) {
				r.Get("/", s.getTarget)
				r.Delete("/", s.deleteTarget)
				r.Post("/crawl", s.startCrawl)
			})
		})
		r.Post("/crawl/bulk", s.startBulkCrawl)
		r.Get("/queue/status", s.queueStatus)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.dispatcher.Status().Running {
		s.writeError(w, http.StatusServiceUnavailable, "dispatcher is not running")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func mapStoreError(err error) (int, string) {
	switch {
	case errors.Is(err, crawler.ErrTargetNotFound):
		return http.StatusNotFound, "target not found"
	case errors.Is(err, crawler.ErrDuplicateTarget):
		return http.StatusConflict, "target URL already exists"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
