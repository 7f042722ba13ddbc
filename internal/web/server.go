// Package web serves the HTTP API: submit and inspect runs, health, and
// prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgelabs/agentforge/internal/db"
	"github.com/forgelabs/agentforge/internal/run"
	"github.com/forgelabs/agentforge/internal/state"
)

// Server exposes the run manager over HTTP.
type Server struct {
	manager  *run.Manager
	db       *db.DB
	registry *prometheus.Registry
	port     int
}

// NewServer creates a Server. The registry should be the one the manager's
// PromMetrics were registered on; db may be nil when auditing is disabled.
func NewServer(manager *run.Manager, database *db.DB, registry *prometheus.Registry, port int) *Server {
	return &Server{manager: manager, db: database, registry: registry, port: port}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/runs", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", s.handleStatus)
			r.Get("/final", s.handleFinal)
			r.Post("/cancel", s.handleCancel)
			r.Post("/resume", s.handleResume)
			r.Get("/events", s.handleEvents)
		})
	})
	return r
}

// ListenAndServe runs the server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var in state.Inputs
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	runID, err := s.manager.Submit(in)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.manager.List()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.manager.Status(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleFinal(w http.ResponseWriter, r *http.Request) {
	final, err := s.manager.Final(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, final)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.manager.Cancel(runID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "canceling"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.manager.Resume(runID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "resumed"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusNotFound, errors.New("audit database disabled"))
		return
	}
	runID := chi.URLParam(r, "runID")

	events, err := s.db.RunEvents(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	stages, err := s.db.StageInvocations(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	gates, err := s.db.GateIterations(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"events": events,
		"stages": stages,
		"gates":  gates,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, run.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, run.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
