// Package server exposes the engine over HTTP: trigger a run, inspect run
// history, and release a held pipeline lock.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/app"
	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/domain"
)

// Server routes HTTP requests to the engine and the run store.
type Server struct {
	engine   *app.Engine
	store    app.RunStore
	pipeline *domain.Pipeline
	log      *slog.Logger
}

// New creates a server for a single loaded pipeline declaration.
func New(engine *app.Engine, store app.RunStore, pipeline *domain.Pipeline, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: engine, store: store, pipeline: pipeline, log: log}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Post("/pipelines/{name}/runs", s.handleTrigger)
	r.Post("/pipelines/{name}/unlock", s.handleUnlock)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// triggerRequest is the POST body for a trigger. Approvals name the manual
// gates the caller approves; revisions pre-resolve materials.
type triggerRequest struct {
	Approve   []string                   `json:"approve,omitempty"`
	Revisions map[string]domain.Revision `json:"revisions,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.pipeline == nil || s.pipeline.Name != name {
		writeError(w, http.StatusNotFound, domain.NewNotFoundError("pipeline", name))
		return
	}

	var req triggerRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	run, err := s.engine.Trigger(r.Context(), s.pipeline, app.TriggerOptions{
		ApprovedStages: req.Approve,
		Revisions:      req.Revisions,
	})
	if err != nil {
		if domain.IsValidation(err) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		// The run record, if any, carries the failure detail.
		if run != nil {
			writeJSON(w, http.StatusBadGateway, run)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.pipeline == nil || s.pipeline.Name != name {
		writeError(w, http.StatusNotFound, domain.NewNotFoundError("pipeline", name))
		return
	}
	s.engine.Unlock(name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		limit = parsed
	}

	runs, err := s.store.ListRuns(r.Context(), r.URL.Query().Get("pipeline"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []*domain.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if domain.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Nothing useful to do with a failed response write
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
