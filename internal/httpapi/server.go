// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/ctxlog"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/pipeline"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/protocol"
	"github.com/EDYSuperCore/ePrinty-sub000/internal/reduce"
)

// Server wires the orchestrator, the reducer store and the event hub
// into one HTTP handler.
type Server struct {
	orch    *pipeline.Orchestrator
	store   *reduce.Store
	hub     *Hub
	metrics http.Handler
}

// New creates a Server. metricsHandler may be nil, in which case the
// /metrics endpoint is not registered.
func New(orch *pipeline.Orchestrator, store *reduce.Store, hub *Hub, metricsHandler http.Handler) *Server {
	return &Server{
		orch:    orch,
		store:   store,
		hub:     hub,
		metrics: metricsHandler,
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/install", s.handleInstall)
		r.Get("/jobs", s.handleJobs)
		r.Get("/jobs/current", s.handleCurrentJob)
		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", s.handleJob)
			r.Post("/cancel", s.handleCancel)
			r.Post("/select", s.handleSelect)
			r.Get("/events", s.handleJobEvents)
		})
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	var req pipeline.InstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding install request: %w", err))
		return
	}

	receipt, err := s.orch.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidRequest) {
			writeJSON(w, http.StatusBadRequest, receipt)
			return
		}

		writeError(w, http.StatusInternalServerError, err)

		return
	}

	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Jobs())
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, ok := s.store.Job(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("job %s not found", jobID))
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCurrentJob(w http.ResponseWriter, _ *http.Request) {
	job, ok := s.store.Current()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no current job"))
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if _, ok := s.store.Job(jobID); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("job %s not found", jobID))
		return
	}

	s.store.Select(jobID)
	writeJSON(w, http.StatusOK, map[string]string{"current": jobID})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if err := s.orch.Cancel(jobID); err != nil {
		if errors.Is(err, pipeline.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}

		writeError(w, http.StatusInternalServerError, err)

		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID, "status": "canceling"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.streamEvents(w, r, "")
}

func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	s.streamEvents(w, r, chi.URLParam(r, "jobID"))
}

// streamEvents relays events over server-sent events until the client
// disconnects or the hub closes.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, jobID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := s.hub.Subscribe(jobID)
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}

			data, err := protocol.Encode(ev)
			if err != nil {
				ctxlog.Warn(r.Context(), "failed to encode event", "error", err)
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.StepID, data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
