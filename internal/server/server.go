// Package server is the thin HTTP adapter over the optimization hub. The
// engine itself is usable as a library; this package only translates
// submit/poll/cancel/stats between JSON and hub calls.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quantadev/optimhub/internal/hub"
	"github.com/quantadev/optimhub/internal/optimization"
)

// Server holds the HTTP handlers for the optimization API.
type Server struct {
	log *zap.Logger
	hub *hub.Hub
}

func New(log *zap.Logger, h *hub.Hub) *Server {
	return &Server{log: log, hub: h}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tasks", s.handleSubmit)
		r.Get("/tasks/{id}", s.handlePoll)
		r.Delete("/tasks/{id}", s.handleCancel)
		r.Get("/stats", s.handleStats)
	})
}

type submitRequest struct {
	Problem   optimization.Problem `json:"problem"`
	Algorithm string               `json:"algorithm"`
	Priority  string               `json:"priority"`
}

type submitResponse struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	algorithm, ok := optimization.ParseAlgorithm(req.Algorithm)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "unknown algorithm: "+req.Algorithm)
		return
	}

	taskID, err := s.hub.Submit(&req.Problem, algorithm, optimization.ParsePriority(req.Priority))
	if err != nil {
		s.respondError(w, submitStatus(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, submitResponse{TaskID: taskID, Status: string(optimization.StatusQueued)})
}

func submitStatus(err error) int {
	switch optimization.KindOf(err) {
	case optimization.KindQueueFull, optimization.KindShutdown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	res, status := s.hub.Poll(taskID)
	switch status {
	case optimization.StatusCompleted:
		s.respondJSON(w, http.StatusOK, res)
	case optimization.StatusNotFound:
		s.respondError(w, http.StatusNotFound, "task not found")
	default:
		s.respondJSON(w, http.StatusOK, map[string]string{
			"taskId": taskID,
			"status": "pending",
		})
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if !s.hub.Cancel(taskID) {
		s.respondError(w, http.StatusConflict, "task is not queued")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"taskId": taskID,
		"status": "cancelled",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.hub.Stats())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		s.log.Error("response encode failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
