// Package server wires HTTP handlers to the replay service.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/jasonhayes1987/rlagents/internal/her"
	"github.com/jasonhayes1987/rlagents/internal/monitor"
	"github.com/jasonhayes1987/rlagents/internal/replay"
	"github.com/jasonhayes1987/rlagents/internal/service"
)

const maxRequestBody = 8 * 1024 * 1024

// Server exposes the replay service over HTTP.
type Server struct {
	svc    *service.Replay
	logger zerolog.Logger
}

// NewServer constructs a Server instance.
func NewServer(svc *service.Replay, logger zerolog.Logger) *Server {
	return &Server{svc: svc, logger: logger}
}

// Routes builds the HTTP router for the replay service.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(s.logger))
	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/transitions", s.handleAdd)
		r.Post("/trajectories", s.handleTrajectory)
		r.Post("/sample", s.handleSample)
		r.Post("/priorities", s.handlePriorities)
		r.Post("/beta", s.handleBeta)
		r.Post("/reset", s.handleReset)
		r.Get("/stats", s.handleStats)
		r.Get("/config", s.handleConfig)
		r.Get("/watch", monitor.StatsStream(func() any { return s.svc.Stats() }, s.logger))
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "run_id": s.svc.RunID()})
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var payload replay.Transitions
	if !s.decode(w, r, &payload) {
		return
	}
	if err := s.svc.Add(payload); err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]int{"stored": payload.Len()})
}

// TrajectoryRequest is one finished episode for hindsight relabeling.
type TrajectoryRequest struct {
	States       [][]float64 `json:"states"`
	Actions      [][]float64 `json:"actions"`
	Rewards      []float64   `json:"rewards,omitempty"`
	NextStates   [][]float64 `json:"next_states"`
	Dones        []bool      `json:"dones"`
	Achieved     [][]float64 `json:"achieved_goals"`
	NextAchieved [][]float64 `json:"next_achieved_goals"`
	Desired      [][]float64 `json:"desired_goals"`
}

func (s *Server) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	var payload TrajectoryRequest
	if !s.decode(w, r, &payload) {
		return
	}
	tolCount, err := s.svc.StoreTrajectory(her.Trajectory{
		States:       payload.States,
		Actions:      payload.Actions,
		Rewards:      payload.Rewards,
		NextStates:   payload.NextStates,
		Dones:        payload.Dones,
		Achieved:     payload.Achieved,
		NextAchieved: payload.NextAchieved,
		Desired:      payload.Desired,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]int{"within_tolerance": tolCount})
}

// SampleRequest asks for a training batch.
type SampleRequest struct {
	BatchSize int `json:"batch_size"`
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	var payload SampleRequest
	if !s.decode(w, r, &payload) {
		return
	}
	batch, err := s.svc.Sample(payload.BatchSize)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, batch)
}

// PrioritiesRequest feeds updated TD errors back for sampled indices.
type PrioritiesRequest struct {
	Indices    []int     `json:"indices"`
	Priorities []float64 `json:"priorities"`
}

func (s *Server) handlePriorities(w http.ResponseWriter, r *http.Request) {
	var payload PrioritiesRequest
	if !s.decode(w, r, &payload) {
		return
	}
	if len(payload.Indices) != len(payload.Priorities) {
		s.writeError(w, http.StatusBadRequest, "indices and priorities must have same length")
		return
	}
	if err := s.svc.UpdatePriorities(payload.Indices, payload.Priorities); err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"updated": len(payload.Indices)})
}

// BetaRequest advances the importance-sampling anneal schedule.
type BetaRequest struct {
	Iter int `json:"iter"`
}

func (s *Server) handleBeta(w http.ResponseWriter, r *http.Request) {
	var payload BetaRequest
	if !s.decode(w, r, &payload) {
		return
	}
	s.svc.UpdateBeta(payload.Iter)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.svc.Reset()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Stats())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Config())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		s.writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, replay.ErrEmptyBuffer):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, replay.ErrMissingGoals), errors.Is(err, service.ErrNoRelay):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}
