package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cartridge/experience/internal/middleware"
	"github.com/cartridge/experience/internal/service"
	"github.com/cartridge/experience/internal/snapshot"
	"github.com/cartridge/experience/internal/storage"
)

const maxRequestBody = 8 << 20 // flat float payloads get large

// Server wires HTTP handlers to the replay service.
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
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CorrelationID)
		r.Use(middleware.RequestLogger(s.logger))
		r.Post("/shards/{shardID}/transitions", s.handleExtend)
		r.Post("/sample", s.handleSample)
		r.Post("/feedback", s.handleFeedback)
		r.Get("/stats", s.handleStats)
		r.Get("/snapshots", s.handleListSnapshots)
		r.Post("/snapshots/save", s.handleSnapshotSave)
		r.Post("/snapshots/load", s.handleSnapshotLoad)
	})
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	shard, err := strconv.Atoi(chi.URLParam(r, "shardID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid shard id")
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		s.writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	var payload struct {
		States []float32 `json:"states"`
		Others []float32 `json:"others"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid transitions payload")
		return
	}
	result, err := s.svc.Extend(r.Context(), shard, payload.States, payload.Others)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload struct {
		BatchSize int `json:"batch_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid sample payload")
		return
	}
	result, err := s.svc.Sample(r.Context(), payload.BatchSize)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	var payload struct {
		Ticket  string    `json:"ticket"`
		SlotIDs []int     `json:"slot_ids"`
		Scores  []float32 `json:"scores"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid feedback payload")
		return
	}
	result, err := s.svc.Feedback(r.Context(), payload.Ticket, payload.SlotIDs, payload.Scores)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Stats(r.Context()))
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	names, err := s.svc.Snapshots(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"artifacts": names})
}

func (s *Server) handleSnapshotSave(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.SnapshotSave(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSnapshotLoad(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.SnapshotLoad(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrUnknownShard),
		errors.Is(err, service.ErrUnknownTicket),
		errors.Is(err, snapshot.ErrArtifactNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrCorruptArtifact):
		s.writeError(w, http.StatusInternalServerError, err.Error())
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
