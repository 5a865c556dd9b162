package api

import (
	"errors"
	"net/http"

	"media_syncer/internal/domain"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Database: err.Error()}, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Database: "ok"}, s.logger)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.syncs.Status(r.Context())
	if err != nil {
		s.logger.Error("failed to read sync status", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read sync status", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, state, s.logger)
}

func (s *Server) handleSyncStart(w http.ResponseWriter, _ *http.Request) {
	state, err := s.syncs.StartAsync(s.runCtx, nil)
	if errors.Is(err, domain.ErrSyncRunning) {
		writeError(w, http.StatusConflict, err.Error(), s.logger)
		return
	}
	if err != nil {
		s.logger.Error("failed to start sync", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start sync", s.logger)
		return
	}

	s.logger.Info("sync started via api", "run_id", state.RunID)
	writeJSON(w, http.StatusAccepted, state, s.logger)
}

type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

func (s *Server) handleSyncCancel(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.syncs.Cancel(r.Context())
	if err != nil {
		s.logger.Error("failed to cancel sync", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to cancel sync", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{Cancelled: cancelled}, s.logger)
}
