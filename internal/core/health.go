package core

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout is the maximum time allowed for the database probe.
const healthCheckTimeout = 2 * time.Second

// healthResponse is the JSON response body for the health check endpoint.
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// HandleHealth reports service liveness and database connectivity. Returns
// 200 when the pool answers a ping inside the deadline, 503 otherwise.
//
// This endpoint is public and mounted at GET /health, outside /api so it
// skips session resolution and rate limiting.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if s.Repos == nil {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	if err := s.Repos.Ping(ctx); err != nil {
		s.Logger.Error("health check database ping failed", "error", err)
		JSON(w, r, http.StatusServiceUnavailable, healthResponse{
			Status:   "unhealthy",
			Database: "unreachable",
		})
		return
	}

	JSON(w, r, http.StatusOK, healthResponse{
		Status:   "healthy",
		Database: "ok",
	})
}
