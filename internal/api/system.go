package api

import (
	"net/http"
	"time"
)

// handleHealth returns the gateway health surface the panel polls.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.gateway.Stats()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"devices":        stats,
		"ws_clients":     s.hub.ClientCount(),
	})
}
