package mcp

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Platform  string `json:"platform"`
	Timestamp string `json:"timestamp"`
}

// handleHealth answers liveness checks. It touches no shared state beyond
// immutable fields, so it stays responsive at the connection cap.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Version:   s.version,
		Platform:  platform(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
