package api

import (
	"net/http"
)

func (s *Server) handleDecodeStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		jsonError(w, "decode stats unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"window":      s.cfg.StatsWindow.String(),
		"queue_depth": s.orchestrator.QueueDepth(),
		"stats":       s.stats.Snapshot(),
	})
}
