package httpapi

import (
	"net/http"
	"strings"
)

// handlePerfLatency serves the rolling turn-stage window. ?stage= narrows the
// result to one stage.
func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.SnapshotTurnStages()
	if stage := strings.TrimSpace(r.URL.Query().Get("stage")); stage != "" {
		filtered := snap.Stages[:0]
		for _, st := range snap.Stages {
			if st.Stage == stage {
				filtered = append(filtered, st)
			}
		}
		snap.Stages = filtered
	}
	respondJSON(w, http.StatusOK, snap)
}
