package api

import (
	"net/http"
)

// handleGetConfig returns the running configuration. The API is read-only,
// so there is no update counterpart.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config == nil {
		writeError(w, http.StatusServiceUnavailable, "configuration not loaded")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.deps.Config})
}
