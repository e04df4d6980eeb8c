package web

import (
	"net/http"
)

// handleHealth reports liveness plus session and upload slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":   "ok",
		"sessions": s.service.Count(),
	}
	if l := s.service.Limiter(); l != nil {
		resp["uploads"] = l.Status()
	}
	if s.opts.Health != nil {
		for k, v := range s.opts.Health() {
			resp[k] = v
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
