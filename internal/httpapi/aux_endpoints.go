package httpapi

import "net/http"

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	toJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz pings the store when it can be pinged; the in-memory store is
// always ready.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready.Ready(r.Context()); err != nil {
			s.log.Error("readiness check failed", "err", err)
			toJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	toJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
