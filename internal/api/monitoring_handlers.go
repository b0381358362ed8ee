package api

import "net/http"

func (s *Server) handleMonitoringMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"streams": s.Streams.Snapshot(),
		"summary": s.Streams.Summary(),
		"system":  s.System.Stats(),
	})
}

func (s *Server) handleMonitoringHealth(w http.ResponseWriter, r *http.Request) {
	s.handleHealthz(w, r)
}

func (s *Server) handleMonitoringStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"monitoring_running": s.System.Running(),
		"active_streams":     s.Streams.Count(),
	})
}

func (s *Server) handleMonitoringSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Streams.Summary())
}

func (s *Server) handleMonitoringStart(w http.ResponseWriter, r *http.Request) {
	s.System.Start()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "monitoring_running": true})
}

func (s *Server) handleMonitoringStop(w http.ResponseWriter, r *http.Request) {
	s.System.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "monitoring_running": false})
}
