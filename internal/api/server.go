package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/camera"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/capture"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/config"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/data"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/imagecache"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/inspection"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/middleware"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/monitor"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/resolver"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/sensor"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/streaming"
)

// Server aggregates the handler dependencies. Everything is injected at
// startup; handlers hold no hidden state.
type Server struct {
	Config    *config.Store
	Cameras   *camera.Manager
	Machine   *sensor.Machine
	Simulator *sensor.Simulator
	Gate      *capture.Gate
	Models    data.Models
	Hub       *inspection.Hub
	Broker    *streaming.SensorBroker
	Streams   *streaming.Registry
	Cache     *imagecache.Cache
	Resolver  *resolver.Resolver
	Health    *monitor.Health
	System    *monitor.SystemPoller
	Registry  *prometheus.Registry

	// CaptureDir is where manual saves land (same root as the gate's).
	CaptureDir string
}

// Routes wires the full HTTP surface.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.CORS)
	r.Use(middleware.RequestLogger)

	r.Get("/health", s.handleHealthz)
	r.Get("/api/health", s.handleHealthz)
	r.Method("GET", "/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))

	r.Route("/api/camera", func(r chi.Router) {
		r.Post("/connect", s.handleCameraConnect)
		r.Post("/disconnect", s.handleCameraDisconnect)
		r.Post("/start", s.handleCameraStart)
		r.Post("/stop", s.handleCameraStop)
		r.Post("/save", s.handleCameraSave)
		r.Get("/is_connected", s.handleCameraIsConnected)
		r.Get("/snapshot", s.handleCameraSnapshot)
	})

	r.Route("/api/sensor", func(r chi.Router) {
		r.Get("/status", s.handleSensorStatus)
		r.Post("/simulate", s.handleSensorSimulate)
	})

	r.Route("/api/stream", func(r chi.Router) {
		r.Get("/camera/{kind}", s.handleStreamCamera)
		r.Get("/sensor/status", s.handleStreamSensor)
		r.Get("/file", s.handleStreamFile)
		r.Get("/inspections", s.handleStreamInspections)
		r.Post("/analysis/multi-image", s.handleStreamAnalysis)
	})

	r.Get("/inspections/latest", s.handleInspectionsLatest)

	r.Get("/api/file", s.handleFile)
	r.Get("/api/file/check", s.handleFileCheck)

	r.Route("/api/image-cache", func(r chi.Router) {
		r.Get("/image", s.handleCacheImage)
		r.Get("/stats", s.handleCacheStats)
		r.Get("/cleanup", s.handleCacheCleanup)
	})

	r.Route("/api/streaming", func(r chi.Router) {
		r.Get("/config", s.handleConfigGet)
		r.Put("/config", s.handleConfigPut)
		r.Post("/config/reload", s.handleConfigReload)
		r.Post("/config/validate", s.handleConfigValidate)
		r.Post("/config/reset", s.handleConfigReset)
		r.Get("/config/{section}", s.handleConfigSectionGet)
		r.Put("/config/{section}", s.handleConfigSectionPut)

		r.Get("/monitoring/metrics", s.handleMonitoringMetrics)
		r.Get("/monitoring/health", s.handleMonitoringHealth)
		r.Get("/monitoring/status", s.handleMonitoringStatus)
		r.Get("/monitoring/stats/summary", s.handleMonitoringSummary)
		r.Post("/monitoring/start", s.handleMonitoringStart)
		r.Post("/monitoring/stop", s.handleMonitoringStop)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ERROR] API: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	rep := s.Health.Report()
	status := http.StatusOK
	if rep.Status == monitor.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}
