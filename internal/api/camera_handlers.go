package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image/jpeg"
	"net/http"

	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/camera"
)

// cameraRequest is the shared body for the camera control endpoints.
type cameraRequest struct {
	Type      string `json:"type,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	ProductNo string `json:"product_no,omitempty"`
}

func (s *Server) decodeCameraRequest(r *http.Request) cameraRequest {
	req := cameraRequest{}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // empty body means all defaults
	}
	if req.UserID == "" {
		req.UserID = "api"
	}
	if req.Type == "" {
		req.Type = s.Config.Get().Camera.DefaultCameraType
	}
	return req
}

func (s *Server) handleCameraConnect(w http.ResponseWriter, r *http.Request) {
	req := s.decodeCameraRequest(r)

	d := s.Cameras.Acquire(camera.Kind(req.Type), req.UserID)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"is_connected": d.IsConnected(),
		"active_kind":  d.Kind(),
	})
}

func (s *Server) handleCameraDisconnect(w http.ResponseWriter, r *http.Request) {
	req := s.decodeCameraRequest(r)
	s.Cameras.Release(req.UserID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleCameraStart(w http.ResponseWriter, r *http.Request) {
	req := s.decodeCameraRequest(r)
	if req.ProductNo != "" {
		s.Gate.SetProduct(req.ProductNo)
	}

	d := s.Cameras.Acquire(camera.Kind(req.Type), req.UserID)
	if err := d.SetMode(camera.ModeContinuous); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "mode": camera.ModeContinuous})
}

func (s *Server) handleCameraStop(w http.ResponseWriter, r *http.Request) {
	d := s.Cameras.Active()
	if d == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "mode": camera.ModeSnapshot})
		return
	}
	if err := d.SetMode(camera.ModeSnapshot); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "mode": camera.ModeSnapshot})
}

func (s *Server) handleCameraSave(w http.ResponseWriter, r *http.Request) {
	d := s.Cameras.Active()
	if d == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "no_camera", "error": "no active camera"})
		return
	}
	path, err := d.WriteFrame(s.CaptureDir)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "path": path})
}

func (s *Server) handleCameraIsConnected(w http.ResponseWriter, r *http.Request) {
	st := s.Cameras.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"is_connected": st.IsConnected,
		"status":       st,
	})
}

// handleCameraSnapshot returns one frame as base64 JPEG. A transient
// failure yields status no_frame with an empty image, never a 5xx.
func (s *Server) handleCameraSnapshot(w http.ResponseWriter, r *http.Request) {
	d := s.Cameras.Active()
	if d == nil {
		writeJSON(w, http.StatusOK, map[string]any{"image": "", "status": "no_camera"})
		return
	}

	frame := d.GetFrame()
	if frame == nil {
		writeJSON(w, http.StatusOK, map[string]any{"image": "", "status": "no_frame"})
		return
	}

	var buf bytes.Buffer
	quality := s.Config.Get().Streaming.Camera.Quality
	if err := jpeg.Encode(&buf, frame.ToImage(), &jpeg.Options{Quality: quality}); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"image": "", "status": "error", "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"image":  base64.StdEncoding.EncodeToString(buf.Bytes()),
		"status": "ok",
	})
}

func (s *Server) handleSensorStatus(w http.ResponseWriter, r *http.Request) {
	state, seq, last := s.Machine.Snapshot()
	resp := map[string]any{
		"state":           state,
		"sequence":        seq,
		"last_event_time": formatTime(last),
		"simulation_mode": s.Simulator != nil,
	}
	captures, failures, lastResult := s.Gate.Stats()
	resp["captures"] = captures
	resp["capture_failures"] = failures
	if lastResult != nil {
		resp["last_decision"] = lastResult
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSensorSimulate injects beam states into the simulator.
func (s *Server) handleSensorSimulate(w http.ResponseWriter, r *http.Request) {
	if s.Simulator == nil {
		writeError(w, http.StatusConflict, "sensor simulation_mode is disabled")
		return
	}
	var req struct {
		A bool `json:"a"`
		B bool `json:"b"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "body must be {\"a\": bool, \"b\": bool}")
		return
	}
	s.Simulator.Inject(req.A, req.B)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "a": req.A, "b": req.B})
}
