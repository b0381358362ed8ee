package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"

	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/camera"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/data"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/imagecache"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/resolver"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/streaming"
)

func (s *Server) slowClientTimeout() time.Duration {
	ms := s.Config.Get().Streaming.ErrorHandling.SlowClientTimeoutMS
	return time.Duration(ms) * time.Millisecond
}

// handleStreamCamera serves MJPEG for the requested camera kind. Each
// stream holds its own manager acquisition for its lifetime.
func (s *Server) handleStreamCamera(w http.ResponseWriter, r *http.Request) {
	kind := camera.Kind(chi.URLParam(r, "kind"))
	switch kind {
	case camera.KindIndustrial, camera.KindWebcam, camera.KindDummy:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown camera kind %q", kind))
		return
	}

	userID := "stream-" + uuid.New().String()
	driver := s.Cameras.Acquire(kind, userID)
	defer s.Cameras.Release(userID)

	ring := s.Cameras.Ring()
	source := func() *camera.Frame {
		// Continuous mode fills the ring; in snapshot mode the ring may
		// still hold frames from an earlier run, so poll the driver.
		if driver.Mode() == camera.ModeContinuous {
			return ring.Latest()
		}
		return driver.GetFrame()
	}

	cfg := s.Config.Get().Streaming.Camera
	streaming.ServeMJPEG(w, r, source, s.Streams, streaming.MJPEGOptions{
		FrameRate:         cfg.FrameRate,
		Quality:           cfg.Quality,
		SlowClientTimeout: s.slowClientTimeout(),
	})
}

func (s *Server) handleStreamSensor(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config.Get().Streaming.SSE
	streaming.ServeSensorSSE(w, r, s.Broker, s.Machine, s.Streams, streaming.SSEOptions{
		Heartbeat:         time.Duration(cfg.HeartbeatSec) * time.Second,
		SlowClientTimeout: s.slowClientTimeout(),
	})
}

// resolveRequestFile runs the resolver and, when convert=jpg applies,
// routes BMP sources through the image cache.
func (s *Server) resolveRequestFile(path, convert string) (servePath, contentType string, err error) {
	resolved, err := s.Resolver.Resolve(path)
	if err != nil {
		return "", "", err
	}

	if convert == "jpg" && strings.EqualFold(filepath.Ext(resolved), ".bmp") {
		entry, err := s.Cache.Get(resolved, imagecache.VariantJPG)
		if err != nil {
			return "", "", err
		}
		return entry.CachePath, entry.ContentType, nil
	}
	return resolved, contentTypeFor(resolved), nil
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".bmp":
		return "image/bmp"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func (s *Server) handleStreamFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	servePath, contentType, err := s.resolveRequestFile(path, r.URL.Query().Get("convert"))
	if err != nil {
		writeResolveError(w, err)
		return
	}

	cfg := s.Config.Get().Streaming.File
	streaming.ServeFile(w, r, servePath, contentType, s.Streams, streaming.FileOptions{
		ChunkBytes:        cfg.ChunkBytes,
		SlowClientTimeout: s.slowClientTimeout(),
	})
}

func writeResolveError(w http.ResponseWriter, err error) {
	var nf *resolver.NotFoundError
	if errors.As(err, &nf) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":           "not-found",
			"attempted_paths": nf.Attempted,
		})
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// handleStreamInspections streams inspection history as a progressive
// JSON array.
func (s *Server) handleStreamInspections(w http.ResponseWriter, r *http.Request) {
	filter := data.HistoryFilter{ProductNo: r.URL.Query().Get("product_no")}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("date_from"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			filter.DateFrom = t
		}
	}
	if v := r.URL.Query().Get("date_to"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			// Inclusive end of day.
			filter.DateTo = t.Add(24*time.Hour - time.Nanosecond)
		}
	}

	stream := s.Streams.Register(streaming.KindInspection, r.RemoteAddr)
	defer s.Streams.Unregister(stream.ID)

	pw := streaming.NewProgressiveWriter(w, stream, s.slowClientTimeout())
	defer pw.Close()

	rows, err := s.Models.Inspections.History(r.Context(), filter)
	if err != nil {
		pw.WriteError(err)
		return
	}
	for _, row := range rows {
		if !pw.WriteItem(row) {
			return
		}
	}
}

// analysisResult is one element of the multi-image analysis response.
type analysisResult struct {
	Filename string          `json:"filename"`
	Status   string          `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// handleStreamAnalysis forwards each uploaded image to the inference
// service and streams per-file results as they arrive. Without an
// inference_url the endpoint reports each file as accepted-unanalyzed so
// the UI flow still completes.
func (s *Server) handleStreamAnalysis(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form upload")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		files = r.MultipartForm.File["file"]
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files in upload")
		return
	}

	stream := s.Streams.Register(streaming.KindAnalysis, r.RemoteAddr)
	defer s.Streams.Unregister(stream.ID)

	pw := streaming.NewProgressiveWriter(w, stream, s.slowClientTimeout())
	defer pw.Close()

	inferenceURL := s.Config.Get().Streaming.Analysis.InferenceURL
	client := &http.Client{Timeout: 30 * time.Second}

	for _, fh := range files {
		if r.Context().Err() != nil {
			return
		}
		res := s.analyzeOne(r.Context(), client, inferenceURL, fh)
		if !pw.WriteItem(res) {
			return
		}
	}
}

func (s *Server) analyzeOne(ctx context.Context, client *http.Client, inferenceURL string, fh *multipart.FileHeader) analysisResult {
	if inferenceURL == "" {
		return s.analyzeLocal(fh)
	}

	f, err := fh.Open()
	if err != nil {
		return analysisResult{Filename: fh.Filename, Status: "error", Error: err.Error()}
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inferenceURL, f)
	if err != nil {
		return analysisResult{Filename: fh.Filename, Status: "error", Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Filename", fh.Filename)

	resp, err := client.Do(req)
	if err != nil {
		return analysisResult{Filename: fh.Filename, Status: "error", Error: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return analysisResult{Filename: fh.Filename, Status: "error", Error: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return analysisResult{Filename: fh.Filename, Status: "error",
			Error: fmt.Sprintf("inference service returned %d", resp.StatusCode)}
	}
	return analysisResult{Filename: fh.Filename, Status: "analyzed", Result: body}
}

// analyzeLocal runs without the inference service: decode the header and
// report dimensions so the upload flow still completes end to end.
func (s *Server) analyzeLocal(fh *multipart.FileHeader) analysisResult {
	f, err := fh.Open()
	if err != nil {
		return analysisResult{Filename: fh.Filename, Status: "error", Error: err.Error()}
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return analysisResult{Filename: fh.Filename, Status: "error",
			Error: "undecodable image: " + err.Error()}
	}

	result, _ := json.Marshal(map[string]any{
		"analyzer": "local",
		"format":   format,
		"width":    cfg.Width,
		"height":   cfg.Height,
	})
	return analysisResult{Filename: fh.Filename, Status: "accepted", Result: result}
}
