package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/camera"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/capture"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/config"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/data"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/imagecache"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/inspection"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/monitor"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/resolver"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/sensor"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/streaming"
)

type testEnv struct {
	server *Server
	mock   sqlmock.Sqlmock
	root   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := config.NewStore(filepath.Join(dir, "settings.yaml"))
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ring := camera.NewRing(16)
	manager := camera.NewManager(ring, func() camera.Options {
		return camera.Options{Width: 8, Height: 8, FPS: 5}
	})

	broker := streaming.NewSensorBroker()
	models := data.NewModels(db)
	gate := capture.NewGate(manager.Active, ring, models.Inspections, nil, filepath.Join(dir, "inspection"))
	machine := sensor.NewMachine(sensor.ListenerFunc(func(n sensor.Notification) {
		gate.OnSensorUpdate(n)
		broker.OnSensorUpdate(n)
	}))

	cache, err := imagecache.New(filepath.Join(dir, "image_cache"))
	require.NoError(t, err)

	inspectionRoot := filepath.Join(dir, "inspection")
	require.NoError(t, os.MkdirAll(inspectionRoot, 0o755))

	reg := prometheus.NewRegistry()
	health := monitor.NewHealth()
	health.Register("database", true, func() monitor.Check {
		return monitor.Check{Status: monitor.StatusHealthy}
	})

	s := &Server{
		Config:     store,
		Cameras:    manager,
		Machine:    machine,
		Gate:       gate,
		Models:     models,
		Hub:        inspection.NewHub(),
		Broker:     broker,
		Streams:    streaming.NewRegistry(reg),
		Cache:      cache,
		Resolver:   resolver.New(inspectionRoot),
		Health:     health,
		System:     monitor.NewSystemPoller(reg, time.Second, dir),
		Registry:   reg,
		CaptureDir: inspectionRoot,
	}
	return &testEnv{server: s, mock: mock, root: dir}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	e.server.Routes().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "OPTIONS", "/api/camera/connect", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCameraConnectAndSnapshot(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/camera/connect", map[string]string{"type": "dummy", "user_id": "u1"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, true, resp["is_connected"])
	assert.Equal(t, "dummy", resp["active_kind"])

	w = env.do(t, "GET", "/api/camera/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode(t, w)
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, resp["image"])

	w = env.do(t, "POST", "/api/camera/disconnect", map[string]string{"user_id": "u1"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/api/camera/snapshot", nil)
	assert.Equal(t, "no_camera", decode(t, w)["status"])
}

func TestCameraSaveRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, "POST", "/api/camera/connect", map[string]string{"type": "dummy", "user_id": "u1"})
	w := env.do(t, "POST", "/api/camera/save", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	require.Equal(t, "ok", resp["status"])
	assert.FileExists(t, resp["path"].(string))
}

func TestSensorStatusAndSimulateDisabled(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/sensor/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "IDLE", resp["state"])
	assert.Equal(t, false, resp["simulation_mode"])

	w = env.do(t, "POST", "/api/sensor/simulate", map[string]bool{"a": true})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestConfigRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/streaming/config", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "PUT", "/api/streaming/config/camera", map[string]int{"frame_rate": 15, "quality": 70})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/api/streaming/config/camera", nil)
	resp := decode(t, w)
	assert.EqualValues(t, 15, resp["frame_rate"])
	assert.EqualValues(t, 70, resp["quality"])
}

func TestConfigRejectsViolations(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "PUT", "/api/streaming/config/camera", map[string]int{"frame_rate": 99})
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w)
	assert.NotEmpty(t, resp["violations"])

	// State unchanged after the rejected update.
	w = env.do(t, "GET", "/api/streaming/config/camera", nil)
	assert.EqualValues(t, 10, decode(t, w)["frame_rate"])
}

func TestConfigValidateEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/streaming/config/validate",
		map[string]any{"CAMERA": map[string]any{"default_camera_type": "toaster"}})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, false, resp["valid"])
	assert.NotEmpty(t, resp["violations"])
}

func TestConfigReset(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, "PUT", "/api/streaming/config/camera", map[string]int{"frame_rate": 20, "quality": 50})
	w := env.do(t, "POST", "/api/streaming/config/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/api/streaming/config/camera", nil)
	assert.EqualValues(t, 10, decode(t, w)["frame_rate"])
}

func TestFileCheck(t *testing.T) {
	env := newTestEnv(t)

	dated := filepath.Join(env.root, "inspection", "20260824")
	require.NoError(t, os.MkdirAll(dated, 0o755))
	target := filepath.Join(dated, "frame001_1.bmp")
	require.NoError(t, os.WriteFile(target, []byte("bmp"), 0o644))

	w := env.do(t, "GET", "/api/file/check?path=frame001_1.bmp", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, true, resp["exists"])
	assert.Equal(t, target, resp["path"])

	w = env.do(t, "GET", "/api/file/check?path=missing.bmp", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, decode(t, w)["attempted_paths"])
}

func TestStreamInspectionsProgressive(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"inspection_id", "product_no", "serial", "inspection_dt", "status", "image_path", "created_at"}).
		AddRow(int64(1), "WD-0001", 1, now, "captured", nil, now).
		AddRow(int64(2), "WD-0001", 2, now, "captured", nil, now)
	env.mock.ExpectQuery("FROM t_inspection").WillReturnRows(rows)

	w := env.do(t, "GET", "/api/stream/inspections?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var out []data.Inspection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, int64(1), out[0].InspectionID)
	assert.Zero(t, env.server.Streams.Count(), "stream unregistered after completion")
}

func TestStreamInspectionsDBErrorMidStream(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery("FROM t_inspection").WillReturnError(assert.AnError)

	w := env.do(t, "GET", "/api/stream/inspections", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "error payload still closes the array")
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "error")
}

func TestInspectionsLatestGET(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"inspection_id", "product_no", "serial", "inspection_dt", "status", "image_path", "created_at"}).
		AddRow(int64(42), "WD-0001", 1, now, "captured", nil, now)
	env.mock.ExpectQuery("ROW_NUMBER").WillReturnRows(rows)

	w := env.do(t, "GET", "/inspections/latest?product_no=WD-0001", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	require.NotNil(t, resp["inspection"])
	assert.EqualValues(t, 42, resp["inspection"].(map[string]any)["inspection_id"])

	w = env.do(t, "GET", "/inspections/latest", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCacheStatsAndCleanup(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/image-cache/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["cached_files"])

	w = env.do(t, "GET", "/api/image-cache/cleanup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["removed"])
}

func TestMonitoringEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/streaming/monitoring/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["monitoring_running"])

	w = env.do(t, "POST", "/api/streaming/monitoring/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.server.System.Running())

	w = env.do(t, "GET", "/api/streaming/monitoring/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Contains(t, resp, "summary")
	assert.Contains(t, resp, "system")

	w = env.do(t, "GET", "/api/streaming/monitoring/stats/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "POST", "/api/streaming/monitoring/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.server.System.Running())
}

func TestPrometheusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStreamCameraRejectsUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/api/stream/camera/polaroid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamCameraSnapshotModeIgnoresStaleRing(t *testing.T) {
	env := newTestEnv(t)

	// Leftover content from an earlier continuous run: a solid white frame.
	env.server.Cameras.Ring().Append(&camera.Frame{
		Pixels:      bytes.Repeat([]byte{0xff}, 8*8*3),
		Width:       8,
		Height:      8,
		TimestampUS: camera.NowMicros(),
	})

	// Dummy driver connects in snapshot mode and produces black frames.
	env.do(t, "POST", "/api/camera/connect", map[string]string{"type": "dummy", "user_id": "u1"})

	req := httptest.NewRequest("GET", "/api/stream/camera/dummy", nil)
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		env.server.Routes().ServeHTTP(w, req)
		close(done)
	}()

	// Default frame rate is 10 fps; a few ticks is plenty for one part.
	time.Sleep(350 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on client disconnect")
	}

	body := w.Body.Bytes()
	idx := bytes.Index(body, []byte{0xff, 0xd8})
	require.GreaterOrEqual(t, idx, 0, "no JPEG part served")

	img, err := jpeg.Decode(bytes.NewReader(body[idx:]))
	require.NoError(t, err)
	r8, _, _, _ := img.At(0, 0).RGBA()
	assert.Less(t, r8>>8, uint32(0x20), "served the stale ring frame instead of polling the driver")
}
