package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/api"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/camera"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/capture"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/config"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/data"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/events"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/imagecache"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/inspection"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/logging"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/monitor"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/platform/paths"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/resolver"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/sensor"
	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/streaming"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Platform paths
	if err := paths.EnsureDirs(); err != nil {
		log.Fatalf("Platform init error: %v", err)
	}

	// 2. Config (live-reloaded from the settings file)
	store, err := config.NewStore(paths.ResolveConfigPath(os.Getenv("SETTINGS_PATH")))
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}
	cfg := store.Get()

	// 3. Logging
	logDir := cfg.Logging.LogDirectory
	if logDir == "" {
		logDir = paths.ResolveLogRoot()
	}
	logger, err := logging.Setup(logging.Options{
		Directory:      logDir,
		Level:          cfg.Logging.LogLevel,
		RotationTime:   cfg.Logging.RotationTime,
		RetentionDays:  cfg.Logging.RetentionDays,
		MaxFileSizeMB:  cfg.Logging.MaxFileSizeMB,
		ConsoleLogging: cfg.Logging.ConsoleLogging,
	})
	if err != nil {
		log.Fatalf("Logging init error: %v", err)
	}
	defer logger.Close()

	store.Subscribe(func(c *config.Config) {
		logger.SetLevel(c.Logging.LogLevel)
	})
	store.StartWatcher(ctx)

	// 4. Database
	db, err := data.Open(paths.DatabasePath())
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	defer db.Close()
	models := data.NewModels(db)

	registry := prometheus.NewRegistry()

	// 5. Camera manager and frame ring
	ring := camera.NewRing(cfg.Sensor.BufferDuration * cfg.Sensor.BufferFPS)
	manager := camera.NewManager(ring, func() camera.Options {
		c := store.Get()
		return camera.Options{
			Device:            os.Getenv("CAMERA_DEVICE"),
			Width:             1280,
			Height:            720,
			FPS:               c.Sensor.BufferFPS,
			ConnectionTimeout: time.Duration(c.Camera.ConnectionTimeout) * time.Second,
		}
	})

	// 6. Event bus (optional; the line runs fine without NATS)
	publisher, err := events.Connect(os.Getenv("NATS_SUBJECT"))
	if err != nil {
		log.Printf("[WARN] Events: %v, continuing without event publishing", err)
	}
	defer publisher.Close()

	// 7. Sensor machine, capture gate and SSE fan-out. The gate listens
	// first so persistence completes before subscribers hear about the
	// decision.
	gate := capture.NewGate(manager.Active, ring, models.Inspections, publisher, paths.InspectionImagesRoot())
	broker := streaming.NewSensorBroker()
	machine := sensor.NewMachine(sensor.ListenerFunc(func(n sensor.Notification) {
		gate.OnSensorUpdate(n)
		broker.OnSensorUpdate(n)
	}))

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				machine.CheckTimeout()
			}
		}
	}()

	var simulator *sensor.Simulator
	if cfg.Sensor.SimulationMode {
		simulator = sensor.NewSimulator(machine, 0)
		simulator.Start()
		defer simulator.Stop()
	}

	// 8. Inspection change watcher
	hub := inspection.NewHub()
	watcher := inspection.NewWatcher(models.Inspections, hub,
		time.Duration(cfg.UI.PollingIntervalMS)*time.Millisecond)
	watcher.Start()
	defer watcher.Stop()

	// 9. Image cache and file resolver
	cache, err := imagecache.New(paths.ImageCacheRoot())
	if err != nil {
		log.Fatalf("Image cache init error: %v", err)
	}

	// 10. Monitoring
	health := monitor.NewHealth()
	health.Register("database", true, func() monitor.Check {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return monitor.Check{Status: monitor.StatusUnhealthy, Details: map[string]any{"error": err.Error()}}
		}
		return monitor.Check{Status: monitor.StatusHealthy}
	})
	health.Register("camera", false, func() monitor.Check {
		st := manager.Status()
		switch {
		case st.Kind == "":
			return monitor.Check{Status: monitor.StatusHealthy, Details: map[string]any{"state": "idle"}}
		case st.Kind == camera.KindDummy:
			return monitor.Check{Status: monitor.StatusDegraded, Details: map[string]any{"state": "dummy fallback"}}
		case !st.IsConnected:
			return monitor.Check{Status: monitor.StatusUnhealthy, Details: map[string]any{"state": "disconnected"}}
		}
		return monitor.Check{Status: monitor.StatusHealthy, Details: map[string]any{"kind": string(st.Kind), "users": st.UserCount}}
	})
	health.Register("events", false, func() monitor.Check {
		if publisher == nil {
			return monitor.Check{Status: monitor.StatusDegraded, Details: map[string]any{"state": "publishing disabled"}}
		}
		return monitor.Check{Status: monitor.StatusHealthy}
	})

	system := monitor.NewSystemPoller(registry,
		time.Duration(cfg.Streaming.Monitoring.IntervalSec)*time.Second, paths.ResolveDataRoot())
	system.Start()
	defer system.Stop()

	// 11. HTTP surface
	server := &api.Server{
		Config:     store,
		Cameras:    manager,
		Machine:    machine,
		Simulator:  simulator,
		Gate:       gate,
		Models:     models,
		Hub:        hub,
		Broker:     broker,
		Streams:    streaming.NewRegistry(registry),
		Cache:      cache,
		Resolver:   resolver.New(paths.InspectionImagesRoot()),
		Health:     health,
		System:     system,
		Registry:   registry,
		CaptureDir: paths.InspectionImagesRoot(),
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on :%s", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Fatalf("HTTP server error: %v", err)
	case <-ctx.Done():
	}

	log.Printf("Shutdown requested, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] Graceful shutdown: %v", err)
	}
	log.Printf("Server stopped")
}
