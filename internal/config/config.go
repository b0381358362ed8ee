package config

import (
	"fmt"
	"strings"
)

// Config is the full settings tree. A value is immutable once published
// by the Store; mutate copies only.
type Config struct {
	Debug     DebugConfig     `yaml:"DEBUG" json:"DEBUG"`
	Camera    CameraConfig    `yaml:"CAMERA" json:"CAMERA"`
	Sensor    SensorConfig    `yaml:"SENSOR" json:"SENSOR"`
	UI        UIConfig        `yaml:"UI" json:"UI"`
	Logging   LoggingConfig   `yaml:"LOGGING" json:"LOGGING"`
	Streaming StreamingConfig `yaml:"STREAMING" json:"STREAMING"`
}

type DebugConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type CameraConfig struct {
	DefaultCameraType string `yaml:"default_camera_type" json:"default_camera_type"` // industrial | webcam
	AutoReconnect     bool   `yaml:"auto_reconnect" json:"auto_reconnect"`
	ConnectionTimeout int    `yaml:"connection_timeout" json:"connection_timeout"` // seconds
}

type SensorConfig struct {
	SimulationMode bool `yaml:"simulation_mode" json:"simulation_mode"`
	BufferDuration int  `yaml:"buffer_duration" json:"buffer_duration"` // seconds
	BufferFPS      int  `yaml:"buffer_fps" json:"buffer_fps"`
}

type UIConfig struct {
	PollingIntervalMS   int `yaml:"polling_interval" json:"polling_interval"`
	NotificationTimeout int `yaml:"notification_timeout" json:"notification_timeout"`
}

type LoggingConfig struct {
	LogDirectory   string `yaml:"log_directory" json:"log_directory"`
	LogLevel       string `yaml:"log_level" json:"log_level"`
	RotationTime   string `yaml:"rotation_time" json:"rotation_time"` // HH:MM
	RetentionDays  int    `yaml:"retention_days" json:"retention_days"`
	MaxFileSizeMB  int    `yaml:"max_file_size_mb" json:"max_file_size_mb"`
	ConsoleLogging bool   `yaml:"console_logging" json:"console_logging"`
}

type StreamingConfig struct {
	Camera        StreamCameraConfig  `yaml:"camera" json:"camera"`
	SSE           SSEConfig           `yaml:"sse" json:"sse"`
	File          FileStreamConfig    `yaml:"file" json:"file"`
	Data          DataStreamConfig    `yaml:"data" json:"data"`
	ErrorHandling ErrorHandlingConfig `yaml:"error_handling" json:"error_handling"`
	Monitoring    MonitoringConfig    `yaml:"monitoring" json:"monitoring"`
	Analysis      AnalysisConfig      `yaml:"analysis" json:"analysis"`
}

type StreamCameraConfig struct {
	FrameRate int `yaml:"frame_rate" json:"frame_rate"` // 1..30
	Quality   int `yaml:"quality" json:"quality"`       // 10..100
}

type SSEConfig struct {
	HeartbeatSec int `yaml:"heartbeat_sec" json:"heartbeat_sec"`
}

type FileStreamConfig struct {
	ChunkBytes int `yaml:"chunk_bytes" json:"chunk_bytes"`
}

type DataStreamConfig struct {
	BatchSize       int `yaml:"batch_size" json:"batch_size"`
	FlushIntervalMS int `yaml:"flush_interval_ms" json:"flush_interval_ms"`
}

type ErrorHandlingConfig struct {
	SlowClientTimeoutMS int `yaml:"slow_client_timeout_ms" json:"slow_client_timeout_ms"`
}

type MonitoringConfig struct {
	IntervalSec int `yaml:"interval_sec" json:"interval_sec"`
}

type AnalysisConfig struct {
	InferenceURL string `yaml:"inference_url" json:"inference_url"`
}

// Default returns the boot configuration used when no settings file exists.
func Default() *Config {
	return &Config{
		Debug: DebugConfig{Enabled: false},
		Camera: CameraConfig{
			DefaultCameraType: "webcam",
			AutoReconnect:     true,
			ConnectionTimeout: 5,
		},
		Sensor: SensorConfig{
			SimulationMode: false,
			BufferDuration: 10,
			BufferFPS:      30,
		},
		UI: UIConfig{
			PollingIntervalMS:   500,
			NotificationTimeout: 5000,
		},
		Logging: LoggingConfig{
			LogDirectory:   "log",
			LogLevel:       "INFO",
			RotationTime:   "00:00",
			RetentionDays:  14,
			MaxFileSizeMB:  50,
			ConsoleLogging: true,
		},
		Streaming: StreamingConfig{
			Camera:        StreamCameraConfig{FrameRate: 10, Quality: 85},
			SSE:           SSEConfig{HeartbeatSec: 15},
			File:          FileStreamConfig{ChunkBytes: 64 * 1024},
			Data:          DataStreamConfig{BatchSize: 50, FlushIntervalMS: 200},
			ErrorHandling: ErrorHandlingConfig{SlowClientTimeoutMS: 2000},
			Monitoring:    MonitoringConfig{IntervalSec: 5},
		},
	}
}

var validLogLevels = map[string]bool{"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true}

// Validate returns every violation found; an empty slice means the
// candidate may be swapped in.
func Validate(c *Config) []string {
	var violations []string

	switch c.Camera.DefaultCameraType {
	case "industrial", "webcam":
	default:
		violations = append(violations,
			fmt.Sprintf("CAMERA.default_camera_type must be industrial or webcam, got %q", c.Camera.DefaultCameraType))
	}
	if c.Camera.ConnectionTimeout <= 0 {
		violations = append(violations, "CAMERA.connection_timeout must be > 0 seconds")
	}

	if c.Sensor.BufferDuration <= 0 {
		violations = append(violations, "SENSOR.buffer_duration must be > 0 seconds")
	}
	if c.Sensor.BufferFPS <= 0 || c.Sensor.BufferFPS > 120 {
		violations = append(violations, "SENSOR.buffer_fps must be in 1..120")
	}

	if c.UI.PollingIntervalMS <= 0 {
		violations = append(violations, "UI.polling_interval must be > 0 ms")
	}
	if c.UI.NotificationTimeout < 0 {
		violations = append(violations, "UI.notification_timeout must be >= 0 ms")
	}

	if !validLogLevels[strings.ToUpper(c.Logging.LogLevel)] {
		violations = append(violations,
			fmt.Sprintf("LOGGING.log_level must be one of DEBUG,INFO,WARN,ERROR, got %q", c.Logging.LogLevel))
	}
	if _, _, err := parseClock(c.Logging.RotationTime); err != nil {
		violations = append(violations,
			fmt.Sprintf("LOGGING.rotation_time must be HH:MM, got %q", c.Logging.RotationTime))
	}
	if c.Logging.RetentionDays <= 0 {
		violations = append(violations, "LOGGING.retention_days must be > 0")
	}
	if c.Logging.MaxFileSizeMB <= 0 {
		violations = append(violations, "LOGGING.max_file_size_mb must be > 0")
	}

	if fr := c.Streaming.Camera.FrameRate; fr < 1 || fr > 30 {
		violations = append(violations, fmt.Sprintf("streaming camera.frame_rate must be in 1..30, got %d", fr))
	}
	if q := c.Streaming.Camera.Quality; q < 10 || q > 100 {
		violations = append(violations, fmt.Sprintf("streaming camera.quality must be in 10..100, got %d", q))
	}
	if c.Streaming.SSE.HeartbeatSec <= 0 {
		violations = append(violations, "streaming sse.heartbeat_sec must be > 0")
	}
	if c.Streaming.File.ChunkBytes <= 0 {
		violations = append(violations, "streaming file.chunk_bytes must be > 0")
	}
	if c.Streaming.Data.BatchSize <= 0 {
		violations = append(violations, "streaming data.batch_size must be > 0")
	}
	if c.Streaming.ErrorHandling.SlowClientTimeoutMS <= 0 {
		violations = append(violations, "streaming error_handling.slow_client_timeout_ms must be > 0")
	}
	if c.Streaming.Monitoring.IntervalSec <= 0 {
		violations = append(violations, "streaming monitoring.interval_sec must be > 0")
	}

	return violations
}

func parseClock(s string) (int, int, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("clock out of range %q", s)
	}
	return hour, minute, nil
}
