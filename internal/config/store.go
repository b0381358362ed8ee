package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// ErrValidation carries the violation list from a rejected update.
type ErrValidation struct {
	Violations []string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("config validation failed: %d violation(s)", len(e.Violations))
}

// Store publishes an immutable *Config behind an atomic pointer. Readers
// call Get once per operation and never lock; writers validate the full
// candidate before swapping.
type Store struct {
	path    string
	active  atomic.Pointer[Config]
	writeMu sync.Mutex // serializes swap+persist, not reads

	subMu       sync.Mutex
	subscribers []func(*Config)
}

// NewStore loads path if it exists, else starts from defaults. The loaded
// file must validate; a broken settings file is a startup error.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		loaded, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v := Validate(cfg); len(v) > 0 {
		return nil, &ErrValidation{Violations: v}
	}
	s.active.Store(cfg)
	return s, nil
}

func loadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	// Start from defaults so a partial file only overrides what it names.
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}
	return cfg, nil
}

// Get returns the active snapshot. Callers must not mutate it.
func (s *Store) Get() *Config {
	return s.active.Load()
}

// Path returns the backing settings file location.
func (s *Store) Path() string {
	return s.path
}

// Update validates candidate and atomically swaps it in, persisting to the
// settings file. On violations no state changes.
func (s *Store) Update(candidate *Config) error {
	if v := Validate(candidate); len(v) > 0 {
		return &ErrValidation{Violations: v}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.persist(candidate); err != nil {
		return err
	}
	s.active.Store(candidate)
	s.notify(candidate)
	return nil
}

// UpdateSection applies a JSON patch to one named section of a copy of the
// active config, then runs the same validate-swap as Update.
func (s *Store) UpdateSection(section string, raw json.RawMessage) error {
	candidate := *s.Get() // shallow copy; all fields are values

	target, err := sectionPointer(&candidate, section)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("parsing section %s: %w", section, err)
	}
	return s.Update(&candidate)
}

// Section returns one named section of the active config for serialization.
func (s *Store) Section(section string) (any, error) {
	cfg := *s.Get()
	return sectionPointer(&cfg, section)
}

func sectionPointer(c *Config, section string) (any, error) {
	switch section {
	case "DEBUG":
		return &c.Debug, nil
	case "CAMERA":
		return &c.Camera, nil
	case "SENSOR":
		return &c.Sensor, nil
	case "UI":
		return &c.UI, nil
	case "LOGGING":
		return &c.Logging, nil
	case "camera":
		return &c.Streaming.Camera, nil
	case "sse":
		return &c.Streaming.SSE, nil
	case "file":
		return &c.Streaming.File, nil
	case "data":
		return &c.Streaming.Data, nil
	case "error_handling":
		return &c.Streaming.ErrorHandling, nil
	case "monitoring":
		return &c.Streaming.Monitoring, nil
	case "analysis":
		return &c.Streaming.Analysis, nil
	}
	return nil, fmt.Errorf("unknown config section %q", section)
}

// Reload re-reads the settings file and performs the validate-swap. Used
// by the reload endpoint and the file watcher.
func (s *Store) Reload() error {
	loaded, err := loadFile(s.path)
	if err != nil {
		return err
	}
	if v := Validate(loaded); len(v) > 0 {
		return &ErrValidation{Violations: v}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.active.Store(loaded)
	s.notify(loaded)
	return nil
}

// Reset swaps the defaults back in and persists them.
func (s *Store) Reset() error {
	return s.Update(Default())
}

// Subscribe registers a callback invoked with every newly published config.
func (s *Store) Subscribe(fn func(*Config)) {
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.subMu.Unlock()
}

func (s *Store) notify(cfg *Config) {
	s.subMu.Lock()
	subs := make([]func(*Config), len(s.subscribers))
	copy(subs, s.subscribers)
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(cfg)
	}
}

func (s *Store) persist(cfg *Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.Printf("[WARN] Config: atomic rename failed, falling back to direct write: %v", err)
		return os.WriteFile(s.path, raw, 0o644)
	}
	return nil
}
