package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options mirror the LOGGING config section.
type Options struct {
	Directory      string
	Level          string // DEBUG | INFO | WARN | ERROR
	RotationTime   string // "HH:MM", local time
	RetentionDays  int
	MaxFileSizeMB  int
	ConsoleLogging bool
}

// Logger owns the rotating sink and the daily rotation ticker.
type Logger struct {
	sink *lumberjack.Logger
	quit chan struct{}
	wg   sync.WaitGroup

	mu    sync.RWMutex
	level int
}

var levels = map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}

// Setup points the standard logger at ./log/application.log with size and
// age limits, optionally teeing to stderr. Rotation also fires daily at
// opts.RotationTime.
func Setup(opts Options) (*Logger, error) {
	if opts.Directory == "" {
		opts.Directory = "log"
	}
	if err := os.MkdirAll(opts.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	sink := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Directory, "application.log"),
		MaxSize:    opts.MaxFileSizeMB,
		MaxAge:     opts.RetentionDays,
		MaxBackups: 0,
		Compress:   false,
	}

	var out io.Writer = sink
	if opts.ConsoleLogging {
		out = io.MultiWriter(os.Stderr, sink)
	}
	log.SetOutput(out)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	l := &Logger{
		sink:  sink,
		quit:  make(chan struct{}),
		level: levelIndex(opts.Level),
	}
	l.startDailyRotation(opts.RotationTime)
	return l, nil
}

func levelIndex(s string) int {
	if idx, ok := levels[strings.ToUpper(s)]; ok {
		return idx
	}
	return levels["INFO"]
}

// SetLevel applies a live-reloaded log level.
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	l.level = levelIndex(level)
	l.mu.Unlock()
}

func (l *Logger) enabled(level string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return levels[level] >= l.level
}

func (l *Logger) Debugf(format string, args ...any) {
	if l.enabled("DEBUG") {
		log.Printf("[DEBUG] "+format, args...)
	}
}

func (l *Logger) Infof(format string, args ...any) {
	if l.enabled("INFO") {
		log.Printf("[INFO] "+format, args...)
	}
}

func (l *Logger) Warnf(format string, args ...any) {
	if l.enabled("WARN") {
		log.Printf("[WARN] "+format, args...)
	}
}

func (l *Logger) Errorf(format string, args ...any) {
	log.Printf("[ERROR] "+format, args...)
}

// startDailyRotation forces a rotation at the configured local time.
// lumberjack handles size-triggered rotation and retention on its own.
func (l *Logger) startDailyRotation(rotationTime string) {
	hour, minute, err := parseClock(rotationTime)
	if err != nil {
		hour, minute = 0, 0
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			now := time.Now()
			next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
			if !next.After(now) {
				next = next.Add(24 * time.Hour)
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-l.quit:
				timer.Stop()
				return
			case <-timer.C:
				if err := l.sink.Rotate(); err != nil {
					log.Printf("[ERROR] Log rotation failed: %v", err)
				}
			}
		}
	}()
}

// Close stops the rotation ticker and closes the file sink.
func (l *Logger) Close() error {
	close(l.quit)
	l.wg.Wait()
	return l.sink.Close()
}

func parseClock(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid rotation time %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid rotation hour %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid rotation minute %q", s)
	}
	return hour, minute, nil
}
