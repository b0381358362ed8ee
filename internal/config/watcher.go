package config

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StartWatcher monitors the settings file and reloads on change. fsnotify
// is primary; a slow mtime poll runs as safety net for filesystems where
// the watch never fires.
func (s *Store) StartWatcher(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false

	if err != nil {
		log.Printf("[WARN] Config watcher: fsnotify failed (%v), falling back to polling", err)
		usePolling = true
	} else if err := watcher.Add(s.path); err != nil {
		log.Printf("[WARN] Config watcher: cannot watch %s (%v), falling back to polling", s.path, err)
		usePolling = true
		watcher.Close()
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						// Editors write in bursts; let the file settle.
						time.Sleep(100 * time.Millisecond)
						if err := s.Reload(); err != nil {
							log.Printf("[ERROR] Config watcher: reload failed: %v", err)
						} else {
							log.Printf("Config watcher: settings reloaded from %s", s.path)
						}
					}
				case werr, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("[ERROR] Config watcher: %v", werr)
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()

		var lastMtime time.Time
		if info, err := os.Stat(s.path); err == nil {
			lastMtime = info.ModTime()
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(s.path)
				if err != nil {
					continue
				}
				if info.ModTime().After(lastMtime) {
					lastMtime = info.ModTime()
					if err := s.Reload(); err != nil {
						log.Printf("[ERROR] Config poller: reload failed: %v", err)
					}
				}
			}
		}
	}()
}
