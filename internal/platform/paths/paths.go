package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultDataRoot   = "data"
	DefaultLogRoot    = "log"
	DefaultConfigRoot = "config"
)

// ResolveDataRoot returns the directory holding captures, the image cache
// and the SQLite database. Overridable for tests and packaging.
func ResolveDataRoot() string {
	if root := os.Getenv("OIN_DATA_ROOT"); root != "" {
		return root
	}
	return DefaultDataRoot
}

// ResolveLogRoot returns the directory for rotating application logs.
func ResolveLogRoot() string {
	if root := os.Getenv("OIN_LOG_ROOT"); root != "" {
		return root
	}
	return DefaultLogRoot
}

// ResolveConfigPath returns the settings file path. CONFIG_DIR matches the
// historical deployment layout.
func ResolveConfigPath(customPath string) string {
	if customPath != "" {
		return customPath
	}
	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = DefaultConfigRoot
	}
	return filepath.Join(dir, "settings.yaml")
}

// InspectionImagesRoot is where the capture gate persists frames,
// one dated subdirectory per day.
func InspectionImagesRoot() string {
	return filepath.Join(ResolveDataRoot(), "images", "inspection")
}

// ImageCacheRoot holds converted/cached image variants.
func ImageCacheRoot() string {
	return filepath.Join(ResolveDataRoot(), "image_cache")
}

// DatabasePath is the SQLite file backing the inspection tables.
func DatabasePath() string {
	return filepath.Join(ResolveDataRoot(), "sqlite.db")
}

// EnsureDirs creates the standard data subdirectories if they don't exist.
func EnsureDirs() error {
	dirs := []string{
		ResolveDataRoot(),
		InspectionImagesRoot(),
		ImageCacheRoot(),
		ResolveLogRoot(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return nil
}

// SafeJoin joins parts under root and rejects any traversal outside it.
func SafeJoin(root string, parts ...string) (string, error) {
	joined := filepath.Join(append([]string{root}, parts...)...)
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if absJoined != absRoot && !strings.HasPrefix(absJoined, absRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes root: %s", joined)
	}
	return joined, nil
}
