package imagecache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image/jpeg"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/image/bmp"
)

// Variant selects what the cache hands back for a source image.
type Variant string

const (
	VariantOriginal Variant = "original"
	VariantJPG      Variant = "jpg"
)

const (
	jpegQuality    = 85
	maxEntryAge    = 7 * 24 * time.Hour
	maxTotalBytes  = 1 << 30 // 1 GiB
	sweepInterval  = time.Hour
	defaultEntries = 4096
)

// Entry is the metadata kept per cached file. Invariant: while an entry
// is in the map its CachePath exists on disk; eviction deletes the map
// entry before unlinking.
type Entry struct {
	SourcePath  string    `json:"source_path"`
	SourceMTime time.Time `json:"source_mtime"`
	SourceSize  int64     `json:"source_size"`
	Variant     Variant   `json:"variant"`
	CachePath   string    `json:"cache_path"`
	ContentType string    `json:"content_type"`
	LastAccess  time.Time `json:"last_access"`
}

// Stats are the cache counters served by /api/image-cache/stats.
type Stats struct {
	Hits           int64     `json:"hits"`
	Misses         int64     `json:"misses"`
	Errors         int64     `json:"errors"`
	CachedFiles    int       `json:"cached_files"`
	TotalSizeBytes int64     `json:"total_size_bytes"`
	LastCleanup    time.Time `json:"last_cleanup"`
}

// Cache converts and serves inspection images out of a dedicated
// directory. BMP sources requested as jpg are transcoded at quality 85;
// everything else is copied through.
type Cache struct {
	dir string

	mu          sync.Mutex
	entries     *lru.Cache[string, *Entry]
	hits        int64
	misses      int64
	errors      int64
	lastCleanup time.Time
	lastSweep   time.Time
}

func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	c := &Cache{dir: dir}
	entries, err := lru.NewWithEvict[string, *Entry](defaultEntries, func(_ string, e *Entry) {
		// Map removal already happened inside the LRU; unlink after.
		os.Remove(e.CachePath)
	})
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// key derives the cache identity from the source identity: a changed
// mtime or size yields a different key, so stale entries age out rather
// than serve old pixels.
func key(sourcePath string, mtime time.Time, size int64, variant Variant) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d:%d:%s", sourcePath, mtime.UnixNano(), size, variant)))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) cacheFileName(sourcePath, hash string, variant Variant) string {
	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	ext := filepath.Ext(sourcePath)
	if variant == VariantJPG {
		ext = ".jpg"
	}
	return filepath.Join(c.dir, fmt.Sprintf("%s_%s%s", base, hash, ext))
}

// Get returns the cached rendition of sourcePath, producing it on miss.
func (c *Cache) Get(sourcePath string, variant Variant) (*Entry, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		c.mu.Lock()
		c.errors++
		c.mu.Unlock()
		return nil, fmt.Errorf("stat source: %w", err)
	}

	k := key(sourcePath, info.ModTime(), info.Size(), variant)

	c.mu.Lock()
	if e, ok := c.entries.Get(k); ok {
		if _, err := os.Stat(e.CachePath); err == nil {
			e.LastAccess = time.Now()
			c.hits++
			c.mu.Unlock()
			c.maybeSweep()
			return e, nil
		}
		// Disk lost the file behind our back; treat as a miss.
		c.entries.Remove(k)
	}
	c.misses++
	c.mu.Unlock()

	e, err := c.produce(sourcePath, info, variant, k)
	if err != nil {
		c.mu.Lock()
		c.errors++
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	c.entries.Add(k, e)
	c.mu.Unlock()
	c.maybeSweep()
	return e, nil
}

func (c *Cache) produce(sourcePath string, info os.FileInfo, variant Variant, hash string) (*Entry, error) {
	cachePath := c.cacheFileName(sourcePath, hash, variant)

	isBMP := strings.EqualFold(filepath.Ext(sourcePath), ".bmp")
	contentType := contentTypeFor(sourcePath)

	if variant == VariantJPG && isBMP {
		if err := transcodeBMPToJPEG(sourcePath, cachePath); err != nil {
			return nil, err
		}
		contentType = "image/jpeg"
	} else {
		if err := copyFile(sourcePath, cachePath); err != nil {
			return nil, err
		}
	}

	return &Entry{
		SourcePath:  sourcePath,
		SourceMTime: info.ModTime(),
		SourceSize:  info.Size(),
		Variant:     variant,
		CachePath:   cachePath,
		ContentType: contentType,
		LastAccess:  time.Now(),
	}, nil
}

func transcodeBMPToJPEG(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	img, err := bmp.Decode(in)
	if err != nil {
		return fmt.Errorf("decode bmp: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		os.Remove(dst)
		return fmt.Errorf("encode jpeg: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		os.Remove(dst)
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".bmp":
		return "image/bmp"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// maybeSweep runs the eviction pass at most once per hour.
func (c *Cache) maybeSweep() {
	c.mu.Lock()
	due := time.Since(c.lastSweep) >= sweepInterval
	if due {
		c.lastSweep = time.Now()
	}
	c.mu.Unlock()

	if due {
		c.Cleanup()
	}
}

// Cleanup evicts entries older than 7 days, then oldest-first until total
// size is under budget. Also callable on demand via the API. Sizes are
// collected without the lock; Get may run concurrently throughout.
func (c *Cache) Cleanup() (removed int) {
	type aged struct {
		key  string
		e    *Entry
		size int64
	}

	c.mu.Lock()
	keys := c.entries.Keys()
	live := make([]aged, 0, len(keys))
	for _, k := range keys {
		if e, ok := c.entries.Peek(k); ok {
			live = append(live, aged{key: k, e: e})
		}
	}
	c.mu.Unlock()

	var total int64
	for i := range live {
		if info, err := os.Stat(live[i].e.CachePath); err == nil {
			live[i].size = info.Size()
		}
		total += live[i].size
	}

	c.mu.Lock()
	cutoff := time.Now().Add(-maxEntryAge)
	for _, a := range live {
		if !a.e.LastAccess.Before(cutoff) {
			continue
		}
		if _, ok := c.entries.Peek(a.key); !ok {
			continue
		}
		c.entries.Remove(a.key) // evict callback unlinks
		total -= a.size
		removed++
	}

	if total > maxTotalBytes {
		sort.Slice(live, func(i, j int) bool {
			return live[i].e.LastAccess.Before(live[j].e.LastAccess)
		})
		for _, a := range live {
			if total <= maxTotalBytes {
				break
			}
			if _, ok := c.entries.Peek(a.key); !ok {
				continue
			}
			c.entries.Remove(a.key)
			total -= a.size
			removed++
		}
	}

	c.lastCleanup = time.Now()
	c.mu.Unlock()

	if removed > 0 {
		log.Printf("Image cache: cleanup removed %d entries", removed)
	}
	return removed
}

// Stats reports the counters. The per-file size scan runs outside the
// lock.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	paths := make([]string, 0, c.entries.Len())
	for _, k := range c.entries.Keys() {
		if e, ok := c.entries.Peek(k); ok {
			paths = append(paths, e.CachePath)
		}
	}
	st := Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Errors:      c.errors,
		CachedFiles: len(paths),
		LastCleanup: c.lastCleanup,
	}
	c.mu.Unlock()

	for _, p := range paths {
		if info, err := os.Stat(p); err == nil {
			st.TotalSizeBytes += info.Size()
		}
	}
	return st
}
