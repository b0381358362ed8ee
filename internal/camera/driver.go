package camera

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/image/bmp"
)

type Kind string

const (
	KindIndustrial Kind = "industrial"
	KindWebcam     Kind = "webcam"
	KindDummy      Kind = "dummy"
)

type Mode string

const (
	ModeSnapshot   Mode = "snapshot"
	ModeContinuous Mode = "continuous"
)

// Driver is the capability set every backend exposes. GetFrame returns nil
// on transient failure after marking the instance disconnected; the caller
// decides whether to reconnect.
type Driver interface {
	Connect() bool
	Disconnect() bool
	IsConnected() bool
	Kind() Kind
	SetMode(Mode) error
	Mode() Mode
	GetFrame() *Frame
	WriteFrame(dir string) (string, error)
	SetParams(map[string]any) error
}

// Options configure driver construction.
type Options struct {
	Device            string // webcam device node, e.g. /dev/video0
	Width             int
	Height            int
	FPS               int // continuous-mode acquisition rate
	ConnectionTimeout time.Duration
	Ring              *Ring // continuous-mode sink; may be nil
}

func (o *Options) applyDefaults() {
	if o.Device == "" {
		o.Device = "/dev/video0"
	}
	if o.Width <= 0 {
		o.Width = 640
	}
	if o.Height <= 0 {
		o.Height = 480
	}
	if o.FPS <= 0 {
		o.FPS = 30
	}
	if o.ConnectionTimeout <= 0 {
		o.ConnectionTimeout = 5 * time.Second
	}
}

// New constructs a driver for kind. Construction fails when the backend's
// prerequisites (SDK, device node) are absent; the manager handles
// fallback.
func New(kind Kind, opts Options) (Driver, error) {
	opts.applyDefaults()
	switch kind {
	case KindIndustrial:
		return newIndustrial(opts)
	case KindWebcam:
		return newWebcam(opts)
	case KindDummy:
		return newDummy(opts), nil
	}
	return nil, fmt.Errorf("unknown camera kind %q", kind)
}

// base carries the mode/pump machinery shared by all variants. The
// embedding driver supplies acquire() for the periodic loop.
type base struct {
	mu        sync.Mutex
	connected bool
	mode      Mode
	opts      Options

	pumpQuit chan struct{}
	pumpWG   sync.WaitGroup
	frameSeq int
}

func (b *base) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *base) setConnected(v bool) {
	b.mu.Lock()
	b.connected = v
	b.mu.Unlock()
}

// Mode reports the current acquisition mode. Streams use it to choose
// between the ring and a direct poll.
func (b *base) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mode == "" {
		return ModeSnapshot
	}
	return b.mode
}

// SetMode transitions between snapshot and continuous acquisition.
// Transitions are idempotent. getFrame is the embedding driver's method
// value, so the pump survives across the variants.
func (b *base) setMode(mode Mode, getFrame func() *Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if mode != ModeSnapshot && mode != ModeContinuous {
		return fmt.Errorf("unknown camera mode %q", mode)
	}
	if b.mode == mode {
		return nil
	}

	if mode == ModeContinuous {
		b.pumpQuit = make(chan struct{})
		b.pumpWG.Add(1)
		go b.pump(b.pumpQuit, getFrame)
	} else if b.pumpQuit != nil {
		close(b.pumpQuit)
		b.pumpQuit = nil
	}
	b.mode = mode
	return nil
}

func (b *base) stopPump() {
	b.mu.Lock()
	if b.pumpQuit != nil {
		close(b.pumpQuit)
		b.pumpQuit = nil
	}
	b.mode = ModeSnapshot
	b.mu.Unlock()
	b.pumpWG.Wait()
}

func (b *base) pump(quit chan struct{}, getFrame func() *Frame) {
	defer b.pumpWG.Done()

	interval := time.Second / time.Duration(b.opts.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			if b.opts.Ring == nil {
				continue
			}
			if f := getFrame(); f != nil {
				b.opts.Ring.Append(f)
			}
		}
	}
}

// writeFrame persists f as BMP under dir/yyyymmdd/. Returns the path.
func (b *base) writeFrame(dir string, f *Frame) (string, error) {
	if f == nil {
		return "", fmt.Errorf("no frame available")
	}
	if err := f.Validate(); err != nil {
		return "", err
	}

	b.mu.Lock()
	b.frameSeq++
	seq := b.frameSeq
	b.mu.Unlock()

	dated := filepath.Join(dir, time.Now().Format("20060102"))
	if err := os.MkdirAll(dated, 0o755); err != nil {
		return "", fmt.Errorf("creating capture directory: %w", err)
	}

	name := fmt.Sprintf("frame%03d_%d.bmp", seq, f.TimestampUS)
	path := filepath.Join(dated, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating capture file: %w", err)
	}
	defer file.Close()

	if err := bmp.Encode(file, f.ToImage()); err != nil {
		// Partial file is worse than no file.
		os.Remove(path)
		return "", fmt.Errorf("encoding capture: %w", err)
	}

	log.Printf("Camera: wrote capture %s", path)
	return path, nil
}

func (b *base) setParams(params map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, val := range params {
		switch key {
		case "width":
			if w, ok := asInt(val); ok && w > 0 {
				b.opts.Width = w
			}
		case "height":
			if h, ok := asInt(val); ok && h > 0 {
				b.opts.Height = h
			}
		case "fps":
			if fps, ok := asInt(val); ok && fps > 0 {
				b.opts.FPS = fps
			}
		case "device":
			if d, ok := val.(string); ok && d != "" {
				b.opts.Device = d
			}
		}
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
