package camera

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"
)

// webcamDriver drives a V4L2 device (or an HTTP/RTSP source) through
// ffmpeg, pulling single rawvideo rgb24 frames on demand.
type webcamDriver struct {
	base
}

func newWebcam(opts Options) (*webcamDriver, error) {
	if !isNetworkSource(opts.Device) {
		if _, err := os.Stat(opts.Device); err != nil {
			return nil, fmt.Errorf("webcam device %s not available: %w", opts.Device, err)
		}
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("webcam backend requires ffmpeg: %w", err)
	}
	d := &webcamDriver{}
	d.opts = opts
	d.mode = ModeSnapshot
	return d, nil
}

func isNetworkSource(device string) bool {
	return strings.HasPrefix(device, "http://") ||
		strings.HasPrefix(device, "https://") ||
		strings.HasPrefix(device, "rtsp://")
}

func (d *webcamDriver) Kind() Kind { return KindWebcam }

func (d *webcamDriver) Connect() bool {
	if _, err := d.capture(); err != nil {
		log.Printf("[ERROR] Webcam: connect capture failed: %v", err)
		d.setConnected(false)
		return false
	}
	d.setConnected(true)
	return true
}

func (d *webcamDriver) Disconnect() bool {
	d.stopPump()
	d.setConnected(false)
	return true
}

func (d *webcamDriver) SetMode(mode Mode) error {
	return d.setMode(mode, d.GetFrame)
}

// GetFrame acquires one frame. On failure it makes a single reconnect
// attempt with a 500 ms pause between release and reopen; a second
// failure marks the driver disconnected and returns nil.
func (d *webcamDriver) GetFrame() *Frame {
	if !d.IsConnected() {
		return nil
	}

	frame, err := d.capture()
	if err == nil {
		return frame
	}
	log.Printf("[WARN] Webcam: frame acquisition failed, reconnecting: %v", err)

	d.setConnected(false)
	time.Sleep(500 * time.Millisecond)

	frame, err = d.capture()
	if err != nil {
		log.Printf("[ERROR] Webcam: reconnect capture failed: %v", err)
		return nil
	}
	d.setConnected(true)
	return frame
}

func (d *webcamDriver) WriteFrame(dir string) (string, error) {
	return d.writeFrame(dir, d.GetFrame())
}

func (d *webcamDriver) SetParams(params map[string]any) error {
	d.setParams(params)
	return nil
}

func (d *webcamDriver) capture() (*Frame, error) {
	d.mu.Lock()
	device := d.opts.Device
	width, height := d.opts.Width, d.opts.Height
	timeout := d.opts.ConnectionTimeout
	d.mu.Unlock()

	var args []string
	size := fmt.Sprintf("%dx%d", width, height)
	if isNetworkSource(device) {
		args = []string{"-y", "-i", device}
	} else {
		args = []string{"-y", "-f", "v4l2", "-video_size", size, "-i", device}
	}
	args = append(args,
		"-vframes", "1",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", size,
		"-",
	)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w (stderr: %s)", err, lastLine(stderr.String()))
	}

	want := width * height * 3
	if stdout.Len() < want {
		return nil, fmt.Errorf("short frame: got %d bytes, want %d", stdout.Len(), want)
	}

	return &Frame{
		Pixels:      stdout.Bytes()[:want],
		Width:       width,
		Height:      height,
		TimestampUS: NowMicros(),
	}, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
