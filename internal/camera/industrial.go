package camera

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"time"
)

// industrialDriver talks to the vendor capture gateway, a standalone
// binary shipped with the camera SDK that emits rawvideo rgb24 on stdout.
// Without the SDK installed the driver cannot be constructed and the
// manager falls back.
type industrialDriver struct {
	base
	gateway string
}

// SDKGatewayEnv overrides the vendor gateway binary location.
const SDKGatewayEnv = "OIN_SDK_GATEWAY"

func newIndustrial(opts Options) (*industrialDriver, error) {
	gateway := os.Getenv(SDKGatewayEnv)
	if gateway == "" {
		gateway = "oin-camera-gateway"
	}
	resolved, err := exec.LookPath(gateway)
	if err != nil {
		return nil, fmt.Errorf("industrial camera SDK not installed (%s): %w", gateway, err)
	}

	d := &industrialDriver{gateway: resolved}
	d.opts = opts
	d.mode = ModeSnapshot
	return d, nil
}

func (d *industrialDriver) Kind() Kind { return KindIndustrial }

// Connect probes the gateway with vendor-style retries. Retries live here,
// never in GetFrame.
func (d *industrialDriver) Connect() bool {
	const attempts = 3
	for i := 1; i <= attempts; i++ {
		if err := d.probe(); err != nil {
			log.Printf("[WARN] Industrial: connect attempt %d/%d failed: %v", i, attempts, err)
			time.Sleep(time.Duration(i) * 200 * time.Millisecond)
			continue
		}
		d.setConnected(true)
		return true
	}
	d.setConnected(false)
	return false
}

func (d *industrialDriver) Disconnect() bool {
	d.stopPump()
	d.setConnected(false)
	return true
}

func (d *industrialDriver) SetMode(mode Mode) error {
	return d.setMode(mode, d.GetFrame)
}

// GetFrame performs exactly one acquisition. A transient failure marks the
// driver disconnected; the caller owns reconnection.
func (d *industrialDriver) GetFrame() *Frame {
	if !d.IsConnected() {
		return nil
	}
	frame, err := d.capture()
	if err != nil {
		log.Printf("[ERROR] Industrial: frame acquisition failed: %v", err)
		d.setConnected(false)
		return nil
	}
	return frame
}

func (d *industrialDriver) WriteFrame(dir string) (string, error) {
	return d.writeFrame(dir, d.GetFrame())
}

func (d *industrialDriver) SetParams(params map[string]any) error {
	d.setParams(params)
	return nil
}

func (d *industrialDriver) probe() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.ConnectionTimeout)
	defer cancel()
	return exec.CommandContext(ctx, d.gateway, "--probe").Run()
}

func (d *industrialDriver) capture() (*Frame, error) {
	d.mu.Lock()
	width, height := d.opts.Width, d.opts.Height
	timeout := d.opts.ConnectionTimeout
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.gateway,
		"--capture",
		"--format", "rgb24",
		"--size", fmt.Sprintf("%dx%d", width, height),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("gateway capture failed: %w (stderr: %s)", err, lastLine(stderr.String()))
	}

	want := width * height * 3
	if stdout.Len() < want {
		return nil, fmt.Errorf("short frame from gateway: got %d bytes, want %d", stdout.Len(), want)
	}

	return &Frame{
		Pixels:      stdout.Bytes()[:want],
		Width:       width,
		Height:      height,
		TimestampUS: NowMicros(),
	}, nil
}
