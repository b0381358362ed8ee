package streaming

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/camera"
)

// MJPEGOptions come from the streaming.camera config section plus the
// slow-client policy.
type MJPEGOptions struct {
	FrameRate         int           // 1..30
	Quality           int           // 10..100
	SlowClientTimeout time.Duration // per-write deadline
}

func (o *MJPEGOptions) applyDefaults() {
	if o.FrameRate < 1 || o.FrameRate > 30 {
		o.FrameRate = 10
	}
	if o.Quality < 10 || o.Quality > 100 {
		o.Quality = 85
	}
	if o.SlowClientTimeout <= 0 {
		o.SlowClientTimeout = 2 * time.Second
	}
}

// maxNilFrames is how many consecutive empty reads end the stream.
const maxNilFrames = 5

// ServeMJPEG pushes multipart/x-mixed-replace JPEG parts until the client
// disconnects, the source dries up, or the client is classified slow.
// Returns when the stream is fully unregistered.
func ServeMJPEG(w http.ResponseWriter, r *http.Request, source func() *camera.Frame, reg *Registry, opts MJPEGOptions) {
	opts.applyDefaults()

	stream := reg.Register(KindCamera, r.RemoteAddr)
	defer reg.Unregister(stream.ID)

	mimeWriter := multipart.NewWriter(w)
	defer mimeWriter.Close()

	w.Header().Set("Connection", "close")
	w.Header().Set("Cache-Control", "no-store, no-cache")
	w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace;boundary=%s", mimeWriter.Boundary()))

	rc := http.NewResponseController(w)
	ticker := time.NewTicker(time.Second / time.Duration(opts.FrameRate))
	defer ticker.Stop()

	var (
		nilFrames     int
		heartbeats    int
		lastHeartbeat time.Time
		buf           bytes.Buffer
	)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		frame := source()
		if frame == nil {
			nilFrames++
			if nilFrames >= maxNilFrames {
				// Source dried up; this is a clean close.
				log.Printf("Streaming: mjpeg %s closing after %d empty reads", stream.ID, nilFrames)
				return
			}
			if time.Since(lastHeartbeat) >= time.Second {
				heartbeats++
				lastHeartbeat = time.Now()
				hb := fmt.Sprintf("--%s\r\nX-Heartbeat: %d\r\n\r\n", mimeWriter.Boundary(), heartbeats)
				if !writeWithDeadline(rc, w, []byte(hb), opts.SlowClientTimeout, stream) {
					return
				}
			}
			continue
		}
		nilFrames = 0

		buf.Reset()
		if err := jpeg.Encode(&buf, frame.ToImage(), &jpeg.Options{Quality: opts.Quality}); err != nil {
			log.Printf("[ERROR] Streaming: mjpeg %s encode: %v", stream.ID, err)
			stream.AddError()
			continue
		}

		if err := rc.SetWriteDeadline(time.Now().Add(opts.SlowClientTimeout)); err != nil {
			stream.WarnNoDeadline(err)
		}

		partHeader := make(textproto.MIMEHeader)
		partHeader.Set("Content-Type", "image/jpeg")
		partHeader.Set("Content-Length", strconv.Itoa(buf.Len()))

		partWriter, err := mimeWriter.CreatePart(partHeader)
		if err != nil {
			stream.AddError()
			log.Printf("[WARN] Streaming: mjpeg %s slow or gone at part header: %v", stream.ID, err)
			return
		}
		if _, err := partWriter.Write(buf.Bytes()); err != nil {
			stream.AddError()
			log.Printf("[WARN] Streaming: mjpeg %s slow or gone: %v", stream.ID, err)
			return
		}
		rc.Flush()
		stream.AddBytes(buf.Len())
	}
}

// writeWithDeadline performs one deadline-bounded raw write. Returns
// false when the stream should close.
func writeWithDeadline(rc *http.ResponseController, w http.ResponseWriter, p []byte, timeout time.Duration, stream *Stream) bool {
	if err := rc.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		stream.WarnNoDeadline(err)
	}
	if _, err := w.Write(p); err != nil {
		stream.AddError()
		return false
	}
	rc.Flush()
	stream.AddBytes(len(p))
	return true
}
