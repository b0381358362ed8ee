package streaming

import (
	"encoding/json"
	"net/http"
	"time"
)

// ProgressiveWriter streams a JSON array element by element so clients
// can render rows before the query finishes. On error an {"error": ...}
// object is appended before the closing bracket.
type ProgressiveWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	stream  *Stream
	timeout time.Duration

	opened   bool
	wroteAny bool
	failed   bool
}

func NewProgressiveWriter(w http.ResponseWriter, stream *Stream, slowClientTimeout time.Duration) *ProgressiveWriter {
	if slowClientTimeout <= 0 {
		slowClientTimeout = 2 * time.Second
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	return &ProgressiveWriter{
		w:       w,
		rc:      http.NewResponseController(w),
		stream:  stream,
		timeout: slowClientTimeout,
	}
}

func (p *ProgressiveWriter) open() bool {
	if p.opened {
		return true
	}
	p.opened = true
	return writeWithDeadline(p.rc, p.w, []byte("["), p.timeout, p.stream)
}

// WriteItem appends one array element. Returns false when the client is
// gone and the producer should stop.
func (p *ProgressiveWriter) WriteItem(v any) bool {
	if p.failed {
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		p.stream.AddError()
		return true
	}
	if !p.open() {
		p.failed = true
		return false
	}
	if p.wroteAny {
		data = append([]byte(","), data...)
	}
	p.wroteAny = true
	if !writeWithDeadline(p.rc, p.w, data, p.timeout, p.stream) {
		p.failed = true
		return false
	}
	return true
}

// WriteError appends the mid-stream error object. The array is still
// closed by Close so the client receives valid JSON.
func (p *ProgressiveWriter) WriteError(err error) {
	p.WriteItem(map[string]string{"error": err.Error()})
}

// Close terminates the array. Safe to call once after any outcome.
func (p *ProgressiveWriter) Close() {
	if p.failed {
		return
	}
	if !p.open() {
		return
	}
	writeWithDeadline(p.rc, p.w, []byte("]"), p.timeout, p.stream)
}
