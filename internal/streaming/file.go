package streaming

import (
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// FileOptions come from the streaming.file config section.
type FileOptions struct {
	ChunkBytes        int
	SlowClientTimeout time.Duration
}

func (o *FileOptions) applyDefaults() {
	if o.ChunkBytes <= 0 {
		o.ChunkBytes = 64 * 1024
	}
	if o.SlowClientTimeout <= 0 {
		o.SlowClientTimeout = 2 * time.Second
	}
}

// ServeFile streams path in fixed-size chunks with a per-write deadline.
// contentType must already be resolved by the caller.
func ServeFile(w http.ResponseWriter, r *http.Request, path, contentType string, reg *Registry, opts FileOptions) {
	opts.applyDefaults()

	f, err := os.Open(path)
	if err != nil {
		http.Error(w, "file not readable", http.StatusNotFound)
		return
	}
	defer f.Close()

	stream := reg.Register(KindFile, r.RemoteAddr)
	defer reg.Unregister(stream.ID)

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")

	rc := http.NewResponseController(w)
	buf := make([]byte, opts.ChunkBytes)

	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		n, err := f.Read(buf)
		if n > 0 {
			if !writeWithDeadline(rc, w, buf[:n], opts.SlowClientTimeout, stream) {
				log.Printf("[WARN] Streaming: file %s client slow or gone", stream.ID)
				return
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			stream.AddError()
			log.Printf("[ERROR] Streaming: file %s read: %v", stream.ID, err)
			return
		}
	}
}
