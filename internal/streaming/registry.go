package streaming

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Kind labels one stream family.
type Kind string

const (
	KindCamera     Kind = "camera"
	KindSSE        Kind = "sse"
	KindFile       Kind = "file"
	KindInspection Kind = "inspection"
	KindAnalysis   Kind = "analysis"
)

// ewmaWindow is the throughput averaging horizon.
const ewmaWindow = 60 * time.Second

// Stream is one live registration. Counter methods are safe for the
// single producer that owns the stream plus concurrent snapshot readers.
type Stream struct {
	ID             string    `json:"stream_id"`
	Kind           Kind      `json:"kind"`
	ClientEndpoint string    `json:"client_endpoint"`
	StartedAt      time.Time `json:"started_at"`

	mu            sync.Mutex
	bytesSent     int64
	messagesSent  int64
	errors        int64
	lastActivity  time.Time
	throughputBPS float64

	deadlineWarn sync.Once

	registry *Registry
}

// WarnNoDeadline logs once per stream when the response writer rejects
// write deadlines: the slow-client policy cannot fire on such a writer,
// and that should be visible rather than silent.
func (s *Stream) WarnNoDeadline(err error) {
	s.deadlineWarn.Do(func() {
		log.Printf("[WARN] Streaming: %s stream %s does not support write deadlines, slow-client close disabled: %v",
			s.Kind, s.ID, err)
	})
}

// StreamSnapshot is the read-only view served by the monitoring API.
type StreamSnapshot struct {
	ID             string    `json:"stream_id"`
	Kind           Kind      `json:"kind"`
	ClientEndpoint string    `json:"client_endpoint"`
	StartedAt      time.Time `json:"started_at"`
	BytesSent      int64     `json:"bytes_sent"`
	MessagesSent   int64     `json:"messages_sent"`
	Errors         int64     `json:"errors"`
	LastActivity   time.Time `json:"last_activity"`
	DurationSec    float64   `json:"connection_duration_sec"`
	ThroughputBPS  float64   `json:"throughput_bps"`
}

// AddBytes records one successful write of n bytes and folds it into the
// exponentially weighted throughput.
func (s *Stream) AddBytes(n int) {
	now := time.Now()
	s.mu.Lock()
	s.bytesSent += int64(n)
	s.messagesSent++
	if !s.lastActivity.IsZero() {
		dt := now.Sub(s.lastActivity).Seconds()
		if dt > 0 {
			instant := float64(n) / dt
			alpha := 1 - math.Exp(-dt/ewmaWindow.Seconds())
			s.throughputBPS += alpha * (instant - s.throughputBPS)
		}
	}
	s.lastActivity = now
	s.mu.Unlock()

	if s.registry != nil {
		s.registry.bytesTotal.WithLabelValues(string(s.Kind)).Add(float64(n))
		s.registry.messagesTotal.WithLabelValues(string(s.Kind)).Inc()
	}
}

// AddError records a failed write.
func (s *Stream) AddError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()

	if s.registry != nil {
		s.registry.errorsTotal.WithLabelValues(string(s.Kind)).Inc()
	}
}

func (s *Stream) snapshot() StreamSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StreamSnapshot{
		ID:             s.ID,
		Kind:           s.Kind,
		ClientEndpoint: s.ClientEndpoint,
		StartedAt:      s.StartedAt,
		BytesSent:      s.bytesSent,
		MessagesSent:   s.messagesSent,
		Errors:         s.errors,
		LastActivity:   s.lastActivity,
		DurationSec:    time.Since(s.StartedAt).Seconds(),
		ThroughputBPS:  s.throughputBPS,
	}
}

// Registry tracks every live stream. The set of registrations equals the
// set of producer goroutines that will eventually call Unregister.
type Registry struct {
	mu      sync.Mutex
	streams map[string]*Stream

	activeStreams *prometheus.GaugeVec
	bytesTotal    *prometheus.CounterVec
	messagesTotal *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
}

// NewRegistry wires the stream gauges into reg. reg may be nil in tests.
func NewRegistry(reg *prometheus.Registry) *Registry {
	r := &Registry{streams: make(map[string]*Stream)}

	r.activeStreams = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "oin_streams_active",
		Help: "Currently open streams by kind",
	}, []string{"kind"})

	r.bytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oin_stream_bytes_sent_total",
		Help: "Bytes written to stream clients",
	}, []string{"kind"})

	r.messagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oin_stream_messages_sent_total",
		Help: "Messages/frames written to stream clients",
	}, []string{"kind"})

	r.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oin_stream_errors_total",
		Help: "Failed stream writes",
	}, []string{"kind"})

	if reg != nil {
		reg.MustRegister(r.activeStreams, r.bytesTotal, r.messagesTotal, r.errorsTotal)
	}
	return r
}

// Register creates a registration. The caller owns the returned stream
// and must Unregister it on the same code path that closes the client.
func (r *Registry) Register(kind Kind, clientEndpoint string) *Stream {
	s := &Stream{
		ID:             uuid.New().String(),
		Kind:           kind,
		ClientEndpoint: clientEndpoint,
		StartedAt:      time.Now(),
		lastActivity:   time.Now(),
		registry:       r,
	}

	r.mu.Lock()
	r.streams[s.ID] = s
	r.mu.Unlock()

	r.activeStreams.WithLabelValues(string(kind)).Inc()
	log.Printf("[DEBUG] Streaming: %s stream %s opened for %s", kind, s.ID, clientEndpoint)
	return s
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	s, ok := r.streams[id]
	if ok {
		delete(r.streams, id)
	}
	r.mu.Unlock()

	if ok {
		r.activeStreams.WithLabelValues(string(s.Kind)).Dec()
		snap := s.snapshot()
		log.Printf("[DEBUG] Streaming: %s stream %s closed (%d bytes, %d msgs, %d errs)",
			s.Kind, s.ID, snap.BytesSent, snap.MessagesSent, snap.Errors)
	}
}

// Count reports live registrations.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// Snapshot returns every live stream's counters.
func (r *Registry) Snapshot() []StreamSnapshot {
	r.mu.Lock()
	streams := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.mu.Unlock()

	out := make([]StreamSnapshot, 0, len(streams))
	for _, s := range streams {
		out = append(out, s.snapshot())
	}
	return out
}

// Summary aggregates counters across live streams.
type Summary struct {
	ActiveStreams int          `json:"active_streams"`
	ByKind        map[Kind]int `json:"by_kind"`
	BytesSent     int64        `json:"bytes_sent"`
	MessagesSent  int64        `json:"messages_sent"`
	Errors        int64        `json:"errors"`
	ThroughputBPS float64      `json:"throughput_bps"`
}

func (r *Registry) Summary() Summary {
	snaps := r.Snapshot()
	sum := Summary{ByKind: make(map[Kind]int)}
	for _, s := range snaps {
		sum.ActiveStreams++
		sum.ByKind[s.Kind]++
		sum.BytesSent += s.BytesSent
		sum.MessagesSent += s.MessagesSent
		sum.Errors += s.Errors
		sum.ThroughputBPS += s.ThroughputBPS
	}
	return sum
}
