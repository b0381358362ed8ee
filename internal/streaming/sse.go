package streaming

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/sensor"
)

// SensorBroker fans sensor notifications out to SSE subscribers. It
// implements sensor.Listener; slow subscribers lose notifications rather
// than blocking the machine.
type SensorBroker struct {
	mu   sync.Mutex
	subs map[chan sensor.Notification]struct{}
}

func NewSensorBroker() *SensorBroker {
	return &SensorBroker{subs: make(map[chan sensor.Notification]struct{})}
}

func (b *SensorBroker) OnSensorUpdate(n sensor.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- n:
		default:
			// Subscriber buffer full; drop rather than block.
		}
	}
}

// Subscribe returns a buffered notification channel and its cancel func.
func (b *SensorBroker) Subscribe() (<-chan sensor.Notification, func()) {
	ch := make(chan sensor.Notification, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *SensorBroker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// SSEOptions come from the streaming.sse config section.
type SSEOptions struct {
	Heartbeat         time.Duration
	SlowClientTimeout time.Duration
}

func (o *SSEOptions) applyDefaults() {
	if o.Heartbeat <= 0 {
		o.Heartbeat = 15 * time.Second
	}
	if o.SlowClientTimeout <= 0 {
		o.SlowClientTimeout = 2 * time.Second
	}
}

type sensorStatePayload struct {
	State         sensor.State       `json:"state"`
	Sequence      []sensor.EventType `json:"sequence"`
	LastEventTime string             `json:"last_event_time"`
}

type decisionPayload struct {
	Decision sensor.Decision `json:"decision"`
	At       string          `json:"at"`
}

// ServeSensorSSE streams sensor-state and decision events. The reconnect
// id is the monotonic count of events emitted on this stream.
func ServeSensorSSE(w http.ResponseWriter, r *http.Request, broker *SensorBroker, machine *sensor.Machine, reg *Registry, opts SSEOptions) {
	opts.applyDefaults()

	stream := reg.Register(KindSSE, r.RemoteAddr)
	defer reg.Unregister(stream.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	rc := http.NewResponseController(w)
	notifications, cancel := broker.Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(opts.Heartbeat)
	defer heartbeat.Stop()

	var eventID uint64

	// Open with the current machine state so clients render immediately.
	state, seq, last := machine.Snapshot()
	eventID++
	if !emitSSE(rc, w, eventID, "sensor-state", sensorStatePayload{
		State:         state,
		Sequence:      seq,
		LastEventTime: formatEventTime(last),
	}, opts.SlowClientTimeout, stream) {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if !writeWithDeadline(rc, w, []byte(": keepalive\n\n"), opts.SlowClientTimeout, stream) {
				return
			}
		case n := <-notifications:
			eventID++
			var ok bool
			if n.Decision != nil {
				ok = emitSSE(rc, w, eventID, "decision", decisionPayload{
					Decision: *n.Decision,
					At:       n.At.Format(time.RFC3339Nano),
				}, opts.SlowClientTimeout, stream)
			} else {
				ok = emitSSE(rc, w, eventID, "sensor-state", sensorStatePayload{
					State:         n.State,
					Sequence:      n.Sequence,
					LastEventTime: formatEventTime(n.At),
				}, opts.SlowClientTimeout, stream)
			}
			if !ok {
				return
			}
		}
	}
}

func emitSSE(rc *http.ResponseController, w http.ResponseWriter, id uint64, event string, payload any, timeout time.Duration, stream *Stream) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[ERROR] Streaming: sse marshal %s: %v", event, err)
		stream.AddError()
		return true
	}
	msg := fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return writeWithDeadline(rc, w, []byte(msg), timeout, stream)
}

func formatEventTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
