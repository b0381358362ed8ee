package camera

import "sync"

// DefaultRingSize bounds the continuous-mode buffer when the configured
// buffer_duration * buffer_fps is not available.
const DefaultRingSize = 300

// Ring is a fixed-capacity frame queue. Append drops the oldest frame on
// overflow. Single producer in practice, any number of consumers.
type Ring struct {
	mu     sync.Mutex
	frames []*Frame
	head   int // index of oldest
	count  int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &Ring{frames: make([]*Frame, capacity)}
}

// Append inserts a frame, evicting the oldest when full. O(1).
func (r *Ring) Append(f *Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tail := (r.head + r.count) % len(r.frames)
	r.frames[tail] = f
	if r.count == len(r.frames) {
		r.head = (r.head + 1) % len(r.frames)
	} else {
		r.count++
	}
}

// Snapshot returns the current contents oldest-first. The returned slice
// is owned by the caller; the frames are shared read-only.
func (r *Ring) Snapshot() []*Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Frame, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.frames[(r.head+i)%len(r.frames)]
	}
	return out
}

// Latest returns the newest frame, or nil when empty.
func (r *Ring) Latest() *Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil
	}
	return r.frames[(r.head+r.count-1)%len(r.frames)]
}

// Clear empties the ring in one step.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.frames {
		r.frames[i] = nil
	}
	r.head = 0
	r.count = 0
}

// Len reports the number of buffered frames.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap reports the fixed capacity.
func (r *Ring) Cap() int {
	return len(r.frames)
}
