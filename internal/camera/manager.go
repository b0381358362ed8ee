package camera

import (
	"log"
	"sync"
	"time"
)

// Manager arbitrates the single physical camera. At most one driver
// instance exists at any time; callers hold it only through refcounted
// Acquire/Release.
type Manager struct {
	mu     sync.Mutex
	driver Driver
	kind   Kind
	users  map[string]time.Time

	newDriver func(Kind, Options) (Driver, error)
	opts      func() Options
	ring      *Ring
}

// Status is the manager snapshot returned under the lock.
type Status struct {
	Kind        Kind     `json:"kind"`
	IsConnected bool     `json:"is_connected"`
	Users       []string `json:"users"`
	UserCount   int      `json:"user_count"`
}

// NewManager builds the process-wide manager. optsFn is read at each
// driver construction so config reloads apply to the next switch.
func NewManager(ring *Ring, optsFn func() Options) *Manager {
	return &Manager{
		users:     make(map[string]time.Time),
		newDriver: New,
		opts:      optsFn,
		ring:      ring,
	}
}

// Ring exposes the continuous-mode frame buffer shared with the streams.
func (m *Manager) Ring() *Ring {
	return m.ring
}

// Acquire registers userID and returns the active driver, constructing or
// hot-switching as needed. Construction falls back industrial→webcam→dummy;
// a driver object is always returned even when connect fails, so callers
// can inspect IsConnected.
func (m *Manager) Acquire(kind Kind, userID string) Driver {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.driver != nil && m.kind != kind {
		log.Printf("Camera manager: switching %s -> %s (requested by %s)", m.kind, kind, userID)
		m.driver.Disconnect()
		m.driver = nil
	}

	if m.driver == nil {
		m.driver, m.kind = m.construct(kind)
		if !m.driver.Connect() {
			log.Printf("[ERROR] Camera manager: connect failed for %s driver", m.kind)
		}
	}

	if _, ok := m.users[userID]; !ok {
		m.users[userID] = time.Now()
	}
	return m.driver
}

// construct tries the requested kind, then webcam, then dummy. Called with
// the mutex held.
func (m *Manager) construct(kind Kind) (Driver, Kind) {
	opts := m.opts()
	opts.Ring = m.ring

	d, err := m.newDriver(kind, opts)
	if err == nil {
		return d, kind
	}
	log.Printf("[WARN] Camera manager: %s backend unavailable (%v), falling back to webcam", kind, err)

	if kind != KindWebcam {
		if d, err = m.newDriver(KindWebcam, opts); err == nil {
			return d, KindWebcam
		}
		log.Printf("[WARN] Camera manager: webcam backend unavailable (%v), falling back to dummy", err)
	}

	d, _ = m.newDriver(KindDummy, opts)
	return d, KindDummy
}

// Release removes userID. Releasing an unknown user is a no-op. When the
// last user leaves, the driver is disconnected and dropped.
func (m *Manager) Release(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; !ok {
		return
	}
	delete(m.users, userID)

	if len(m.users) == 0 && m.driver != nil {
		log.Printf("Camera manager: last user %s released, disconnecting %s driver", userID, m.kind)
		m.driver.Disconnect()
		m.driver = nil
		m.kind = ""
	}
}

// Active returns the current driver without acquiring, or nil.
func (m *Manager) Active() Driver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.driver
}

// Status reports the manager state under the lock.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]string, 0, len(m.users))
	for u := range m.users {
		users = append(users, u)
	}

	st := Status{
		Users:     users,
		UserCount: len(users),
	}
	if m.driver != nil {
		st.Kind = m.kind
		st.IsConnected = m.driver.IsConnected()
	}
	return st
}
