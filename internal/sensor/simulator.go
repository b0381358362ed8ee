package sensor

import (
	"log"
	"math/rand"
	"sync"
	"time"
)

// Simulator replaces the physical beam pair in SENSOR.simulation_mode.
// It drives the machine with synthetic object passes at the polling
// cadence the real hardware reader would use.
type Simulator struct {
	machine  *Machine
	interval time.Duration

	quit chan struct{}
	wg   sync.WaitGroup

	mu           sync.Mutex
	curA, curB   bool
	prevA, prevB bool
}

// NewSimulator polls at interval (the UI polling cadence works well).
func NewSimulator(m *Machine, interval time.Duration) *Simulator {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Simulator{
		machine:  m,
		interval: interval,
		quit:     make(chan struct{}),
	}
}

func (s *Simulator) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("Sensor simulator: started (interval %v)", s.interval)
}

func (s *Simulator) Stop() {
	close(s.quit)
	s.wg.Wait()
}

// Inject sets the simulated beam states; the next poll derives the edges.
// Used by the simulate endpoint.
func (s *Simulator) Inject(a, b bool) {
	s.mu.Lock()
	s.curA, s.curB = a, b
	s.mu.Unlock()
}

func (s *Simulator) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Occasionally run a whole scripted pass so an idle bench still
	// produces inspection traffic.
	autoPass := time.NewTicker(15 * time.Second)
	defer autoPass.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-autoPass.C:
			s.scriptPass()
		case <-ticker.C:
			s.mu.Lock()
			curA, curB := s.curA, s.curB
			prevA, prevB := s.prevA, s.prevB
			s.prevA, s.prevB = curA, curB
			s.mu.Unlock()

			if curA != prevA || curB != prevB {
				s.machine.ProcessEdges(curA, curB, prevA, prevB)
			}
		}
	}
}

// scriptPass walks the beam states of a left-to-right traversal with a
// little timing jitter.
func (s *Simulator) scriptPass() {
	steps := []struct{ a, b bool }{
		{true, false},  // enters left beam
		{true, true},   // covers both
		{false, true},  // clears left beam
		{false, false}, // clears right beam
	}
	for _, st := range steps {
		select {
		case <-s.quit:
			return
		case <-time.After(time.Duration(50+rand.Intn(150)) * time.Millisecond):
			s.Inject(st.a, st.b)
		}
	}
}
