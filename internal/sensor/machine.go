package sensor

import (
	"log"
	"sync"
	"time"
)

// State of the two-beam machine.
type State string

const (
	StateIdle        State = "IDLE"
	StateAActive     State = "A_ACTIVE"
	StateBActive     State = "B_ACTIVE"
	StateAThenB      State = "A_THEN_B"
	StateBThenA      State = "B_THEN_A"
	StateAOnly       State = "A_ONLY"
	StateBOnly       State = "B_ONLY"
	StateAOnlyReturn State = "A_ONLY_RETURN"
	StateBOnlyReturn State = "B_ONLY_RETURN"
)

// Decision is the terminal outcome of one object pass. Only
// DecisionPassLeftToRight triggers persistence downstream.
type Decision string

const (
	DecisionPassLeftToRight Decision = "pass_left_to_right"
	DecisionPassRightToLeft Decision = "pass_right_to_left"
	DecisionReturnFromLeft  Decision = "return_from_left"
	DecisionReturnFromRight Decision = "return_from_right"
	DecisionError           Decision = "error"
	DecisionTimeout         Decision = "timeout"
)

// Notification is delivered to the listener on every decision and on
// every non-terminal state change (Decision nil).
type Notification struct {
	Decision *Decision
	State    State
	Sequence []EventType
	At       time.Time
}

// Listener receives machine notifications. The pass-left-to-right decision
// is delivered synchronously, blocking event processing until the handler
// returns; everything else arrives on a fresh goroutine and must not rely
// on ordering against the machine.
type Listener interface {
	OnSensorUpdate(Notification)
}

// ListenerFunc adapts a function to the Listener capability.
type ListenerFunc func(Notification)

func (f ListenerFunc) OnSensorUpdate(n Notification) { f(n) }

const (
	// InactivityTimeout forces an error reset when events stall mid-pass.
	InactivityTimeout = 30 * time.Second
	// MaxSequenceLength bounds chatter before an error reset.
	MaxSequenceLength = 5
)

// Machine consumes beam edge events from a single feeder and emits at
// most one decision per object pass. All methods are safe for concurrent
// use, but events must arrive from one goroutine to keep total order.
type Machine struct {
	mu            sync.Mutex
	state         State
	sequence      []EventType
	lastEventTime time.Time
	listener      Listener

	timeout time.Duration
	now     func() time.Time
}

func NewMachine(listener Listener) *Machine {
	return &Machine{
		state:    StateIdle,
		listener: listener,
		timeout:  InactivityTimeout,
		now:      time.Now,
	}
}

// Snapshot returns the current state for status endpoints and SSE.
func (m *Machine) Snapshot() (State, []EventType, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := make([]EventType, len(m.sequence))
	copy(seq, m.sequence)
	return m.state, seq, m.lastEventTime
}

// ProcessEdges derives edges from two consecutive beam samples and feeds
// them, A before B.
func (m *Machine) ProcessEdges(curA, curB, prevA, prevB bool) {
	for _, ev := range DeriveEdges(curA, curB, prevA, prevB, m.now()) {
		m.HandleEvent(ev)
	}
}

// HandleEvent applies one edge event.
func (m *Machine) HandleEvent(ev Event) {
	m.mu.Lock()

	// Stalled mid-pass: the arriving event is consumed by the reset.
	if m.state != StateIdle && !m.lastEventTime.IsZero() && ev.At.Sub(m.lastEventTime) > m.timeout {
		log.Printf("[WARN] Sensor: %v since last event in state %s, resetting", ev.At.Sub(m.lastEventTime), m.state)
		m.emitLocked(DecisionError, ev.At)
		m.mu.Unlock()
		return
	}

	m.lastEventTime = ev.At
	m.sequence = append(m.sequence, ev.Type)
	if len(m.sequence) > MaxSequenceLength {
		log.Printf("[WARN] Sensor: sequence exceeded %d events without a decision, resetting", MaxSequenceLength)
		m.emitLocked(DecisionError, ev.At)
		m.mu.Unlock()
		return
	}

	next, decision, recognized := transition(m.state, ev.Type)
	if !recognized {
		m.mu.Unlock()
		return
	}

	if decision != nil {
		m.emitLocked(*decision, ev.At)
		m.mu.Unlock()
		return
	}

	m.state = next
	n := Notification{State: next, Sequence: append([]EventType(nil), m.sequence...), At: ev.At}
	m.mu.Unlock()

	// Non-terminal state change: never block the feeder.
	go m.listener.OnSensorUpdate(n)
}

// CheckTimeout emits a timeout decision when the machine sits non-idle
// with no events for longer than the inactivity window. Called by the
// background monitor; event-arrival staleness is handled in HandleEvent.
func (m *Machine) CheckTimeout() {
	m.mu.Lock()
	if m.state == StateIdle || m.lastEventTime.IsZero() || m.now().Sub(m.lastEventTime) <= m.timeout {
		m.mu.Unlock()
		return
	}
	log.Printf("[WARN] Sensor: inactivity timeout in state %s", m.state)
	m.emitLocked(DecisionTimeout, m.now())
	m.mu.Unlock()
}

// emitLocked resets to IDLE and dispatches the decision. Caller holds the
// mutex. The pass-left-to-right callback runs synchronously under the lock
// so persistence is serialized against the next event; every other
// decision goes to a worker.
func (m *Machine) emitLocked(d Decision, at time.Time) {
	seq := m.sequence
	m.sequence = nil
	m.state = StateIdle

	dec := d
	n := Notification{Decision: &dec, State: StateIdle, Sequence: seq, At: at}

	if d == DecisionPassLeftToRight {
		m.listener.OnSensorUpdate(n)
		return
	}
	go m.listener.OnSensorUpdate(n)
}

// transition implements the state × event table. recognized=false means
// the cell is blank and the event is ignored.
func transition(s State, e EventType) (next State, decision *Decision, recognized bool) {
	d := func(dec Decision) (State, *Decision, bool) { return StateIdle, &dec, true }
	to := func(st State) (State, *Decision, bool) { return st, nil, true }
	ignore := func() (State, *Decision, bool) { return s, nil, false }

	switch s {
	case StateIdle:
		switch e {
		case EventAOn:
			return to(StateAActive)
		case EventBOn:
			return to(StateBActive)
		}
	case StateAActive:
		switch e {
		case EventAOff:
			return d(DecisionReturnFromRight)
		case EventBOn:
			return to(StateAThenB)
		case EventBOff:
			return d(DecisionError)
		}
	case StateBActive:
		switch e {
		case EventAOn:
			return to(StateBThenA)
		case EventAOff:
			return d(DecisionError)
		case EventBOff:
			return d(DecisionReturnFromLeft)
		}
	case StateAThenB:
		switch e {
		case EventAOff:
			return to(StateBOnly)
		case EventBOff:
			return to(StateAOnlyReturn)
		}
	case StateBThenA:
		switch e {
		case EventAOff:
			return to(StateBOnlyReturn)
		case EventBOff:
			return to(StateAOnly)
		}
	case StateAOnly:
		switch e {
		case EventAOff:
			return d(DecisionPassRightToLeft)
		case EventBOn:
			return d(DecisionReturnFromLeft)
		}
	case StateBOnly:
		switch e {
		case EventAOn:
			return d(DecisionReturnFromRight)
		case EventBOff:
			return d(DecisionPassLeftToRight)
		}
	case StateAOnlyReturn:
		switch e {
		case EventAOff:
			return d(DecisionReturnFromRight)
		case EventBOn:
			return d(DecisionError)
		}
	case StateBOnlyReturn:
		switch e {
		case EventAOn:
			return d(DecisionError)
		case EventBOff:
			return d(DecisionReturnFromLeft)
		}
	}
	return ignore()
}
