package sensor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects notifications; decisions also land on a channel so
// tests can wait for the worker-dispatched ones.
type recorder struct {
	mu        sync.Mutex
	decisions []Decision
	states    []State
	ch        chan Decision
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Decision, 16)}
}

func (r *recorder) OnSensorUpdate(n Notification) {
	r.mu.Lock()
	if n.Decision != nil {
		r.decisions = append(r.decisions, *n.Decision)
	} else {
		r.states = append(r.states, n.State)
	}
	r.mu.Unlock()
	if n.Decision != nil {
		r.ch <- *n.Decision
	}
}

func (r *recorder) waitDecision(t *testing.T) Decision {
	t.Helper()
	select {
	case d := <-r.ch:
		return d
	case <-time.After(time.Second):
		t.Fatal("no decision emitted")
		return ""
	}
}

func feed(m *Machine, at time.Time, types ...EventType) {
	for _, typ := range types {
		m.HandleEvent(Event{Type: typ, At: at})
		at = at.Add(10 * time.Millisecond)
	}
}

func TestMachine_HappyPassLeftToRight(t *testing.T) {
	rec := newRecorder()
	m := NewMachine(rec)

	feed(m, time.Now(), EventAOn, EventBOn, EventAOff, EventBOff)

	assert.Equal(t, DecisionPassLeftToRight, rec.waitDecision(t))
	state, seq, _ := m.Snapshot()
	assert.Equal(t, StateIdle, state)
	assert.Empty(t, seq)
}

func TestMachine_PassRightToLeft(t *testing.T) {
	rec := newRecorder()
	m := NewMachine(rec)

	feed(m, time.Now(), EventBOn, EventAOn, EventBOff, EventAOff)
	assert.Equal(t, DecisionPassRightToLeft, rec.waitDecision(t))
}

func TestMachine_RetreatFromLeft(t *testing.T) {
	rec := newRecorder()
	m := NewMachine(rec)

	feed(m, time.Now(), EventAOn, EventAOff)
	assert.Equal(t, DecisionReturnFromRight, rec.waitDecision(t))
}

func TestMachine_RetreatFromRight(t *testing.T) {
	rec := newRecorder()
	m := NewMachine(rec)

	feed(m, time.Now(), EventBOn, EventBOff)
	assert.Equal(t, DecisionReturnFromLeft, rec.waitDecision(t))
}

func TestMachine_JitterIsError(t *testing.T) {
	rec := newRecorder()
	m := NewMachine(rec)

	feed(m, time.Now(), EventAOn, EventBOff)
	assert.Equal(t, DecisionError, rec.waitDecision(t))
	state, _, _ := m.Snapshot()
	assert.Equal(t, StateIdle, state)
}

func TestMachine_DeepRetreats(t *testing.T) {
	cases := []struct {
		name   string
		events []EventType
		want   Decision
	}{
		{"backs out after covering both, left entry", []EventType{EventAOn, EventBOn, EventBOff, EventAOff}, DecisionReturnFromRight},
		{"backs out after covering both, right entry", []EventType{EventBOn, EventAOn, EventAOff, EventBOff}, DecisionReturnFromLeft},
		{"re-enters the cleared beam mid-pass", []EventType{EventAOn, EventBOn, EventAOff, EventAOn}, DecisionReturnFromRight},
		{"impossible edge in return phase", []EventType{EventAOn, EventBOn, EventBOff, EventBOn}, DecisionError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := newRecorder()
			m := NewMachine(rec)
			feed(m, time.Now(), tc.events...)
			assert.Equal(t, tc.want, rec.waitDecision(t))
		})
	}
}

func TestMachine_IgnoredEventsDoNotTransition(t *testing.T) {
	rec := newRecorder()
	m := NewMachine(rec)

	feed(m, time.Now(), EventAOff) // blank cell from IDLE
	state, seq, _ := m.Snapshot()
	assert.Equal(t, StateIdle, state)
	assert.Len(t, seq, 1, "ignored events still count against the chatter guard")
}

func TestMachine_SequenceGuard(t *testing.T) {
	rec := newRecorder()
	m := NewMachine(rec)

	// Six edges with no terminal decision: chatter on a single beam.
	feed(m, time.Now(), EventAOn, EventAOn, EventAOn, EventAOn, EventAOn, EventAOn)

	assert.Equal(t, DecisionError, rec.waitDecision(t))
	state, seq, _ := m.Snapshot()
	assert.Equal(t, StateIdle, state)
	assert.Empty(t, seq)
}

func TestMachine_StaleEventYieldsError(t *testing.T) {
	rec := newRecorder()
	m := NewMachine(rec)

	start := time.Now()
	m.HandleEvent(Event{Type: EventAOn, At: start})
	m.HandleEvent(Event{Type: EventBOn, At: start.Add(31 * time.Second)})

	assert.Equal(t, DecisionError, rec.waitDecision(t))
	state, _, _ := m.Snapshot()
	assert.Equal(t, StateIdle, state)
}

func TestMachine_CheckTimeout(t *testing.T) {
	rec := newRecorder()
	m := NewMachine(rec)

	now := time.Now()
	m.HandleEvent(Event{Type: EventAOn, At: now.Add(-31 * time.Second)})
	m.now = func() time.Time { return now }

	m.CheckTimeout()
	assert.Equal(t, DecisionTimeout, rec.waitDecision(t))

	// Idle machines never time out.
	m.CheckTimeout()
	select {
	case d := <-rec.ch:
		t.Fatalf("unexpected decision %s", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMachine_PassCallbackIsSynchronous(t *testing.T) {
	done := make(chan struct{})
	m := NewMachine(ListenerFunc(func(n Notification) {
		if n.Decision != nil && *n.Decision == DecisionPassLeftToRight {
			// Runs on the feeder goroutine before HandleEvent returns.
			time.Sleep(20 * time.Millisecond)
			close(done)
		}
	}))

	feed(m, time.Now(), EventAOn, EventBOn, EventAOff, EventBOff)

	select {
	case <-done:
	default:
		t.Fatal("pass decision handler did not complete before HandleEvent returned")
	}
}

func TestMachine_StateChangeNotifications(t *testing.T) {
	rec := newRecorder()
	m := NewMachine(rec)

	feed(m, time.Now(), EventAOn, EventBOn)

	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.states) == 2
	}, time.Second, 5*time.Millisecond)

	state, seq, _ := m.Snapshot()
	assert.Equal(t, StateAThenB, state)
	assert.Equal(t, []EventType{EventAOn, EventBOn}, seq)
}

func TestDeriveEdges_OrderAndCount(t *testing.T) {
	at := time.Now()

	events := DeriveEdges(true, true, false, false, at)
	require.Len(t, events, 2)
	assert.Equal(t, EventAOn, events[0].Type)
	assert.Equal(t, EventBOn, events[1].Type)

	events = DeriveEdges(false, true, true, true, at)
	require.Len(t, events, 1)
	assert.Equal(t, EventAOff, events[0].Type)

	assert.Empty(t, DeriveEdges(true, false, true, false, at))
}

func TestMachine_ProcessEdges(t *testing.T) {
	rec := newRecorder()
	m := NewMachine(rec)

	m.ProcessEdges(true, false, false, false) // A-ON
	m.ProcessEdges(true, true, true, false)   // B-ON
	m.ProcessEdges(false, true, true, true)   // A-OFF
	m.ProcessEdges(false, false, false, true) // B-OFF

	assert.Equal(t, DecisionPassLeftToRight, rec.waitDecision(t))
}
