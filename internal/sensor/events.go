package sensor

import "time"

// EventType is one raw beam edge. A is the left beam, B the right beam.
type EventType string

const (
	EventAOn  EventType = "A-ON"
	EventAOff EventType = "A-OFF"
	EventBOn  EventType = "B-ON"
	EventBOff EventType = "B-OFF"
)

// Event is an edge with its observation time.
type Event struct {
	Type EventType
	At   time.Time
}

// DeriveEdges compares two polled beam samples and returns the 0-2 edge
// events between them, A before B.
func DeriveEdges(curA, curB, prevA, prevB bool, at time.Time) []Event {
	events := make([]Event, 0, 2)
	if curA != prevA {
		if curA {
			events = append(events, Event{Type: EventAOn, At: at})
		} else {
			events = append(events, Event{Type: EventAOff, At: at})
		}
	}
	if curB != prevB {
		if curB {
			events = append(events, Event{Type: EventBOn, At: at})
		} else {
			events = append(events, Event{Type: EventBOff, At: at})
		}
	}
	return events
}
