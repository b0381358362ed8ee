package monitor

import "sync"

// Status is a component health level.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is one component's self-report.
type Check struct {
	Status  Status         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// CheckFunc produces a component check on demand.
type CheckFunc func() Check

// component pairs a check with its criticality: only critical components
// can pull the overall status down to unhealthy.
type component struct {
	check    CheckFunc
	critical bool
}

// Health aggregates component checks into one rollup.
type Health struct {
	mu         sync.Mutex
	components map[string]component
}

func NewHealth() *Health {
	return &Health{components: make(map[string]component)}
}

func (h *Health) Register(name string, critical bool, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = component{check: check, critical: critical}
}

// Report runs every check. Overall is unhealthy if any critical
// component is unhealthy, degraded if anything is degraded (or a
// non-critical component is unhealthy), else healthy.
type Report struct {
	Status     Status           `json:"status"`
	Components map[string]Check `json:"components"`
}

func (h *Health) Report() Report {
	h.mu.Lock()
	names := make(map[string]component, len(h.components))
	for n, c := range h.components {
		names[n] = c
	}
	h.mu.Unlock()

	rep := Report{Status: StatusHealthy, Components: make(map[string]Check, len(names))}
	for name, comp := range names {
		chk := comp.check()
		rep.Components[name] = chk

		switch chk.Status {
		case StatusUnhealthy:
			if comp.critical {
				rep.Status = StatusUnhealthy
			} else if rep.Status != StatusUnhealthy {
				rep.Status = StatusDegraded
			}
		case StatusDegraded:
			if rep.Status == StatusHealthy {
				rep.Status = StatusDegraded
			}
		}
	}
	return rep
}
