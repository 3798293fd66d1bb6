package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
)

// Monitor aggregates the health of named components. It is safe for
// concurrent use by handler goroutines and background tasks.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update records the status for a component, replacing any previous one.
func (m *Monitor) Update(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status.Component] = status
}

// SetHealthy records a component as healthy.
func (m *Monitor) SetHealthy(component, message string) {
	m.Update(NewHealthy(component, message))
}

// SetDegraded records a component as degraded.
func (m *Monitor) SetDegraded(component, message string) {
	m.Update(NewDegraded(component, message))
}

// SetUnhealthy records a component as unhealthy.
func (m *Monitor) SetUnhealthy(component, message string) {
	m.Update(NewUnhealthy(component, message))
}

// Get returns the status of one component.
func (m *Monitor) Get(component string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[component]
	return s, ok
}

// Remove forgets a component.
func (m *Monitor) Remove(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, component)
}

// Aggregate rolls component statuses into one system status: unhealthy if
// any component is unhealthy, degraded if any is degraded, healthy
// otherwise. Components are listed in name order.
func (m *Monitor) Aggregate(system string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	agg := NewHealthy(system, "")
	for _, name := range names {
		s := m.statuses[name]
		agg.SubStatuses = append(agg.SubStatuses, s)
		switch {
		case s.State == StateUnhealthy:
			agg.State = StateUnhealthy
			agg.Healthy = false
		case s.IsDegraded() && agg.IsHealthy():
			agg.State = StateDegraded
			agg.Healthy = false
		}
	}
	return agg
}

// Handler serves the aggregated status as JSON. Unhealthy yields 503 so
// load balancers and orchestrators can act on the probe directly; degraded
// still answers 200.
func (m *Monitor) Handler(system string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		agg := m.Aggregate(system)
		w.Header().Set("Content-Type", "application/json")
		if agg.State == StateUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(agg)
	})
}
