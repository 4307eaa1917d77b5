package logging

import "sync"

// Counter keys published by the simulation and transport layers.
const (
	MetricStepsAdvanced   = "steps_advanced"
	MetricCommandsIssued  = "commands_issued"
	MetricCommandsDropped = "commands_dropped"
	MetricCardsFired      = "cards_fired"
	MetricBranchesCreated = "branches_created"
	MetricFeedClients     = "feed_clients"
	MetricLogPublished    = "log_events_published"
	MetricLogDropped      = "log_events_dropped"
)

// Metrics is a process-wide counter set. The zero value is ready to use.
type Metrics struct {
	mu       sync.RWMutex
	counters map[string]uint64
}

func (m *Metrics) TelemetryAdd(key string, delta uint64) {
	if m == nil || key == "" {
		return
	}
	m.mu.Lock()
	if m.counters == nil {
		m.counters = make(map[string]uint64)
	}
	m.counters[key] += delta
	m.mu.Unlock()
}

func (m *Metrics) TelemetryStore(key string, value uint64) {
	if m == nil || key == "" {
		return
	}
	m.mu.Lock()
	if m.counters == nil {
		m.counters = make(map[string]uint64)
	}
	m.counters[key] = value
	m.mu.Unlock()
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]uint64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}
