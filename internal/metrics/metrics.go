// Package metrics defines the metrics provider contract and an in-memory
// implementation used by tests and the default server build.
package metrics

import (
	"sort"
	"strings"
	"sync"
)

// Provider records counters, gauges, and observations.
type Provider interface {
	Increment(name string, labels map[string]string)
	Gauge(name string, labels map[string]string, value float64)
	Observe(name string, labels map[string]string, value float64)
}

// Noop discards all metrics.
type Noop struct{}

func (Noop) Increment(string, map[string]string)          {}
func (Noop) Gauge(string, map[string]string, float64)     {}
func (Noop) Observe(string, map[string]string, float64)   {}

var _ Provider = Noop{}

// InMemory accumulates metrics in process. Counter reads back support the
// idempotence checks in tests ("zero writes on the second run").
type InMemory struct {
	mu       sync.Mutex
	counters map[string]int64
	gauges   map[string]float64
	observed map[string][]float64
}

// NewInMemory creates an empty in-memory metrics provider.
func NewInMemory() *InMemory {
	return &InMemory{
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
		observed: make(map[string][]float64),
	}
}

func (m *InMemory) Increment(name string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[seriesKey(name, labels)]++
}

func (m *InMemory) Gauge(name string, labels map[string]string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[seriesKey(name, labels)] = value
}

func (m *InMemory) Observe(name string, labels map[string]string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := seriesKey(name, labels)
	m.observed[key] = append(m.observed[key], value)
}

// Counter returns the current value of a counter series.
func (m *InMemory) Counter(name string, labels map[string]string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[seriesKey(name, labels)]
}

// CounterTotal sums every series of a counter regardless of labels.
func (m *InMemory) CounterTotal(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	for key, v := range m.counters {
		if key == name || strings.HasPrefix(key, name+"{") {
			total += v
		}
	}
	return total
}

var _ Provider = (*InMemory)(nil)

// seriesKey renders name{k=v,...} with sorted label keys.
func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
	}
	sb.WriteByte('}')
	return sb.String()
}
