// Package metrics tracks cache hit/miss counters per generation service and
// exports them through an aggregation registry and Prometheus.
package metrics

import (
	"fmt"
	"slices"
	"sync"

	"github.com/goccy/go-json"
)

// NoTrafficHitRate is reported when a service has seen no lookups yet.
const NoTrafficHitRate = "0.00"

// Snapshot is a point-in-time view of one service's cache counters.
type Snapshot struct {
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Total   int64  `json:"total"`
	HitRate string `json:"hitRate"`
}

// NewSnapshot builds a snapshot, deriving Total and HitRate from the counters.
func NewSnapshot(hits, misses int64) Snapshot {
	total := hits + misses
	return Snapshot{
		Hits:    hits,
		Misses:  misses,
		Total:   total,
		HitRate: FormatHitRate(hits, total),
	}
}

// FormatHitRate returns hits/total*100 with two decimals, or NoTrafficHitRate when total is zero.
func FormatHitRate(hits, total int64) string {
	if total <= 0 {
		return NoTrafficHitRate
	}
	return fmt.Sprintf("%.2f", float64(hits)/float64(total)*100)
}

// SnapshotFunc reads the current counters of a service.
type SnapshotFunc func() (Snapshot, error)

// ServiceMetrics is one entry of an aggregation: either a snapshot or the error that prevented reading it.
type ServiceMetrics struct {
	Snapshot
	Error string
}

// MarshalJSON renders a failed read as {"error": "..."}.
func (s ServiceMetrics) MarshalJSON() ([]byte, error) {
	if s.Error != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{Error: s.Error})
	}
	return json.Marshal(s.Snapshot)
}

// Aggregated is the response body of the cache metrics endpoint.
type Aggregated struct {
	Services map[string]ServiceMetrics `json:"services"`
	Overall  Snapshot                  `json:"overall"`
}

// Registry maps service names to snapshot functions. It only holds the functions;
// unregistering a service leaves that service's counters untouched.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]SnapshotFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]SnapshotFunc)}
}

// Register adds fn under name, replacing any earlier registration.
func (r *Registry) Register(name string, fn SnapshotFunc) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = fn
}

// Unregister removes name from the registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, name)
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Reset drops every registration.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = make(map[string]SnapshotFunc)
}

// Aggregate reads every registered service. A service whose read fails is
// reported with its error and left out of the overall roll-up.
func (r *Registry) Aggregate() Aggregated {
	r.mu.RLock()
	sources := make(map[string]SnapshotFunc, len(r.sources))
	for name, fn := range r.sources {
		sources[name] = fn
	}
	r.mu.RUnlock()

	out := Aggregated{Services: make(map[string]ServiceMetrics, len(sources))}

	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	slices.Sort(names)

	var hits, misses int64
	for _, name := range names {
		snap, err := read(sources[name])
		if err != nil {
			msg := err.Error()
			if msg == "" {
				msg = "unknown error"
			}
			out.Services[name] = ServiceMetrics{Error: msg}
			continue
		}
		out.Services[name] = ServiceMetrics{Snapshot: snap}
		hits += snap.Hits
		misses += snap.Misses
	}
	out.Overall = NewSnapshot(hits, misses)
	return out
}

// read calls fn, turning a panic into an error so one broken source cannot abort the aggregation.
func read(fn SnapshotFunc) (snap Snapshot, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("metrics source panicked: %v", rec)
		}
	}()
	return fn()
}
