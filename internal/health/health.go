// Package health runs named readiness checks for the server's dependencies:
// the database, the plan catalog, and background loops.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is the result of one check.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Checker probes one dependency.
type Checker func(ctx context.Context) Status

// Report aggregates every check. Healthy is false if any check failed.
type Report struct {
	Healthy bool     `json:"healthy"`
	Checks  []Status `json:"checks"`
}

// Registry holds checkers in registration order. Registering an existing
// name replaces its checker in place.
type Registry struct {
	mu     sync.RWMutex
	names  []string
	checks map[string]Checker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Checker)}
}

// Register adds or replaces the checker for name.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.checks[name]; !ok {
		r.names = append(r.names, name)
	}
	r.checks[name] = check
}

// Len returns the number of registered checks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// Check runs all checkers concurrently and waits for them.
func (r *Registry) Check(ctx context.Context) Report {
	r.mu.RLock()
	names := append([]string(nil), r.names...)
	checks := make([]Checker, len(names))
	for i, n := range names {
		checks[i] = r.checks[n]
	}
	r.mu.RUnlock()

	statuses := make([]Status, len(names))
	var wg sync.WaitGroup
	for i := range checks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := time.Now()
			st := checks[i](ctx)
			st.Name = names[i]
			st.LatencyMS = time.Since(start).Milliseconds()
			statuses[i] = st
		}(i)
	}
	wg.Wait()

	rep := Report{Healthy: true, Checks: statuses}
	for _, st := range statuses {
		if !st.Healthy {
			rep.Healthy = false
		}
	}
	return rep
}
