// Package circuitbreaker backs off keys that keep failing: after threshold
// consecutive failures a key is refused for a cool-down, then one probe is
// let through.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State is the breaker state for one key.
type State int

const (
	StateClosed   State = iota // calls flow
	StateOpen                  // calls refused until the cool-down ends
	StateHalfOpen              // one probe in flight
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Transitions counts state changes per breaker name. Keys are not labels:
// they are unbounded (commit ids).
var Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gymops",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by breaker, from-state, and to-state.",
}, []string{"breaker", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(Transitions)
}

type entry struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks consecutive failures per key.
type Breaker struct {
	name     string
	mu       sync.Mutex
	entries  map[string]*entry
	limit    int
	coolDown time.Duration
	now      func() time.Time
}

// New creates a breaker that opens a key after threshold consecutive
// failures and keeps it open for coolDown.
func New(name string, threshold int, coolDown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if coolDown <= 0 {
		coolDown = 10 * time.Minute
	}
	return &Breaker{
		name:     name,
		entries:  make(map[string]*entry),
		limit:    threshold,
		coolDown: coolDown,
		now:      time.Now,
	}
}

// WithClock replaces the wall clock.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Allow reports whether a call for key may proceed. An open key whose
// cool-down has passed moves to half-open and admits one probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return true
	}
	switch e.state {
	case StateOpen:
		if b.now().Sub(e.lastFailure) >= b.coolDown {
			b.transition(e, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess closes key and forgets its history.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[key]; ok {
		b.transition(e, StateClosed)
		delete(b.entries, key)
	}
}

// RecordFailure counts a failure for key, opening it at the threshold or
// reopening it after a failed probe.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[key] = e
	}
	e.failures++
	e.lastFailure = b.now()

	switch {
	case e.state == StateHalfOpen:
		b.transition(e, StateOpen)
	case e.state == StateClosed && e.failures >= b.limit:
		b.transition(e, StateOpen)
	}
}

// Forget drops key without recording an outcome.
func (b *Breaker) Forget(key string) {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
}

// State returns the state of key; unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[key]; ok {
		return e.state
	}
	return StateClosed
}

// Len returns how many keys have failure history.
func (b *Breaker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// transition must be called with b.mu held.
func (b *Breaker) transition(e *entry, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	Transitions.WithLabelValues(b.name, from.String(), to.String()).Inc()
}
