// Package circuitbreaker guards calls to risk collaborators (profile store,
// transaction history, sanctions screening) with a per-collaborator breaker.
// An open breaker is reported as ErrOpen; the decision engine treats that
// like any other collaborator failure and falls back to its most
// conservative outcome.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Execute when the breaker rejects the call.
var ErrOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

var stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "riskgate",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by collaborator, from-state, and to-state.",
}, []string{"collaborator", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(stateTransitions)
}

type entry struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker trips a collaborator open after threshold consecutive failures.
// After cooldown one trial request is let through (half-open); its result closes or
// re-opens the circuit.
type Breaker struct {
	mu        sync.Mutex
	entries   map[string]*entry
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// New creates a breaker. Non-positive arguments fall back to 5 failures and 30s.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		entries:   make(map[string]*entry),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Execute runs fn if the collaborator's circuit allows it and records the
// outcome. Context cancellation by the caller is not counted as a failure.
func (b *Breaker) Execute(ctx context.Context, collaborator string, fn func(ctx context.Context) error) error {
	if !b.Allow(collaborator) {
		return ErrOpen
	}
	err := fn(ctx)
	switch {
	case err == nil:
		b.RecordSuccess(collaborator)
	case errors.Is(err, context.Canceled):
	default:
		b.RecordFailure(collaborator)
	}
	return err
}

// Allow reports whether a call to collaborator may proceed.
func (b *Breaker) Allow(collaborator string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[collaborator]
	if !ok {
		return true
	}

	switch e.state {
	case StateOpen:
		if b.now().Sub(e.lastFailure) >= b.cooldown {
			b.transition(e, collaborator, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(collaborator string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[collaborator]
	if !ok {
		return
	}
	if e.state == StateHalfOpen {
		b.transition(e, collaborator, StateClosed)
	}
	e.failures = 0
}

// RecordFailure counts a failure and trips the circuit at the threshold.
func (b *Breaker) RecordFailure(collaborator string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[collaborator]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[collaborator] = e
	}

	e.failures++
	e.lastFailure = b.now()

	switch {
	case e.state == StateHalfOpen:
		b.transition(e, collaborator, StateOpen)
	case e.state == StateClosed && e.failures >= b.threshold:
		b.transition(e, collaborator, StateOpen)
	}
}

// State returns the current state for a collaborator.
func (b *Breaker) State(collaborator string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[collaborator]; ok {
		return e.state
	}
	return StateClosed
}

// caller holds b.mu
func (b *Breaker) transition(e *entry, collaborator string, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	stateTransitions.WithLabelValues(collaborator, from.String(), to.String()).Inc()
}
