// Package circuitbreaker provides a per-provider circuit breaker with
// closed → open → half-open state transitions. Enrichment lookups use it to
// stop hammering a geo provider that is down; an open circuit degrades the
// lookup to an ERROR result instead of waiting out another timeout.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Do when the circuit for a provider is open.
var ErrOpen = errors.New("circuitbreaker: circuit open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: requests flow through
	StateOpen                  // Tripped: requests are rejected
	StateHalfOpen              // Probing: one request allowed to test recovery
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

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "riskguard",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by provider, from-state, and to-state.",
}, []string{"provider", "from_state", "to_state"})

var cbState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "riskguard",
	Subsystem: "circuitbreaker",
	Name:      "state",
	Help:      "Current circuit state per provider (0 closed, 1 open, 2 half-open).",
}, []string{"provider"})

func init() {
	prometheus.MustRegister(cbStateTransitions, cbState)
}

type entry struct {
	state       State
	failures    int
	lastFailure time.Time
	trialSince  time.Time // zero when no half-open trial call is out
}

// Breaker tracks consecutive failures per provider and trips open when they
// reach the threshold. After openDuration the circuit goes half-open and lets
// one trial call through.
type Breaker struct {
	mu           sync.Mutex
	entries      map[string]*entry
	threshold    int
	openDuration time.Duration
	now          func() time.Time
	onTransition func(provider string, from, to State)
}

// New creates a circuit breaker that opens after threshold consecutive
// failures and stays open for openDuration before probing.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		entries:      make(map[string]*entry),
		threshold:    threshold,
		openDuration: openDuration,
		now:          time.Now,
	}
}

// OnTransition sets a callback invoked on state changes.
func (b *Breaker) OnTransition(fn func(provider string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Do runs fn if the circuit for provider allows it and records the outcome.
// The breaker lock is not held while fn runs. An error wrapping
// context.Canceled means the caller went away, so it counts neither for nor
// against the provider.
func (b *Breaker) Do(provider string, fn func() error) error {
	if !b.Allow(provider) {
		return ErrOpen
	}
	err := fn()
	switch {
	case err == nil:
		b.RecordSuccess(provider)
	case errors.Is(err, context.Canceled):
		b.release(provider)
	default:
		b.RecordFailure(provider)
	}
	return err
}

// Allow reports whether a request to provider should go through.
// An open circuit whose openDuration has elapsed moves to half-open and
// admits one trial call. A trial call that has not reported back within openDuration
// is presumed lost and another is admitted.
func (b *Breaker) Allow(provider string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[provider]
	if !ok {
		return true
	}

	switch e.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(e.lastFailure) >= b.openDuration {
			b.transition(e, provider, StateHalfOpen)
			e.trialSince = b.now()
			return true
		}
		return false
	case StateHalfOpen:
		if e.trialSince.IsZero() || b.now().Sub(e.trialSince) >= b.openDuration {
			e.trialSince = b.now()
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[provider]
	if !ok {
		return
	}
	if e.state == StateHalfOpen {
		b.transition(e, provider, StateClosed)
	}
	e.failures = 0
	e.trialSince = time.Time{}
}

// release frees a half-open trial call slot without judging the provider.
func (b *Breaker) release(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[provider]; ok {
		e.trialSince = time.Time{}
	}
}

// RecordFailure counts a failure and trips the circuit at the threshold.
func (b *Breaker) RecordFailure(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[provider]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[provider] = e
	}

	e.failures++
	e.lastFailure = b.now()
	e.trialSince = time.Time{}

	if e.state == StateHalfOpen {
		b.transition(e, provider, StateOpen)
		return
	}
	if e.state == StateClosed && e.failures >= b.threshold {
		b.transition(e, provider, StateOpen)
	}
}

// State returns the current state for provider; unknown providers are closed.
func (b *Breaker) State(provider string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[provider]
	if !ok {
		return StateClosed
	}
	return e.state
}

// Caller must hold b.mu.
func (b *Breaker) transition(e *entry, provider string, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	cbStateTransitions.WithLabelValues(provider, from.String(), to.String()).Inc()
	cbState.WithLabelValues(provider).Set(float64(to))
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(provider, from, to)
	}
}
