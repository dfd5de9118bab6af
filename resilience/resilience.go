// Package resilience implements a per-key circuit breaker (spec C8): three
// states (Closed, Open, HalfOpen), tripped by consecutive failures, reset
// after a cooldown, confirmed by a run of half-open successes. It gates and
// fails fast rather than retrying, so it is a distinct concern from a
// generic retry policy.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/allaspectsdev/mallard/exchange"
)

// ErrCircuitOpen is returned instead of forwarding to the inner exchanger
// while a breaker is open.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is a breaker's current position in the Closed/Open/HalfOpen cycle.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// Breaker is a single circuit breaker instance, safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	state            State
	failureThreshold int
	resetTimeout     time.Duration
	halfOpenMax      int

	consecutiveFailures int
	halfOpenSuccesses   int
	lastFailureTime     time.Time
}

// NewBreaker builds a Breaker. failureThreshold consecutive failures trip
// it; it stays open for resetTimeout before probing; halfOpenMax consecutive
// successes in the probing state close it again.
func NewBreaker(failureThreshold int, resetTimeout time.Duration, halfOpenMax int) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		halfOpenMax:      halfOpenMax,
	}
}

// Allow reports whether a call should be permitted through, transitioning
// Open to HalfOpen once the reset timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.lastFailureTime) >= b.resetTimeout {
			b.state = HalfOpen
			b.halfOpenSuccesses = 0
			return true
		}
		return false
	default: // HalfOpen
		return true
	}
}

// RecordSuccess clears the failure streak and, in HalfOpen, advances toward
// closing the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state == HalfOpen {
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.halfOpenMax {
			b.state = Closed
		}
	}
}

// RecordFailure counts a failure, tripping the breaker from Closed once the
// threshold is reached, or immediately reopening it from HalfOpen.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailureTime = time.Now()

	switch b.state {
	case Closed:
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = Open
		}
	case HalfOpen:
		b.state = Open
		b.halfOpenSuccesses = 0
	}
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Registry lazily creates and shares one Breaker per key.
type Registry struct {
	mu sync.Mutex

	breakers         map[string]*Breaker
	failureThreshold int
	resetTimeout     time.Duration
	halfOpenMax      int
}

// NewRegistry builds a Registry applying the same parameters to every
// breaker it creates.
func NewRegistry(failureThreshold int, resetTimeout time.Duration, halfOpenMax int) *Registry {
	return &Registry{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		halfOpenMax:      halfOpenMax,
	}
}

// Get returns the breaker for key, creating it on first access.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		b = NewBreaker(r.failureThreshold, r.resetTimeout, r.halfOpenMax)
		r.breakers[key] = b
	}
	return b
}

// KeyFunc derives a breaker key from a request — typically its host, or a
// logical upstream name.
type KeyFunc func(req *exchange.Request) string

// HostKey is the default KeyFunc: one breaker per request host.
func HostKey(req *exchange.Request) string {
	if req.URL == nil {
		return ""
	}
	return req.URL.Host
}

// FailurePredicate decides whether a response (with a nil error) still
// counts as a breaker failure — e.g. a 5xx upstream response.
type FailurePredicate func(resp *exchange.Response, err error) bool

// DefaultFailurePredicate treats any transport error or 5xx response as a
// failure.
func DefaultFailurePredicate(resp *exchange.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp != nil && resp.StatusCode >= 500
}

// Middleware wraps an inner exchanger with per-key circuit breaking.
type Middleware struct {
	inner     exchange.Exchanger
	registry  *Registry
	keyFunc   KeyFunc
	isFailure FailurePredicate
}

// New builds a resilience Middleware with the default host-keyed breakers
// and 5xx/transport-error failure predicate.
func New(inner exchange.Exchanger, registry *Registry) (*Middleware, error) {
	if inner == nil {
		return nil, exchange.ErrNoInnerExchanger
	}
	return &Middleware{
		inner:     inner,
		registry:  registry,
		keyFunc:   HostKey,
		isFailure: DefaultFailurePredicate,
	}, nil
}

// WithKeyFunc overrides how a breaker key is derived from a request.
func (m *Middleware) WithKeyFunc(f KeyFunc) *Middleware {
	m.keyFunc = f
	return m
}

// WithFailurePredicate overrides what counts as a breaker failure.
func (m *Middleware) WithFailurePredicate(p FailurePredicate) *Middleware {
	m.isFailure = p
	return m
}

// Exchange implements exchange.Exchanger.
func (m *Middleware) Exchange(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	breaker := m.registry.Get(m.keyFunc(req))
	if !breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	resp, err := m.inner.Exchange(ctx, req)
	if m.isFailure(resp, err) {
		breaker.RecordFailure()
	} else {
		breaker.RecordSuccess()
	}
	return resp, err
}

var _ exchange.Exchanger = (*Middleware)(nil)
