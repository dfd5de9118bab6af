// Package failsinkmw publishes every failure that bubbles through an
// exchange to a process-wide observer list before re-propagating it
// unchanged (spec C7). Publishing is synchronous and must never itself
// fail: an observer's own panic is recovered and logged, not allowed to
// mask the original failure.
package failsinkmw

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/mallard/exchange"
)

// Observer is notified of every failure that passes through the sink.
type Observer func(ctx context.Context, req *exchange.Request, err error)

// Sink is a process-wide, shareable list of failure observers.
type Sink struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewSink builds an empty Sink.
func NewSink() *Sink {
	return &Sink{}
}

// Subscribe registers an observer. Safe to call concurrently with Publish.
func (s *Sink) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Publish synchronously notifies every observer. A panicking observer is
// recovered and logged so one bad observer can't mask the original failure
// or crash the caller.
func (s *Sink) Publish(ctx context.Context, req *exchange.Request, err error) {
	s.mu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.RUnlock()

	for _, o := range observers {
		s.callObserver(ctx, req, err, o)
	}
}

func (s *Sink) callObserver(ctx context.Context, req *exchange.Request, err error, o Observer) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("failsinkmw: observer panicked")
		}
	}()
	o(ctx, req, err)
}

// Middleware wraps an inner exchanger, publishing any failure to a Sink
// before re-propagating it.
type Middleware struct {
	inner exchange.Exchanger
	sink  *Sink
}

// New builds a failsinkmw Middleware.
func New(inner exchange.Exchanger, sink *Sink) (*Middleware, error) {
	if inner == nil {
		return nil, exchange.ErrNoInnerExchanger
	}
	return &Middleware{inner: inner, sink: sink}, nil
}

// Exchange implements exchange.Exchanger.
func (m *Middleware) Exchange(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	resp, err := m.inner.Exchange(ctx, req)
	if err != nil {
		m.sink.Publish(ctx, req, err)
	}
	return resp, err
}

var _ exchange.Exchanger = (*Middleware)(nil)
