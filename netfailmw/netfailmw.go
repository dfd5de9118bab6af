// Package netfailmw wraps an exchanger so that an inner failure occurring
// while the network is down is reported as a distinct, typed failure
// instead of the raw transport error (spec C7).
package netfailmw

import (
	"context"
	"fmt"

	"github.com/allaspectsdev/mallard/exchange"
)

// NetworkUnavailable wraps an inner failure observed while IsAvailable
// reported the network as down.
type NetworkUnavailable struct {
	Err error
}

func (e *NetworkUnavailable) Error() string {
	return fmt.Sprintf("netfailmw: network unavailable: %v", e.Err)
}

func (e *NetworkUnavailable) Unwrap() error { return e.Err }

// AvailabilityCheck reports whether the network is currently reachable.
type AvailabilityCheck func(ctx context.Context) bool

// Middleware wraps an inner exchanger, reclassifying its failures as
// NetworkUnavailable when the availability check reports offline.
type Middleware struct {
	inner       exchange.Exchanger
	isAvailable AvailabilityCheck
}

// New builds a netfailmw Middleware.
func New(inner exchange.Exchanger, isAvailable AvailabilityCheck) (*Middleware, error) {
	if inner == nil {
		return nil, exchange.ErrNoInnerExchanger
	}
	return &Middleware{inner: inner, isAvailable: isAvailable}, nil
}

// Exchange implements exchange.Exchanger.
func (m *Middleware) Exchange(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	resp, err := m.inner.Exchange(ctx, req)
	if err == nil {
		return resp, nil
	}
	if m.isAvailable != nil && !m.isAvailable(ctx) {
		return nil, &NetworkUnavailable{Err: err}
	}
	return nil, err
}

var _ exchange.Exchanger = (*Middleware)(nil)
