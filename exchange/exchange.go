// Package exchange defines the contract every piece of Mallard middleware
// consumes and implements: take a request, yield a response or a failure.
// Middleware wraps an inner Exchanger and is itself an Exchanger, so chains
// compose by nesting rather than by any registration mechanism.
package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// ErrNoInnerExchanger is returned by a middleware constructor given a nil
// inner Exchanger. Every middleware decorates an inner collaborator; a nil
// one is a wiring bug at the caller, not a runtime condition to recover from.
var ErrNoInnerExchanger = errors.New("exchange: inner exchanger is nil")

// Request is the mutable carrier that flows outward through a middleware
// chain toward the network. Header removal must be idempotent; middleware
// that strips headers (the cache middleware's directive headers, the auth
// middleware's Authorization header) can call Header.Del freely.
type Request struct {
	// ID is a uuid assigned by NewRequest, carried into logs and spans so a
	// single exchange can be correlated across middleware boundaries.
	ID string

	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// NewRequest builds a Request with a fresh ID and an initialized Header map.
func NewRequest(method string, u *url.URL) *Request {
	return &Request{
		ID:     uuid.NewString(),
		Method: method,
		URL:    u,
		Header: make(http.Header),
	}
}

// Clone returns a shallow copy of the request with its own Header map, so a
// middleware can mutate headers for the inner exchange without affecting the
// caller's original request.
func (r *Request) Clone() *Request {
	clone := *r
	clone.Header = r.Header.Clone()
	return &clone
}

// Response is what flows back inward from the network toward the caller. A
// response with a 2xx status is a success; anything else is treated as a
// failure signal by downstream middleware, but it is still a Response, not
// an error — only a failure to exchange at all (no network, transport
// error, cancellation) is reported as an error return.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsSuccess reports whether the response carries a 2xx status.
func (r *Response) IsSuccess() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Exchanger is the one operation every middleware both consumes (as an inner
// collaborator) and implements (as a decorator around that collaborator).
// Cancellation is cooperative: an implementation may observe ctx.Done() at
// any suspension point, but is not required to poll it between them.
type Exchanger interface {
	Exchange(ctx context.Context, req *Request) (*Response, error)
}

// ExchangerFunc adapts a plain function to the Exchanger interface.
type ExchangerFunc func(ctx context.Context, req *Request) (*Response, error)

// Exchange implements Exchanger.
func (f ExchangerFunc) Exchange(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// LastHeaderValue returns the last value associated with key, honoring the
// convention (used by multi-valued directive headers) that a later value
// overrides an earlier one — the opposite of http.Header.Get, which returns
// the first value. ok is false if the header is absent.
func LastHeaderValue(h http.Header, key string) (value string, ok bool) {
	values := h.Values(key)
	if len(values) == 0 {
		return "", false
	}
	return values[len(values)-1], true
}
