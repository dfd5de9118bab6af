// Package authmw implements the bearer-token auth middleware (spec C6): it
// attaches tokens, detects unauthorized responses, drives a single
// refresh-and-retry, and surfaces session-expired notifications idempotently.
package authmw

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/allaspectsdev/mallard/exchange"
	"github.com/allaspectsdev/mallard/tokenprovider"
)

// UnauthorizedPredicate decides whether a response counts as "unauthorized"
// for the purposes of driving a refresh. The default is status 401.
type UnauthorizedPredicate func(req *exchange.Request, resp *exchange.Response) bool

// DefaultUnauthorized is the spec.md default: HTTP 401.
func DefaultUnauthorized(_ *exchange.Request, resp *exchange.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusUnauthorized
}

// IncludeTokenPredicate decides whether an outgoing request is opted into
// token attachment. The default is "the request carries any Authorization
// header" — callers tag a request by setting one, even to an empty or
// placeholder value.
type IncludeTokenPredicate func(req *exchange.Request) bool

// DefaultIncludeToken is the spec.md default include-token predicate.
func DefaultIncludeToken(req *exchange.Request) bool {
	_, ok := req.Header["Authorization"]
	return ok
}

// SessionExpiredCounter is an optional observer, implemented by metricsmw,
// notified of auth outcomes.
type SessionExpiredCounter interface {
	ObserveAuthResult(result string)
	ObserveSessionExpired()
}

// exchangeRequester adapts an *exchange.Request to tokenprovider.Requester.
type exchangeRequester struct{ req *exchange.Request }

func (e exchangeRequester) RequestID() string { return e.req.ID }

// Middleware is the auth state machine described in spec.md §4.4,
// parameterised over any token type T satisfying tokenprovider.Token.
type Middleware[T tokenprovider.Token] struct {
	inner    exchange.Exchanger
	provider tokenprovider.Provider[T]

	unauthorized UnauthorizedPredicate
	includeToken IncludeTokenPredicate
	counter      SessionExpiredCounter

	// handlerMu guards lastExpiredAccessToken, the second line of defense
	// described in spec.md §4.4 for callers who don't share a provider.
	handlerMu              sync.Mutex
	hasLastExpired         bool
	lastExpiredAccessToken string
}

// New builds an auth Middleware with the default predicates. Use the With*
// methods to override them.
func New[T tokenprovider.Token](inner exchange.Exchanger, provider tokenprovider.Provider[T]) (*Middleware[T], error) {
	if inner == nil {
		return nil, exchange.ErrNoInnerExchanger
	}
	return &Middleware[T]{
		inner:        inner,
		provider:     provider,
		unauthorized: DefaultUnauthorized,
		includeToken: DefaultIncludeToken,
	}, nil
}

// WithUnauthorizedPredicate overrides the unauthorized-detection predicate.
func (m *Middleware[T]) WithUnauthorizedPredicate(p UnauthorizedPredicate) *Middleware[T] {
	m.unauthorized = p
	return m
}

// WithIncludeTokenPredicate overrides the include-token predicate.
func (m *Middleware[T]) WithIncludeTokenPredicate(p IncludeTokenPredicate) *Middleware[T] {
	m.includeToken = p
	return m
}

// WithCounter attaches a metrics observer. Returns m for chaining.
func (m *Middleware[T]) WithCounter(c SessionExpiredCounter) *Middleware[T] {
	m.counter = c
	return m
}

// Exchange implements exchange.Exchanger, driving the state machine from
// spec.md §4.4.
func (m *Middleware[T]) Exchange(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	if !m.includeToken(req) {
		return m.inner.Exchange(ctx, req)
	}

	requester := exchangeRequester{req: req}

	token, ok, err := m.provider.GetToken(ctx, requester)
	if err != nil {
		return nil, err
	}

	sendReq := req.Clone()
	attach(sendReq, token, ok)

	resp, err := m.inner.Exchange(ctx, sendReq)
	if err != nil {
		return nil, err
	}
	if !m.unauthorized(sendReq, resp) {
		m.observeResult("authorized")
		return resp, nil
	}

	if !ok || !token.CanBeRefreshed() {
		m.notifyExpiredOnce(ctx, requester, token)
		m.observeResult("unauthorized_unrefreshable")
		return resp, nil
	}

	refreshed, refreshedOK, _ := m.provider.RefreshToken(ctx, requester, token)
	if !refreshedOK {
		m.notifyExpiredOnce(ctx, requester, token)
		m.observeResult("refresh_failed")
		return resp, nil
	}

	retryReq := req.Clone()
	attach(retryReq, refreshed, true)

	retryResp, err := m.inner.Exchange(ctx, retryReq)
	if err != nil {
		return nil, err
	}
	if m.unauthorized(retryReq, retryResp) {
		m.notifyExpiredOnce(ctx, requester, refreshed)
		m.observeResult("refresh_retry_unauthorized")
		return retryResp, nil
	}

	m.observeResult("refresh_retry_authorized")
	return retryResp, nil
}

// attach sets the Authorization header's parameter to the token's access
// value, preserving whatever scheme the caller already put on the request.
// If the token (or its access value) is absent, the header is removed
// entirely rather than sent with a stale or empty parameter.
func attach[T tokenprovider.Token](req *exchange.Request, token T, ok bool) {
	access, hasAccess := "", false
	if ok {
		access, hasAccess = token.AccessToken()
	}
	if !hasAccess || access == "" {
		req.Header.Del("Authorization")
		return
	}

	scheme := "Bearer"
	if existing := req.Header.Get("Authorization"); existing != "" {
		if fields := strings.Fields(existing); len(fields) > 0 {
			scheme = fields[0]
		}
	}
	req.Header.Set("Authorization", scheme+" "+access)
}

// notifyExpiredOnce delegates to the provider (the authoritative dedup,
// spec.md §4.3 point 5) and then updates the handler-local fallback field,
// but only if it isn't already equal — a second line of defense for callers
// who decline to share a provider across middleware instances.
func (m *Middleware[T]) notifyExpiredOnce(ctx context.Context, req tokenprovider.Requester, token T) {
	m.provider.NotifySessionExpired(ctx, req, token)

	value, _ := token.AccessToken()

	m.handlerMu.Lock()
	alreadyNotified := m.hasLastExpired && m.lastExpiredAccessToken == value
	if !alreadyNotified {
		m.hasLastExpired = true
		m.lastExpiredAccessToken = value
	}
	m.handlerMu.Unlock()

	if !alreadyNotified && m.counter != nil {
		m.counter.ObserveSessionExpired()
	}
}

func (m *Middleware[T]) observeResult(result string) {
	if m.counter != nil {
		m.counter.ObserveAuthResult(result)
	}
}
