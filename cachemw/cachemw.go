package cachemw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/mallard/exchange"
)

// Directive headers, stripped from the request before it is forwarded.
const (
	HeaderTTL          = "X-Mallard-SimpleCache-TTL"
	HeaderForceRefresh = "X-Mallard-SimpleCache-ForceRefresh"
	HeaderDisable      = "X-Mallard-SimpleCache-Disable"
)

// ErrInvalidDirective is returned when a directive header's value cannot be
// parsed. Per spec.md §4.2 this is fatal: a malformed directive indicates a
// caller bug, not a transient condition to route around.
var ErrInvalidDirective = errors.New("cachemw: invalid directive header value")

// HitCounter is an optional observer for cache outcomes, implemented by
// metricsmw to expose mallard_cache_results_total{result=hit|miss|bypass}.
type HitCounter interface {
	ObserveCacheResult(result string)
}

// Middleware is the header-driven cache exchanger described in spec.md §4.2.
// It is built around a Backend and a KeyProvider and wraps an inner
// Exchanger.
type Middleware struct {
	inner   exchange.Exchanger
	backend Backend
	keys    KeyProvider
	counter HitCounter
}

// New builds a cache Middleware.
func New(inner exchange.Exchanger, backend Backend, keys KeyProvider) (*Middleware, error) {
	if inner == nil {
		return nil, exchange.ErrNoInnerExchanger
	}
	return &Middleware{inner: inner, backend: backend, keys: keys}, nil
}

// WithHitCounter attaches an observer that is notified of hit/miss/bypass
// outcomes. It returns m for chaining.
func (m *Middleware) WithHitCounter(c HitCounter) *Middleware {
	m.counter = c
	return m
}

type directives struct {
	forceRefresh bool
	cacheable    bool
	ttl          time.Duration
	disable      bool
}

// parseDirectives reads, and removes, the three directive headers from req.
// For each multi-valued directive the last value wins. It mutates req's
// headers so the directives never leak to the network.
func parseDirectives(req *exchange.Request) (directives, error) {
	var d directives

	if v, ok := exchange.LastHeaderValue(req.Header, HeaderDisable); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return d, fmt.Errorf("%w: %s=%q: %v", ErrInvalidDirective, HeaderDisable, v, err)
		}
		d.disable = b
	}

	if v, ok := exchange.LastHeaderValue(req.Header, HeaderForceRefresh); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return d, fmt.Errorf("%w: %s=%q: %v", ErrInvalidDirective, HeaderForceRefresh, v, err)
		}
		d.forceRefresh = b
	}

	if v, ok := exchange.LastHeaderValue(req.Header, HeaderTTL); ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return d, fmt.Errorf("%w: %s=%q: %v", ErrInvalidDirective, HeaderTTL, v, err)
		}
		d.cacheable = true
		d.ttl = time.Duration(secs) * time.Second
	}

	req.Header.Del(HeaderDisable)
	req.Header.Del(HeaderForceRefresh)
	req.Header.Del(HeaderTTL)

	return d, nil
}

// Exchange implements exchange.Exchanger. See spec.md §4.2's decision table.
func (m *Middleware) Exchange(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	// Precedence rule 1: non-GET passes through unchanged, directives and all.
	if req.Method != "" && req.Method != http.MethodGet {
		return m.inner.Exchange(ctx, req)
	}

	d, err := parseDirectives(req)
	if err != nil {
		return nil, err
	}

	// Precedence rule 2: Disable wins over everything else.
	if d.disable {
		m.observe("bypass")
		return m.inner.Exchange(ctx, req)
	}

	if !d.cacheable {
		// force_refresh with cacheable=false still just forwards; there is
		// nothing to store a response under.
		m.observe("bypass")
		return m.inner.Exchange(ctx, req)
	}

	key := m.keys.Key(req)

	if !d.forceRefresh {
		hit, payload, err := m.backend.TryGet(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("cachemw: backend try_get: %w", err)
		}
		if hit {
			m.observe("hit")
			return &exchange.Response{
				StatusCode: http.StatusOK,
				Header:     make(http.Header),
				Body:       payload,
			}, nil
		}
	}
	m.observe("miss")

	resp, err := m.inner.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.IsSuccess() && ctx.Err() == nil {
		if err := m.backend.Add(ctx, key, resp.Body, d.ttl); err != nil {
			log.Warn().Err(err).Str("request_id", req.ID).Msg("cachemw: failed to store response")
		}
	}

	return resp, nil
}

func (m *Middleware) observe(result string) {
	if m.counter != nil {
		m.counter.ObserveCacheResult(result)
	}
}

var _ exchange.Exchanger = (*Middleware)(nil)
