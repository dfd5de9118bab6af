// Package metricsmw instruments the exchanger chain and its middlewares
// with Prometheus metrics (spec C10). Unlike the ambient hand-rolled text
// exposition the teacher repo used, this package exercises the real
// github.com/prometheus/client_golang library so counters, gauges, and
// histograms get correct type/label handling and a /metrics endpoint for
// free via promhttp.
package metricsmw

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/allaspectsdev/mallard/exchange"
)

// Metrics bundles every counter/histogram mallard exposes. Register it once
// against a prometheus.Registerer at process start.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheResults    *prometheus.CounterVec
	authResults     *prometheus.CounterVec
	sessionExpired  prometheus.Counter
}

// New creates a Metrics bundle and registers it against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mallard",
			Name:      "exchange_total",
			Help:      "Total number of exchanges by outcome (success, error, status_4xx, status_5xx).",
		}, []string{"outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mallard",
			Name:      "exchange_duration_seconds",
			Help:      "Exchange duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		cacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mallard",
			Name:      "cache_results_total",
			Help:      "Cache middleware results by kind (hit, miss, bypass).",
		}, []string{"result"}),
		authResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mallard",
			Name:      "auth_results_total",
			Help:      "Auth middleware results by outcome.",
		}, []string{"result"}),
		sessionExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mallard",
			Name:      "session_expired_total",
			Help:      "Total number of distinct session-expired notifications delivered.",
		}),
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration, m.cacheResults, m.authResults, m.sessionExpired)
	return m
}

// ObserveCacheResult implements cachemw.HitCounter.
func (m *Metrics) ObserveCacheResult(result string) {
	m.cacheResults.WithLabelValues(result).Inc()
}

// ObserveAuthResult implements authmw.SessionExpiredCounter.
func (m *Metrics) ObserveAuthResult(result string) {
	m.authResults.WithLabelValues(result).Inc()
}

// ObserveSessionExpired implements authmw.SessionExpiredCounter.
func (m *Metrics) ObserveSessionExpired() {
	m.sessionExpired.Inc()
}

// Middleware wraps an inner exchanger, recording one requestsTotal/
// requestDuration observation per call.
type Middleware struct {
	inner   exchange.Exchanger
	metrics *Metrics
}

// Wrap builds a metricsmw Middleware.
func Wrap(inner exchange.Exchanger, metrics *Metrics) (*Middleware, error) {
	if inner == nil {
		return nil, exchange.ErrNoInnerExchanger
	}
	return &Middleware{inner: inner, metrics: metrics}, nil
}

// Exchange implements exchange.Exchanger.
func (m *Middleware) Exchange(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	start := time.Now()
	resp, err := m.inner.Exchange(ctx, req)
	elapsed := time.Since(start).Seconds()

	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case resp != nil && resp.StatusCode >= 500:
		outcome = "status_5xx"
	case resp != nil && resp.StatusCode >= 400:
		outcome = "status_4xx"
	}

	m.metrics.requestsTotal.WithLabelValues(outcome).Inc()
	m.metrics.requestDuration.WithLabelValues(outcome).Observe(elapsed)
	return resp, err
}

var _ exchange.Exchanger = (*Middleware)(nil)
