// Package tracingmw wraps an exchanger with an OpenTelemetry client span per
// call (spec C9), propagating the current trace context onto the outgoing
// request's headers.
package tracingmw

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/allaspectsdev/mallard/exchange"
)

const tracerName = "github.com/allaspectsdev/mallard"

// headerCarrier adapts exchange's http.Header to propagation.TextMapCarrier.
type headerCarrier struct{ req *exchange.Request }

func (c headerCarrier) Get(key string) string       { return c.req.Header.Get(key) }
func (c headerCarrier) Set(key, value string)        { c.req.Header.Set(key, value) }
func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.req.Header))
	for k := range c.req.Header {
		keys = append(keys, k)
	}
	return keys
}

// Middleware wraps an inner exchanger with a client span per exchange.
type Middleware struct {
	inner  exchange.Exchanger
	tracer trace.Tracer
}

// New builds a tracingmw Middleware using the global TracerProvider.
func New(inner exchange.Exchanger) (*Middleware, error) {
	if inner == nil {
		return nil, exchange.ErrNoInnerExchanger
	}
	return &Middleware{inner: inner, tracer: otel.Tracer(tracerName)}, nil
}

// NewWithTracer builds a tracingmw Middleware against an explicit Tracer,
// bypassing the global TracerProvider. Tests use this to record spans
// in-process instead of registering a process-wide provider.
func NewWithTracer(inner exchange.Exchanger, tracer trace.Tracer) (*Middleware, error) {
	if inner == nil {
		return nil, exchange.ErrNoInnerExchanger
	}
	return &Middleware{inner: inner, tracer: tracer}, nil
}

// Exchange implements exchange.Exchanger.
func (m *Middleware) Exchange(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	spanName := req.Method + " " + req.URL.Path

	ctx, span := m.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.URLFull(req.URL.String()),
		),
	)
	defer span.End()

	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{req: req})

	resp, err := m.inner.Exchange(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, "")
	}
	return resp, nil
}

var _ exchange.Exchanger = (*Middleware)(nil)
