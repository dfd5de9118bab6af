package tracingmw

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/allaspectsdev/mallard/exchange"
)

// recordingExporter captures every span handed to it in-process, so tests
// can assert on span shape without a collector or the global provider.
type recordingExporter struct {
	spans []sdktrace.ReadOnlySpan
}

func (r *recordingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	r.spans = append(r.spans, spans...)
	return nil
}

func (r *recordingExporter) Shutdown(ctx context.Context) error { return nil }

func newTestMiddleware(t *testing.T, inner exchange.Exchanger) (*Middleware, *recordingExporter) {
	t.Helper()
	rec := &recordingExporter{}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(rec),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	mw, err := NewWithTracer(inner, tp.Tracer("tracingmw_test"))
	if err != nil {
		t.Fatalf("NewWithTracer: %v", err)
	}
	return mw, rec
}

func newReq(t *testing.T, raw string) *exchange.Request {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return exchange.NewRequest(http.MethodGet, u)
}

func attrValue(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestNilInnerIsRejected(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, exchange.ErrNoInnerExchanger) {
		t.Fatalf("expected ErrNoInnerExchanger, got %v", err)
	}
	if _, err := NewWithTracer(nil, nil); !errors.Is(err, exchange.ErrNoInnerExchanger) {
		t.Fatalf("expected ErrNoInnerExchanger, got %v", err)
	}
}

func TestSuccessRecordsMethodAndStatus(t *testing.T) {
	inner := exchange.ExchangerFunc(func(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
		return &exchange.Response{StatusCode: 200}, nil
	})
	mw, rec := newTestMiddleware(t, inner)

	resp, err := mw.Exchange(context.Background(), newReq(t, "http://x.example/path"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected passthrough status 200, got %d", resp.StatusCode)
	}

	if len(rec.spans) != 1 {
		t.Fatalf("expected exactly one recorded span, got %d", len(rec.spans))
	}
	span := rec.spans[0]
	if span.Name() != "GET /path" {
		t.Fatalf("expected span name %q, got %q", "GET /path", span.Name())
	}
	if v, ok := attrValue(span, "http.request.method"); !ok || v.AsString() != "GET" {
		t.Fatalf("expected http.request.method=GET attribute, got %v (ok=%v)", v, ok)
	}
	if v, ok := attrValue(span, "http.response.status_code"); !ok || v.AsInt64() != 200 {
		t.Fatalf("expected http.response.status_code=200 attribute, got %v (ok=%v)", v, ok)
	}
	if span.Status().Code == codes.Error {
		t.Fatalf("expected no error status for a 2xx response, got %v", span.Status())
	}
}

func TestServerErrorStatusSetsSpanError(t *testing.T) {
	inner := exchange.ExchangerFunc(func(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
		return &exchange.Response{StatusCode: 503}, nil
	})
	mw, rec := newTestMiddleware(t, inner)

	resp, err := mw.Exchange(context.Background(), newReq(t, "http://x.example/"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 503 {
		t.Fatalf("expected passthrough status 503, got %d", resp.StatusCode)
	}

	span := rec.spans[0]
	if span.Status().Code != codes.Error {
		t.Fatalf("expected error status for a 5xx response, got %v", span.Status())
	}
}

func TestExchangeErrorIsRecordedAndPassedThrough(t *testing.T) {
	boom := errors.New("boom")
	inner := exchange.ExchangerFunc(func(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
		return nil, boom
	})
	mw, rec := newTestMiddleware(t, inner)

	resp, err := mw.Exchange(context.Background(), newReq(t, "http://x.example/"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected the inner error to pass through unchanged, got %v", err)
	}
	if resp != nil {
		t.Fatalf("expected a nil response alongside the error, got %+v", resp)
	}

	span := rec.spans[0]
	if span.Status().Code != codes.Error {
		t.Fatalf("expected error status when the inner exchanger fails, got %v", span.Status())
	}

	var sawException bool
	for _, ev := range span.Events() {
		if ev.Name == "exception" {
			sawException = true
		}
	}
	if !sawException {
		t.Fatal("expected RecordError to add an exception event to the span")
	}
}
