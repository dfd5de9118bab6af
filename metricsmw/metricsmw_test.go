package metricsmw

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/allaspectsdev/mallard/exchange"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, label string) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := vec.WithLabelValues(label).Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestExchangeRecordsOutcomesByStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := New(reg)

	statuses := []int{200, 404, 503}
	idx := 0
	inner := exchange.ExchangerFunc(func(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
		s := statuses[idx]
		idx++
		return &exchange.Response{StatusCode: s}, nil
	})

	mw, err := Wrap(inner, metrics)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	u, _ := url.Parse("http://x/y")

	for range statuses {
		if _, err := mw.Exchange(context.Background(), exchange.NewRequest(http.MethodGet, u)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	failInner := exchange.ExchangerFunc(func(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
		return nil, errors.New("boom")
	})
	failMW, err := Wrap(failInner, metrics)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	failMW.Exchange(context.Background(), exchange.NewRequest(http.MethodGet, u))

	if got := counterValue(t, metrics.requestsTotal, "success"); got != 1 {
		t.Fatalf("expected one success, got %v", got)
	}
	if got := counterValue(t, metrics.requestsTotal, "status_4xx"); got != 1 {
		t.Fatalf("expected one status_4xx, got %v", got)
	}
	if got := counterValue(t, metrics.requestsTotal, "status_5xx"); got != 1 {
		t.Fatalf("expected one status_5xx, got %v", got)
	}
	if got := counterValue(t, metrics.requestsTotal, "error"); got != 1 {
		t.Fatalf("expected one error, got %v", got)
	}
}

func TestObserveSessionExpiredIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := New(reg)

	metrics.ObserveSessionExpired()

	got := &dto.Metric{}
	if err := metrics.sessionExpired.Write(got); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if got.GetCounter().GetValue() != 1 {
		t.Fatalf("expected 1, got %v", got.GetCounter().GetValue())
	}
}
