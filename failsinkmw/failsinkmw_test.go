package failsinkmw

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/allaspectsdev/mallard/exchange"
)

func newReq() *exchange.Request {
	u, _ := url.Parse("http://x/y")
	return exchange.NewRequest(http.MethodGet, u)
}

func TestPublishesOnFailure(t *testing.T) {
	boom := errors.New("boom")
	inner := exchange.ExchangerFunc(func(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
		return nil, boom
	})

	sink := NewSink()
	var seen int32
	sink.Subscribe(func(ctx context.Context, req *exchange.Request, err error) {
		if errors.Is(err, boom) {
			atomic.AddInt32(&seen, 1)
		}
	})

	mw, err := New(inner, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = mw.Exchange(context.Background(), newReq())
	if !errors.Is(err, boom) {
		t.Fatalf("expected failure to propagate unchanged, got %v", err)
	}
	if seen != 1 {
		t.Fatalf("expected exactly one observer call, got %d", seen)
	}
}

func TestDoesNotPublishOnSuccess(t *testing.T) {
	inner := exchange.ExchangerFunc(func(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
		return &exchange.Response{StatusCode: 200}, nil
	})

	sink := NewSink()
	called := false
	sink.Subscribe(func(ctx context.Context, req *exchange.Request, err error) {
		called = true
	})

	mw, err := New(inner, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := mw.Exchange(context.Background(), newReq()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatal("observer should not be called on success")
	}
}

func TestPanickingObserverDoesNotMaskFailure(t *testing.T) {
	boom := errors.New("boom")
	inner := exchange.ExchangerFunc(func(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
		return nil, boom
	})

	sink := NewSink()
	sink.Subscribe(func(ctx context.Context, req *exchange.Request, err error) {
		panic("observer exploded")
	})

	mw, err := New(inner, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = mw.Exchange(context.Background(), newReq())
	if !errors.Is(err, boom) {
		t.Fatalf("expected original failure despite panicking observer, got %v", err)
	}
}
