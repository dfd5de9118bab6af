package tokenprovider

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeToken struct {
	access      string
	hasAccess   bool
	refreshable bool
}

func (t fakeToken) AccessToken() (string, bool) { return t.access, t.hasAccess }
func (t fakeToken) CanBeRefreshed() bool         { return t.refreshable }

type fakeRequester struct{ id string }

func (r fakeRequester) RequestID() string { return r.id }

// TestSingleFlightRefreshCallsRefreshOnce drives N concurrent RefreshToken
// calls, all presenting the same stale token, through one SharedState and
// asserts the underlying refresh function ran exactly once.
func TestSingleFlightRefreshCallsRefreshOnce(t *testing.T) {
	const n = 50
	var refreshCalls int32

	state := NewSharedState[fakeToken]()
	stale := fakeToken{access: "stale", hasAccess: true, refreshable: true}

	p := New[fakeToken](state,
		func(ctx context.Context, req Requester) (fakeToken, bool, error) {
			return stale, true, nil
		},
		func(ctx context.Context, req Requester, unauthorized fakeToken) (fakeToken, error) {
			atomic.AddInt32(&refreshCalls, 1)
			time.Sleep(20 * time.Millisecond)
			return fakeToken{access: "fresh", hasAccess: true, refreshable: true}, nil
		},
		nil,
	)

	var wg sync.WaitGroup
	results := make([]fakeToken, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			tok, ok, err := p.RefreshToken(context.Background(), fakeRequester{"r"}, stale)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !ok {
				t.Errorf("expected ok=true")
			}
			results[idx] = tok
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&refreshCalls); got != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", got)
	}
	for i, r := range results {
		if r.access != "fresh" {
			t.Fatalf("result %d: expected fresh token, got %q", i, r.access)
		}
	}
}

// TestRefreshFailureSwallowedAsAbsent asserts that an underlying refresh
// error never surfaces from RefreshToken — it resolves to an absent token.
func TestRefreshFailureSwallowedAsAbsent(t *testing.T) {
	state := NewSharedState[fakeToken]()
	stale := fakeToken{access: "stale", hasAccess: true, refreshable: true}

	p := New[fakeToken](state,
		func(ctx context.Context, req Requester) (fakeToken, bool, error) {
			return stale, true, nil
		},
		func(ctx context.Context, req Requester, unauthorized fakeToken) (fakeToken, error) {
			return fakeToken{}, context.DeadlineExceeded
		},
		nil,
	)

	tok, ok, err := p.RefreshToken(context.Background(), fakeRequester{"r"}, stale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false, got token %+v", tok)
	}
}

// TestRefreshIsCancellationInsensitive asserts that cancelling one caller's
// context doesn't abort a refresh already underway for other waiters.
func TestRefreshIsCancellationInsensitive(t *testing.T) {
	state := NewSharedState[fakeToken]()
	stale := fakeToken{access: "stale", hasAccess: true, refreshable: true}
	started := make(chan struct{})

	p := New[fakeToken](state,
		func(ctx context.Context, req Requester) (fakeToken, bool, error) {
			return stale, true, nil
		},
		func(ctx context.Context, req Requester, unauthorized fakeToken) (fakeToken, error) {
			close(started)
			time.Sleep(30 * time.Millisecond)
			if ctx.Err() != nil {
				t.Errorf("refresh body observed a cancelled context")
			}
			return fakeToken{access: "fresh", hasAccess: true, refreshable: true}, nil
		},
		nil,
	)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		_, _, _ = p.RefreshToken(leaderCtx, fakeRequester{"leader"}, stale)
	}()

	<-started
	cancel()
	<-leaderDone

	tok, ok, err := p.RefreshToken(context.Background(), fakeRequester{"waiter"}, stale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || tok.access != "fresh" {
		t.Fatalf("expected a fresh token from the completed refresh, got ok=%v tok=%+v", ok, tok)
	}
}

// TestNotifySessionExpiredDedupsByAccessToken asserts at-most-once delivery
// per distinct expired access-token value, across callers sharing state.
func TestNotifySessionExpiredDedupsByAccessToken(t *testing.T) {
	state := NewSharedState[fakeToken]()
	var notifyCount int32

	p := New[fakeToken](state,
		func(ctx context.Context, req Requester) (fakeToken, bool, error) {
			return fakeToken{}, false, nil
		},
		func(ctx context.Context, req Requester, unauthorized fakeToken) (fakeToken, error) {
			return fakeToken{}, nil
		},
		func(ctx context.Context, req Requester, expired fakeToken) {
			atomic.AddInt32(&notifyCount, 1)
		},
	)

	expired := fakeToken{access: "gone", hasAccess: true}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.NotifySessionExpired(context.Background(), fakeRequester{"r"}, expired)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&notifyCount); got != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", got)
	}

	// A different expired value must notify again.
	p.NotifySessionExpired(context.Background(), fakeRequester{"r"}, fakeToken{access: "gone-again", hasAccess: true})
	if got := atomic.LoadInt32(&notifyCount); got != 2 {
		t.Fatalf("expected 2 notifications after a distinct expired value, got %d", got)
	}
}

// TestPiggybackOnConcurrentRefresh: if the token observed by doRefresh no
// longer matches the caller's stale value (a concurrent refresh already
// landed), the caller should get that newer token without a fresh network
// refresh.
func TestPiggybackOnConcurrentRefresh(t *testing.T) {
	state := NewSharedState[fakeToken]()
	stale := fakeToken{access: "stale", hasAccess: true, refreshable: true}
	var refreshCalls int32

	p := New[fakeToken](state,
		func(ctx context.Context, req Requester) (fakeToken, bool, error) {
			// Simulate another actor having already refreshed the token.
			return fakeToken{access: "already-fresh", hasAccess: true, refreshable: true}, true, nil
		},
		func(ctx context.Context, req Requester, unauthorized fakeToken) (fakeToken, error) {
			atomic.AddInt32(&refreshCalls, 1)
			return fakeToken{}, nil
		},
		nil,
	)

	tok, ok, err := p.RefreshToken(context.Background(), fakeRequester{"r"}, stale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || tok.access != "already-fresh" {
		t.Fatalf("expected to piggyback on already-fresh token, got ok=%v tok=%+v", ok, tok)
	}
	if got := atomic.LoadInt32(&refreshCalls); got != 0 {
		t.Fatalf("expected refresh not to be called, got %d calls", got)
	}
}
