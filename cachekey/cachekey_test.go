package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/allaspectsdev/mallard/exchange"
)

func newReq(t *testing.T, raw, auth string) *exchange.Request {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	req := exchange.NewRequest(http.MethodGet, u)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return req
}

func TestURIOnlyIgnoresAuth(t *testing.T) {
	k1 := URIOnly{}.Key(newReq(t, "http://x/a", "Bearer one"))
	k2 := URIOnly{}.Key(newReq(t, "http://x/a", "Bearer two"))
	if k1 != k2 {
		t.Fatalf("URIOnly must ignore credentials, got %q vs %q", k1, k2)
	}
}

func TestURIWithAuthHashSeparatesUsers(t *testing.T) {
	k1 := URIWithAuthHash{}.Key(newReq(t, "http://x/a", "Bearer one"))
	k2 := URIWithAuthHash{}.Key(newReq(t, "http://x/a", "Bearer two"))
	if k1 == k2 {
		t.Fatal("URIWithAuthHash must separate cache entries for different credentials")
	}

	sum := sha256.Sum256([]byte("one"))
	want := "http://x/a" + strings.ToUpper(hex.EncodeToString(sum[:]))
	if k1 != want {
		t.Fatalf("got %q want %q", k1, want)
	}
}

func TestURIWithAuthHashNoAuth(t *testing.T) {
	k := URIWithAuthHash{}.Key(newReq(t, "http://x/a", ""))
	if k != "http://x/a" {
		t.Fatalf("expected bare URI when Authorization is absent, got %q", k)
	}
}
