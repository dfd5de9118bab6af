// Package tokenprovider implements the auth-token provider contract (spec
// C5): fetch/refresh a token and notify session expiry, with a concurrent
// reference implementation that serialises refresh attempts across any
// number of sharing middleware instances.
package tokenprovider

import (
	"context"
)

// Token is the capability set the core needs from a caller's token type: an
// access-token string (possibly absent) and whether it can be refreshed.
// Equality over tokens is defined by equality of their access-token values.
type Token interface {
	// AccessToken returns the bearer value and whether one is present.
	AccessToken() (string, bool)
	// CanBeRefreshed reports whether RefreshToken is worth attempting for
	// this token.
	CanBeRefreshed() bool
}

// Provider is the contract the auth middleware depends on.
type Provider[T Token] interface {
	// GetToken returns the currently known token, or the zero value and
	// false if none is known.
	GetToken(ctx context.Context, req Requester) (T, bool, error)

	// RefreshToken attempts to obtain a fresh token given the one observed
	// to fail. Returns false if no refresh was possible (session is likely
	// gone).
	RefreshToken(ctx context.Context, req Requester, unauthorized T) (T, bool, error)

	// NotifySessionExpired informs higher layers the session is gone.
	NotifySessionExpired(ctx context.Context, req Requester, expired T)
}

// Requester is the minimal view of a request a Provider needs — just enough
// to let an implementation make realm/scope-specific decisions without
// depending on the exchange package (avoiding an import cycle, since
// authmw depends on both exchange and tokenprovider).
type Requester interface {
	RequestID() string
}

// sameAccessToken reports whether two tokens carry the same access-token
// value, which is the only equality the core ever needs (spec.md §3).
func sameAccessToken[T Token](a, b T) bool {
	av, aok := a.AccessToken()
	bv, bok := b.AccessToken()
	if aok != bok {
		return false
	}
	return av == bv
}
