// Package cachekey provides the two stock cache-key derivation policies the
// cache middleware uses to turn a request into a stable backend key.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/allaspectsdev/mallard/exchange"
)

// URIOnly derives the key from the request's serialised URI alone. Two
// requests to the same URI share a cache entry regardless of credentials.
type URIOnly struct{}

// Key implements cachemw.KeyProvider.
func (URIOnly) Key(req *exchange.Request) string {
	if req.URL == nil {
		return ""
	}
	return req.URL.String()
}

// URIWithAuthHash derives the key from the URI concatenated with the
// uppercase hex SHA-256 of the Authorization header's parameter value (the
// portion after the scheme). This prevents cross-user cache reuse when two
// callers share a URI but carry different credentials. If the Authorization
// header is absent or its parameter is empty, the hash suffix is omitted
// entirely so the key degrades to the plain URI.
type URIWithAuthHash struct{}

// Key implements cachemw.KeyProvider.
func (URIWithAuthHash) Key(req *exchange.Request) string {
	uri := ""
	if req.URL != nil {
		uri = req.URL.String()
	}

	param := authParameter(req.Header.Get("Authorization"))
	if param == "" {
		return uri
	}

	sum := sha256.Sum256([]byte(param))
	return uri + strings.ToUpper(hex.EncodeToString(sum[:]))
}

// authParameter returns the part of an Authorization header value after the
// scheme (the first whitespace-delimited token), or "" if there is none.
func authParameter(authHeader string) string {
	fields := strings.Fields(authHeader)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}
