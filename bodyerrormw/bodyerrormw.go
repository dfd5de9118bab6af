// Package bodyerrormw interprets a non-success response body against a
// caller-declared shape, raising a caller-constructed failure when a
// predicate over that shape holds (spec C7).
package bodyerrormw

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/allaspectsdev/mallard/exchange"
)

// InterpretedResponseFailure is raised when a non-success response body
// deserialises into the caller's shape and the caller's predicate holds.
type InterpretedResponseFailure struct {
	StatusCode int
	Parsed     any
	Err        error
}

func (e *InterpretedResponseFailure) Error() string {
	return fmt.Sprintf("bodyerrormw: interpreted failure (status %d): %v", e.StatusCode, e.Err)
}

func (e *InterpretedResponseFailure) Unwrap() error { return e.Err }

// Interpreter is generic over the caller's declared error-body shape T.
type Interpreter[T any] struct {
	inner     exchange.Exchanger
	predicate func(parsed T, resp *exchange.Response) bool
	build     func(parsed T, resp *exchange.Response) error
}

// New builds a bodyerrormw Interpreter. predicate decides, given the
// deserialised body and the raw response, whether to raise; build
// constructs the error to raise when it does.
func New[T any](
	inner exchange.Exchanger,
	predicate func(parsed T, resp *exchange.Response) bool,
	build func(parsed T, resp *exchange.Response) error,
) (*Interpreter[T], error) {
	if inner == nil {
		return nil, exchange.ErrNoInnerExchanger
	}
	return &Interpreter[T]{inner: inner, predicate: predicate, build: build}, nil
}

// Exchange implements exchange.Exchanger.
func (m *Interpreter[T]) Exchange(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	resp, err := m.inner.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.IsSuccess() {
		return resp, nil
	}

	var parsed T
	if jsonErr := json.Unmarshal(resp.Body, &parsed); jsonErr != nil {
		// Body didn't match the declared shape; pass the response through
		// unchanged rather than masking it behind a deserialisation error.
		return resp, nil
	}

	if !m.predicate(parsed, resp) {
		return resp, nil
	}

	built := m.build(parsed, resp)
	return nil, &InterpretedResponseFailure{StatusCode: resp.StatusCode, Parsed: parsed, Err: built}
}

var _ exchange.Exchanger = (*Interpreter[struct{}])(nil)
