package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Wrapper constructs a middleware Exchanger around an inner Exchanger. Chain
// applies a list of Wrappers outside-in: Chain(base, A, B) behaves like
// A(B(base)) — the request passes through A first on its way out.
type Wrapper func(inner Exchanger) Exchanger

// Chain nests wrappers around base in reverse order so that the first
// wrapper listed is the outermost layer a caller's request passes through.
func Chain(base Exchanger, wrappers ...Wrapper) Exchanger {
	result := base
	for i := len(wrappers) - 1; i >= 0; i-- {
		result = wrappers[i](result)
	}
	return result
}

// Recovered wraps inner so that a panic inside Exchange is converted into an
// error carrying name, rather than crashing the caller's goroutine. This
// mirrors the recover-per-middleware behavior a long-lived process needs
// when middleware instances come from plugins or third-party code.
func Recovered(name string, inner Exchanger) Exchanger {
	return ExchangerFunc(func(ctx context.Context, req *Request) (resp *Response, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("middleware %s: panic: %v", name, r)
				resp = nil
			}
		}()
		return inner.Exchange(ctx, req)
	})
}

// Timed wraps inner, logging the exchange latency at debug level under the
// given middleware name. It never alters the inner result.
func Timed(name string, inner Exchanger) Exchanger {
	return ExchangerFunc(func(ctx context.Context, req *Request) (*Response, error) {
		start := time.Now()
		resp, err := inner.Exchange(ctx, req)
		log.Debug().
			Str("middleware", name).
			Str("request_id", req.ID).
			Dur("elapsed", time.Since(start)).
			Msg("exchange")
		return resp, err
	})
}
