package exchange

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// HTTPClient is the base Exchanger: it forwards a Request over the network
// with a pooled, timeout-bounded *http.Client and adapts the result back
// into a Response. Every other middleware in this module wraps something
// that ultimately bottoms out at an Exchanger like this one.
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient builds an HTTPClient with sensible connection-pooling
// defaults.
func NewHTTPClient() *HTTPClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &HTTPClient{client: &http.Client{Transport: transport, Timeout: 60 * time.Second}}
}

// Exchange implements Exchanger.
func (c *HTTPClient) Exchange(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("exchange: building http request: %w", err)
	}
	httpReq.Header = req.Header.Clone()

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("exchange: http request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("exchange: reading response body: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

var _ Exchanger = (*HTTPClient)(nil)
