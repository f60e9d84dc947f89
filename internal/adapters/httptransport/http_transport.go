// Package httptransport is the default ports.Transport: a single net/http
// client performing one POST per call. Retry, backoff, and framing all live
// above this in internal/transport; this adapter only knows how to make one
// HTTP request and hand back the raw outcome.
package httptransport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// Client implements ports.Transport over net/http.
type Client struct {
	hc *http.Client
}

// New returns a Client with the given per-request timeout.
func New(timeout time.Duration) *Client {
	return &Client{hc: &http.Client{Timeout: timeout}}
}

// Post performs one HTTP POST, returning the status code and response body
// verbatim. A non-2xx status is not an error here: the caller decides what
// counts as retryable.
func (c *Client) Post(ctx context.Context, url string, headers map[string]string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, reply, nil
}
