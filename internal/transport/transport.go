// Package transport wraps a ports.Transport with the device protocol's
// retry policy: bounded exponential backoff, a fixed success criterion, and
// a process-wide failure counter surfaced through ports.Observability.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fieldlink/invedge/internal/ports"
)

// RetryPolicy bounds how long a failed request is retried before giving up.
type RetryPolicy struct {
	Retries int
	BaseMS  int64
	MaxMS   int64
}

// DefaultRetryPolicy mirrors the device firmware's defaults: three retries,
// doubling from 200ms, capped at 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Retries: 3, BaseMS: 200, MaxMS: 2000}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	wait := p.BaseMS
	for i := 0; i < attempt; i++ {
		wait *= 2
		if wait > p.MaxMS {
			wait = p.MaxMS
			break
		}
	}
	if wait > p.MaxMS {
		wait = p.MaxMS
	}
	return time.Duration(wait) * time.Millisecond
}

// DeviceTransport posts hex frames to one of two fixed device endpoints and
// applies the retry policy around ports.Transport.
type DeviceTransport struct {
	tr       ports.Transport
	obs      ports.Observability
	baseURL  string
	token    string
	policy   RetryPolicy
	timeout  time.Duration
	failures atomic.Uint64
}

// New returns a DeviceTransport posting to baseURL with the given bearer
// token, retry policy, and per-attempt timeout.
func New(tr ports.Transport, obs ports.Observability, baseURL, token string, policy RetryPolicy, timeout time.Duration) *DeviceTransport {
	return &DeviceTransport{tr: tr, obs: obs, baseURL: baseURL, token: token, policy: policy, timeout: timeout}
}

type frameBody struct {
	Frame string `json:"frame"`
}

// Read posts hexFrame to the device's read endpoint and returns the reply
// frame's hex value, retrying on any failure up to the policy's bound.
func (d *DeviceTransport) Read(ctx context.Context, hexFrame string) (string, error) {
	return d.post(ctx, "/api/inverter/read", hexFrame)
}

// Write posts hexFrame to the device's write endpoint.
func (d *DeviceTransport) Write(ctx context.Context, hexFrame string) (string, error) {
	return d.post(ctx, "/api/inverter/write", hexFrame)
}

func (d *DeviceTransport) post(ctx context.Context, path, hexFrame string) (string, error) {
	body, err := json.Marshal(frameBody{Frame: hexFrame})
	if err != nil {
		return "", err
	}
	headers := map[string]string{
		"Authorization": d.token,
		"Content-Type":  "application/json",
	}
	url := d.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= d.policy.Retries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
		status, reply, err := d.tr.Post(reqCtx, url, headers, body)
		cancel()

		if err == nil && status == 200 && len(reply) > 0 {
			if frame, ok := extractFrame(reply); ok {
				return frame, nil
			}
			lastErr = fmt.Errorf("transport: reply missing frame field")
		} else if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("transport: status %d", status)
		}

		if attempt < d.policy.Retries {
			if d.obs != nil {
				d.obs.IncCounter("invedge_transport_retries_total", 1)
			}
			select {
			case <-time.After(d.policy.backoff(attempt)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	d.failures.Add(1)
	if d.obs != nil {
		d.obs.IncCounter("invedge_transport_failures_total", 1)
		d.obs.LogError("transport_exhausted", lastErr, ports.Field{Key: "path", Value: path})
	}
	return "", lastErr
}

// Failures returns the process-wide count of fully-exhausted requests.
func (d *DeviceTransport) Failures() uint64 {
	return d.failures.Load()
}

// CloudTransport posts upload bodies to the cloud's single fixed endpoint,
// applying the same bounded retry policy as DeviceTransport.
type CloudTransport struct {
	tr       ports.Transport
	obs      ports.Observability
	url      string
	token    string
	policy   RetryPolicy
	timeout  time.Duration
	failures atomic.Uint64
}

// NewCloud returns a CloudTransport posting to url.
func NewCloud(tr ports.Transport, obs ports.Observability, url, token string, policy RetryPolicy, timeout time.Duration) *CloudTransport {
	return &CloudTransport{tr: tr, obs: obs, url: url, token: token, policy: policy, timeout: timeout}
}

// Upload POSTs body and returns the raw reply once the success criterion
// (status 200, non-empty body) is met, retrying with backoff otherwise.
func (c *CloudTransport) Upload(ctx context.Context, body []byte) ([]byte, error) {
	headers := map[string]string{
		"Authorization": c.token,
		"Content-Type":  "application/json",
	}

	var lastErr error
	for attempt := 0; attempt <= c.policy.Retries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		status, reply, err := c.tr.Post(reqCtx, c.url, headers, body)
		cancel()

		if err == nil && status == 200 && len(reply) > 0 {
			return reply, nil
		}
		switch {
		case err != nil:
			lastErr = err
		case status >= 400 && status < 500:
			lastErr = fmt.Errorf("transport: auth_failed status %d", status)
		default:
			lastErr = fmt.Errorf("transport: server_rejected status %d", status)
		}

		if attempt < c.policy.Retries {
			if c.obs != nil {
				c.obs.IncCounter("invedge_transport_retries_total", 1)
			}
			select {
			case <-time.After(c.policy.backoff(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	c.failures.Add(1)
	if c.obs != nil {
		c.obs.IncCounter("invedge_transport_failures_total", 1)
		c.obs.LogError("cloud_upload_exhausted", lastErr)
	}
	return nil, lastErr
}

func (c *CloudTransport) Failures() uint64 { return c.failures.Load() }

func extractFrame(reply []byte) (string, bool) {
	var v struct {
		Frame string `json:"frame"`
	}
	if err := json.Unmarshal(reply, &v); err != nil || v.Frame == "" {
		return "", false
	}
	return v.Frame, true
}
