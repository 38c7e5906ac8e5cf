package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// restClient is the shared HTTP plumbing for the live broker adapters. It
// classifies failures into broker faults so the dispatcher can route them:
// 401/403 -> session expired, 4xx -> rejected, 5xx and transport errors ->
// retryable.
type restClient struct {
	base string
	http *http.Client
}

func newRESTClient(base, fallback string, timeout string) *restClient {
	if base == "" {
		base = fallback
	}
	to := defaultHTTPTimeout
	if timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil && d > 0 {
			to = d
		}
	}
	return &restClient{base: base, http: &http.Client{Timeout: to}}
}

// doJSON issues a JSON request and decodes the JSON response into out (when
// out is non-nil). headers are applied verbatim on top of the content type.
func (c *restClient) doJSON(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("broker: marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	merged := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		merged[k] = v
	}
	return c.doRaw(ctx, method, path, merged, reader, out)
}

// doRaw issues a request with a caller-supplied body and headers, then
// decodes the JSON response into out (when out is non-nil).
func (c *restClient) doRaw(ctx context.Context, method, path string, headers map[string]string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("broker: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return transportFault("request to " + path + " timed out")
		}
		return transportFault("request to " + path + " failed: " + err.Error())
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return transportFault("reading response from " + path + ": " + err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return sessionExpiredFault(fmt.Sprintf("%s returned %d: %s", path, resp.StatusCode, trim(payload)))
	case resp.StatusCode >= 500:
		return transportFault(fmt.Sprintf("%s returned %d: %s", path, resp.StatusCode, trim(payload)))
	case resp.StatusCode >= 400:
		return rejectedFault(fmt.Sprintf("%s returned %d: %s", path, resp.StatusCode, trim(payload)))
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("broker: decode response from %s: %w", path, err)
		}
	}
	return nil
}

func trim(b []byte) string {
	const max = 256
	s := string(b)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
