// Package rest talks to billers and platform services over JSON/HTTP.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultRetryAttempts = 2
	defaultRetryDelay    = 200 * time.Millisecond
	defaultTimeout       = 10 * time.Second
)

// StatusError is returned when the remote side answered with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rest: received HTTP %d: %s", e.StatusCode, string(e.Body))
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// client is the shared HTTP plumbing: JSON bodies, bearer auth, retries on
// network errors, 429 and 5xx, and a stable Idempotency-Key per logical call.
type client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	retryAttempts int
	retryDelay    time.Duration
}

func newClient(httpClient *http.Client, baseURL, apiKey string) client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return client{
		httpClient:    httpClient,
		baseURL:       baseURL,
		apiKey:        apiKey,
		retryAttempts: defaultRetryAttempts,
		retryDelay:    defaultRetryDelay,
	}
}

// do sends one logical request. It returns the final status, body and an error
// only when no usable answer arrived.
func (c client) do(ctx context.Context, method, path, idempotencyKey string, in any) (int, []byte, error) {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("rest: failed to encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return 0, nil, fmt.Errorf("rest: failed to create http request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("rest: http client error on attempt %d: %w", attempt+1, err)
			if ctx.Err() != nil {
				return 0, nil, lastErr
			}
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("rest: failed to read response body: %w", readErr)
			continue
		}
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: body}
		if statusErr.Temporary() {
			lastErr = statusErr
			continue
		}
		return resp.StatusCode, body, nil
	}
	return 0, nil, lastErr
}

// getJSON decodes a 2xx answer into out and turns anything else into an error.
func (c client) getJSON(ctx context.Context, path string, out any) error {
	return c.exchange(ctx, http.MethodGet, path, nil, out)
}

func (c client) postJSON(ctx context.Context, path string, in, out any) error {
	return c.exchange(ctx, http.MethodPost, path, in, out)
}

func (c client) exchange(ctx context.Context, method, path string, in, out any) error {
	status, body, err := c.do(ctx, method, path, "", in)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &StatusError{StatusCode: status, Body: body}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("rest: failed to decode response: %w", err)
	}
	return nil
}
