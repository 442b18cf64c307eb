// Package client holds the outbound HTTP clients for the order and payment
// services. Each service gets its own circuit breaker; transient transport
// errors are retried briefly in-process before the scheduler's own backoff
// takes over.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// maxResponseBody bounds remote response capture.
const maxResponseBody = 64 * 1024

// ServiceError is a non-2xx reply from a downstream service. The status
// code drives the caller's permanent-vs-retryable classification.
type ServiceError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

// HTTPClient drives requests against one downstream service behind a
// circuit breaker.
type HTTPClient struct {
	name    string
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPClient constructs a client for one named service.
func NewHTTPClient(name, baseURL string, timeout time.Duration) *HTTPClient {
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change",
				slog.String("service", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}
	return &HTTPClient{
		name:    name,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// doJSON issues one JSON request through the breaker and decodes the reply.
// Transport-level failures are retried up to three times with a short
// exponential backoff; HTTP error statuses come back as *ServiceError
// without in-process retries so the scheduler's ladder stays in control.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any) (map[string]any, error) {
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("op=client.%s marshal: %w", c.name, err)
		}
	}

	var decoded map[string]any
	operation := func() error {
		out, err := c.breaker.Execute(func() (any, error) {
			return c.roundTrip(ctx, method, path, reqBody)
		})
		if err != nil {
			var se *ServiceError
			if errors.As(err, &se) {
				// Status errors are terminal for this call.
				return backoff.Permanent(err)
			}
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		decoded, _ = out.(map[string]any)
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(2*time.Second),
	), 3)
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return decoded, nil
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, path string, body []byte) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("op=client.%s request: %w", c.name, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=client.%s do: %w", c.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("op=client.%s read body: %w", c.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServiceError{Service: c.name, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	decoded := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			// Non-JSON success bodies are kept verbatim.
			decoded = map[string]any{"raw": string(raw)}
		}
	}
	return decoded, nil
}
