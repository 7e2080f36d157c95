package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

// retryPolicy bounds how often and how patiently a request is retried.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
}

var defaultRetry = retryPolicy{maxRetries: 3, baseDelay: time.Second}

// retryableError indicates a transient failure that can be retried.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// backoff grows quadratically with the attempt number, plus up to 50% jitter.
func (p retryPolicy) backoff(attempt int) time.Duration {
	base := time.Duration(attempt*attempt) * p.baseDelay
	jitter := time.Duration(rand.Int63n(int64(base/2 + 1)))
	return base + jitter
}

// doWithRetry executes an HTTP request, retrying network failures, 5xx and
// 429 responses. buildReq is called once per attempt so bodies are fresh.
func doWithRetry(ctx context.Context, client *http.Client, policy retryPolicy, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= policy.maxRetries; attempt++ {
		if attempt > 0 {
			wait := policy.backoff(attempt)
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if attempt < policy.maxRetries {
				logger.Warn("request failed, will retry", "error", err)
				continue
			}
			return nil, fmt.Errorf("request failed after %d retries: %w", policy.maxRetries, err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body)}
			if attempt < policy.maxRetries {
				logger.Warn("server error, will retry", "status", resp.StatusCode)
				continue
			}
			return nil, fmt.Errorf("server error after %d retries: %w", policy.maxRetries, lastErr)
		}

		return resp, nil
	}

	return nil, lastErr
}
