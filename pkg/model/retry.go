package model

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"approver/pkg/logx"
	"approver/pkg/metrics"
)

// RetryableClient wraps a Client with bounded retries. Only failures the
// backend classified as retryable (rate limit, transient, empty response)
// trigger another attempt; everything else surfaces immediately.
type RetryableClient struct {
	inner       Client
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *logx.Logger
}

// NewRetryableClient wraps inner with up to maxAttempts attempts.
func NewRetryableClient(inner Client, maxAttempts int) *RetryableClient {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryableClient{
		inner:       inner,
		maxAttempts: maxAttempts,
		baseDelay:   time.Second,
		maxDelay:    30 * time.Second,
		logger:      logx.NewLogger("model-retry"),
	}
}

func (c *RetryableClient) Name() string { return c.inner.Name() }

// Complete attempts the call, doubling the delay between attempts with
// jitter. The context deadline wins over the retry budget.
func (c *RetryableClient) Complete(ctx context.Context, req Request) (Response, error) {
	var lastErr error

	delay := c.baseDelay
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		start := time.Now()
		resp, err := c.inner.Complete(ctx, req)
		metrics.ObserveModelCall(start)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return Response{}, err
		}
		if attempt == c.maxAttempts {
			break
		}

		wait := delay + time.Duration(rand.Int63n(int64(delay)/2+1)) //nolint:gosec // jitter, not crypto
		c.logger.Warn("attempt %d/%d against %s failed (%s), retrying in %s: %v",
			attempt, c.maxAttempts, c.inner.Name(), Classify(err), wait, err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Response{}, fmt.Errorf("model call cancelled during retry backoff: %w", ctx.Err())
		}

		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}

	return Response{}, fmt.Errorf("model call failed after %d attempts: %w", c.maxAttempts, lastErr)
}
