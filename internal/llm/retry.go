package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/solcredito/solcredito/internal/metrics"
)

const defaultRetryBackoff = 500 * time.Millisecond

// RetryClient wraps a Client and retries a failed completion call once after
// a short backoff. Context cancellation is never retried.
type RetryClient struct {
	inner   Client
	backoff time.Duration
}

// WithRetry wraps the client with single-retry behavior.
func WithRetry(inner Client) *RetryClient {
	return &RetryClient{inner: inner, backoff: defaultRetryBackoff}
}

// Complete implements Client.Complete.
func (c *RetryClient) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.inner.Complete(ctx, req)
	if err == nil {
		c.record(resp)
		return resp, nil
	}
	if ctx.Err() != nil {
		metrics.ModelRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	slog.Warn("Completion call failed, retrying once", "model", c.inner.Model(), "error", err)

	select {
	case <-time.After(c.backoff):
	case <-ctx.Done():
		metrics.ModelRequests.WithLabelValues("error").Inc()
		return nil, ctx.Err()
	}

	resp, err = c.inner.Complete(ctx, req)
	if err != nil {
		metrics.ModelRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	c.record(resp)
	return resp, nil
}

func (c *RetryClient) record(resp *Response) {
	metrics.ModelRequests.WithLabelValues("ok").Inc()
	metrics.ModelTokens.WithLabelValues("input").Add(float64(resp.Usage.InputTokens))
	metrics.ModelTokens.WithLabelValues("output").Add(float64(resp.Usage.OutputTokens))
}

// Model implements Client.Model.
func (c *RetryClient) Model() string {
	return c.inner.Model()
}
