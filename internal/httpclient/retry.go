package httpclient

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/ternarybob/arbor"
)

// RetryPolicy configures exponential-backoff-with-jitter retries for an
// outbound HTTP call, grounded on the same shape as the teacher's crawler
// retry policy: attempt ceiling, base/max backoff, retryable status codes
// and transport errors.
type RetryPolicy struct {
	MaxAttempts          int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	BackoffMultiplier    float64
	RetryableStatusCodes map[int]bool
}

// NewRetryPolicy returns a default retry policy: 10 attempts (§4.1's
// attempt ceiling), 1s initial backoff doubling up to 5m, retrying on
// 408/429/500/502/503/504. The broker's delivery loop does not use it.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:       10,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
		RetryableStatusCodes: map[int]bool{
			408: true, 429: true, 500: true, 502: true, 503: true, 504: true,
		},
	}
}

// ShouldRetry reports whether attempt should be retried given the observed
// status code (0 if the call never reached a response) and error.
func (p *RetryPolicy) ShouldRetry(attempt int, statusCode int, err error) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	if err != nil {
		return isRetryableError(err)
	}
	return p.RetryableStatusCodes[statusCode]
}

// CalculateBackoff returns the delay after the given attempt (1-indexed),
// base * multiplier^attempt capped at MaxBackoff, jittered ±20% per §4.1.
func (p *RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff) * pow(p.BackoffMultiplier, attempt)
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	jitterRange := backoff * 0.2
	jitter := (rand.Float64()*2 - 1) * jitterRange
	result := time.Duration(backoff + jitter)
	if result < 0 {
		result = 0
	}
	return result
}

// ExecuteWithRetry runs fn, retrying per the policy until it succeeds,
// exhausts MaxAttempts, or ctx is cancelled. fn returns the observed HTTP
// status code (0 if the request never completed) and an error.
func (p *RetryPolicy) ExecuteWithRetry(ctx context.Context, logger arbor.ILogger, fn func() (int, error)) (int, error) {
	var lastStatus int
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastStatus, lastErr = fn()
		if lastErr == nil && !p.RetryableStatusCodes[lastStatus] {
			return lastStatus, nil
		}
		if !p.ShouldRetry(attempt, lastStatus, lastErr) {
			break
		}

		backoff := p.CalculateBackoff(attempt)
		logger.Debug().
			Int("attempt", attempt).
			Int("status", lastStatus).
			Err(lastErr).
			Dur("backoff", backoff).
			Msg("retrying request")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return lastStatus, ctx.Err()
		}
	}

	return lastStatus, lastErr
}

func isRetryableError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
